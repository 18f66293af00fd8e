package api

import (
	"net/http"

	"pipemock/pkg/bus"
	"pipemock/services/simulator"
)

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project_id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req, err := simulator.NormalizeTrigger(r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if a.config.RequireTerminalRule && req.ScenarioID == nil && req.TerminalAfterSeconds == nil {
		a.fail(w, r, simulator.Validationf("scenario_id or terminal_after_seconds is required"))
		return
	}

	now := a.now()
	p := simulator.Pipeline{
		ProjectID: projectID,
		Ref:       req.Ref,
		SHA:       simulator.FakeSHA(),
		Status:    simulator.StatusRunning,
		Variables: req.Variables,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.ScenarioID != nil {
		p.ScenarioID = req.ScenarioID
	} else {
		p.TerminalAfterSeconds = req.TerminalAfterSeconds
		p.TerminalStatus = req.TerminalStatus
	}

	if err := a.store.CreatePipeline(r.Context(), &p); err != nil {
		a.fail(w, r, err)
		return
	}

	a.metrics.triggered.WithLabelValues(req.Encoding).Inc()
	a.logger.Info().
		Int64("pipeline_id", p.ID).
		Int64("project_id", p.ProjectID).
		Str("ref", p.Ref).
		Str("encoding", req.Encoding).
		Msg("pipeline triggered")

	out := newPipeline(p, a.baseURL(r))
	a.publishEvent(r.Context(), bus.PipelineTriggered, out)

	respondJSON(w, http.StatusCreated, out)
}

func (a *API) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "project_id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	pipelineID, err := pathID(r, "pipeline_id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	refreshed, err := a.store.GetPipeline(r.Context(), projectID, pipelineID, a.now())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, a.observe(r, refreshed))
}

func (a *API) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	all, err := a.store.ListPipelines(r.Context(), a.now())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := make([]Pipeline, 0, len(all))
	for _, refreshed := range all {
		out = append(out, a.observe(r, refreshed))
	}
	respondJSON(w, http.StatusOK, out)
}

// observe records a committed recompute and renders the pipeline.
func (a *API) observe(r *http.Request, refreshed Refreshed) Pipeline {
	a.metrics.observe(refreshed)
	out := newPipeline(refreshed.Pipeline, a.baseURL(r))
	if refreshed.Changed() {
		a.logger.Debug().
			Int64("pipeline_id", out.ID).
			Str("from", refreshed.Previous).
			Str("to", out.Status).
			Msg("pipeline status changed")
		a.publishEvent(r.Context(), bus.PipelineStatusChanged, map[string]any{
			"pipeline": out,
			"previous": refreshed.Previous,
		})
	}
	return out
}

func (a *API) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := pathID(r, "pipeline_id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.store.DeletePipeline(r.Context(), pipelineID); err != nil {
		a.fail(w, r, err)
		return
	}

	a.publishEvent(r.Context(), bus.PipelineDeleted, map[string]any{"id": pipelineID})
	w.WriteHeader(http.StatusNoContent)
}
