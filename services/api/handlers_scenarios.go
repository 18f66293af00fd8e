package api

import (
	"net/http"

	"pipemock/pkg/bus"
	"pipemock/services/simulator"
)

type scenarioRequest struct {
	ScenarioID           *int64  `json:"scenario_id"`
	Name                 *string `json:"name"`
	TerminalAfterSeconds *int64  `json:"terminal_after_seconds"`
	TerminalStatus       *string `json:"terminal_status"`
	NeverComplete        *bool   `json:"never_complete"`
}

func (req scenarioRequest) toSimulator() (simulator.Scenario, error) {
	if req.ScenarioID == nil {
		return simulator.Scenario{}, simulator.Validationf("scenario_id is required")
	}
	if req.Name == nil {
		return simulator.Scenario{}, simulator.Validationf("name is required")
	}

	s := simulator.Scenario{
		ID:                   *req.ScenarioID,
		Name:                 *req.Name,
		TerminalAfterSeconds: req.TerminalAfterSeconds,
	}
	if req.TerminalStatus != nil {
		s.TerminalStatus = *req.TerminalStatus
	}
	if req.NeverComplete != nil {
		s.NeverComplete = *req.NeverComplete
	}
	return s.Normalize()
}

func (a *API) decodeScenario(w http.ResponseWriter, r *http.Request) (simulator.Scenario, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req scenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		return simulator.Scenario{}, err
	}
	return req.toSimulator()
}

func (a *API) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := a.store.ListScenarios(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := make([]Scenario, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, newScenario(s))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "scenario_id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	s, err := a.store.GetScenario(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newScenario(s))
}

func (a *API) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	s, err := a.decodeScenario(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if err := a.store.CreateScenario(r.Context(), s); err != nil {
		a.fail(w, r, err)
		return
	}

	out := newScenario(s)
	a.publishEvent(r.Context(), bus.ScenarioCreated, out)
	respondJSON(w, http.StatusCreated, out)
}

func (a *API) handleUpdateScenario(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "scenario_id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	s, err := a.decodeScenario(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if s.ID != id {
		a.fail(w, r, simulator.Validationf("scenario_id in path (%d) and body (%d) must match", id, s.ID))
		return
	}

	if err := a.store.UpdateScenario(r.Context(), s); err != nil {
		a.fail(w, r, err)
		return
	}

	out := newScenario(s)
	a.publishEvent(r.Context(), bus.ScenarioUpdated, out)
	respondJSON(w, http.StatusOK, out)
}

func (a *API) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "scenario_id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	orphaned, err := a.store.DeleteScenario(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.metrics.scenariosDeleted.Inc()
	a.logger.Info().
		Int64("scenario_id", id).
		Int64("orphaned_pipelines", orphaned).
		Msg("scenario deleted")
	a.publishEvent(r.Context(), bus.ScenarioDeleted, map[string]any{
		"scenario_id":        id,
		"orphaned_pipelines": orphaned,
	})

	w.WriteHeader(http.StatusNoContent)
}
