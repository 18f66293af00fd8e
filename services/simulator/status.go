// Package simulator holds the pure pipeline simulation core: scenarios, the
// status computation engine and the trigger request normalizer.
//
// Pipeline status is a read-time projection. It is derived from the creation
// time, the effective terminal rule and the moment the pipeline is observed,
// and must be recomputed on every read.
package simulator

import "time"

const (
	StatusRunning = "running"
	StatusSuccess = "success"
)

// Settings is the effective terminal rule of a pipeline after scenario versus
// inline precedence has been applied.
type Settings struct {
	TerminalAfterSeconds *int64
	TerminalStatus       string
	NeverComplete        bool
}

// Effective resolves the terminal rule for p. An attached scenario always
// wins; otherwise the inline fields apply with "success" as the default status.
func Effective(p *Pipeline) Settings {
	if p.Scenario != nil {
		status := p.Scenario.TerminalStatus
		if status == "" {
			status = StatusSuccess
		}
		return Settings{
			TerminalAfterSeconds: p.Scenario.TerminalAfterSeconds,
			TerminalStatus:       status,
			NeverComplete:        p.Scenario.NeverComplete,
		}
	}

	status := StatusSuccess
	if p.TerminalStatus != nil && *p.TerminalStatus != "" {
		status = *p.TerminalStatus
	}
	return Settings{
		TerminalAfterSeconds: p.TerminalAfterSeconds,
		TerminalStatus:       status,
	}
}

// ComputeStatus returns the status of p as observed at ref. It has no side
// effects.
//
// A pipeline without a terminal delay (no scenario and no inline
// terminal_after_seconds) is terminal from the first read.
func ComputeStatus(p *Pipeline, ref time.Time) string {
	settings := Effective(p)
	if settings.NeverComplete {
		return StatusRunning
	}

	elapsed := ref.UTC().Sub(p.CreatedAt.UTC())

	if settings.TerminalAfterSeconds == nil {
		return settings.TerminalStatus
	}
	if elapsed.Seconds() >= float64(*settings.TerminalAfterSeconds) {
		return settings.TerminalStatus
	}
	return StatusRunning
}

// Refresh recomputes the status of p at now and stamps UpdatedAt. It reports
// whether the status changed. Persisting the result is up to the caller.
func Refresh(p *Pipeline, now time.Time) bool {
	status := ComputeStatus(p, now)
	changed := status != p.Status
	p.Status = status
	p.UpdatedAt = now.UTC()
	return changed
}
