package api

import (
	"fmt"
	"time"

	"pipemock/services/simulator"
)

// Pipeline is the external representation of a simulated pipeline.
// TerminalAfterSeconds and TerminalStatus carry the effective rule.
type Pipeline struct {
	ID                   int64             `json:"id"`
	ProjectID            int64             `json:"project_id"`
	Ref                  string            `json:"ref"`
	SHA                  string            `json:"sha"`
	Status               string            `json:"status"`
	WebURL               string            `json:"web_url"`
	Source               string            `json:"source"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Variables            map[string]string `json:"variables"`
	ScenarioID           *int64            `json:"scenario_id"`
	TerminalAfterSeconds *int64            `json:"terminal_after_seconds"`
	TerminalStatus       string            `json:"terminal_status"`
}

// Scenario is the external representation of a catalog entry.
type Scenario struct {
	ScenarioID           int64  `json:"scenario_id"`
	Name                 string `json:"name"`
	TerminalAfterSeconds *int64 `json:"terminal_after_seconds"`
	TerminalStatus       string `json:"terminal_status"`
	NeverComplete        bool   `json:"never_complete"`
}

// Route is one entry of the route table.
type Route struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
}

func newPipeline(p simulator.Pipeline, baseURL string) Pipeline {
	settings := simulator.Effective(&p)
	vars := p.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	return Pipeline{
		ID:                   p.ID,
		ProjectID:            p.ProjectID,
		Ref:                  p.Ref,
		SHA:                  p.SHA,
		Status:               p.Status,
		WebURL:               fmt.Sprintf("%s/projects/%d/pipelines/%d", baseURL, p.ProjectID, p.ID),
		Source:               "trigger",
		CreatedAt:            p.CreatedAt.UTC(),
		UpdatedAt:            p.UpdatedAt.UTC(),
		Variables:            vars,
		ScenarioID:           p.ScenarioID,
		TerminalAfterSeconds: settings.TerminalAfterSeconds,
		TerminalStatus:       settings.TerminalStatus,
	}
}

func newScenario(s simulator.Scenario) Scenario {
	return Scenario{
		ScenarioID:           s.ID,
		Name:                 s.Name,
		TerminalAfterSeconds: s.TerminalAfterSeconds,
		TerminalStatus:       s.TerminalStatus,
		NeverComplete:        s.NeverComplete,
	}
}
