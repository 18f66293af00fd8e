package simulator

import (
	"fmt"
	"strings"
)

// Scenario is a named, reusable time-behaviour rule for pipelines.
type Scenario struct {
	ID                   int64
	Name                 string
	TerminalAfterSeconds *int64
	TerminalStatus       string
	NeverComplete        bool
}

// Normalize applies defaults and checks field constraints.
func (s Scenario) Normalize() (Scenario, error) {
	if s.ID < 0 {
		return Scenario{}, Validationf("scenario_id must be non-negative")
	}
	if s.TerminalAfterSeconds != nil && *s.TerminalAfterSeconds < 0 {
		return Scenario{}, Validationf("terminal_after_seconds must be non-negative")
	}
	if strings.TrimSpace(s.TerminalStatus) == "" {
		s.TerminalStatus = StatusSuccess
	}
	return s, nil
}

// DefaultScenarios returns the catalog seeded at startup: 0 never completes,
// 1..99 succeed after that many seconds, and 100, 200, 500 succeed after one,
// two and five minutes.
func DefaultScenarios() []Scenario {
	scenarios := make([]Scenario, 0, 103)
	scenarios = append(scenarios, Scenario{
		ID:             0,
		Name:           "never complete",
		TerminalStatus: StatusSuccess,
		NeverComplete:  true,
	})

	for i := int64(1); i < 100; i++ {
		name := fmt.Sprintf("after %d seconds", i)
		if i == 1 {
			name = "after 1 second"
		}
		scenarios = append(scenarios, Scenario{
			ID:                   i,
			Name:                 name,
			TerminalAfterSeconds: int64Ptr(i),
			TerminalStatus:       StatusSuccess,
		})
	}

	for _, preset := range []struct {
		id, after int64
		name      string
	}{
		{100, 60, "after 1 minute"},
		{200, 120, "after 2 minutes"},
		{500, 300, "after 5 minutes"},
	} {
		scenarios = append(scenarios, Scenario{
			ID:                   preset.id,
			Name:                 preset.name,
			TerminalAfterSeconds: int64Ptr(preset.after),
			TerminalStatus:       StatusSuccess,
		})
	}

	return scenarios
}

func int64Ptr(v int64) *int64 { return &v }
