package api

import "pipemock/services/simulator"

type scenarioModel struct {
	ScenarioID           int64  `gorm:"column:scenario_id;primaryKey;autoIncrement:false"`
	Name                 string `gorm:"type:text;not null"`
	TerminalAfterSeconds *int64
	TerminalStatus       string `gorm:"type:text;not null"`
	NeverComplete        bool   `gorm:"not null"`
}

func (scenarioModel) TableName() string { return "scenarios" }

func newScenarioModel(s simulator.Scenario) scenarioModel {
	return scenarioModel{
		ScenarioID:           s.ID,
		Name:                 s.Name,
		TerminalAfterSeconds: s.TerminalAfterSeconds,
		TerminalStatus:       s.TerminalStatus,
		NeverComplete:        s.NeverComplete,
	}
}

func (m scenarioModel) toSimulator() simulator.Scenario {
	return simulator.Scenario{
		ID:                   m.ScenarioID,
		Name:                 m.Name,
		TerminalAfterSeconds: m.TerminalAfterSeconds,
		TerminalStatus:       m.TerminalStatus,
		NeverComplete:        m.NeverComplete,
	}
}

// updates is the full-replace column set for PUT. A map keeps zero values and
// NULLs that struct updates would skip.
func (m scenarioModel) updates() map[string]any {
	return map[string]any{
		"name":                   m.Name,
		"terminal_after_seconds": m.TerminalAfterSeconds,
		"terminal_status":        m.TerminalStatus,
		"never_complete":         m.NeverComplete,
	}
}
