package api

import (
	"time"

	"gorm.io/datatypes"

	"pipemock/services/simulator"
)

type pipelineModel struct {
	ID                   int64          `gorm:"primaryKey;autoIncrement"`
	ProjectID            int64          `gorm:"not null;index"`
	Ref                  string         `gorm:"type:text;not null"`
	SHA                  string         `gorm:"column:sha;type:text;not null"`
	Status               string         `gorm:"type:text;not null"`
	VariablesJSON        datatypes.JSON `gorm:"column:variables_json;type:text"`
	ScenarioID           *int64         `gorm:"index"`
	TerminalAfterSeconds *int64
	TerminalStatus       *string        `gorm:"type:text"`
	CreatedAt            time.Time      `gorm:"not null;autoCreateTime:false"`
	UpdatedAt            time.Time      `gorm:"not null;autoUpdateTime:false"`
}

func (pipelineModel) TableName() string { return "pipelines" }

func newPipelineModel(p simulator.Pipeline) pipelineModel {
	return pipelineModel{
		ID:                   p.ID,
		ProjectID:            p.ProjectID,
		Ref:                  p.Ref,
		SHA:                  p.SHA,
		Status:               p.Status,
		VariablesJSON:        datatypes.JSON(simulator.EncodeVariables(p.Variables)),
		ScenarioID:           p.ScenarioID,
		TerminalAfterSeconds: p.TerminalAfterSeconds,
		TerminalStatus:       p.TerminalStatus,
		CreatedAt:            p.CreatedAt.UTC(),
		UpdatedAt:            p.UpdatedAt.UTC(),
	}
}

// toSimulator converts the row. scenario is the row's attached scenario, if
// it still exists.
func (m pipelineModel) toSimulator(scenario *scenarioModel) simulator.Pipeline {
	p := simulator.Pipeline{
		ID:                   m.ID,
		ProjectID:            m.ProjectID,
		Ref:                  m.Ref,
		SHA:                  m.SHA,
		Status:               m.Status,
		Variables:            simulator.DecodeVariables(m.VariablesJSON),
		ScenarioID:           m.ScenarioID,
		TerminalAfterSeconds: m.TerminalAfterSeconds,
		TerminalStatus:       m.TerminalStatus,
		CreatedAt:            m.CreatedAt.UTC(),
		UpdatedAt:            m.UpdatedAt.UTC(),
	}
	if scenario != nil {
		s := scenario.toSimulator()
		p.Scenario = &s
	}
	return p
}
