package api

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pipemock/pkg/db"
	"pipemock/services/simulator"
)

// Store persists scenarios and pipelines. Every exported method runs in its
// own transaction.
type Store struct {
	ORM *gorm.DB
}

// Refreshed is a pipeline after a read-time status recompute.
type Refreshed struct {
	Pipeline simulator.Pipeline
	Previous string
}

// Changed reports whether the recompute moved the pipeline to a new status.
func (r Refreshed) Changed() bool { return r.Previous != r.Pipeline.Status }

func (s *Store) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.ORM.WithContext(ctx).Transaction(fn)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return db.Ping(ctx, s.ORM)
}

// CreatePipeline inserts p and assigns its id. When p names a scenario it
// must exist; it is attached to p for the response.
func (s *Store) CreatePipeline(ctx context.Context, p *simulator.Pipeline) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		if p.ScenarioID != nil {
			scenario, err := findScenario(tx, *p.ScenarioID)
			if err != nil {
				return err
			}
			attached := scenario.toSimulator()
			p.Scenario = &attached
		}

		row := newPipelineModel(*p)
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "insert pipeline")
		}
		p.ID = row.ID
		return nil
	})
}

// GetPipeline loads a pipeline of projectID, recomputes its status at now
// and persists the result.
func (s *Store) GetPipeline(ctx context.Context, projectID, id int64, now time.Time) (Refreshed, error) {
	var out Refreshed
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var row pipelineModel
		err := tx.Where("id = ? AND project_id = ?", id, projectID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return simulator.NotFoundf("pipeline %d not found in project %d", id, projectID)
		}
		if err != nil {
			return errors.Wrap(err, "load pipeline")
		}

		scenarios, err := attachedScenarios(tx, []pipelineModel{row})
		if err != nil {
			return err
		}
		out, err = refreshRow(tx, row, scenarios, now)
		return err
	})
	return out, err
}

// ListPipelines recomputes and persists the status of every pipeline in one
// transaction, ordered by id.
func (s *Store) ListPipelines(ctx context.Context, now time.Time) ([]Refreshed, error) {
	var out []Refreshed
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var rows []pipelineModel
		if err := tx.Order("id").Find(&rows).Error; err != nil {
			return errors.Wrap(err, "list pipelines")
		}
		scenarios, err := attachedScenarios(tx, rows)
		if err != nil {
			return err
		}

		out = make([]Refreshed, 0, len(rows))
		for _, row := range rows {
			refreshed, err := refreshRow(tx, row, scenarios, now)
			if err != nil {
				return err
			}
			out = append(out, refreshed)
		}
		return nil
	})
	return out, err
}

// attachedScenarios loads the scenarios referenced by rows, keyed by id.
// Scenario 0 is a valid id, so this is an explicit lookup rather than a
// preload, which skips zero keys.
func attachedScenarios(tx *gorm.DB, rows []pipelineModel) (map[int64]*scenarioModel, error) {
	var ids []int64
	seen := map[int64]bool{}
	for _, row := range rows {
		if row.ScenarioID != nil && !seen[*row.ScenarioID] {
			seen[*row.ScenarioID] = true
			ids = append(ids, *row.ScenarioID)
		}
	}
	out := make(map[int64]*scenarioModel, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var found []scenarioModel
	if err := tx.Where("scenario_id IN ?", ids).Find(&found).Error; err != nil {
		return nil, errors.Wrap(err, "load attached scenarios")
	}
	for i := range found {
		out[found[i].ScenarioID] = &found[i]
	}
	return out, nil
}

func refreshRow(tx *gorm.DB, row pipelineModel, scenarios map[int64]*scenarioModel, now time.Time) (Refreshed, error) {
	var scenario *scenarioModel
	if row.ScenarioID != nil {
		scenario = scenarios[*row.ScenarioID]
	}
	p := row.toSimulator(scenario)
	out := Refreshed{Previous: p.Status}
	simulator.Refresh(&p, now)

	err := tx.Model(&pipelineModel{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"status":     p.Status,
			"updated_at": p.UpdatedAt,
		}).Error
	if err != nil {
		return Refreshed{}, errors.Wrapf(err, "persist status of pipeline %d", p.ID)
	}

	out.Pipeline = p
	return out, nil
}

// DeletePipeline removes a pipeline by id.
func (s *Store) DeletePipeline(ctx context.Context, id int64) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&pipelineModel{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete pipeline")
		}
		if res.RowsAffected == 0 {
			return simulator.NotFoundf("pipeline %d not found", id)
		}
		return nil
	})
}

func findScenario(tx *gorm.DB, id int64) (scenarioModel, error) {
	var row scenarioModel
	err := tx.Where("scenario_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return scenarioModel{}, simulator.NotFoundf("scenario %d not found", id)
	}
	if err != nil {
		return scenarioModel{}, errors.Wrapf(err, "load scenario %d", id)
	}
	return row, nil
}

// ListScenarios returns the catalog ordered by scenario id.
func (s *Store) ListScenarios(ctx context.Context) ([]simulator.Scenario, error) {
	var rows []scenarioModel
	err := s.tx(ctx, func(tx *gorm.DB) error {
		return errors.Wrap(tx.Order("scenario_id").Find(&rows).Error, "list scenarios")
	})
	if err != nil {
		return nil, err
	}

	out := make([]simulator.Scenario, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toSimulator())
	}
	return out, nil
}

// GetScenario loads one scenario.
func (s *Store) GetScenario(ctx context.Context, id int64) (simulator.Scenario, error) {
	var row scenarioModel
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var err error
		row, err = findScenario(tx, id)
		return err
	})
	if err != nil {
		return simulator.Scenario{}, err
	}
	return row.toSimulator(), nil
}

// CreateScenario inserts a new scenario. An existing id is a conflict.
func (s *Store) CreateScenario(ctx context.Context, scenario simulator.Scenario) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&scenarioModel{}).Where("scenario_id = ?", scenario.ID).Count(&count).Error; err != nil {
			return errors.Wrap(err, "check scenario")
		}
		if count > 0 {
			return simulator.Conflictf("scenario %d already exists", scenario.ID)
		}

		row := newScenarioModel(scenario)
		err := tx.Create(&row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return simulator.Conflictf("scenario %d already exists", scenario.ID)
		}
		return errors.Wrap(err, "insert scenario")
	})
}

// UpdateScenario replaces every mutable field of an existing scenario.
func (s *Store) UpdateScenario(ctx context.Context, scenario simulator.Scenario) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := findScenario(tx, scenario.ID); err != nil {
			return err
		}
		row := newScenarioModel(scenario)
		err := tx.Model(&scenarioModel{}).
			Where("scenario_id = ?", scenario.ID).
			Updates(row.updates()).Error
		return errors.Wrap(err, "update scenario")
	})
}

// DeleteScenario detaches every pipeline referencing the scenario and then
// deletes it, in one transaction. It returns the number of detached
// pipelines.
func (s *Store) DeleteScenario(ctx context.Context, id int64) (int64, error) {
	var orphaned int64
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := findScenario(tx, id); err != nil {
			return err
		}

		res := tx.Model(&pipelineModel{}).
			Where("scenario_id = ?", id).
			Update("scenario_id", nil)
		if res.Error != nil {
			return errors.Wrap(res.Error, "detach pipelines")
		}
		orphaned = res.RowsAffected

		if err := tx.Where("scenario_id = ?", id).Delete(&scenarioModel{}).Error; err != nil {
			return errors.Wrap(err, "delete scenario")
		}
		return nil
	})
	return orphaned, err
}

// Seed inserts scenarios whose id is not yet present. Existing rows are left
// untouched.
func (s *Store) Seed(ctx context.Context, scenarios []simulator.Scenario) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		return seed(tx, scenarios)
	})
}

func seed(tx *gorm.DB, scenarios []simulator.Scenario) error {
	if len(scenarios) == 0 {
		return nil
	}
	rows := make([]scenarioModel, 0, len(scenarios))
	for _, scenario := range scenarios {
		rows = append(rows, newScenarioModel(scenario))
	}
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 50).Error
	return errors.Wrap(err, "seed scenarios")
}

// Reset deletes every pipeline and scenario and seeds scenarios again.
func (s *Store) Reset(ctx context.Context, scenarios []simulator.Scenario) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&pipelineModel{}).Error; err != nil {
			return errors.Wrap(err, "delete pipelines")
		}
		if err := tx.Where("1 = 1").Delete(&scenarioModel{}).Error; err != nil {
			return errors.Wrap(err, "delete scenarios")
		}
		return seed(tx, scenarios)
	})
}
