package simulator

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk format of an extra scenario catalog.
type Catalog struct {
	Scenarios []CatalogEntry `yaml:"scenarios"`
}

// CatalogEntry mirrors the scenario JSON representation.
type CatalogEntry struct {
	ScenarioID           *int64 `yaml:"scenario_id"`
	Name                 string `yaml:"name"`
	TerminalAfterSeconds *int64 `yaml:"terminal_after_seconds"`
	TerminalStatus       string `yaml:"terminal_status"`
	NeverComplete        bool   `yaml:"never_complete"`
}

// LoadCatalog reads and validates a YAML scenario catalog from path.
func LoadCatalog(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read scenario catalog %s", path)
	}
	scenarios, err := ParseCatalog(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario catalog %s", path)
	}
	return scenarios, nil
}

// ParseCatalog decodes a YAML scenario catalog. Every entry needs a
// scenario_id and ids must be unique within the file.
func ParseCatalog(data []byte) ([]Scenario, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}

	seen := make(map[int64]struct{}, len(catalog.Scenarios))
	scenarios := make([]Scenario, 0, len(catalog.Scenarios))
	for i, entry := range catalog.Scenarios {
		if entry.ScenarioID == nil {
			return nil, Validationf("entry %d: scenario_id is required", i)
		}
		if _, dup := seen[*entry.ScenarioID]; dup {
			return nil, Validationf("entry %d: duplicate scenario_id %d", i, *entry.ScenarioID)
		}
		seen[*entry.ScenarioID] = struct{}{}

		scenario, err := Scenario{
			ID:                   *entry.ScenarioID,
			Name:                 entry.Name,
			TerminalAfterSeconds: entry.TerminalAfterSeconds,
			TerminalStatus:       entry.TerminalStatus,
			NeverComplete:        entry.NeverComplete,
		}.Normalize()
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", i)
		}
		scenarios = append(scenarios, scenario)
	}
	return scenarios, nil
}
