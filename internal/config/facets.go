package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SearchFacets is the optional facets file. Empty sections keep the built-in
// defaults.
type SearchFacets struct {
	IndicatorTypes        []string     `yaml:"indicator_types"`
	LossBuckets           []string     `yaml:"loss_buckets"`
	TimePresets           []TimePreset `yaml:"time_presets"`
	ClassificationPresets []string     `yaml:"classification_presets"`
}

type TimePreset struct {
	Label string `yaml:"label"`
	Days  int    `yaml:"days"`
}

// LoadFacets reads the facets file. An empty path yields an empty SearchFacets.
func LoadFacets(path string) (SearchFacets, error) {
	var facets SearchFacets
	if path == "" {
		return facets, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return facets, fmt.Errorf("read facets file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &facets); err != nil {
		return facets, fmt.Errorf("parse facets file %s: %w", path, err)
	}
	for _, p := range facets.TimePresets {
		if p.Label == "" || p.Days <= 0 {
			return facets, fmt.Errorf("parse facets file %s: invalid time preset %+v", path, p)
		}
	}
	return facets, nil
}
