package domain

import "time"

type TimePreset struct {
	Label string `json:"label"`
	Days  int    `json:"days"`
}

type EntityExample struct {
	Value      string    `json:"value"`
	Dataset    string    `json:"dataset,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type DatasetFacet struct {
	Name  string `json:"name"`
	Cases int    `json:"cases"`
}

// SearchSchema is the facet document served to the search UI.
type SearchSchema struct {
	IndicatorTypes        []EntityType                   `json:"indicator_types"`
	Datasets              []DatasetFacet                 `json:"datasets"`
	LossBuckets           []string                       `json:"loss_buckets"`
	TimePresets           []TimePreset                   `json:"time_presets"`
	ClassificationPresets []string                       `json:"classification_presets"`
	EntityExamples        map[EntityType][]EntityExample `json:"entity_examples"`
	GeneratedAt           time.Time                      `json:"generated_at"`
}
