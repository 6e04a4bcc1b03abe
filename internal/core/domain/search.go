package domain

import (
	"fmt"
	"strings"
	"time"
)

type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchPrefix   MatchMode = "prefix"
	MatchContains MatchMode = "contains"
)

func ParseMatchMode(raw string) (MatchMode, error) {
	switch m := MatchMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return MatchExact, nil
	case MatchExact, MatchPrefix, MatchContains:
		return m, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse match mode", fmt.Errorf("unsupported match_mode %q", raw))
	}
}

type EntityFilter struct {
	Type      EntityType `json:"type"`
	Value     string     `json:"value"`
	MatchMode MatchMode  `json:"match_mode"`
}

type TimeRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

func (r *TimeRange) Empty() bool {
	return r == nil || (r.Start == nil && r.End == nil)
}

type SearchFilters struct {
	Classifications []string       `json:"classifications,omitempty"`
	Datasets        []string       `json:"datasets,omitempty"`
	LossBuckets     []string       `json:"loss_buckets,omitempty"`
	Entities        []EntityFilter `json:"entities,omitempty"`
	TimeRange       *TimeRange     `json:"time_range,omitempty"`
}

func (f SearchFilters) Empty() bool {
	return len(f.Classifications) == 0 &&
		len(f.Datasets) == 0 &&
		len(f.LossBuckets) == 0 &&
		len(f.Entities) == 0 &&
		f.TimeRange.Empty()
}

type SearchRequest struct {
	Text string `json:"text,omitempty"`
	SearchFilters
	Limit           int `json:"limit,omitempty"`
	VectorLimit     int `json:"vector_limit,omitempty"`
	StructuredLimit int `json:"structured_limit,omitempty"`
	Offset          int `json:"offset,omitempty"`
}

// LegHit is one candidate returned by a search leg. Score is normalized to [0,1].
type LegHit struct {
	CaseID          string
	Score           float64
	Dataset         string
	Classification  string
	LossBucket      string
	Excerpt         string
	CreatedAt       time.Time
	MatchedEntities []Entity
}

type ResultSource string

const (
	SourceMerged     ResultSource = "merged"
	SourceSemantic   ResultSource = "semantic"
	SourceStructured ResultSource = "structured"
)

type SearchResult struct {
	CaseID          string       `json:"case_id"`
	Score           float64      `json:"score"`
	Source          ResultSource `json:"source"`
	SemanticScore   *float64     `json:"semantic_score,omitempty"`
	StructuredScore *float64     `json:"structured_score,omitempty"`
	Dataset         string       `json:"dataset,omitempty"`
	Classification  string       `json:"classification,omitempty"`
	LossBucket      string       `json:"loss_bucket,omitempty"`
	Excerpt         string       `json:"excerpt,omitempty"`
	CreatedAt       *time.Time   `json:"created_at,omitempty"`
	MatchedEntities []Entity     `json:"matched_entities,omitempty"`
}

type LegStatus string

const (
	LegOK      LegStatus = "ok"
	LegSkipped LegStatus = "skipped"
	LegFailed  LegStatus = "error"
)

type LegDiagnostics struct {
	Status     LegStatus `json:"status"`
	Hits       int       `json:"hits"`
	DurationMs float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

type ScorePolicy struct {
	SemanticWeight   float64 `json:"semantic_weight"`
	StructuredWeight float64 `json:"structured_weight"`
}

type SearchDiagnostics struct {
	FiltersApplied SearchFilters             `json:"filters_applied"`
	ScorePolicy    ScorePolicy               `json:"score_policy"`
	Legs           map[string]LegDiagnostics `json:"legs"`
	Degraded       bool                      `json:"degraded"`
	MergedResults  int                       `json:"merged_results"`
	DedupedOverlap int                       `json:"deduped_overlap"`
}

type SearchResponse struct {
	Results        []SearchResult    `json:"results"`
	Count          int               `json:"count"`
	Total          int               `json:"total"`
	Offset         int               `json:"offset"`
	Limit          int               `json:"limit"`
	VectorHits     int               `json:"vector_hits"`
	StructuredHits int               `json:"structured_hits"`
	Diagnostics    SearchDiagnostics `json:"diagnostics"`
}
