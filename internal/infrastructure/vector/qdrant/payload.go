package qdrant

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/infrastructure/resilience"
)

type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.Operation, e.Status, e.Body)
}

// ClassifyError treats Qdrant 4xx rejections as permanent and overload or
// gateway errors as transient.
func ClassifyError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return resilience.ClassifyHTTPStatus(statusErr.StatusCode)
	}
	return resilience.Classify(err)
}

func casePayload(kase *domain.Case) map[string]any {
	keys := make([]string, 0, len(kase.Entities))
	entities := make([]map[string]string, 0, len(kase.Entities))
	for _, e := range kase.Entities {
		keys = append(keys, e.Key())
		entities = append(entities, map[string]string{"type": string(e.Type), "value": e.Value})
	}
	return map[string]any{
		"case_id":            kase.CaseID,
		"dataset":            kase.Dataset,
		"dataset_key":        strings.ToLower(kase.Dataset),
		"classification":     kase.Classification,
		"classification_key": strings.ToLower(kase.Classification),
		"loss_bucket":        kase.LossBucket,
		"created_at":         kase.CreatedAt.UTC().Format(time.RFC3339Nano),
		"created_ts":         kase.CreatedAt.UnixMilli(), // milliseconds, compared against range bounds
		"excerpt":            kase.Excerpt(excerptRunes),
		"entity_keys":        keys,
		"entities":           entities,
	}
}

func entityFiltersExact(filters []domain.EntityFilter) bool {
	for _, f := range filters {
		if f.MatchMode != domain.MatchExact && f.MatchMode != "" {
			return false
		}
	}
	return true
}

// buildFilter translates the filter set into a Qdrant filter. Entity filters are
// pushed down only when every one of them is exact; otherwise they are applied to
// the returned payloads.
func buildFilter(filters domain.SearchFilters, pushEntities bool) map[string]any {
	var must []map[string]any
	if len(filters.Datasets) > 0 {
		must = append(must, matchAny("dataset_key", lowerAll(filters.Datasets)))
	}
	if len(filters.Classifications) > 0 {
		must = append(must, matchAny("classification_key", lowerAll(filters.Classifications)))
	}
	if len(filters.LossBuckets) > 0 {
		must = append(must, matchAny("loss_bucket", filters.LossBuckets))
	}
	if tr := filters.TimeRange; !tr.Empty() {
		bounds := map[string]any{}
		if tr.Start != nil {
			bounds["gte"] = tr.Start.UnixMilli()
		}
		if tr.End != nil {
			bounds["lte"] = tr.End.UnixMilli()
		}
		must = append(must, map[string]any{"key": "created_ts", "range": bounds})
	}
	if pushEntities && len(filters.Entities) > 0 {
		keys := make([]string, 0, len(filters.Entities))
		for _, f := range filters.Entities {
			keys = append(keys, domain.Entity{Type: f.Type, Value: f.Value}.Key())
		}
		must = append(must, matchAny("entity_keys", keys))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchAny(key string, values []string) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"any": values}}
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

// matchEntities returns the case entities that satisfy at least one filter.
func matchEntities(entities []domain.Entity, filters []domain.EntityFilter) []domain.Entity {
	if len(filters) == 0 {
		return nil
	}
	var out []domain.Entity
	for _, e := range entities {
		value := strings.ToLower(e.Value)
		for _, f := range filters {
			if f.Type != e.Type {
				continue
			}
			want := strings.ToLower(f.Value)
			var ok bool
			switch f.MatchMode {
			case domain.MatchPrefix:
				ok = strings.HasPrefix(value, want)
			case domain.MatchContains:
				ok = strings.Contains(value, want)
			default:
				ok = value == want
			}
			if ok {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func payloadEntities(payload map[string]any) []domain.Entity {
	raw, ok := payload["entities"].([]any)
	if !ok {
		return nil
	}
	out := make([]domain.Entity, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, domain.Entity{
			Type:  domain.EntityType(payloadString(m, "type")),
			Value: payloadString(m, "value"),
		})
	}
	return out
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func payloadTime(payload map[string]any, key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, payloadString(payload, key))
	if err != nil {
		return time.Time{}
	}
	return t
}
