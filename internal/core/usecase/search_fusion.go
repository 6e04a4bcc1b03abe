package usecase

import (
	"sort"
	"strings"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

// Structured match quality per entity match mode.
const (
	exactMatchScore    = 1.0
	prefixMatchScore   = 0.85
	containsMatchScore = 0.7
)

type fusedCandidate struct {
	hit        domain.LegHit
	semantic   *float64
	structured *float64
}

// fuseHits merges both legs by case_id. A case present in both legs scores
// w_sem*sem + w_struct*struct; a single-leg case keeps its own score. Output is
// ordered by score desc, then case_id asc. overlap counts cases seen in both legs.
func fuseHits(semantic, structured []domain.LegHit, policy domain.ScorePolicy) ([]domain.SearchResult, int) {
	acc := make(map[string]*fusedCandidate, len(semantic)+len(structured))
	add := func(hits []domain.LegHit, pick func(*fusedCandidate) **float64) {
		for _, hit := range hits {
			if hit.CaseID == "" {
				continue
			}
			candidate, ok := acc[hit.CaseID]
			if !ok {
				candidate = &fusedCandidate{hit: hit}
				acc[hit.CaseID] = candidate
			} else {
				candidate.hit = preferRicherHit(candidate.hit, hit)
			}
			slot := pick(candidate)
			score := hit.Score
			if *slot == nil || score > **slot {
				*slot = &score
			}
		}
	}
	add(semantic, func(c *fusedCandidate) **float64 { return &c.semantic })
	add(structured, func(c *fusedCandidate) **float64 { return &c.structured })

	out := make([]domain.SearchResult, 0, len(acc))
	overlap := 0
	for caseID, c := range acc {
		result := domain.SearchResult{
			CaseID:          caseID,
			SemanticScore:   c.semantic,
			StructuredScore: c.structured,
			Dataset:         c.hit.Dataset,
			Classification:  c.hit.Classification,
			LossBucket:      c.hit.LossBucket,
			Excerpt:         c.hit.Excerpt,
			MatchedEntities: c.hit.MatchedEntities,
		}
		if !c.hit.CreatedAt.IsZero() {
			createdAt := c.hit.CreatedAt
			result.CreatedAt = &createdAt
		}
		switch {
		case c.semantic != nil && c.structured != nil:
			overlap++
			result.Source = domain.SourceMerged
			sem, str := *c.semantic, *c.structured
			result.Score = policy.SemanticWeight*sem + policy.StructuredWeight*str
		case c.semantic != nil:
			result.Source = domain.SourceSemantic
			result.Score = *c.semantic
		default:
			result.Source = domain.SourceStructured
			result.Score = *c.structured
		}
		out = append(out, result)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CaseID < out[j].CaseID
	})
	return out, overlap
}

func preferRicherHit(current, candidate domain.LegHit) domain.LegHit {
	if current.Dataset == "" {
		current.Dataset = candidate.Dataset
	}
	if current.Classification == "" {
		current.Classification = candidate.Classification
	}
	if current.LossBucket == "" {
		current.LossBucket = candidate.LossBucket
	}
	if current.Excerpt == "" {
		current.Excerpt = candidate.Excerpt
	}
	if current.CreatedAt.IsZero() {
		current.CreatedAt = candidate.CreatedAt
	}
	if len(current.MatchedEntities) == 0 {
		current.MatchedEntities = candidate.MatchedEntities
	}
	return current
}

// normalizeSemanticScore maps raw engine scores into [0,1]. Similarities already
// in range pass through, distances above 1 become 1/(1+d), non-positive scores
// carry no signal.
func normalizeSemanticScore(raw float64) float64 {
	switch {
	case raw <= 0:
		return 0
	case raw <= 1:
		return raw
	default:
		return 1 / (1 + raw)
	}
}

// structuredScore rates how well a hit's matched entities satisfy the entity
// filters: the mean of the best match quality per filter, 1.0 without entity filters.
func structuredScore(matched []domain.Entity, filters []domain.EntityFilter) float64 {
	if len(filters) == 0 {
		return exactMatchScore
	}
	total := 0.0
	for _, f := range filters {
		best := 0.0
		for _, e := range matched {
			if e.Type != f.Type {
				continue
			}
			if q := matchQuality(e.Value, f); q > best {
				best = q
			}
		}
		total += best
	}
	return total / float64(len(filters))
}

func matchQuality(value string, f domain.EntityFilter) float64 {
	v := strings.ToLower(value)
	want := strings.ToLower(f.Value)
	switch {
	case v == want:
		return exactMatchScore
	case f.MatchMode == domain.MatchPrefix && strings.HasPrefix(v, want):
		return prefixMatchScore
	case f.MatchMode == domain.MatchContains && strings.Contains(v, want):
		return containsMatchScore
	default:
		return 0
	}
}

func paginate(results []domain.SearchResult, offset, limit int) []domain.SearchResult {
	if offset >= len(results) {
		return []domain.SearchResult{}
	}
	end := len(results)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return results[offset:end]
}
