package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
)

const (
	legSemantic   = "semantic"
	legStructured = "structured"
)

type SearchConfig struct {
	DefaultLimit     int
	MaxLimit         int
	SemanticWeight   float64
	StructuredWeight float64
	LegTimeout       time.Duration
}

func (c SearchConfig) normalize() SearchConfig {
	out := c
	if out.DefaultLimit <= 0 {
		out.DefaultLimit = 20
	}
	if out.MaxLimit <= 0 {
		out.MaxLimit = 200
	}
	if out.DefaultLimit > out.MaxLimit {
		out.DefaultLimit = out.MaxLimit
	}
	if out.SemanticWeight < 0 || out.StructuredWeight < 0 || out.SemanticWeight+out.StructuredWeight == 0 {
		out.SemanticWeight, out.StructuredWeight = 0.65, 0.35
	}
	if out.LegTimeout <= 0 {
		out.LegTimeout = 5 * time.Second
	}
	return out
}

type SearchUseCase struct {
	semantic   ports.SemanticSearcher
	structured ports.StructuredSearcher
	observer   SearchObserver
	cfg        SearchConfig
}

func NewSearchUseCase(
	semantic ports.SemanticSearcher,
	structured ports.StructuredSearcher,
	observer SearchObserver,
	cfg SearchConfig,
) *SearchUseCase {
	if observer == nil {
		observer = nopSearchObserver{}
	}
	return &SearchUseCase{
		semantic:   semantic,
		structured: structured,
		observer:   observer,
		cfg:        cfg.normalize(),
	}
}

type legResult struct {
	hits []domain.LegHit
	diag domain.LegDiagnostics
	err  error
}

// Search runs the semantic and structured legs concurrently and fuses them. A
// failed leg degrades to zero hits; when every executed leg fails the error is
// domain.ErrSearchUnavailable.
func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	normalized, err := uc.NormalizeRequest(req)
	if err != nil {
		return nil, err
	}
	filters := normalized.SearchFilters

	semantic := legResult{diag: domain.LegDiagnostics{Status: domain.LegSkipped}}
	structured := legResult{diag: domain.LegDiagnostics{Status: domain.LegSkipped}}

	g := new(errgroup.Group)
	if normalized.Text != "" && uc.semantic != nil {
		g.Go(func() error {
			semantic = uc.runLeg(ctx, legSemantic, func(legCtx context.Context) ([]domain.LegHit, error) {
				return uc.semantic.SearchSemantic(legCtx, normalized.Text, filters, normalized.VectorLimit)
			})
			return nil
		})
	}
	if !filters.Empty() && uc.structured != nil {
		g.Go(func() error {
			structured = uc.runLeg(ctx, legStructured, func(legCtx context.Context) ([]domain.LegHit, error) {
				return uc.structured.SearchStructured(legCtx, filters, normalized.StructuredLimit)
			})
			return nil
		})
	}
	_ = g.Wait()

	executed, failed := 0, 0
	var legErrs []error
	for _, leg := range []legResult{semantic, structured} {
		if leg.diag.Status == domain.LegSkipped {
			continue
		}
		executed++
		if leg.err != nil {
			failed++
			legErrs = append(legErrs, leg.err)
		}
	}
	if executed == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("no search leg can serve the request"))
	}
	if failed == executed {
		uc.observer.ObserveSearch(0, true)
		return nil, domain.WrapError(domain.ErrSearchUnavailable, "search", errors.Join(legErrs...))
	}

	for i := range semantic.hits {
		semantic.hits[i].Score = normalizeSemanticScore(semantic.hits[i].Score)
	}
	for i := range structured.hits {
		structured.hits[i].Score = structuredScore(structured.hits[i].MatchedEntities, filters.Entities)
	}

	policy := domain.ScorePolicy{SemanticWeight: uc.cfg.SemanticWeight, StructuredWeight: uc.cfg.StructuredWeight}
	fused, overlap := fuseHits(semantic.hits, structured.hits, policy)
	page := paginate(fused, normalized.Offset, normalized.Limit)

	resp := &domain.SearchResponse{
		Results:        page,
		Count:          len(page),
		Total:          len(fused),
		Offset:         normalized.Offset,
		Limit:          normalized.Limit,
		VectorHits:     len(semantic.hits),
		StructuredHits: len(structured.hits),
		Diagnostics: domain.SearchDiagnostics{
			FiltersApplied: filters,
			ScorePolicy:    policy,
			Legs: map[string]domain.LegDiagnostics{
				legSemantic:   semantic.diag,
				legStructured: structured.diag,
			},
			Degraded:       failed > 0,
			MergedResults:  len(fused),
			DedupedOverlap: overlap,
		},
	}
	uc.observer.ObserveSearch(resp.Count, failed > 0)
	return resp, nil
}

func (uc *SearchUseCase) runLeg(
	ctx context.Context,
	name string,
	fn func(context.Context) ([]domain.LegHit, error),
) legResult {
	legCtx, cancel := context.WithTimeout(ctx, uc.cfg.LegTimeout)
	defer cancel()

	start := time.Now()
	hits, err := fn(legCtx)
	elapsed := time.Since(start)
	res := legResult{
		diag: domain.LegDiagnostics{
			Status:     domain.LegOK,
			DurationMs: float64(elapsed.Microseconds()) / 1000.0,
		},
	}
	if err != nil {
		res.err = domain.WrapError(domain.ErrQueryLeg, name+" leg", err)
		res.diag.Status = domain.LegFailed
		res.diag.Error = err.Error()
		slog.Warn("search_leg_failed", "leg", name, "duration_ms", res.diag.DurationMs, "error", err)
		uc.observer.ObserveLeg(name, domain.LegFailed, 0, elapsed)
		return res
	}
	res.hits = hits
	res.diag.Hits = len(hits)
	uc.observer.ObserveLeg(name, domain.LegOK, len(hits), elapsed)
	return res
}

// NormalizeRequest trims and deduplicates filters, validates them and applies
// limit defaults. Leg limits default to offset+limit so later pages can fill.
func (uc *SearchUseCase) NormalizeRequest(req domain.SearchRequest) (domain.SearchRequest, error) {
	out := domain.SearchRequest{Text: strings.TrimSpace(req.Text)}
	out.Classifications = dedupeLower(req.Classifications)
	out.Datasets = dedupeLower(req.Datasets)

	buckets := make([]string, 0, len(req.LossBuckets))
	for _, label := range dedupeLower(req.LossBuckets) {
		parsed, err := domain.ParseLossBucket(label)
		if err != nil {
			return out, err
		}
		buckets = append(buckets, parsed.Label)
	}
	out.LossBuckets = buckets

	entities := make([]domain.EntityFilter, 0, len(req.Entities))
	seen := make(map[string]bool, len(req.Entities))
	for _, f := range req.Entities {
		typ := canonicalEntityType(string(f.Type))
		value := strings.ToLower(strings.TrimSpace(f.Value))
		if typ == "" || value == "" {
			return out, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("entity filter requires type and value"))
		}
		mode, err := domain.ParseMatchMode(string(f.MatchMode))
		if err != nil {
			return out, err
		}
		key := string(typ) + "|" + value + "|" + string(mode)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, domain.EntityFilter{Type: typ, Value: value, MatchMode: mode})
	}
	out.Entities = entities

	if !req.TimeRange.Empty() {
		tr := *req.TimeRange
		if tr.Start != nil && tr.End != nil && tr.End.Before(*tr.Start) {
			return out, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("time_range end precedes start"))
		}
		out.TimeRange = &tr
	}

	if out.Text == "" && out.SearchFilters.Empty() {
		return out, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("text or at least one filter is required"))
	}
	if req.Offset < 0 || req.Limit < 0 || req.VectorLimit < 0 || req.StructuredLimit < 0 {
		return out, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("limits and offset must be non-negative"))
	}

	out.Offset = req.Offset
	out.Limit = req.Limit
	if out.Limit == 0 {
		out.Limit = uc.cfg.DefaultLimit
	}
	out.Limit = min(out.Limit, uc.cfg.MaxLimit)
	out.VectorLimit = legLimit(req.VectorLimit, out.Offset+out.Limit, uc.cfg.MaxLimit)
	out.StructuredLimit = legLimit(req.StructuredLimit, out.Offset+out.Limit, uc.cfg.MaxLimit)
	return out, nil
}

func legLimit(requested, fallback, maxLimit int) int {
	if requested > 0 {
		return min(requested, maxLimit)
	}
	return fallback
}
