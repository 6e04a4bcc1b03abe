package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
)

// SchemaFacets are the static parts of the search schema.
type SchemaFacets struct {
	IndicatorTypes        []domain.EntityType
	LossBuckets           []string
	TimePresets           []domain.TimePreset
	ClassificationPresets []string
}

func DefaultSchemaFacets() SchemaFacets {
	return SchemaFacets{
		IndicatorTypes: append([]domain.EntityType(nil), domain.KnownEntityTypes...),
		LossBuckets:    append([]string(nil), domain.DefaultLossBuckets...),
		TimePresets: []domain.TimePreset{
			{Label: "last_24h", Days: 1},
			{Label: "last_7d", Days: 7},
			{Label: "last_30d", Days: 30},
			{Label: "last_90d", Days: 90},
			{Label: "last_365d", Days: 365},
		},
		ClassificationPresets: []string{
			"romance",
			"investment",
			"tech_support",
			"impersonation",
			"phishing",
			"business_email_compromise",
			"unclassified",
		},
	}
}

type SchemaConfig struct {
	Facets          SchemaFacets
	CacheTTL        time.Duration
	BuildTimeout    time.Duration
	ExamplesPerType int
	Now             func() time.Time
}

func (c SchemaConfig) normalize() SchemaConfig {
	out := c
	defaults := DefaultSchemaFacets()
	if len(out.Facets.IndicatorTypes) == 0 {
		out.Facets.IndicatorTypes = defaults.IndicatorTypes
	}
	if len(out.Facets.LossBuckets) == 0 {
		out.Facets.LossBuckets = defaults.LossBuckets
	}
	if len(out.Facets.TimePresets) == 0 {
		out.Facets.TimePresets = defaults.TimePresets
	}
	if len(out.Facets.ClassificationPresets) == 0 {
		out.Facets.ClassificationPresets = defaults.ClassificationPresets
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = 300 * time.Second
	}
	if out.BuildTimeout <= 0 {
		out.BuildTimeout = 10 * time.Second
	}
	if out.ExamplesPerType <= 0 {
		out.ExamplesPerType = 5
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

type SchemaUseCase struct {
	facets ports.FacetRepository
	cfg    SchemaConfig

	group singleflight.Group

	mu        sync.RWMutex
	cached    *domain.SearchSchema
	expiresAt time.Time
}

func NewSchemaUseCase(facets ports.FacetRepository, cfg SchemaConfig) *SchemaUseCase {
	return &SchemaUseCase{facets: facets, cfg: cfg.normalize()}
}

// Schema returns the cached facet document, rebuilding it once the TTL has
// elapsed. Concurrent rebuilds collapse into one backend round trip.
func (uc *SchemaUseCase) Schema(ctx context.Context) (*domain.SearchSchema, error) {
	now := uc.cfg.Now()
	uc.mu.RLock()
	if uc.cached != nil && now.Before(uc.expiresAt) {
		schema := uc.cached
		uc.mu.RUnlock()
		return schema, nil
	}
	uc.mu.RUnlock()

	// The rebuild is shared, so it must not die with whichever caller started it.
	ch := uc.group.DoChan("schema", func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.cfg.BuildTimeout)
		defer cancel()
		schema, err := uc.build(buildCtx)
		if err != nil {
			return nil, err
		}
		uc.mu.Lock()
		uc.cached = schema
		uc.expiresAt = schema.GeneratedAt.Add(uc.cfg.CacheTTL)
		uc.mu.Unlock()
		return schema, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.SearchSchema), nil
	}
}

// Invalidate drops the cached document so the next call rebuilds it.
func (uc *SchemaUseCase) Invalidate() {
	uc.mu.Lock()
	uc.cached = nil
	uc.mu.Unlock()
}

func (uc *SchemaUseCase) build(ctx context.Context) (*domain.SearchSchema, error) {
	started := uc.cfg.Now()
	datasets, err := uc.facets.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dataset facets: %w", err)
	}
	examples, err := uc.facets.ListEntityExamples(ctx, uc.cfg.ExamplesPerType)
	if err != nil {
		return nil, fmt.Errorf("list entity examples: %w", err)
	}
	if datasets == nil {
		datasets = []domain.DatasetFacet{}
	}
	if examples == nil {
		examples = map[domain.EntityType][]domain.EntityExample{}
	}

	schema := &domain.SearchSchema{
		IndicatorTypes:        uc.cfg.Facets.IndicatorTypes,
		Datasets:              datasets,
		LossBuckets:           uc.cfg.Facets.LossBuckets,
		TimePresets:           uc.cfg.Facets.TimePresets,
		ClassificationPresets: uc.cfg.Facets.ClassificationPresets,
		EntityExamples:        examples,
		GeneratedAt:           started.UTC(),
	}
	slog.Debug("search_schema_refreshed", "datasets", len(datasets), "entity_types", len(examples))
	return schema, nil
}
