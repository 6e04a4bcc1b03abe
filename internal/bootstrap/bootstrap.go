package bootstrap

import (
	"context"
	"fmt"

	"github.com/kirillkom/caseindex/internal/config"
	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
	"github.com/kirillkom/caseindex/internal/core/usecase"
	"github.com/kirillkom/caseindex/internal/infrastructure/docstore/sqlite"
	"github.com/kirillkom/caseindex/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/caseindex/internal/infrastructure/queue/nats"
	"github.com/kirillkom/caseindex/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/caseindex/internal/infrastructure/resilience"
	"github.com/kirillkom/caseindex/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/caseindex/internal/infrastructure/writers"
	"github.com/kirillkom/caseindex/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Notifier    *nats.Notifier
	RetryQueue  *postgres.RetryRepository
	Runs        ports.RunReader
	Cases       ports.CaseReader
	HTTPMetrics *metrics.HTTPServerMetrics
	Worker      *metrics.WorkerMetrics

	IngestUC        ports.CaseIngestor
	RetryUC         ports.RetryDrainer
	SearchUC        ports.HybridSearcher
	SchemaUC        ports.SchemaProvider
	SavedSearchesUC ports.SavedSearchService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	facets, err := loadFacets(cfg.SearchFacetsPath)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	docs, err := sqlite.Open(cfg.DocstorePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open document store: %w", err)
	}

	httpMetrics := metrics.NewHTTPServerMetrics("caseindex-api")
	workerMetrics := metrics.NewWorkerMetrics("caseindex-worker")

	executor := resilience.NewExecutor(resilienceConfig(cfg))
	executor.OnStateChange(func(operation, from, to string) {
		httpMetrics.ObserveBreaker(operation, from, to)
		workerMetrics.ObserveBreaker(operation, from, to)
	})

	notifier, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSRetrySubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = docs.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init retry notifier: %w", err)
	}

	embedder := ollama.NewEmbedder(ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel), executor)
	index := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, embedder, executor)

	caseRepo := postgres.NewCaseRepository(db)
	runRepo := postgres.NewRunRepository(db)
	retryRepo := postgres.NewRetryRepository(db)
	savedRepo := postgres.NewSavedSearchRepository(db)

	backendWriters := []ports.BackendWriter{
		writers.NewStructured(caseRepo, postgres.ClassifyError, executor),
		writers.NewDocument(docs, sqlite.ClassifyError, executor),
		writers.NewSearch(index, qdrant.ClassifyError, executor),
	}

	ingestUC := usecase.NewIngestUseCase(backendWriters, runRepo, retryRepo, notifier, workerMetrics, usecase.IngestConfig{
		Concurrency:  cfg.IngestConcurrency,
		WriteTimeout: cfg.WriteTimeout,
		LossBuckets:  facets.LossBuckets,
	})
	retryUC := usecase.NewRetryUseCase(retryRepo, backendWriters, runRepo, workerMetrics, usecase.RetryConfig{
		BatchLimit:   cfg.RetryBatchLimit,
		MaxAttempts:  cfg.RetryMaxAttempts,
		BaseDelay:    cfg.RetryBaseDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Lease:        cfg.RetryLease,
		EntryTimeout: cfg.WriteTimeout,
	})
	searchUC := usecase.NewSearchUseCase(index, caseRepo, httpMetrics, usecase.SearchConfig{
		DefaultLimit:     cfg.SearchDefaultLimit,
		MaxLimit:         cfg.SearchMaxLimit,
		SemanticWeight:   cfg.SearchSemanticWeight,
		StructuredWeight: cfg.SearchStructuredWeight,
		LegTimeout:       cfg.SearchLegTimeout,
	})
	schemaUC := usecase.NewSchemaUseCase(caseRepo, usecase.SchemaConfig{
		Facets:          facets,
		CacheTTL:        cfg.SchemaCacheTTL,
		ExamplesPerType: cfg.SchemaExamplesPerType,
	})
	savedUC := usecase.NewSavedSearchUseCase(savedRepo, nil)

	return &App{
		Config: cfg,

		Notifier:    notifier,
		RetryQueue:  retryRepo,
		Runs:        runRepo,
		Cases:       docs,
		HTTPMetrics: httpMetrics,
		Worker:      workerMetrics,

		IngestUC:        ingestUC,
		RetryUC:         retryUC,
		SearchUC:        searchUC,
		SchemaUC:        schemaUC,
		SavedSearchesUC: savedUC,

		closeFn: func() {
			notifier.Close()
			_ = docs.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryAttempts
	out.RetryInitialBackoff = cfg.ResilienceInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceMaxBackoff
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.ResilienceBreakerRequests)
	}
	out.BreakerFailureRatio = cfg.ResilienceBreakerRatio
	out.BreakerOpenTimeout = cfg.ResilienceBreakerTimeout
	return out
}

// loadFacets merges the optional facets file over the built-in defaults and
// checks every loss bucket label parses.
func loadFacets(path string) (usecase.SchemaFacets, error) {
	out := usecase.DefaultSchemaFacets()
	file, err := config.LoadFacets(path)
	if err != nil {
		return out, err
	}
	if len(file.IndicatorTypes) > 0 {
		out.IndicatorTypes = make([]domain.EntityType, 0, len(file.IndicatorTypes))
		for _, t := range file.IndicatorTypes {
			out.IndicatorTypes = append(out.IndicatorTypes, domain.EntityType(t))
		}
	}
	if len(file.LossBuckets) > 0 {
		for _, label := range file.LossBuckets {
			if _, err := domain.ParseLossBucket(label); err != nil {
				return out, fmt.Errorf("facets file %s: %w", path, err)
			}
		}
		out.LossBuckets = file.LossBuckets
	}
	if len(file.TimePresets) > 0 {
		out.TimePresets = make([]domain.TimePreset, 0, len(file.TimePresets))
		for _, p := range file.TimePresets {
			out.TimePresets = append(out.TimePresets, domain.TimePreset{Label: p.Label, Days: p.Days})
		}
	}
	if len(file.ClassificationPresets) > 0 {
		out.ClassificationPresets = file.ClassificationPresets
	}
	return out, nil
}
