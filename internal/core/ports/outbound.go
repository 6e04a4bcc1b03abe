package ports

import (
	"context"
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

// BackendWriter upserts one normalized case into one backend, keyed on case_id.
type BackendWriter interface {
	Backend() domain.Backend
	Write(ctx context.Context, c *domain.Case) error
}

// PayloadSource yields raw case payloads. Next returns io.EOF when exhausted and
// an ErrInvalidInput-kind error for a single unreadable record.
type PayloadSource interface {
	Next(ctx context.Context) (domain.RawPayload, error)
	Close() error
}

// RunTracker persists ingestion runs with atomic counter increments and an
// append-only event log.
type RunTracker interface {
	StartRun(ctx context.Context, run *domain.IngestionRun) error
	RecordCase(ctx context.Context, runID string) error
	RecordWrite(ctx context.Context, runID string, backend domain.Backend) error
	IncrementRetry(ctx context.Context, runID string, n int) error
	RecordError(ctx context.Context, runID, message string) error
	AppendEvent(ctx context.Context, event domain.RunEvent) error
	CompleteRun(ctx context.Context, runID string, status domain.RunStatus) (*domain.IngestionRun, error)
	GetRun(ctx context.Context, runID string) (*domain.IngestionRun, error)
}

// RunReader is the read side used by the API.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*domain.IngestionRun, error)
	LatestRun(ctx context.Context, dataset string) (*domain.IngestionRun, error)
	ListEvents(ctx context.Context, runID string, limit int) ([]domain.RunEvent, error)
}

// RetryQueue is the durable store of failed backend writes.
type RetryQueue interface {
	Enqueue(ctx context.Context, entry *domain.RetryEntry) error
	Claim(ctx context.Context, limit int, lease time.Duration) ([]domain.RetryEntry, error)
	Peek(ctx context.Context, limit int) ([]domain.RetryEntry, error)
	Complete(ctx context.Context, entry domain.RetryEntry) error
	Reschedule(ctx context.Context, entry domain.RetryEntry, nextAttemptAt time.Time, lastErr string) error
	DeadLetter(ctx context.Context, entry domain.RetryEntry, reason string) error
	// RecordFailure writes a dead letter for a write that was never queued.
	RecordFailure(ctx context.Context, entry domain.RetryEntry, reason string) error
	CountOutstanding(ctx context.Context, runID string) (int, error)
}

// RetryNotifier wakes retry workers after entries were enqueued.
type RetryNotifier interface {
	PublishRetryReady(ctx context.Context, runID string, entries int) error
}

// StructuredSearcher runs the structured leg of a hybrid query.
type StructuredSearcher interface {
	SearchStructured(ctx context.Context, filters domain.SearchFilters, limit int) ([]domain.LegHit, error)
}

// SemanticSearcher runs the semantic leg of a hybrid query.
type SemanticSearcher interface {
	SearchSemantic(ctx context.Context, text string, filters domain.SearchFilters, limit int) ([]domain.LegHit, error)
}

// FacetRepository serves the live parts of the search schema.
type FacetRepository interface {
	ListDatasets(ctx context.Context) ([]domain.DatasetFacet, error)
	ListEntityExamples(ctx context.Context, perType int) (map[domain.EntityType][]domain.EntityExample, error)
}

// SavedSearchRepository persists saved searches. Create and rename report
// domain.ErrConflict when the name is taken within the scope.
type SavedSearchRepository interface {
	Create(ctx context.Context, s *domain.SavedSearch) error
	Get(ctx context.Context, searchID string) (*domain.SavedSearch, error)
	List(ctx context.Context, q domain.SavedSearchQuery) ([]domain.SavedSearch, error)
	Update(ctx context.Context, s *domain.SavedSearch) error
	Delete(ctx context.Context, searchID string) error
	DeleteByTag(ctx context.Context, owner, tag string) (int, error)
	ListTagPresets(ctx context.Context, owner string) ([]domain.TagPreset, error)
}

// CaseReader returns the denormalized case view from the document store.
type CaseReader interface {
	GetCase(ctx context.Context, caseID string) (*domain.Case, error)
}

// Embedder builds vectors for case narratives and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
