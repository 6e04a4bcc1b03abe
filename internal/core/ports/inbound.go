package ports

import (
	"context"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

type IngestRequest struct {
	Dataset    string
	Source     PayloadSource
	Backends   []domain.Backend
	BatchLimit int
	DryRun     bool
}

// CaseIngestor runs one ingestion batch and returns the terminal run record.
type CaseIngestor interface {
	Ingest(ctx context.Context, req IngestRequest) (*domain.IngestionRun, error)
}

type RetryRequest struct {
	BatchLimit int
	DryRun     bool
}

// RetryDrainer replays one batch of eligible retry entries.
type RetryDrainer interface {
	Drain(ctx context.Context, req RetryRequest) (domain.RetryReport, error)
}

type HybridSearcher interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
}

type SchemaProvider interface {
	Schema(ctx context.Context) (*domain.SearchSchema, error)
}

type SavedSearchService interface {
	Create(ctx context.Context, s domain.SavedSearch) (*domain.SavedSearch, error)
	Get(ctx context.Context, searchID string) (*domain.SavedSearch, error)
	List(ctx context.Context, q domain.SavedSearchQuery) ([]domain.SavedSearch, error)
	Update(ctx context.Context, searchID string, patch domain.SavedSearchPatch) (*domain.SavedSearch, error)
	Delete(ctx context.Context, searchID string) error
	Clone(ctx context.Context, searchID, owner, name string) (*domain.SavedSearch, error)
	Import(ctx context.Context, owner string, exported domain.SavedSearch) (*domain.SavedSearch, error)
	BulkTags(ctx context.Context, req domain.BulkTagRequest) ([]domain.SavedSearch, error)
	PruneTag(ctx context.Context, owner, tag string) (int, error)
	TagPresets(ctx context.Context, owner string) ([]domain.TagPreset, error)
}
