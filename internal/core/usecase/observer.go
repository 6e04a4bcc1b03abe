package usecase

import (
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

// PipelineObserver receives ingestion and retry outcomes for metrics.
type PipelineObserver interface {
	ObserveWrite(backend domain.Backend, outcome string, duration time.Duration)
	ObserveRun(status domain.RunStatus, cases int)
	ObserveRetry(backend domain.Backend, outcome domain.RetryOutcome)
	ObserveRetryBatch(claimed int)
}

// SearchObserver receives hybrid search leg outcomes for metrics.
type SearchObserver interface {
	ObserveLeg(leg string, status domain.LegStatus, hits int, duration time.Duration)
	ObserveSearch(results int, degraded bool)
}

type nopPipelineObserver struct{}

func (nopPipelineObserver) ObserveWrite(domain.Backend, string, time.Duration) {}
func (nopPipelineObserver) ObserveRun(domain.RunStatus, int)                   {}
func (nopPipelineObserver) ObserveRetry(domain.Backend, domain.RetryOutcome)   {}
func (nopPipelineObserver) ObserveRetryBatch(int)                              {}

type nopSearchObserver struct{}

func (nopSearchObserver) ObserveLeg(string, domain.LegStatus, int, time.Duration) {}
func (nopSearchObserver) ObserveSearch(int, bool)                                 {}
