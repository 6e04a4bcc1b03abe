package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
)

type IngestConfig struct {
	Concurrency  int
	WriteTimeout time.Duration
	// RetryDelay is how long a freshly enqueued entry waits before it is eligible.
	RetryDelay  time.Duration
	LossBuckets []string
	Now         func() time.Time
}

func (c IngestConfig) normalize() IngestConfig {
	out := c
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 15 * time.Second
	}
	if out.RetryDelay < 0 {
		out.RetryDelay = 0
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

type IngestUseCase struct {
	writers  map[domain.Backend]ports.BackendWriter
	tracker  ports.RunTracker
	queue    ports.RetryQueue
	notifier ports.RetryNotifier
	observer PipelineObserver
	cfg      IngestConfig
}

func NewIngestUseCase(
	writers []ports.BackendWriter,
	tracker ports.RunTracker,
	queue ports.RetryQueue,
	notifier ports.RetryNotifier,
	observer PipelineObserver,
	cfg IngestConfig,
) *IngestUseCase {
	byBackend := make(map[domain.Backend]ports.BackendWriter, len(writers))
	for _, w := range writers {
		byBackend[w.Backend()] = w
	}
	if observer == nil {
		observer = nopPipelineObserver{}
	}
	return &IngestUseCase{
		writers:  byBackend,
		tracker:  tracker,
		queue:    queue,
		notifier: notifier,
		observer: observer,
		cfg:      cfg.normalize(),
	}
}

type caseOutcome struct {
	backend  domain.Backend
	err      error
	duration time.Duration
}

// Ingest runs one batch. Write failures never fail the call; they are recorded on
// the run and enqueued for replay. Cancelling ctx stops dispatch between cases and
// still finalizes the run.
func (uc *IngestUseCase) Ingest(ctx context.Context, req ports.IngestRequest) (*domain.IngestionRun, error) {
	if req.Dataset == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("dataset is required"))
	}
	if req.Source == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("payload source is required"))
	}
	backends, err := uc.enabledBackends(req.Backends)
	if err != nil {
		return nil, err
	}

	run := &domain.IngestionRun{
		RunID:           uuid.NewString(),
		Dataset:         req.Dataset,
		Status:          domain.RunRunning,
		EnabledBackends: backends,
		DryRun:          req.DryRun,
		StartedAt:       uc.cfg.Now().UTC(),
	}
	if req.DryRun {
		return uc.dryRun(ctx, run, req)
	}

	if err := uc.tracker.StartRun(ctx, run); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	slog.Info("ingest_run_started",
		"run_id", run.RunID,
		"dataset", run.Dataset,
		"backends", backends,
		"batch_limit", req.BatchLimit,
	)

	// In-flight cases finish even if ctx is cancelled so the tracker reflects them.
	workCtx := context.WithoutCancel(ctx)
	var enqueued atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(uc.cfg.Concurrency)

	var sourceErr error
	read := 0
	for req.BatchLimit <= 0 || read < req.BatchLimit {
		if ctx.Err() != nil {
			uc.recordError(workCtx, run.RunID, "run cancelled before source was exhausted")
			break
		}
		payload, err := req.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		read++
		if err != nil {
			if domain.IsKind(err, domain.ErrInvalidInput) {
				uc.rejectCase(workCtx, run.RunID, "", err)
				continue
			}
			if ctx.Err() != nil {
				uc.recordError(workCtx, run.RunID, "run cancelled before source was exhausted")
				break
			}
			sourceErr = err
			slog.Error("ingest_source_failed", "run_id", run.RunID, "error", err)
			uc.recordError(workCtx, run.RunID, "payload source: "+err.Error())
			break
		}

		g.Go(func() error {
			enqueued.Add(int64(uc.processCase(workCtx, run, backends, payload)))
			return nil
		})
	}
	_ = g.Wait()

	final, err := uc.finalize(workCtx, run.RunID)
	if err != nil {
		return nil, err
	}
	if n := enqueued.Load(); n > 0 {
		uc.notifyRetries(workCtx, run.RunID, int(n))
	}

	uc.observer.ObserveRun(final.Status, final.CaseCount)
	slog.Info("ingest_run_completed",
		"run_id", final.RunID,
		"status", final.Status,
		"case_count", final.CaseCount,
		"structured_writes", final.StructuredWrites,
		"document_writes", final.DocumentWrites,
		"search_writes", final.SearchWrites,
		"retry_count", final.RetryCount,
		"source_error", sourceErr != nil,
	)
	return final, nil
}

func (uc *IngestUseCase) enabledBackends(requested []domain.Backend) ([]domain.Backend, error) {
	if len(requested) == 0 {
		requested = domain.AllBackends
	}
	out := make([]domain.Backend, 0, len(requested))
	seen := make(map[domain.Backend]bool, len(requested))
	for _, b := range requested {
		if seen[b] {
			continue
		}
		if _, ok := uc.writers[b]; !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("backend %q has no writer", b))
		}
		seen[b] = true
		out = append(out, b)
	}
	return out, nil
}

// processCase normalizes one payload, writes it to every enabled backend
// concurrently and returns the number of retry entries it enqueued.
func (uc *IngestUseCase) processCase(
	ctx context.Context,
	run *domain.IngestionRun,
	backends []domain.Backend,
	payload domain.RawPayload,
) int {
	c, diag, err := NormalizeCase(payload.Data, NormalizeOptions{
		Dataset:     run.Dataset,
		RunID:       run.RunID,
		LossBuckets: uc.cfg.LossBuckets,
		Now:         uc.cfg.Now,
	})
	if err != nil {
		uc.rejectCase(ctx, run.RunID, fmt.Sprintf("line %d", payload.Line), err)
		return 0
	}
	slog.Debug("ingest_case_normalized",
		"run_id", run.RunID,
		"case_id", c.CaseID,
		"text_source", diag.TextSource,
		"entity_source", diag.EntitySource,
		"entities", len(c.Entities),
		"dropped_entities", diag.DroppedEntities,
	)
	if err := uc.tracker.RecordCase(ctx, run.RunID); err != nil {
		slog.Warn("ingest_tracker_failed", "run_id", run.RunID, "case_id", c.CaseID, "error", err)
	}

	outcomes := make([]caseOutcome, len(backends))
	var wg sync.WaitGroup
	for i, b := range backends {
		i, b := i, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			writeCtx, cancel := context.WithTimeout(ctx, uc.cfg.WriteTimeout)
			defer cancel()
			outcomes[i] = caseOutcome{backend: b, err: uc.writers[b].Write(writeCtx, c), duration: time.Since(start)}
		}()
	}
	wg.Wait()

	enqueued := 0
	for _, out := range outcomes {
		switch {
		case out.err == nil:
			uc.observer.ObserveWrite(out.backend, "success", out.duration)
			if err := uc.tracker.RecordWrite(ctx, run.RunID, out.backend); err != nil {
				slog.Warn("ingest_tracker_failed", "run_id", run.RunID, "case_id", c.CaseID, "error", err)
			}
			uc.appendEvent(ctx, domain.RunEvent{RunID: run.RunID, CaseID: c.CaseID, Backend: out.backend, Kind: domain.EventWriteSucceeded})
		case domain.IsPermanentWrite(out.err):
			uc.observer.ObserveWrite(out.backend, "dropped", out.duration)
			slog.Error("ingest_write_dropped",
				"run_id", run.RunID,
				"case_id", c.CaseID,
				"backend", out.backend,
				"error", out.err,
			)
			uc.recordError(ctx, run.RunID, fmt.Sprintf("%s %s: %v", out.backend, c.CaseID, out.err))
			uc.recordDropped(ctx, run.RunID, c, out.backend, out.err)
			uc.appendEvent(ctx, domain.RunEvent{RunID: run.RunID, CaseID: c.CaseID, Backend: out.backend, Kind: domain.EventWriteDropped, Detail: out.err.Error()})
		default:
			uc.observer.ObserveWrite(out.backend, "enqueued", out.duration)
			if uc.enqueueRetry(ctx, run.RunID, c, out.backend, out.err) {
				enqueued++
			}
		}
	}
	return enqueued
}

// recordDropped leaves a dead letter for a write rejected outright, so it shows
// up next to the entries that exhausted their retries.
func (uc *IngestUseCase) recordDropped(ctx context.Context, runID string, c *domain.Case, backend domain.Backend, writeErr error) {
	payload, err := domain.EncodeCase(c)
	if err != nil {
		uc.recordError(ctx, runID, err.Error())
		return
	}
	entry := domain.RetryEntry{
		RetryID:      uuid.NewString(),
		CaseID:       c.CaseID,
		Backend:      backend,
		RunID:        runID,
		Payload:      payload,
		AttemptCount: 1,
		LastError:    writeErr.Error(),
	}
	if err := uc.queue.RecordFailure(ctx, entry, writeErr.Error()); err != nil {
		slog.Error("ingest_dead_letter_failed", "run_id", runID, "case_id", c.CaseID, "backend", backend, "error", err)
	}
}

func (uc *IngestUseCase) enqueueRetry(ctx context.Context, runID string, c *domain.Case, backend domain.Backend, writeErr error) bool {
	slog.Warn("ingest_write_failed",
		"run_id", runID,
		"case_id", c.CaseID,
		"backend", backend,
		"error", writeErr,
	)
	payload, err := domain.EncodeCase(c)
	if err != nil {
		uc.recordError(ctx, runID, err.Error())
		return false
	}
	now := uc.cfg.Now().UTC()
	entry := &domain.RetryEntry{
		RetryID:       uuid.NewString(),
		CaseID:        c.CaseID,
		Backend:       backend,
		RunID:         runID,
		Payload:       payload,
		LastError:     writeErr.Error(),
		NextAttemptAt: now.Add(uc.cfg.RetryDelay),
		CreatedAt:     now,
	}
	if err := uc.queue.Enqueue(ctx, entry); err != nil {
		slog.Error("ingest_enqueue_failed", "run_id", runID, "case_id", c.CaseID, "backend", backend, "error", err)
		uc.recordError(ctx, runID, fmt.Sprintf("enqueue %s %s: %v", backend, c.CaseID, err))
		return false
	}
	if err := uc.tracker.IncrementRetry(ctx, runID, 1); err != nil {
		slog.Warn("ingest_tracker_failed", "run_id", runID, "case_id", c.CaseID, "error", err)
	}
	uc.recordError(ctx, runID, fmt.Sprintf("%s %s: %v", backend, c.CaseID, writeErr))
	uc.appendEvent(ctx, domain.RunEvent{RunID: runID, CaseID: c.CaseID, Backend: backend, Kind: domain.EventWriteEnqueued, Detail: writeErr.Error()})
	return true
}

func (uc *IngestUseCase) finalize(ctx context.Context, runID string) (*domain.IngestionRun, error) {
	current, err := uc.tracker.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run for finalize: %w", err)
	}
	outstanding, err := uc.queue.CountOutstanding(ctx, runID)
	if err != nil {
		slog.Warn("ingest_outstanding_count_failed", "run_id", runID, "error", err)
		outstanding = current.RetryCount
	}
	final, err := uc.tracker.CompleteRun(ctx, runID, current.FinalStatus(outstanding))
	if err != nil {
		return nil, fmt.Errorf("complete run: %w", err)
	}
	return final, nil
}

func (uc *IngestUseCase) dryRun(ctx context.Context, run *domain.IngestionRun, req ports.IngestRequest) (*domain.IngestionRun, error) {
	read := 0
	for req.BatchLimit <= 0 || read < req.BatchLimit {
		if ctx.Err() != nil {
			break
		}
		payload, err := req.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		read++
		if err != nil {
			if domain.IsKind(err, domain.ErrInvalidInput) {
				slog.Warn("ingest_dry_run_rejected", "error", err)
				run.LastError = err.Error()
				continue
			}
			return nil, fmt.Errorf("read payload: %w", err)
		}
		c, _, err := NormalizeCase(payload.Data, NormalizeOptions{Dataset: run.Dataset, RunID: run.RunID, LossBuckets: uc.cfg.LossBuckets, Now: uc.cfg.Now})
		if err != nil {
			slog.Warn("ingest_dry_run_rejected", "line", payload.Line, "error", err)
			run.LastError = err.Error()
			continue
		}
		run.CaseCount++
		slog.Info("ingest_dry_run_case",
			"case_id", c.CaseID,
			"dataset", c.Dataset,
			"entities", len(c.Entities),
			"backends", run.EnabledBackends,
		)
	}
	completed := uc.cfg.Now().UTC()
	run.CompletedAt = &completed
	run.Status = domain.RunSucceeded
	return run, nil
}

func (uc *IngestUseCase) rejectCase(ctx context.Context, runID, where string, err error) {
	slog.Warn("ingest_case_rejected", "run_id", runID, "at", where, "error", err)
	uc.recordError(ctx, runID, err.Error())
	uc.appendEvent(ctx, domain.RunEvent{RunID: runID, Kind: domain.EventCaseRejected, Detail: err.Error()})
}

func (uc *IngestUseCase) recordError(ctx context.Context, runID, message string) {
	if err := uc.tracker.RecordError(ctx, runID, message); err != nil {
		slog.Warn("ingest_tracker_failed", "run_id", runID, "error", err)
	}
}

func (uc *IngestUseCase) appendEvent(ctx context.Context, event domain.RunEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = uc.cfg.Now().UTC()
	}
	if err := uc.tracker.AppendEvent(ctx, event); err != nil {
		slog.Warn("ingest_event_failed", "run_id", event.RunID, "kind", event.Kind, "error", err)
	}
}

func (uc *IngestUseCase) notifyRetries(ctx context.Context, runID string, entries int) {
	if uc.notifier == nil {
		return
	}
	if err := uc.notifier.PublishRetryReady(ctx, runID, entries); err != nil {
		slog.Warn("ingest_retry_notify_failed", "run_id", runID, "entries", entries, "error", err)
	}
}
