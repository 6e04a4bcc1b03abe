package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
)

type RetryConfig struct {
	BatchLimit   int
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Lease        time.Duration
	EntryTimeout time.Duration
	Now          func() time.Time
}

func (c RetryConfig) normalize() RetryConfig {
	out := c
	if out.BatchLimit <= 0 {
		out.BatchLimit = 50
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 30 * time.Second
	}
	if out.MaxDelay < out.BaseDelay {
		out.MaxDelay = 30 * time.Minute
		if out.MaxDelay < out.BaseDelay {
			out.MaxDelay = out.BaseDelay
		}
	}
	if out.EntryTimeout <= 0 {
		out.EntryTimeout = 15 * time.Second
	}
	if out.Lease <= 0 {
		out.Lease = 5 * time.Minute
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Backoff returns the delay before the next attempt after attempt failures.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return min(delay, c.MaxDelay)
}

type RetryUseCase struct {
	queue    ports.RetryQueue
	writers  map[domain.Backend]ports.BackendWriter
	tracker  ports.RunTracker
	observer PipelineObserver
	cfg      RetryConfig
}

func NewRetryUseCase(
	queue ports.RetryQueue,
	writers []ports.BackendWriter,
	tracker ports.RunTracker,
	observer PipelineObserver,
	cfg RetryConfig,
) *RetryUseCase {
	byBackend := make(map[domain.Backend]ports.BackendWriter, len(writers))
	for _, w := range writers {
		byBackend[w.Backend()] = w
	}
	if observer == nil {
		observer = nopPipelineObserver{}
	}
	return &RetryUseCase{
		queue:    queue,
		writers:  byBackend,
		tracker:  tracker,
		observer: observer,
		cfg:      cfg.normalize(),
	}
}

// Drain claims one batch of eligible entries and replays them grouped by
// backend. Claimed entries are always finished, even when ctx is cancelled
// mid-batch.
func (uc *RetryUseCase) Drain(ctx context.Context, req ports.RetryRequest) (domain.RetryReport, error) {
	limit := req.BatchLimit
	if limit <= 0 {
		limit = uc.cfg.BatchLimit
	}
	report := domain.RetryReport{DryRun: req.DryRun, Results: []domain.RetryEntryResult{}}

	if req.DryRun {
		entries, err := uc.queue.Peek(ctx, limit)
		if err != nil {
			return report, fmt.Errorf("peek retry queue: %w", err)
		}
		for _, e := range entries {
			slog.Info("retry_dry_run",
				"retry_id", e.RetryID,
				"case_id", e.CaseID,
				"backend", e.Backend,
				"attempt", e.AttemptCount+1,
			)
			report.Results = append(report.Results, domain.RetryEntryResult{
				RetryID: e.RetryID,
				CaseID:  e.CaseID,
				Backend: e.Backend,
				Attempt: e.AttemptCount + 1,
				Outcome: domain.RetryWouldReplay,
			})
		}
		return report, nil
	}

	entries, err := uc.queue.Claim(ctx, limit, uc.cfg.Lease)
	if err != nil {
		return report, fmt.Errorf("claim retry entries: %w", err)
	}
	report.Claimed = len(entries)
	uc.observer.ObserveRetryBatch(len(entries))
	if len(entries) == 0 {
		return report, nil
	}

	workCtx := context.WithoutCancel(ctx)
	groups := make(map[domain.Backend][]int)
	order := make([]domain.Backend, 0, len(domain.AllBackends))
	for i, e := range entries {
		if _, ok := groups[e.Backend]; !ok {
			order = append(order, e.Backend)
		}
		groups[e.Backend] = append(groups[e.Backend], i)
	}

	results := make([]domain.RetryEntryResult, len(entries))
	g := new(errgroup.Group)
	for _, backend := range order {
		indexes := groups[backend]
		g.Go(func() error {
			for _, i := range indexes {
				results[i] = uc.replay(workCtx, entries[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	slog.Info("retry_batch_completed",
		"claimed", report.Claimed,
		"replayed", report.Count(domain.RetryReplayed),
		"rescheduled", report.Count(domain.RetryRescheduled),
		"dropped", report.Count(domain.RetryDropped),
	)
	return report, nil
}

func (uc *RetryUseCase) replay(ctx context.Context, entry domain.RetryEntry) domain.RetryEntryResult {
	result := domain.RetryEntryResult{
		RetryID: entry.RetryID,
		CaseID:  entry.CaseID,
		Backend: entry.Backend,
		Attempt: entry.AttemptCount + 1,
	}

	writeErr := uc.write(ctx, entry)
	switch {
	case writeErr == nil:
		if err := uc.queue.Complete(ctx, entry); err != nil {
			// claim lost to lease expiry or to a re-enqueue; the refreshed entry stays queued
			slog.Warn("retry_complete_failed", "retry_id", entry.RetryID, "error", err)
			result.Outcome = domain.RetrySkipped
			result.Error = err.Error()
			break
		}
		result.Outcome = domain.RetryReplayed
		slog.Info("retry_replayed", "retry_id", entry.RetryID, "case_id", entry.CaseID, "backend", entry.Backend, "attempt", result.Attempt)
		if entry.RunID != "" && uc.tracker != nil {
			if err := uc.tracker.AppendEvent(ctx, domain.RunEvent{
				RunID:     entry.RunID,
				CaseID:    entry.CaseID,
				Backend:   entry.Backend,
				Kind:      domain.EventRetryReplayed,
				CreatedAt: uc.cfg.Now().UTC(),
			}); err != nil {
				slog.Warn("retry_event_failed", "retry_id", entry.RetryID, "error", err)
			}
		}
	case domain.IsPermanentWrite(writeErr) || result.Attempt >= uc.cfg.MaxAttempts:
		result.Error = writeErr.Error()
		reason := writeErr.Error()
		if !domain.IsPermanentWrite(writeErr) {
			reason = fmt.Sprintf("max attempts (%d) exceeded: %s", uc.cfg.MaxAttempts, reason)
		}
		if err := uc.queue.DeadLetter(ctx, entry, reason); err != nil {
			slog.Warn("retry_dead_letter_failed", "retry_id", entry.RetryID, "error", err)
			result.Outcome = domain.RetrySkipped
			break
		}
		result.Outcome = domain.RetryDropped
		slog.Error("retry_dropped",
			"retry_id", entry.RetryID,
			"case_id", entry.CaseID,
			"backend", entry.Backend,
			"run_id", entry.RunID,
			"attempt", result.Attempt,
			"reason", reason,
		)
	default:
		result.Error = writeErr.Error()
		next := uc.cfg.Now().UTC().Add(uc.cfg.Backoff(result.Attempt))
		if err := uc.queue.Reschedule(ctx, entry, next, writeErr.Error()); err != nil {
			slog.Warn("retry_reschedule_failed", "retry_id", entry.RetryID, "error", err)
			result.Outcome = domain.RetrySkipped
			break
		}
		result.Outcome = domain.RetryRescheduled
		slog.Warn("retry_rescheduled",
			"retry_id", entry.RetryID,
			"case_id", entry.CaseID,
			"backend", entry.Backend,
			"attempt", result.Attempt,
			"next_attempt_at", next,
			"error", writeErr,
		)
		if entry.RunID != "" && uc.tracker != nil {
			if err := uc.tracker.IncrementRetry(ctx, entry.RunID, 1); err != nil {
				slog.Warn("retry_tracker_failed", "run_id", entry.RunID, "error", err)
			}
		}
	}
	uc.observer.ObserveRetry(entry.Backend, result.Outcome)
	return result
}

func (uc *RetryUseCase) write(ctx context.Context, entry domain.RetryEntry) error {
	writer, ok := uc.writers[entry.Backend]
	if !ok {
		return domain.WrapError(domain.ErrPermanentWrite, "replay", fmt.Errorf("no writer for backend %q", entry.Backend))
	}
	c, err := entry.DecodeCase()
	if err != nil {
		return err
	}
	entryCtx, cancel := context.WithTimeout(ctx, uc.cfg.EntryTimeout)
	defer cancel()
	return writer.Write(entryCtx, c)
}
