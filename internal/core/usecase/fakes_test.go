package usecase

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

type writerFake struct {
	backend domain.Backend

	mu      sync.Mutex
	written map[string]*domain.Case
	calls   int
	// errs is consumed one per call; errFor fails specific case ids every time.
	errs   []error
	errFor map[string]error
}

func newWriterFake(b domain.Backend) *writerFake {
	return &writerFake{backend: b, written: make(map[string]*domain.Case), errFor: make(map[string]error)}
}

func (f *writerFake) Backend() domain.Backend { return f.backend }

func (f *writerFake) Write(_ context.Context, c *domain.Case) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errFor[c.CaseID]; ok {
		return err
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	copyCase := *c
	f.written[c.CaseID] = &copyCase
	return nil
}

func (f *writerFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

type trackerFake struct {
	mu     sync.Mutex
	runs   map[string]*domain.IngestionRun
	events []domain.RunEvent
	now    func() time.Time
}

func newTrackerFake() *trackerFake {
	return &trackerFake{runs: make(map[string]*domain.IngestionRun), now: fixedNow}
}

func (f *trackerFake) StartRun(_ context.Context, run *domain.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyRun := *run
	f.runs[run.RunID] = &copyRun
	return nil
}

func (f *trackerFake) get(runID string) (*domain.IngestionRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get run", errors.New(runID))
	}
	return run, nil
}

func (f *trackerFake) RecordCase(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, err := f.get(runID)
	if err != nil {
		return err
	}
	run.CaseCount++
	return nil
}

func (f *trackerFake) RecordWrite(_ context.Context, runID string, backend domain.Backend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, err := f.get(runID)
	if err != nil {
		return err
	}
	switch backend {
	case domain.BackendStructured:
		run.StructuredWrites++
	case domain.BackendDocument:
		run.DocumentWrites++
	case domain.BackendSearch:
		run.SearchWrites++
	}
	return nil
}

func (f *trackerFake) IncrementRetry(_ context.Context, runID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, err := f.get(runID)
	if err != nil {
		return err
	}
	run.RetryCount += n
	return nil
}

func (f *trackerFake) RecordError(_ context.Context, runID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, err := f.get(runID)
	if err != nil {
		return err
	}
	run.LastError = message
	return nil
}

func (f *trackerFake) AppendEvent(_ context.Context, event domain.RunEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *trackerFake) CompleteRun(_ context.Context, runID string, status domain.RunStatus) (*domain.IngestionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, err := f.get(runID)
	if err != nil {
		return nil, err
	}
	completed := f.now()
	run.Status = status
	run.CompletedAt = &completed
	copyRun := *run
	return &copyRun, nil
}

func (f *trackerFake) GetRun(_ context.Context, runID string) (*domain.IngestionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, err := f.get(runID)
	if err != nil {
		return nil, err
	}
	copyRun := *run
	return &copyRun, nil
}

func (f *trackerFake) eventsOfKind(kind domain.RunEventKind) []domain.RunEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RunEvent, 0)
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// queueFake mirrors the Postgres queue: one live entry per (case_id, backend),
// claims hide entries until completed or rescheduled.
type queueFake struct {
	mu          sync.Mutex
	entries     map[string]*domain.RetryEntry
	deadLetters []domain.DeadLetter
	now         func() time.Time
	claimErr    error
}

func newQueueFake() *queueFake {
	return &queueFake{entries: make(map[string]*domain.RetryEntry), now: fixedNow}
}

func (f *queueFake) Enqueue(_ context.Context, entry *domain.RetryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.entries {
		if existing.CaseID == entry.CaseID && existing.Backend == entry.Backend {
			existing.Payload = entry.Payload
			existing.LastError = entry.LastError
			existing.NextAttemptAt = entry.NextAttemptAt
			existing.RunID = entry.RunID
			existing.ClaimToken = ""
			f.entries[id] = existing
			return nil
		}
	}
	copyEntry := *entry
	f.entries[entry.RetryID] = &copyEntry
	return nil
}

func (f *queueFake) ready(limit int) []*domain.RetryEntry {
	now := f.now()
	out := make([]*domain.RetryEntry, 0)
	for _, e := range f.entries {
		if e.ClaimToken == "" && !e.NextAttemptAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextAttemptAt.Equal(out[j].NextAttemptAt) {
			return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
		}
		return out[i].RetryID < out[j].RetryID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *queueFake) Claim(_ context.Context, limit int, _ time.Duration) ([]domain.RetryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	out := make([]domain.RetryEntry, 0)
	for _, e := range f.ready(limit) {
		e.ClaimToken = "token-" + e.RetryID
		out = append(out, *e)
	}
	return out, nil
}

func (f *queueFake) Peek(_ context.Context, limit int) ([]domain.RetryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RetryEntry, 0)
	for _, e := range f.ready(limit) {
		out = append(out, *e)
	}
	return out, nil
}

func (f *queueFake) Complete(_ context.Context, entry domain.RetryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.entries[entry.RetryID]
	if !ok || current.ClaimToken != entry.ClaimToken {
		return domain.WrapError(domain.ErrNotFound, "complete retry", errors.New(entry.RetryID))
	}
	delete(f.entries, entry.RetryID)
	return nil
}

func (f *queueFake) Reschedule(_ context.Context, entry domain.RetryEntry, next time.Time, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.entries[entry.RetryID]
	if !ok || current.ClaimToken != entry.ClaimToken {
		return domain.WrapError(domain.ErrNotFound, "reschedule retry", errors.New(entry.RetryID))
	}
	current.AttemptCount++
	current.NextAttemptAt = next
	current.LastError = lastErr
	current.ClaimToken = ""
	return nil
}

func (f *queueFake) DeadLetter(_ context.Context, entry domain.RetryEntry, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.entries[entry.RetryID]
	if !ok || current.ClaimToken != entry.ClaimToken {
		return domain.WrapError(domain.ErrNotFound, "dead letter retry", errors.New(entry.RetryID))
	}
	delete(f.entries, entry.RetryID)
	f.deadLetters = append(f.deadLetters, domain.DeadLetter{
		RetryID:      entry.RetryID,
		CaseID:       entry.CaseID,
		Backend:      entry.Backend,
		RunID:        entry.RunID,
		AttemptCount: current.AttemptCount + 1,
		Reason:       reason,
		FailedAt:     f.now(),
	})
	return nil
}

func (f *queueFake) RecordFailure(_ context.Context, entry domain.RetryEntry, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, domain.DeadLetter{
		RetryID:      entry.RetryID,
		CaseID:       entry.CaseID,
		Backend:      entry.Backend,
		RunID:        entry.RunID,
		AttemptCount: entry.AttemptCount,
		Reason:       reason,
		FailedAt:     f.now(),
	})
	return nil
}

func (f *queueFake) CountOutstanding(_ context.Context, runID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.RunID == runID {
			n++
		}
	}
	return n, nil
}

func (f *queueFake) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type sourceFake struct {
	mu       sync.Mutex
	payloads []domain.RawPayload
	errAt    map[int]error
	pos      int
}

func newSourceFake(records ...map[string]any) *sourceFake {
	s := &sourceFake{errAt: make(map[int]error)}
	for i, r := range records {
		s.payloads = append(s.payloads, domain.RawPayload{Line: i + 1, Data: r})
	}
	return s
}

func (s *sourceFake) Next(context.Context) (domain.RawPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errAt[s.pos]; ok {
		delete(s.errAt, s.pos)
		return domain.RawPayload{}, err
	}
	if s.pos >= len(s.payloads) {
		return domain.RawPayload{}, io.EOF
	}
	p := s.payloads[s.pos]
	s.pos++
	return p, nil
}

func (s *sourceFake) Close() error { return nil }

type notifierFake struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (f *notifierFake) PublishRetryReady(_ context.Context, _ string, entries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, entries)
	return f.err
}

func caseRecord(id, text string, entities ...map[string]any) map[string]any {
	list := make([]any, 0, len(entities))
	for _, e := range entities {
		list = append(list, e)
	}
	return map[string]any{"case_id": id, "text": text, "entities": list}
}
