package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/core/ports"
)

type ingestHarness struct {
	structured *writerFake
	document   *writerFake
	search     *writerFake
	tracker    *trackerFake
	queue      *queueFake
	notifier   *notifierFake
	uc         *IngestUseCase
}

func newIngestHarness() *ingestHarness {
	h := &ingestHarness{
		structured: newWriterFake(domain.BackendStructured),
		document:   newWriterFake(domain.BackendDocument),
		search:     newWriterFake(domain.BackendSearch),
		tracker:    newTrackerFake(),
		queue:      newQueueFake(),
		notifier:   &notifierFake{},
	}
	h.uc = NewIngestUseCase(
		[]ports.BackendWriter{h.structured, h.document, h.search},
		h.tracker,
		h.queue,
		h.notifier,
		nil,
		IngestConfig{Concurrency: 2, Now: fixedNow},
	)
	return h
}

func threeCases() *sourceFake {
	return newSourceFake(
		caseRecord("c1", "romance scam wallet", map[string]any{"type": "wallet", "value": "bc1q1"}),
		caseRecord("c2", "tech support scam", map[string]any{"type": "phone", "value": "+1555"}),
		caseRecord("c3", "investment fraud"),
	)
}

func TestIngestAllBackendsSucceed(t *testing.T) {
	h := newIngestHarness()

	run, err := h.uc.Ingest(context.Background(), ports.IngestRequest{Dataset: "intake", Source: threeCases()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if run.Status != domain.RunSucceeded {
		t.Fatalf("expected succeeded, got %s", run.Status)
	}
	if run.CaseCount != 3 || run.StructuredWrites != 3 || run.DocumentWrites != 3 || run.SearchWrites != 3 {
		t.Fatalf("unexpected counters: %+v", run)
	}
	if run.RetryCount != 0 || h.queue.size() != 0 {
		t.Fatalf("expected no retries, got retry_count=%d queue=%d", run.RetryCount, h.queue.size())
	}
	if got := len(h.tracker.eventsOfKind(domain.EventWriteSucceeded)); got != 9 {
		t.Fatalf("expected 9 success events, got %d", got)
	}
	if len(h.notifier.calls) != 0 {
		t.Fatalf("expected no retry notification, got %v", h.notifier.calls)
	}
	if got := h.structured.written["c1"].Entities[0].Type; got != domain.EntityCryptoWallet {
		t.Fatalf("expected normalized entity type, got %s", got)
	}
}

func TestIngestTransientSearchFailureEnqueuesRetry(t *testing.T) {
	h := newIngestHarness()
	h.search.errFor["c2"] = errors.New("search backend timeout")

	run, err := h.uc.Ingest(context.Background(), ports.IngestRequest{Dataset: "intake", Source: threeCases()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if run.Status != domain.RunPartial {
		t.Fatalf("expected partial, got %s", run.Status)
	}
	if run.StructuredWrites != 3 || run.DocumentWrites != 3 || run.SearchWrites != 2 {
		t.Fatalf("unexpected counters: %+v", run)
	}
	if run.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", run.RetryCount)
	}

	entries, _ := h.queue.Peek(context.Background(), 10)
	if len(entries) != 1 {
		t.Fatalf("expected one retry entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Backend != domain.BackendSearch || entry.CaseID != "c2" || entry.RunID != run.RunID {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	decoded, err := entry.DecodeCase()
	if err != nil {
		t.Fatalf("DecodeCase() error = %v", err)
	}
	if decoded.Dataset != "intake" || decoded.Entities[0].Type != domain.EntityPhone {
		t.Fatalf("expected normalized payload, got %+v", decoded)
	}
	if len(h.notifier.calls) != 1 || h.notifier.calls[0] != 1 {
		t.Fatalf("expected one retry notification, got %v", h.notifier.calls)
	}
}

func TestIngestEveryBackendFailingMarksRunFailed(t *testing.T) {
	h := newIngestHarness()
	for _, w := range []*writerFake{h.structured, h.document, h.search} {
		for _, id := range []string{"c1", "c2", "c3"} {
			w.errFor[id] = errors.New("connection refused")
		}
	}

	run, err := h.uc.Ingest(context.Background(), ports.IngestRequest{Dataset: "intake", Source: threeCases()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if run.Status != domain.RunFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.RetryCount != 9 || h.queue.size() != 9 {
		t.Fatalf("expected 9 retry entries, got retry_count=%d queue=%d", run.RetryCount, h.queue.size())
	}
}

func TestIngestPermanentFailureIsNotEnqueued(t *testing.T) {
	h := newIngestHarness()
	h.document.errFor["c3"] = domain.WrapError(domain.ErrPermanentWrite, "document write", errors.New("document too large"))

	run, err := h.uc.Ingest(context.Background(), ports.IngestRequest{Dataset: "intake", Source: threeCases()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if h.queue.size() != 0 {
		t.Fatalf("permanent failures must not be enqueued, queue=%d", h.queue.size())
	}
	if run.Status != domain.RunPartial {
		t.Fatalf("expected partial, got %s", run.Status)
	}
	if got := len(h.tracker.eventsOfKind(domain.EventWriteDropped)); got != 1 {
		t.Fatalf("expected one dropped event, got %d", got)
	}
	if run.LastError == "" {
		t.Fatalf("expected last_error to describe the dropped write")
	}
	if len(h.queue.deadLetters) != 1 {
		t.Fatalf("expected one dead letter for the rejected write, got %+v", h.queue.deadLetters)
	}
	dl := h.queue.deadLetters[0]
	if dl.CaseID != "c3" || dl.Backend != domain.BackendDocument || dl.RunID != run.RunID || dl.AttemptCount != 1 {
		t.Fatalf("unexpected dead letter %+v", dl)
	}
}

func TestIngestReingestIsIdempotent(t *testing.T) {
	h := newIngestHarness()

	for i := 0; i < 2; i++ {
		if _, err := h.uc.Ingest(context.Background(), ports.IngestRequest{Dataset: "intake", Source: threeCases()}); err != nil {
			t.Fatalf("Ingest() #%d error = %v", i, err)
		}
	}
	for _, w := range []*writerFake{h.structured, h.document, h.search} {
		if w.count() != 3 {
			t.Fatalf("backend %s holds %d cases, expected 3", w.backend, w.count())
		}
	}
}

func TestIngestRejectsInvalidPayloadsAndContinues(t *testing.T) {
	h := newIngestHarness()
	src := newSourceFake(
		caseRecord("c1", "ok"),
		map[string]any{"text": "missing id"},
		caseRecord("c2", "ok"),
	)
	src.errAt[1] = domain.WrapError(domain.ErrInvalidInput, "decode line 2", errors.New("bad json"))

	run, err := h.uc.Ingest(context.Background(), ports.IngestRequest{Dataset: "intake", Source: src})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if run.CaseCount != 2 {
		t.Fatalf("expected 2 accepted cases, got %d", run.CaseCount)
	}
	if got := len(h.tracker.eventsOfKind(domain.EventCaseRejected)); got != 2 {
		t.Fatalf("expected 2 rejected events, got %d", got)
	}
	if run.Status != domain.RunSucceeded {
		t.Fatalf("expected succeeded, got %s", run.Status)
	}
}

func TestIngestHonoursBatchLimitAndBackendSelection(t *testing.T) {
	h := newIngestHarness()

	run, err := h.uc.Ingest(context.Background(), ports.IngestRequest{
		Dataset:    "intake",
		Source:     threeCases(),
		Backends:   []domain.Backend{domain.BackendStructured, domain.BackendSearch},
		BatchLimit: 2,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if run.CaseCount != 2 {
		t.Fatalf("expected batch limit to cap cases at 2, got %d", run.CaseCount)
	}
	if h.document.calls != 0 {
		t.Fatalf("disabled backend must not be called, got %d calls", h.document.calls)
	}
	if run.Status != domain.RunSucceeded {
		t.Fatalf("expected succeeded with two enabled backends, got %s", run.Status)
	}
}

func TestIngestDryRunWritesNothing(t *testing.T) {
	h := newIngestHarness()

	run, err := h.uc.Ingest(context.Background(), ports.IngestRequest{Dataset: "intake", Source: threeCases(), DryRun: true})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if run.CaseCount != 3 || !run.DryRun {
		t.Fatalf("unexpected dry run result: %+v", run)
	}
	if h.structured.calls+h.document.calls+h.search.calls != 0 {
		t.Fatalf("dry run must not call writers")
	}
	if len(h.tracker.runs) != 0 {
		t.Fatalf("dry run must not persist a run")
	}
}

func TestIngestRejectsUnknownBackend(t *testing.T) {
	h := newIngestHarness()
	h.uc = NewIngestUseCase([]ports.BackendWriter{h.structured}, h.tracker, h.queue, nil, nil, IngestConfig{Now: fixedNow})

	_, err := h.uc.Ingest(context.Background(), ports.IngestRequest{
		Dataset:  "intake",
		Source:   threeCases(),
		Backends: []domain.Backend{domain.BackendSearch},
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIngestCancelledRunIsFinalized(t *testing.T) {
	h := newIngestHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := h.uc.Ingest(ctx, ports.IngestRequest{Dataset: "intake", Source: threeCases()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !run.Status.Terminal() {
		t.Fatalf("expected terminal status, got %s", run.Status)
	}
	if run.CaseCount != 0 || h.structured.calls != 0 {
		t.Fatalf("cancelled run must not dispatch cases")
	}
}
