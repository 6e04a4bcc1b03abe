package writers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
	"github.com/kirillkom/caseindex/internal/infrastructure/resilience"
)

type storeFake struct {
	errs  []error
	calls int
	seen  []string
}

func (f *storeFake) next(c *domain.Case) error {
	f.calls++
	f.seen = append(f.seen, c.CaseID)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *storeFake) UpsertCase(_ context.Context, c *domain.Case) error { return f.next(c) }
func (f *storeFake) PutCase(_ context.Context, c *domain.Case) error    { return f.next(c) }

var errRejected = errors.New("value too long")
var errFlaky = errors.New("connection reset")

func fakeClassifier(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	if errors.Is(err, errRejected) {
		return resilience.ErrorClassification{}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	})
}

func TestWritersReportTheirBackend(t *testing.T) {
	store := &storeFake{}
	tests := []struct {
		writer *Writer
		want   domain.Backend
	}{
		{NewStructured(store, fakeClassifier, nil), domain.BackendStructured},
		{NewDocument(store, fakeClassifier, nil), domain.BackendDocument},
		{NewSearch(store, fakeClassifier, nil), domain.BackendSearch},
	}
	for _, tc := range tests {
		if got := tc.writer.Backend(); got != tc.want {
			t.Fatalf("Backend() = %s, want %s", got, tc.want)
		}
		if err := tc.writer.Write(context.Background(), &domain.Case{CaseID: "c1"}); err != nil {
			t.Fatalf("%s Write() error = %v", tc.want, err)
		}
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 store calls, got %d", store.calls)
	}
}

func TestWriteRetriesInProcessThenSucceeds(t *testing.T) {
	store := &storeFake{errs: []error{errFlaky}}
	w := NewDocument(store, fakeClassifier, fastExecutor())
	if err := w.Write(context.Background(), &domain.Case{CaseID: "c1"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("expected one in-process retry, got %d calls", store.calls)
	}
}

func TestWriteExhaustedRetriesIsTransient(t *testing.T) {
	store := &storeFake{errs: []error{errFlaky, errFlaky, errFlaky}}
	w := NewSearch(store, fakeClassifier, fastExecutor())
	err := w.Write(context.Background(), &domain.Case{CaseID: "c1"})
	if !domain.IsKind(err, domain.ErrTransientBackend) {
		t.Fatalf("expected ErrTransientBackend, got %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", store.calls)
	}
}

func TestWriteRejectionIsPermanent(t *testing.T) {
	store := &storeFake{errs: []error{errRejected}}
	w := NewStructured(store, fakeClassifier, fastExecutor())
	err := w.Write(context.Background(), &domain.Case{CaseID: "c1"})
	if !domain.IsPermanentWrite(err) {
		t.Fatalf("expected permanent write failure, got %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("rejections must not be retried, got %d calls", store.calls)
	}
}

func TestWriteWithoutCaseIDIsPermanent(t *testing.T) {
	store := &storeFake{}
	w := NewStructured(store, fakeClassifier, nil)
	if err := w.Write(context.Background(), &domain.Case{}); !domain.IsPermanentWrite(err) {
		t.Fatalf("expected permanent write failure, got %v", err)
	}
	if store.calls != 0 {
		t.Fatalf("store must not be called")
	}
}
