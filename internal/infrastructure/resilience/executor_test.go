package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

func fastConfig(breaker bool) Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         2 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          breaker,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(false))

	attempts := 0
	err := exec.Execute(context.Background(), "qdrant.upsert", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.WrapError(domain.ErrTransientBackend, "upsert", errors.New("503"))
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryRejectedWrite(t *testing.T) {
	exec := NewExecutor(fastConfig(false))

	attempts := 0
	rejected := domain.WrapError(domain.ErrPermanentWrite, "upsert", errors.New("payload too large"))
	err := exec.Execute(context.Background(), "docstore.put", func(context.Context) error {
		attempts++
		return rejected
	}, nil)
	if !errors.Is(err, domain.ErrPermanentWrite) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := fastConfig(true)
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg)

	var mu sync.Mutex
	var transitions []string
	exec.OnStateChange(func(op, from, to string) {
		mu.Lock()
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", op, from, to))
		mu.Unlock()
	})

	errDown := errors.New("connection reset")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "postgres.upsert_case", func(context.Context) error {
			return errDown
		}, nil)
		if !errors.Is(err, errDown) {
			t.Fatalf("expected backend error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "postgres.upsert_case", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if got := exec.BreakerState("postgres.upsert_case"); got != "open" {
		t.Fatalf("expected open breaker, got %s", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "postgres.upsert_case:closed->open" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	exec := NewExecutor(fastConfig(false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancellation before the call, err=%v called=%v", err, called)
	}
}

func TestWrapBackendErrorRoutesByClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		classifier ErrorClassifier
		wantKind   error
	}{
		{name: "unknown error is transient", err: errors.New("boom"), wantKind: domain.ErrTransientBackend},
		{name: "deadline is transient", err: context.DeadlineExceeded, wantKind: domain.ErrTransientBackend},
		{name: "open breaker is transient", err: gobreaker.ErrOpenState, wantKind: domain.ErrTransientBackend},
		{name: "rejection is permanent", err: errors.New("400"), classifier: func(error) ErrorClassification {
			return ClassifyHTTPStatus(400)
		}, wantKind: domain.ErrPermanentWrite},
		{name: "invalid input stays permanent", err: domain.WrapError(domain.ErrInvalidInput, "x", errors.New("bad")), wantKind: domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapBackendError("write", tt.err, tt.classifier)
			if !errors.Is(got, tt.wantKind) {
				t.Fatalf("expected kind %v, got %v", tt.wantKind, got)
			}
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !ClassifyHTTPStatus(code).Retryable {
			t.Fatalf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{400, 404, 413, 422} {
		if ClassifyHTTPStatus(code).Retryable {
			t.Fatalf("status %d should not be retryable", code)
		}
	}
}
