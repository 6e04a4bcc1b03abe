package nats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

func TestRetryReadyRoundTrip(t *testing.T) {
	sent := RetryReady{RunID: "run-1", Entries: 3, SentAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	data, err := encodeRetryReady(sent)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeRetryReady(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != sent.RunID || got.Entries != sent.Entries || !got.SentAt.Equal(sent.SentAt) {
		t.Fatalf("got %+v, want %+v", got, sent)
	}
}

func TestDecodeRetryReadyAcceptsBareRunID(t *testing.T) {
	got, err := decodeRetryReady([]byte("run-9"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-9" || got.Entries != 0 {
		t.Fatalf("unexpected signal %+v", got)
	}
	if _, err := decodeRetryReady([]byte(`{"run_id":`)); err == nil {
		t.Fatalf("expected malformed json to fail")
	}
}

func TestClassifyNATSError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"no servers", fmt.Errorf("nats publish: %w", nats.ErrNoServers), true},
		{"disconnected", nats.ErrDisconnected, true},
		{"bad subject", nats.ErrBadSubject, false},
		{"cancelled", context.Canceled, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyNATSError(tc.err).Retryable; got != tc.retryable {
				t.Fatalf("Retryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrConnectionClosed); !domain.IsKind(err, domain.ErrTransientBackend) {
		t.Fatalf("closed connection should be transient, got %v", err)
	}
	if err := wrapTemporaryIfNeeded(nats.ErrBadSubject); domain.IsKind(err, domain.ErrTransientBackend) {
		t.Fatalf("bad subject should not be transient, got %v", err)
	}
}
