package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	out.RetryMaxBackoff = max(out.RetryMaxBackoff, out.RetryInitialBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return out
}

var (
	transient = ErrorClassification{Retryable: true, RecordFailure: true}
	permanent = ErrorClassification{Retryable: false, RecordFailure: false}
	unknown   = ErrorClassification{Retryable: false, RecordFailure: true}
)

// Classify handles the cases every backend shares: cancellation, open
// breakers, network errors and already-typed domain errors. Anything else is
// not retried in-process but still counts against the breaker.
func Classify(err error) ErrorClassification {
	if class, ok := ClassifyCommon(err); ok {
		return class
	}
	return unknown
}

// ClassifyCommon returns ok=false when the error needs a backend-specific decision.
func ClassifyCommon(err error) (ErrorClassification, bool) {
	switch {
	case err == nil:
		return ErrorClassification{}, true
	case errors.Is(err, context.Canceled):
		return permanent, true
	case errors.Is(err, context.DeadlineExceeded):
		// a timed-out write is a failed write; the retry queue replays it
		return ErrorClassification{Retryable: false, RecordFailure: true}, true
	case IsCircuitOpen(err):
		return transient, true
	case errors.Is(err, domain.ErrPermanentWrite), errors.Is(err, domain.ErrInvalidInput):
		return permanent, true
	case errors.Is(err, domain.ErrTransientBackend):
		return transient, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient, true
	}
	return ErrorClassification{}, false
}

// ClassifyHTTPStatus treats throttling, timeouts and 5xx gateway errors as
// transient and every other non-2xx as a rejection.
func ClassifyHTTPStatus(statusCode int) ErrorClassification {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return transient
	default:
		return permanent
	}
}

// WrapBackendError attaches the domain kind the orchestrator routes on:
// ErrPermanentWrite for rejections, ErrTransientBackend for everything else.
func WrapBackendError(operation string, err error, classifier ErrorClassifier) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTransientBackend) || domain.IsPermanentWrite(err) {
		return err
	}
	if classifier == nil {
		classifier = Classify
	}
	class := classifier(err)
	if !class.Retryable && !class.RecordFailure && !errors.Is(err, context.Canceled) {
		return domain.WrapError(domain.ErrPermanentWrite, operation, err)
	}
	return domain.WrapError(domain.ErrTransientBackend, operation, err)
}
