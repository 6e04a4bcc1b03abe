package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

// WorkerMetrics covers ingestion and retry processing. It implements
// usecase.PipelineObserver.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	writeTotal    *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	runTotal      *prometheus.CounterVec
	runCases      *prometheus.HistogramVec
	retryTotal    *prometheus.CounterVec
	retryBatch    *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	writeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "backend_writes_total",
			Help:      "Backend writes by outcome.",
		},
		[]string{"service", "backend", "outcome"},
	)
	writeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "backend_write_duration_seconds",
			Help:      "Backend write duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "backend"},
	)
	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Finalized ingestion runs by terminal status.",
		},
		[]string{"service", "status"},
	)
	runCases := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "run_cases",
			Help:      "Cases read per ingestion run.",
			Buckets:   []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000},
		},
		[]string{"service"},
	)
	retryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "entries_total",
			Help:      "Retry queue entries processed by outcome.",
		},
		[]string{"service", "backend", "outcome"},
	)
	retryBatch := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "batch_claimed",
			Help:      "Entries claimed per retry batch.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"service"},
	)
	breakerState := newBreakerGauge()

	registry.MustRegister(writeTotal, writeDuration, runTotal, runCases, retryTotal, retryBatch, breakerState)

	return &WorkerMetrics{
		registry:      registry,
		service:       service,
		writeTotal:    writeTotal,
		writeDuration: writeDuration,
		runTotal:      runTotal,
		runCases:      runCases,
		retryTotal:    retryTotal,
		retryBatch:    retryBatch,
		breakerState:  breakerState,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) ObserveWrite(backend domain.Backend, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.writeTotal.WithLabelValues(m.service, string(backend), outcome).Inc()
	m.writeDuration.WithLabelValues(m.service, string(backend)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveRun(status domain.RunStatus, cases int) {
	m.runTotal.WithLabelValues(m.service, string(status)).Inc()
	m.runCases.WithLabelValues(m.service).Observe(float64(cases))
}

func (m *WorkerMetrics) ObserveRetry(backend domain.Backend, outcome domain.RetryOutcome) {
	m.retryTotal.WithLabelValues(m.service, string(backend), string(outcome)).Inc()
}

func (m *WorkerMetrics) ObserveRetryBatch(claimed int) {
	m.retryBatch.WithLabelValues(m.service).Observe(float64(claimed))
}

// ObserveBreaker matches resilience.StateObserver.
func (m *WorkerMetrics) ObserveBreaker(operation, _, to string) {
	setBreakerState(m.breakerState, m.service, operation, to)
}
