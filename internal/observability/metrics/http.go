package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/caseindex/internal/core/domain"
)

const namespace = "caseindex"

// HTTPServerMetrics covers the API process: request metrics, hybrid search
// legs and backend breaker state. It implements usecase.SearchObserver.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchLegTotal    *prometheus.CounterVec
	searchLegDuration *prometheus.HistogramVec
	searchLegHits     *prometheus.HistogramVec
	searchResults     *prometheus.HistogramVec
	searchDegraded    *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchLegTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "leg_total",
			Help:      "Hybrid search legs by outcome.",
		},
		[]string{"service", "leg", "status"},
	)
	searchLegDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "leg_duration_seconds",
			Help:      "Hybrid search leg duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "leg"},
	)
	searchLegHits := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "leg_hits",
			Help:      "Candidates returned per successful search leg.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		},
		[]string{"service", "leg"},
	)
	searchResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "merged_results",
			Help:      "Merged results per hybrid search before pagination.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200, 400},
		},
		[]string{"service"},
	)
	searchDegraded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Hybrid searches answered with a failed leg.",
		},
		[]string{"service"},
	)
	breakerState := newBreakerGauge()

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchLegTotal,
		searchLegDuration,
		searchLegHits,
		searchResults,
		searchDegraded,
		breakerState,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		service:           service,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		searchLegTotal:    searchLegTotal,
		searchLegDuration: searchLegDuration,
		searchLegHits:     searchLegHits,
		searchResults:     searchResults,
		searchDegraded:    searchDegraded,
		breakerState:      breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware labels requests with the chi route pattern, so it has to be
// mounted with Router.Use.
func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		path := routePattern(r)
		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (m *HTTPServerMetrics) ObserveLeg(leg string, status domain.LegStatus, hits int, duration time.Duration) {
	m.searchLegTotal.WithLabelValues(m.service, leg, string(status)).Inc()
	if status == domain.LegSkipped {
		return
	}
	m.searchLegDuration.WithLabelValues(m.service, leg).Observe(duration.Seconds())
	if status == domain.LegOK {
		m.searchLegHits.WithLabelValues(m.service, leg).Observe(float64(hits))
	}
}

func (m *HTTPServerMetrics) ObserveSearch(results int, degraded bool) {
	m.searchResults.WithLabelValues(m.service).Observe(float64(results))
	if degraded {
		m.searchDegraded.WithLabelValues(m.service).Inc()
	}
}

// ObserveBreaker matches resilience.StateObserver.
func (m *HTTPServerMetrics) ObserveBreaker(operation, _, to string) {
	setBreakerState(m.breakerState, m.service, operation, to)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
