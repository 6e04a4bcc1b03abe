package metrics

import "github.com/prometheus/client_golang/prometheus"

// breaker states as gauge values: closed 0, half-open 1, open 2
var breakerStateValue = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

func newBreakerGauge() *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per backend operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)
}

func setBreakerState(g *prometheus.GaugeVec, service, operation, state string) {
	v, ok := breakerStateValue[state]
	if !ok {
		return
	}
	g.WithLabelValues(service, operation).Set(v)
}
