package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pgquery"

// QueryMetrics tracks the orchestrator's top-level request outcomes: how
// many queries were served, how they ended, and how long the full
// admit-to-response round trip took.
type QueryMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func newQueryMetrics() *QueryMetrics {
	return &QueryMetrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Query tool invocations, labeled by terminal status and target database.",
		}, []string{"status", "database"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "request_duration_seconds",
			Help:      "End-to-end latency of a query tool invocation, from admission to response.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"outcome"}),
	}
}

// ObserveRequest records one completed query invocation.
func (m *QueryMetrics) ObserveRequest(status, database, outcome string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(status, database).Inc()
	m.RequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
