package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Circuit breaker states as exported on the state gauge, so a dashboard can
// render state transitions directly. The breaker numbers its own states
// differently and converts them to these values before reporting.
const (
	BreakerClosed  = 0
	BreakerHalfOpen = 1
	BreakerOpen    = 2
)

// RuntimeMetrics tracks the health gauges of the supporting subsystems: the
// schema cache's staleness, the rate limiter's admission pressure, and the
// circuit breaker's current state, per guarded dependency.
type RuntimeMetrics struct {
	SchemaCacheAge   *prometheus.GaugeVec
	RateLimiterActive *prometheus.GaugeVec
	CircuitBreakerState *prometheus.GaugeVec
}

func newRuntimeMetrics() *RuntimeMetrics {
	return &RuntimeMetrics{
		SchemaCacheAge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "schema_cache",
			Name:      "age_seconds",
			Help:      "Seconds since the schema cache entry for a database was last successfully reloaded.",
		}, []string{"database"}),
		RateLimiterActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rate_limiter",
			Name:      "active",
			Help:      "In-flight requests currently holding a rate limiter permit, per scope.",
		}, []string{"scope"}),
		CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state per guarded dependency: 0=closed, 1=half-open, 2=open.",
		}, []string{"dependency"}),
	}
}

// SetSchemaCacheAge records how long ago the named database's schema cache
// entry was last refreshed.
func (m *RuntimeMetrics) SetSchemaCacheAge(database string, seconds float64) {
	m.SchemaCacheAge.WithLabelValues(database).Set(seconds)
}

// SetRateLimiterActive records the current number of held permits for scope
// ("query" or "llm").
func (m *RuntimeMetrics) SetRateLimiterActive(scope string, active int) {
	m.RateLimiterActive.WithLabelValues(scope).Set(float64(active))
}

// SetCircuitBreakerState records the current state of the breaker guarding
// dependency ("llm" or a database name).
func (m *RuntimeMetrics) SetCircuitBreakerState(dependency string, state int) {
	m.CircuitBreakerState.WithLabelValues(dependency).Set(float64(state))
}
