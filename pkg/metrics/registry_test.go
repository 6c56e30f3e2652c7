package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryMetrics_ObserveRequest(t *testing.T) {
	m := newQueryMetrics()
	m.ObserveRequest("success", "app", "returned_rows", 250*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("success", "app")))
}

func TestLLMMetrics_ObserveCall(t *testing.T) {
	m := newLLMMetrics()
	m.ObserveCall("sql_generation", "ok", 420, 800*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallsTotal.WithLabelValues("sql_generation", "ok")))
	assert.Equal(t, float64(420), testutil.ToFloat64(m.TokensTotal.WithLabelValues("sql_generation")))
}

func TestSQLMetrics_ObserveRejection(t *testing.T) {
	m := newSQLMetrics()
	m.ObserveRejection("blocked_table")
	m.ObserveRejection("blocked_table")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RejectedTotal.WithLabelValues("blocked_table")))
}

func TestRuntimeMetrics_Gauges(t *testing.T) {
	m := newRuntimeMetrics()
	m.SetSchemaCacheAge("app", 12.5)
	m.SetRateLimiterActive("query", 3)
	m.SetCircuitBreakerState("llm", BreakerOpen)

	assert.Equal(t, 12.5, testutil.ToFloat64(m.SchemaCacheAge.WithLabelValues("app")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.RateLimiterActive.WithLabelValues("query")))
	assert.Equal(t, float64(BreakerOpen), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("llm")))
}

func TestRegistry_LazyInitIsSingleton(t *testing.T) {
	r := NewRegistry()
	q1 := r.Query()
	q2 := r.Query()
	require.Same(t, q1, q2, "repeated access must not re-register collectors")
}
