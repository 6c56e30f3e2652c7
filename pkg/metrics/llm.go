package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LLMMetrics tracks calls made to the backing language model, split by
// purpose ("sql_generation" vs. "result_scoring") so the two call sites
// sharing one rate-limiter scope remain individually observable.
type LLMMetrics struct {
	CallsTotal  *prometheus.CounterVec
	TokensTotal *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
}

func newLLMMetrics() *LLMMetrics {
	return &LLMMetrics{
		CallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM calls issued, labeled by purpose and terminal status.",
		}, []string{"purpose", "status"}),
		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by LLM calls, labeled by purpose.",
		}, []string{"purpose"}),
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM call latency, labeled by purpose.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"purpose"}),
	}
}

// ObserveCall records one completed LLM call.
func (m *LLMMetrics) ObserveCall(purpose, status string, tokens int, d time.Duration) {
	m.CallsTotal.WithLabelValues(purpose, status).Inc()
	m.TokensTotal.WithLabelValues(purpose).Add(float64(tokens))
	m.Latency.WithLabelValues(purpose).Observe(d.Seconds())
}
