package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SQLMetrics tracks the validator's decisions about generated SQL.
type SQLMetrics struct {
	RejectedTotal *prometheus.CounterVec
}

func newSQLMetrics() *SQLMetrics {
	return &SQLMetrics{
		RejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "rejected_total",
			Help:      "Generated statements rejected by the validator, labeled by the rule that rejected them.",
		}, []string{"reason"}),
	}
}

// ObserveRejection records one statement rejected for the given reason
// ("multiple_statements", "statement_kind", "blocked_function",
// "blocked_table", "blocked_column").
func (m *SQLMetrics) ObserveRejection(reason string) {
	m.RejectedTotal.WithLabelValues(reason).Inc()
}
