// Package metrics exposes the Prometheus collectors for request outcomes,
// LLM usage, SQL rejections, and the health signals of the schema cache,
// rate limiter and circuit breaker. The SQL rejection counter is defined
// here, but no component in this module records into it.
//
// Metric names follow pgquery_<subsystem>_<name>_<unit>, mirroring the
// namespacing convention used throughout the rest of the stack.
package metrics

import "sync"

// Registry is a process-wide singleton grouping every collector family.
// Call DefaultRegistry to obtain it; construction is lazy so importing the
// package never registers a collector before it is actually used.
type Registry struct {
	once    sync.Once
	query   *QueryMetrics
	llm     *LLMMetrics
	sql     *SQLMetrics
	runtime *RuntimeMetrics
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the process-wide metrics registry, constructing it
// on first use.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry builds an unregistered Registry. Production code should use
// DefaultRegistry; tests that need an isolated set of collectors (to avoid
// prometheus's "duplicate metrics collector registration" panic across
// table-driven subtests) can call this directly.
func NewRegistry() *Registry {
	return &Registry{}
}

// Query returns the request/outcome counters and histograms, lazily
// registering them with the default Prometheus registerer on first access.
func (r *Registry) Query() *QueryMetrics {
	r.once.Do(r.init)
	return r.query
}

// LLM returns the SQL-generation/result-scoring call counters and latency
// histograms.
func (r *Registry) LLM() *LLMMetrics {
	r.once.Do(r.init)
	return r.llm
}

// SQL returns the validator rejection counter.
func (r *Registry) SQL() *SQLMetrics {
	r.once.Do(r.init)
	return r.sql
}

// Runtime returns the schema-cache, rate-limiter and circuit-breaker gauges.
func (r *Registry) Runtime() *RuntimeMetrics {
	r.once.Do(r.init)
	return r.runtime
}

func (r *Registry) init() {
	r.query = newQueryMetrics()
	r.llm = newLLMMetrics()
	r.sql = newSQLMetrics()
	r.runtime = newRuntimeMetrics()
}
