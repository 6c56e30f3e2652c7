package ratelimit

import (
	"github.com/vitaliisemenov/pgquery-mcp/pkg/metrics"
)

// Scope names used throughout the orchestrator.
const (
	ScopeQuery = "query"
	ScopeLLM   = "llm"
)

// MultiLimiter groups the two admission-control scopes the orchestrator
// needs: one bounding concurrent end-to-end query requests, one bounding
// concurrent LLM calls shared by SQL generation and result scoring.
type MultiLimiter struct {
	Query *Limiter
	LLM   *Limiter
}

// NewMultiLimiter builds both scopes against the same metrics registry.
func NewMultiLimiter(queryLimit, llmLimit int, runtime *metrics.RuntimeMetrics) *MultiLimiter {
	return &MultiLimiter{
		Query: New(ScopeQuery, queryLimit, runtime),
		LLM:   New(ScopeLLM, llmLimit, runtime),
	}
}

// Snapshot returns both scopes' current state, keyed by scope name.
func (m *MultiLimiter) Snapshot() map[string]State {
	return map[string]State{
		ScopeQuery: m.Query.Snapshot(),
		ScopeLLM:   m.LLM.Snapshot(),
	}
}
