// Package ratelimit bounds concurrent in-flight work per scope (the
// per-request query pipeline, and the shared LLM call budget) using
// admission control rather than a requests-per-second token bucket: the
// orchestrator cares about how many queries/LLM calls are active at once,
// not how often they start.
package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/vitaliisemenov/pgquery-mcp/pkg/metrics"
)

// ErrLimitExceeded is returned by TryAcquire when the scope is already at
// capacity.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Limiter bounds concurrent admissions for one named scope (e.g. "query" or
// "llm") to a fixed maximum.
type Limiter struct {
	scope string
	max   int64
	sem   *semaphore.Weighted
	runtime *metrics.RuntimeMetrics

	active    atomic.Int64
	total     atomic.Int64
	rejected  atomic.Int64
}

// New constructs a Limiter admitting at most max concurrent holders. runtime
// may be nil in tests that don't need the gauge updated.
func New(scope string, max int, runtime *metrics.RuntimeMetrics) *Limiter {
	return &Limiter{
		scope:   scope,
		max:     int64(max),
		sem:     semaphore.NewWeighted(int64(max)),
		runtime: runtime,
	}
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) (Release, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	l.total.Add(1)
	l.onAdmit()
	return l.release, nil
}

// TryAcquire returns ErrLimitExceeded immediately instead of blocking when
// the scope is already at capacity.
func (l *Limiter) TryAcquire() (Release, error) {
	if !l.sem.TryAcquire(1) {
		l.rejected.Add(1)
		return nil, ErrLimitExceeded
	}
	l.total.Add(1)
	l.onAdmit()
	return l.release, nil
}

func (l *Limiter) onAdmit() {
	active := l.active.Add(1)
	if l.runtime != nil {
		l.runtime.SetRateLimiterActive(l.scope, int(active))
	}
}

func (l *Limiter) release() {
	l.sem.Release(1)
	active := l.active.Add(-1)
	if l.runtime != nil {
		l.runtime.SetRateLimiterActive(l.scope, int(active))
	}
}

// Release returns a held permit to the limiter. Safe to call exactly once
// per successful Acquire/TryAcquire.
type Release func()

// State is a point-in-time snapshot for diagnostics and tests.
type State struct {
	Scope            string
	Active           int
	Max              int
	TotalRequests    int64
	TotalRejections  int64
}

// Snapshot returns the limiter's current admission counters.
func (l *Limiter) Snapshot() State {
	return State{
		Scope:           l.scope,
		Active:          int(l.active.Load()),
		Max:             int(l.max),
		TotalRequests:   l.total.Load(),
		TotalRejections: l.rejected.Load(),
	}
}
