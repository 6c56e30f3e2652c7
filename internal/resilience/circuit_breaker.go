package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/pgquery-mcp/pkg/metrics"
)

// BreakerState is the three-state circuit breaker lifecycle.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s BreakerState) metricValue() int {
	switch s {
	case StateClosed:
		return metrics.BreakerClosed
	case StateHalfOpen:
		return metrics.BreakerHalfOpen
	default:
		return metrics.BreakerOpen
	}
}

type callResult struct {
	timestamp time.Time
	success   bool
}

// CircuitBreakerConfig controls when a breaker trips and how long it stays
// open before probing the dependency again.
type CircuitBreakerConfig struct {
	MaxFailures      int
	ResetTimeout     time.Duration
	FailureThreshold float64
	TimeWindow       time.Duration
	HalfOpenMaxCalls int
}

// Validate rejects non-positive thresholds that would make the breaker
// either never trip or never recover.
func (c CircuitBreakerConfig) Validate() error {
	if c.MaxFailures <= 0 {
		return errors.New("max_failures must be positive")
	}
	if c.ResetTimeout <= 0 {
		return errors.New("reset_timeout must be positive")
	}
	if c.FailureThreshold < 0 || c.FailureThreshold > 1 {
		return errors.New("failure_threshold must be between 0 and 1")
	}
	if c.TimeWindow <= 0 {
		return errors.New("time_window must be positive")
	}
	if c.HalfOpenMaxCalls <= 0 {
		return errors.New("half_open_max_calls must be positive")
	}
	return nil
}

// CircuitBreaker guards a single dependency (the LLM endpoint, or a named
// database) against cascading failure: once it trips, calls fail fast
// without reaching the dependency until ResetTimeout has elapsed, at which
// point a bounded number of probe calls decide whether to close again.
type CircuitBreaker struct {
	dependency string
	cfg        CircuitBreakerConfig
	logger     *slog.Logger
	runtime    *metrics.RuntimeMetrics

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastStateChange     time.Time
	halfOpenCalls       int
	results             []callResult
}

// NewCircuitBreaker constructs a breaker for the named dependency. runtime
// may be nil in tests that don't care about metrics.
func NewCircuitBreaker(dependency string, cfg CircuitBreakerConfig, logger *slog.Logger, runtime *metrics.RuntimeMetrics) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := &CircuitBreaker{
		dependency:      dependency,
		cfg:             cfg,
		logger:          logger,
		runtime:         runtime,
		state:           StateClosed,
		lastStateChange: time.Now(),
		results:         make([]callResult, 0, 64),
	}
	cb.reportState()
	return cb, nil
}

// Call runs operation if the breaker admits it, returning ErrCircuitBreakerOpen
// without invoking operation when it does not.
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := operation(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.cfg.ResetTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenCalls = 1
			return nil
		}
		return ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return ErrCircuitBreakerOpen
		}
		cb.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	success := err == nil
	now := time.Now()
	cb.results = append(cb.results, callResult{timestamp: now, success: success})
	cb.pruneOldResults(now)

	if success {
		cb.consecutiveFailures = 0
	} else {
		cb.consecutiveFailures++
		cb.logger.Warn("circuit breaker recorded failure", "dependency", cb.dependency, "error", err, "consecutive_failures", cb.consecutiveFailures)
	}

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		if success {
			cb.transitionTo(StateClosed)
		} else {
			cb.transitionTo(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) shouldOpen() bool {
	if len(cb.results) < cb.cfg.MaxFailures {
		return false
	}
	if cb.consecutiveFailures >= cb.cfg.MaxFailures {
		return true
	}

	failures := 0
	for _, r := range cb.results {
		if !r.success {
			failures++
		}
	}
	return float64(failures)/float64(len(cb.results)) >= cb.cfg.FailureThreshold
}

func (cb *CircuitBreaker) transitionTo(next BreakerState) {
	prev := cb.state
	cb.state = next
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0
	if next == StateClosed {
		cb.consecutiveFailures = 0
		cb.results = cb.results[:0]
	}
	cb.logger.Info("circuit breaker state change", "dependency", cb.dependency, "from", prev.String(), "to", next.String())
	cb.reportState()
}

func (cb *CircuitBreaker) reportState() {
	if cb.runtime != nil {
		cb.runtime.SetCircuitBreakerState(cb.dependency, cb.state.metricValue())
	}
}

func (cb *CircuitBreaker) pruneOldResults(now time.Time) {
	cutoff := now.Add(-cb.cfg.TimeWindow)
	firstValid := len(cb.results)
	for i, r := range cb.results {
		if r.timestamp.After(cutoff) {
			firstValid = i
			break
		}
	}
	cb.results = cb.results[firstValid:]
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed. Intended for operator
// intervention and tests, not normal operation.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
}
