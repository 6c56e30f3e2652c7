// Package resilience provides retry-with-backoff and circuit-breaker
// primitives for outbound calls. The circuit breaker guards the LLM calls
// of the SQL generator and the result validator; WithRetry and
// WithRetryFunc have no caller outside this package's tests.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff with optional jitter.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool

	// ErrorChecker decides which errors are worth retrying. Nil means
	// every non-nil error is retried.
	ErrorChecker RetryableErrorChecker

	Logger *slog.Logger
}

// RetryableErrorChecker decides whether an error should trigger a retry.
type RetryableErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultRetryPolicy returns the policy used when callers don't configure
// one explicitly: 3 retries, 100ms base delay, 5s cap, 2x backoff, jitter on.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry runs operation until it succeeds, exhausts MaxRetries, or ctx is
// cancelled while waiting out a backoff delay.
func WithRetry(ctx context.Context, policy *RetryPolicy, operation func() error) error {
	_, err := WithRetryFunc(ctx, policy, func() (struct{}, error) {
		return struct{}{}, operation()
	})
	return err
}

// WithRetryFunc is WithRetry for operations that also produce a result.
func WithRetryFunc[T any](ctx context.Context, policy *RetryPolicy, operation func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastResult T
	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			return result, nil
		}

		lastResult, lastErr = result, err

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("error is non-retryable, stopping", "error", err, "attempt", attempt+1)
			return lastResult, lastErr
		}
		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries", "max_retries", policy.MaxRetries, "error", lastErr)
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "max_retries", policy.MaxRetries, "delay", delay, "error", err)

		if !waitWithContext(ctx, delay) {
			var zero T
			return zero, ctx.Err()
		}
		delay = calculateNextDelay(delay, policy)
	}

	return lastResult, fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker RetryableErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func calculateNextDelay(current time.Duration, policy *RetryPolicy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}
