package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrCircuitBreakerOpen is returned by CircuitBreaker.Call when the breaker
// is fail-fasting requests without invoking the guarded operation.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// ErrNonRetryable marks an error as explicitly non-retryable regardless of
// what a RetryableErrorChecker would otherwise conclude.
var ErrNonRetryable = errors.New("error is not retryable")

// DefaultErrorChecker treats network errors and timeouts as retryable, and
// every other error as retryable too, except one wrapping ErrNonRetryable
// or one whose own Temporary method reports false.
type DefaultErrorChecker struct{}

// IsRetryable implements RetryableErrorChecker.
func (c *DefaultErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonRetryable) {
		return false
	}
	if isTransientNetworkError(err) {
		return true
	}
	if isTimeoutError(err) {
		return true
	}

	type temporary interface{ Temporary() bool }
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}
	return true
}

func isTransientNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "deadline exceeded", "i/o timeout", "timed out"} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}

	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

// HTTPErrorChecker treats HTTP 5xx, 429 and 408 responses as retryable,
// falling back to DefaultErrorChecker for anything else. It looks for the
// status code in the error message, so it suits errors that carry one there.
type HTTPErrorChecker struct {
	RetryOn5xx bool
	RetryOn429 bool
	RetryOn408 bool
}

// NewHTTPErrorChecker returns a checker with all three classes enabled.
func NewHTTPErrorChecker() *HTTPErrorChecker {
	return &HTTPErrorChecker{RetryOn5xx: true, RetryOn429: true, RetryOn408: true}
}

// IsRetryable implements RetryableErrorChecker.
func (c *HTTPErrorChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()

	if c.RetryOn5xx {
		for code := 500; code < 600; code++ {
			if strings.Contains(msg, fmt.Sprintf("%d", code)) {
				return true
			}
		}
	}
	if c.RetryOn429 && (strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests") || strings.Contains(msg, "rate limit")) {
		return true
	}
	if c.RetryOn408 && (strings.Contains(msg, "408") || strings.Contains(msg, "Request Timeout")) {
		return true
	}

	return (&DefaultErrorChecker{}).IsRetryable(err)
}

// NeverRetryChecker always reports false, so a policy using it makes
// exactly one attempt.
type NeverRetryChecker struct{}

// IsRetryable implements RetryableErrorChecker.
func (c *NeverRetryChecker) IsRetryable(err error) bool { return false }
