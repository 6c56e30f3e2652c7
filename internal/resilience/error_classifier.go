package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ClassifyError buckets an error into a small label set for metrics, so a
// timeout and a DNS failure don't collapse into one "error" bucket.
//
// Returned labels: "none", "timeout", "network", "rate_limit",
// "context_cancelled", "context_deadline", "dns", "unknown".
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "network"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return "network"
	default:
		return "unknown"
	}
}
