// Package tracing attaches a per-request correlation id to a context so
// it can be read back by logging and metrics at every suspension point
// of the orchestrator pipeline.
package tracing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// NewRequestID generates a correlation id for one inbound query request.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID returns a context carrying the given correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the correlation id from ctx, or "" if absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestContext starts a traced scope: it mints a correlation id, attaches
// it to ctx, and returns a logger pre-bound with that id so every log line
// emitted inside the scope carries it.
func RequestContext(ctx context.Context, logger *slog.Logger) (context.Context, string, *slog.Logger) {
	id := NewRequestID()
	ctx = WithRequestID(ctx, id)
	return ctx, id, logger.With("request_id", id)
}

// FromContext returns logger bound with the request id carried by ctx, if
// any.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		return logger.With("request_id", id)
	}
	return logger
}
