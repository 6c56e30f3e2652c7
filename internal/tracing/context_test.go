package tracing

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestContext_AttachesAndReturnsID(t *testing.T) {
	logger := slog.Default()
	ctx, id, scoped := RequestContext(context.Background(), logger)

	assert.NotEmpty(t, id)
	assert.Equal(t, id, RequestID(ctx))
	assert.NotNil(t, scoped)
}

func TestRequestID_AbsentReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
}

func TestFromContext_NoIDReturnsOriginalLogger(t *testing.T) {
	logger := slog.Default()
	assert.Same(t, logger, FromContext(context.Background(), logger))
}
