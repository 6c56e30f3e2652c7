package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/pgquery-mcp/internal/ratelimit"
)

// Requests that fail before SELECT_DB need no live database, generator, or
// executor, so these run as plain unit tests.

func newBareOrchestrator(queryLimit int) *Orchestrator {
	return New(nil, nil, nil, nil, nil, nil, ratelimit.New("query", queryLimit, nil), Policy{}, nil, nil)
}

func TestExecuteQuery_EmptyQuestionIsInvalidParameter(t *testing.T) {
	o := newBareOrchestrator(1)
	resp := o.ExecuteQuery(context.Background(), Request{Question: "   ", ReturnType: ReturnSQL})

	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	assert.Equal(t, CodeInvalidParameter, resp.Error.Code)
}

func TestExecuteQuery_UnknownReturnTypeIsInvalidParameter(t *testing.T) {
	o := newBareOrchestrator(1)
	resp := o.ExecuteQuery(context.Background(), Request{Question: "how many users?", ReturnType: "csv"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParameter, resp.Error.Code)
}

func TestExecuteQuery_DefaultsReturnTypeToResult(t *testing.T) {
	o := newBareOrchestrator(0)
	resp := o.ExecuteQuery(context.Background(), Request{Question: "how many users?"})

	// With no admission capacity the request is rejected at ADMIT, which is
	// still enough to prove ReturnType defaulted without tripping the
	// earlier INVALID_PARAMETER check.
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRateLimited, resp.Error.Code)
}

func TestExecuteQuery_RateLimited(t *testing.T) {
	o := newBareOrchestrator(0)
	resp := o.ExecuteQuery(context.Background(), Request{Question: "how many users?", ReturnType: ReturnSQL})

	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	assert.Equal(t, CodeRateLimited, resp.Error.Code)
}
