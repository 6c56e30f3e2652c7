package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundStatement_WrapsWithPeekAheadLimit(t *testing.T) {
	e := New(Config{MaxRows: 10}, nil)
	wrapped := e.boundStatement("SELECT * FROM orders")
	assert.Contains(t, wrapped, "LIMIT 11")
	assert.Contains(t, wrapped, "WITH q AS (SELECT * FROM orders)")
}

func TestBoundStatement_ComposesWithExplicitLimitWithinPolicy(t *testing.T) {
	e := New(Config{MaxRows: 10}, nil)
	wrapped := e.boundStatement("SELECT * FROM orders LIMIT 5")
	assert.Contains(t, wrapped, "LIMIT 11")
	assert.Contains(t, wrapped, "WITH q AS (SELECT * FROM orders LIMIT 5)")
}

func TestBoundStatement_TruncatesRatherThanRejectsOversizedExplicitLimit(t *testing.T) {
	e := New(Config{MaxRows: 10}, nil)
	wrapped := e.boundStatement("SELECT * FROM orders LIMIT 5000")
	assert.Contains(t, wrapped, "LIMIT 11")
	assert.Contains(t, wrapped, "WITH q AS (SELECT * FROM orders LIMIT 5000)")
}

func TestNew_AppliesDefaults(t *testing.T) {
	e := New(Config{}, nil)
	assert.Equal(t, 1000, e.cfg.MaxRows)
	assert.NotZero(t, e.cfg.MaxExecutionTime)
}
