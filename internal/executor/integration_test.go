//go:build integration
// +build integration

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pgquery_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `CREATE TABLE items (id SERIAL PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err := pool.Exec(ctx, `INSERT INTO items (name) VALUES ($1)`, "item")
		require.NoError(t, err)
	}
	return pool
}

func TestExecute_TruncatesAtMaxRows(t *testing.T) {
	pool := newTestPool(t)
	e := New(Config{MaxRows: 10, MaxExecutionTime: 5 * time.Second}, nil)

	result, err := e.Execute(context.Background(), "SELECT id, name FROM items ORDER BY id", pool)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, result.Columns)
	assert.Len(t, result.Rows, 10)
	assert.Equal(t, 10, result.RowCount)
	assert.True(t, result.Truncated)
}

func TestExecute_NoTruncationWhenUnderLimit(t *testing.T) {
	pool := newTestPool(t)
	e := New(Config{MaxRows: 1000, MaxExecutionTime: 5 * time.Second}, nil)

	result, err := e.Execute(context.Background(), "SELECT id FROM items", pool)
	require.NoError(t, err)

	assert.Len(t, result.Rows, 25)
	assert.False(t, result.Truncated)
}

func TestExecute_TimeoutOnSlowStatement(t *testing.T) {
	pool := newTestPool(t)
	e := New(Config{MaxRows: 10, MaxExecutionTime: 50 * time.Millisecond}, nil)

	_, err := e.Execute(context.Background(), "SELECT pg_sleep(2)", pool)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecute_CancellationPropagates(t *testing.T) {
	pool := newTestPool(t)
	e := New(Config{MaxRows: 10, MaxExecutionTime: 5 * time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, "SELECT 1", pool)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
}
