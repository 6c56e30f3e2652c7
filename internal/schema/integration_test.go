//go:build integration
// +build integration

package schema

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const fixtureDDL = `
CREATE TABLE customers (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT
);
CREATE TABLE orders (
	id SERIAL PRIMARY KEY,
	customer_id INTEGER NOT NULL REFERENCES customers(id),
	total_cents INTEGER NOT NULL
);
`

func TestIntrospect_RealDatabase(t *testing.T) {
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
	defer pool.Close()

	_, err = pool.Exec(ctx, fixtureDDL)
	require.NoError(t, err)

	tables, err := introspect(ctx, pool)
	require.NoError(t, err)

	byName := make(map[string]*Table)
	for _, tbl := range tables {
		byName[tbl.QualifiedName()] = tbl
	}

	customers, ok := byName["public.customers"]
	require.True(t, ok)
	assert.Len(t, customers.Columns, 3)

	var idCol *Column
	for i := range customers.Columns {
		if customers.Columns[i].Name == "id" {
			idCol = &customers.Columns[i]
		}
	}
	require.NotNil(t, idCol)
	assert.True(t, idCol.IsPrimaryKey)

	orders, ok := byName["public.orders"]
	require.True(t, ok)
	require.Len(t, orders.ForeignKeys, 1)
	assert.Equal(t, "public.customers", orders.ForeignKeys[0].ToTable)
	assert.Equal(t, "customer_id", orders.ForeignKeys[0].FromCol)
	assert.Equal(t, "id", orders.ForeignKeys[0].ToCol)
}

func TestCache_LoadAndAutoRefresh(t *testing.T) {
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
	defer pool.Close()

	_, err = pool.Exec(ctx, fixtureDDL)
	require.NoError(t, err)

	cache := NewCache("app", pool, BlockList{}, nil, nil)
	require.NoError(t, cache.Load(ctx))

	s := cache.Get()
	require.NotNil(t, s)
	assert.Contains(t, s.Tables, "public.customers")

	refreshCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cache.StartAutoRefresh(refreshCtx, 50*time.Millisecond)
	cache.StopAutoRefresh(2 * time.Second)
}
