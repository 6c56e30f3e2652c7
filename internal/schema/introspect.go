package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// introspectionQuery enumerates every user table, its columns, and its
// foreign keys in one pg_catalog snapshot, excluding the catalog and
// information_schema namespaces. Within a table, column rows are ordered by
// attnum, so columns keep their catalog order.
const introspectionQuery = `
WITH cols AS (
  SELECT n.nspname AS schema, c.relname AS table, a.attname AS column,
         a.attnum::int AS ordinal,
         pg_catalog.format_type(a.atttypid, a.atttypmod) AS data_type,
         NOT a.attnotnull AS nullable,
         EXISTS (
           SELECT 1 FROM pg_constraint
           WHERE conrelid = c.oid AND contype = 'p' AND a.attnum = ANY(conkey)
         ) AS is_pk
  FROM pg_attribute a
  JOIN pg_class c ON a.attrelid = c.oid
  JOIN pg_namespace n ON c.relnamespace = n.oid
  WHERE a.attnum > 0 AND NOT a.attisdropped AND c.relkind = 'r'
    AND n.nspname NOT IN ('pg_catalog', 'information_schema')
),
fks AS (
  SELECT
    n1.nspname AS src_schema, c1.relname AS src_table, a1.attname AS src_column,
    n2.nspname AS dst_schema, c2.relname AS dst_table, a2.attname AS dst_column
  FROM pg_constraint co
  JOIN pg_class c1 ON co.conrelid = c1.oid
  JOIN pg_namespace n1 ON c1.relnamespace = n1.oid
  JOIN pg_class c2 ON co.confrelid = c2.oid
  JOIN pg_namespace n2 ON c2.relnamespace = n2.oid
  JOIN unnest(co.conkey) WITH ORDINALITY AS ck(attnum, pos) ON TRUE
  JOIN unnest(co.confkey) WITH ORDINALITY AS fk(attnum, pos) ON ck.pos = fk.pos
  JOIN pg_attribute a1 ON a1.attrelid = c1.oid AND a1.attnum = ck.attnum
  JOIN pg_attribute a2 ON a2.attrelid = c2.oid AND a2.attnum = fk.attnum
  WHERE co.contype = 'f'
),
estimates AS (
  SELECT n.nspname AS schema, c.relname AS table, GREATEST(c.reltuples, 0)::bigint AS row_estimate
  FROM pg_class c
  JOIN pg_namespace n ON c.relnamespace = n.oid
  WHERE c.relkind = 'r'
)
SELECT 'col' AS kind, cols.schema, cols.table, cols.column, cols.data_type, cols.nullable, cols.is_pk,
       '' AS dst_schema, '' AS dst_table, '' AS dst_column, 0::bigint AS row_estimate, cols.ordinal
FROM cols
UNION ALL
SELECT 'fk', fks.src_schema, fks.src_table, fks.src_column, '', false, false,
       fks.dst_schema, fks.dst_table, fks.dst_column, 0, 0
FROM fks
UNION ALL
SELECT 'est', estimates.schema, estimates.table, '', '', false, false, '', '', '', estimates.row_estimate, 0
FROM estimates
ORDER BY 2, 3, 12, 4
`

// introspect runs introspectionQuery inside a read-only transactional
// snapshot so the column, foreign-key, and row-estimate rows are mutually
// consistent, then assembles the raw (pre-filter) table list.
func introspect(ctx context.Context, pool *pgxpool.Pool) ([]*Table, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, introspectionQuery)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]*Table)
	order := make([]string, 0, 64)

	for rows.Next() {
		var kind, schema, table, column, dataType, dstSchema, dstTable, dstColumn string
		var nullable, isPK bool
		var rowEstimate int64
		var ordinal int32

		if err := rows.Scan(&kind, &schema, &table, &column, &dataType, &nullable, &isPK, &dstSchema, &dstTable, &dstColumn, &rowEstimate, &ordinal); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}

		key := schema + "." + table
		t, ok := tables[key]
		if !ok {
			t = &Table{Schema: schema, Name: table}
			tables[key] = t
			order = append(order, key)
		}

		switch kind {
		case "col":
			t.Columns = append(t.Columns, Column{Name: column, Type: dataType, Nullable: nullable, IsPrimaryKey: isPK})
		case "fk":
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				FromTable: key, FromCol: column,
				ToTable: dstSchema + "." + dstTable, ToCol: dstColumn,
			})
		case "est":
			t.RowEstimate = rowEstimate
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}

	result := make([]*Table, 0, len(order))
	for _, key := range order {
		result = append(result, tables[key])
	}
	return result, nil
}
