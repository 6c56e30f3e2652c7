// Package executor runs validated, read-only SQL statements against a
// pooled connection under hard bounds: a per-statement timeout, a row cap
// enforced by peeking one row past the limit, and unconditional connection
// release.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config bounds every execution.
type Config struct {
	MaxRows          int
	MaxExecutionTime time.Duration
}

// Result is one statement's structured output.
type Result struct {
	Columns    []string
	Rows       [][]any
	RowCount   int
	Truncated  bool
	DurationMs int64
}

// Executor runs statements against a single pgxpool.Pool.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// New builds an Executor bound to cfg.
func New(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = 30 * time.Second
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Execute runs sql against pool inside a read-only transaction, applying
// the configured timeout and row cap. The connection is acquired and
// released within this call; no state survives across calls.
func (e *Executor) Execute(ctx context.Context, sql string, pool *pgxpool.Pool) (*Result, error) {
	bounded := e.boundStatement(sql)

	start := time.Now()
	ctxTO, cancel := context.WithTimeout(ctx, e.cfg.MaxExecutionTime)
	defer cancel()

	conn, err := pool.Acquire(ctxTO)
	if err != nil {
		return nil, e.classify(ctx, ctxTO, fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctxTO, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, e.classify(ctx, ctxTO, fmt.Errorf("begin read-only transaction: %w", err))
	}
	defer tx.Rollback(ctxTO)

	rows, err := tx.Query(ctxTO, bounded)
	if err != nil {
		return nil, e.classify(ctx, ctxTO, fmt.Errorf("execute statement: %w", err))
	}

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	out := make([][]any, 0, e.cfg.MaxRows)
	truncated := false
	for rows.Next() {
		if len(out) == e.cfg.MaxRows {
			truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			rows.Close()
			return nil, e.classify(ctx, ctxTO, fmt.Errorf("read row: %w", err))
		}
		out = append(out, vals)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, e.classify(ctx, ctxTO, fmt.Errorf("iterate rows: %w", err))
	}

	if err := tx.Commit(ctxTO); err != nil {
		return nil, e.classify(ctx, ctxTO, fmt.Errorf("commit read-only transaction: %w", err))
	}

	return &Result{
		Columns:    columns,
		Rows:       out,
		RowCount:   len(out),
		Truncated:  truncated,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// boundStatement always wraps sql in an outer peek-ahead LIMIT so the
// executor can detect truncation without the database itself imposing the
// cap. Any LIMIT the statement already carries composes normally with the
// outer cap: an oversized explicit LIMIT is truncated to MaxRows rather
// than rejected, since an oversized row request is a truncated success,
// not a failure to retry.
func (e *Executor) boundStatement(sql string) string {
	return fmt.Sprintf("WITH q AS (%s) SELECT * FROM q LIMIT %d", sql, e.cfg.MaxRows+1)
}

// classify maps a driver-level failure to Canceled, Timeout, or the
// generic DatabaseError depending on which context fired.
func (e *Executor) classify(callerCtx, timeoutCtx context.Context, err error) error {
	if callerCtx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	e.logger.Error("statement execution failed", "error", err)
	return fmt.Errorf("%w: %v", ErrDatabase, err)
}
