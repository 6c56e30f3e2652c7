// Package dbregistry manages one pgxpool.Pool per configured database, keyed
// by the database name used throughout the rest of the service (schema
// cache, executor, tool-facade "database" parameter).
package dbregistry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/pgquery-mcp/internal/config"
)

// Pool wraps a single database's pgxpool.Pool with the connect/health
// lifecycle the registry needs.
type Pool struct {
	name     string
	cfg      config.DatabaseConfig
	logger   *slog.Logger
	pool     *pgxpool.Pool
	isClosed atomic.Bool
}

func newPool(cfg config.DatabaseConfig, logger *slog.Logger) *Pool {
	return &Pool{name: cfg.Name, cfg: cfg, logger: logger}
}

// connect parses the DSN, applies pool-sizing from cfg, and verifies
// connectivity with a ping before returning.
func (p *Pool) connect(ctx context.Context) error {
	if p.isClosed.Load() {
		return ErrAlreadyClosed
	}

	poolConfig, err := pgxpool.ParseConfig(p.cfg.DSN())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if p.cfg.MaxPoolSize > 0 {
		poolConfig.MaxConns = int32(p.cfg.MaxPoolSize)
	}
	if p.cfg.MinPoolSize > 0 {
		poolConfig.MinConns = int32(p.cfg.MinPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	p.pool = pool
	p.logger.Info("connected to database",
		"database", p.name,
		"host", p.cfg.Host,
		"connect_time", time.Since(start),
		"max_conns", poolConfig.MaxConns,
		"min_conns", poolConfig.MinConns)
	return nil
}

// Name returns the configured database name.
func (p *Pool) Name() string { return p.name }

// Pool returns the underlying pgxpool.Pool for use by the executor and
// schema cache.
func (p *Pool) Pool() *pgxpool.Pool { return p.pool }

// Health pings the database. It returns ErrNotConnected if Connect never
// succeeded and ErrAlreadyClosed once Close has run.
func (p *Pool) Health(ctx context.Context) error {
	if p.isClosed.Load() {
		return ErrAlreadyClosed
	}
	if p.pool == nil {
		return ErrNotConnected
	}
	return p.pool.Ping(ctx)
}

// Stats exposes pgxpool's own statistics snapshot for the gauge readers.
func (p *Pool) Stats() *pgxpool.Stat {
	if p.pool == nil {
		return nil
	}
	return p.pool.Stat()
}

func (p *Pool) close() {
	if p.isClosed.Swap(true) {
		return
	}
	if p.pool != nil {
		p.pool.Close()
	}
}
