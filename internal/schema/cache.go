package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/pgquery-mcp/pkg/metrics"
)

// BlockList names the tables and columns a Cache must never surface, keyed
// lower-case. Columns may be bare ("password") or table-qualified
// ("users.password"); both forms are checked.
type BlockList struct {
	Tables  map[string]struct{}
	Columns map[string]struct{}
}

// Cache holds the most recently loaded Summary for one database and
// coordinates reloads so at most one load runs at a time. A reader that
// calls Get while a load is in flight receives the previous Summary (or
// nil, before the first load has completed; Ready and GetOrLoad are the
// ways to wait for one) rather than waiting on the new one, so a slow
// reload never stalls query traffic.
type Cache struct {
	database  string
	pool      *pgxpool.Pool
	blockList BlockList
	logger    *slog.Logger
	runtime   *metrics.RuntimeMetrics

	cache   atomic.Pointer[Summary]
	loading atomic.Bool
	mu      sync.Mutex

	readyOnce sync.Once
	ready     chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCache builds an unloaded Cache for one database. Load must be called
// at least once before Get returns a non-nil Summary.
func NewCache(database string, pool *pgxpool.Pool, blockList BlockList, runtime *metrics.RuntimeMetrics, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		database:  database,
		pool:      pool,
		blockList: blockList,
		logger:    logger.With("database", database),
		runtime:   runtime,
		ready:     make(chan struct{}),
	}
}

// Get returns the current Summary, or nil if no load has ever completed.
// It never triggers a load; use GetOrLoad when a cold miss should block on
// one.
func (c *Cache) Get() *Summary {
	return c.cache.Load()
}

// GetOrLoad returns the current Summary, triggering a load on a cold miss.
// Concurrent cold callers collapse onto the single in-flight load started
// by whichever of them wins the race inside Load, so only one
// introspection query runs no matter how many callers arrive at once.
func (c *Cache) GetOrLoad(ctx context.Context) (*Summary, error) {
	if s := c.cache.Load(); s != nil {
		return s, nil
	}
	if err := c.Load(ctx); err != nil {
		return nil, err
	}
	if s := c.cache.Load(); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("schema for %s did not become available after load", c.database)
}

// Ready returns a channel that closes once the first successful load
// completes, so callers can block until a Summary is available without
// polling Get in a loop.
func (c *Cache) Ready() <-chan struct{} {
	return c.ready
}

// Load refreshes the Summary from the live catalog. Concurrent callers
// collapse onto a single in-flight load: the winner holds mu for the whole
// load, so a caller that finds mu already held simply waits for the
// winner's result instead of issuing a redundant introspection query.
func (c *Cache) Load(ctx context.Context) error {
	if !c.mu.TryLock() {
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil
	}
	defer c.mu.Unlock()

	c.loading.Store(true)
	defer c.loading.Store(false)

	tables, err := introspect(ctx, c.pool)
	if err != nil {
		c.logger.Error("schema load failed", "error", err)
		return fmt.Errorf("load schema for %s: %w", c.database, err)
	}

	summary := newSummary(c.database, tables, c.blockList.Tables, c.blockList.Columns)
	c.cache.Store(summary)
	c.readyOnce.Do(func() { close(c.ready) })

	if c.runtime != nil {
		c.runtime.SetSchemaCacheAge(c.database, 0)
	}
	c.logger.Info("schema loaded", "tables", len(summary.Tables), "hash", summary.Hash)
	return nil
}

// SetForTesting installs a Summary directly, bypassing introspection.
func (c *Cache) SetForTesting(s *Summary) {
	c.cache.Store(s)
	c.readyOnce.Do(func() { close(c.ready) })
}

// StartAutoRefresh reloads the Summary on a fixed interval until
// StopAutoRefresh is called or ctx is cancelled. Reload failures are logged
// and leave the previous Summary in place; the cache never regresses to
// "no schema" once a load has succeeded once.
func (c *Cache) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if c.runtime != nil {
					if s := c.Get(); s != nil {
						c.runtime.SetSchemaCacheAge(c.database, time.Since(s.LoadedAt).Seconds())
					}
				}
				if err := c.Load(ctx); err != nil {
					c.logger.Warn("auto-refresh failed, keeping previous schema", "error", err)
				}
			}
		}
	}()
}

// StopAutoRefresh signals the refresh goroutine to exit and blocks until it
// has, or until timeout elapses, guaranteeing bounded termination.
func (c *Cache) StopAutoRefresh(timeout time.Duration) {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)

	select {
	case <-c.doneCh:
	case <-time.After(timeout):
		c.logger.Warn("auto-refresh goroutine did not stop within timeout", "timeout", timeout)
	}
}
