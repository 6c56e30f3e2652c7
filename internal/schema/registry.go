package schema

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/pgquery-mcp/internal/dbregistry"
	"github.com/vitaliisemenov/pgquery-mcp/pkg/metrics"
)

// Registry owns one Cache per configured database and the shared relevance
// selector used across all of them.
type Registry struct {
	caches      map[string]*Cache
	selector    *RelevanceSelector
	refresh     time.Duration
	stopTimeout time.Duration
	logger      *slog.Logger
}

// RegistryConfig controls refresh cadence and block-lists per database.
type RegistryConfig struct {
	RefreshInterval    time.Duration
	StopTimeout        time.Duration
	RelevanceCacheSize int
	BlockLists         map[string]BlockList // keyed by database name; zero value blocks nothing

	// EagerLoad pre-warms every database's schema synchronously during
	// NewRegistry instead of leaving the first load to the first request
	// that misses cold via Cache.GetOrLoad. False by default: a single slow
	// or unreachable database should never block the whole process from
	// starting.
	EagerLoad bool
}

// NewRegistry builds a Cache for every pool in dbr and starts auto-refresh
// on each. Unless cfg.EagerLoad is set, no database is loaded yet when this
// returns — the first cold request against a database triggers its load via
// Cache.GetOrLoad, coalescing any concurrent cold callers onto that one
// load.
func NewRegistry(ctx context.Context, dbr *dbregistry.Registry, cfg RegistryConfig, runtime *metrics.RuntimeMetrics, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RelevanceCacheSize <= 0 {
		cfg.RelevanceCacheSize = 256
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	r := &Registry{
		caches:      make(map[string]*Cache),
		selector:    NewRelevanceSelector(cfg.RelevanceCacheSize),
		refresh:     cfg.RefreshInterval,
		stopTimeout: cfg.StopTimeout,
		logger:      logger,
	}

	for _, name := range dbr.Names() {
		pool, err := dbr.Get(name)
		if err != nil {
			return nil, fmt.Errorf("resolve pool %q: %w", name, err)
		}
		cache := NewCache(name, pool.Pool(), cfg.BlockLists[name], runtime, logger)
		if cfg.EagerLoad {
			if err := cache.Load(ctx); err != nil {
				return nil, fmt.Errorf("initial schema load for %q: %w", name, err)
			}
		}
		cache.StartAutoRefresh(ctx, r.refresh)
		r.caches[name] = cache
	}

	return r, nil
}

// Get returns the Cache for database, or nil if unconfigured.
func (r *Registry) Get(database string) *Cache {
	return r.caches[database]
}

// Relevant returns the relevant table subset for question against
// database's current Summary; it returns nil if the database or its
// Summary is not yet available.
func (r *Registry) Relevant(database, question string) []string {
	c := r.caches[database]
	if c == nil {
		return nil
	}
	s := c.Get()
	if s == nil {
		return nil
	}
	return r.selector.Select(s, question)
}

// Selector returns the relevance selector shared across every cache, for
// callers (such as internal/sqlgen.Generator) that need to score a
// question against a Summary directly.
func (r *Registry) Selector() *RelevanceSelector {
	return r.selector
}

// StopAll stops every per-database auto-refresh goroutine.
func (r *Registry) StopAll() {
	for _, c := range r.caches {
		c.StopAutoRefresh(r.stopTimeout)
	}
}
