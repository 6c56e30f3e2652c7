package dbregistry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/pgquery-mcp/internal/config"
)

// Registry holds one connected Pool per configured database and resolves
// the "database" parameter of a query request to the right pool, including
// the single-database default when the caller omits it.
type Registry struct {
	pools       map[string]*Pool
	defaultName string
	hasDefault  bool
	logger      *slog.Logger
}

// Connect builds a Pool for every configured database and connects them all
// before returning. If any one fails to connect, the pools already opened
// are closed before the error is returned so a partially-initialized
// registry is never handed to the caller.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{pools: make(map[string]*Pool, len(cfg.Databases)), logger: logger}
	if def, ok := cfg.DefaultDatabase(); ok {
		r.defaultName = def.Name
		r.hasDefault = true
	}

	for _, dbCfg := range cfg.Databases {
		p := newPool(dbCfg, logger.With("database", dbCfg.Name))
		if err := p.connect(ctx); err != nil {
			r.CloseAll(5 * time.Second)
			return nil, fmt.Errorf("connect database %q: %w", dbCfg.Name, err)
		}
		r.pools[dbCfg.Name] = p
	}
	return r, nil
}

// Get resolves a database name to its Pool. An empty name resolves to the
// configured default, returning ErrNoDefaultDatabase when the deployment has
// more than one database and none was requested explicitly.
func (r *Registry) Get(name string) (*Pool, error) {
	if name == "" {
		if !r.hasDefault {
			return nil, ErrNoDefaultDatabase
		}
		name = r.defaultName
	}
	p, ok := r.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDatabase, name)
	}
	return p, nil
}

// Names returns every configured database name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	return names
}

// HealthAll pings every pool and returns the first error encountered,
// annotated with the database name.
func (r *Registry) HealthAll(ctx context.Context) error {
	for name, p := range r.pools {
		if err := p.Health(ctx); err != nil {
			return fmt.Errorf("database %q: %w", name, err)
		}
	}
	return nil
}

// CloseAll closes every pool, giving in-flight queries up to timeout to
// finish via pgxpool's own drain-on-Close behavior before returning.
func (r *Registry) CloseAll(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		for _, p := range r.pools {
			p.close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		r.logger.Warn("pool shutdown did not complete within timeout", "timeout", timeout)
	}
}
