// Package main is the entry point for the query orchestration service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/pgquery-mcp/internal/config"
	"github.com/vitaliisemenov/pgquery-mcp/internal/dbregistry"
	"github.com/vitaliisemenov/pgquery-mcp/internal/executor"
	"github.com/vitaliisemenov/pgquery-mcp/internal/hostfacade"
	"github.com/vitaliisemenov/pgquery-mcp/internal/llm"
	"github.com/vitaliisemenov/pgquery-mcp/internal/orchestrator"
	"github.com/vitaliisemenov/pgquery-mcp/internal/ratelimit"
	"github.com/vitaliisemenov/pgquery-mcp/internal/resilience"
	"github.com/vitaliisemenov/pgquery-mcp/internal/resultvalidator"
	"github.com/vitaliisemenov/pgquery-mcp/internal/schema"
	"github.com/vitaliisemenov/pgquery-mcp/internal/sqlgen"
	"github.com/vitaliisemenov/pgquery-mcp/internal/sqlvalidate"
	"github.com/vitaliisemenov/pgquery-mcp/pkg/logger"
	"github.com/vitaliisemenov/pgquery-mcp/pkg/metrics"
)

const (
	serviceName    = "pgquery-mcp"
	serviceVersion = "1.0.0"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to a YAML configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Printf("%s - natural-language query orchestration over read-only SQL\n\n", serviceName)
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		fmt.Printf("  -config     Path to a YAML configuration file\n")
		fmt.Printf("  -version    Show version information\n")
		fmt.Printf("  -help       Show this help message\n\n")
		fmt.Printf("Database connections can also be supplied through the DATABASE_* and DATABASE2_* environment variables.\n")
		os.Exit(0)
	}

	bootstrapLog := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrapLog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	log.Info("starting query orchestration service", "service", serviceName, "version", serviceVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := metrics.DefaultRegistry()

	facade, shutdown, err := buildService(ctx, cfg, registry, log)
	if err != nil {
		log.Error("failed to initialize service", "error", err)
		os.Exit(1)
	}

	metricsServer := startMetricsServer(cfg, registry, log)

	facadeDone := make(chan error, 1)
	go func() {
		facade.SetReady(true)
		log.Info("query loop ready, reading requests from stdin")
		facadeDone <- facade.Serve(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-facadeDone:
		if err != nil {
			log.Error("query loop exited with an error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server forced to shutdown", "error", err)
		}
	}

	// Stop the schema auto-refreshers first so no new reload starts mid-drain,
	// then give in-flight queries a bounded grace window to finish.
	shutdown()

	log.Info("query orchestration service exited")
}

// buildService wires every collaborator named in the configuration into a
// ready-to-serve Orchestrator and the façade that dispatches to it. The
// returned cleanup func stops schema auto-refresh and drains every
// database pool; callers run it once during shutdown.
func buildService(ctx context.Context, cfg *config.Config, registry *metrics.Registry, logger *slog.Logger) (*hostfacade.Server, func(), error) {
	databases, err := dbregistry.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to configured databases: %w", err)
	}

	blockList := blockListFromSecurity(cfg.Security)
	blockLists := make(map[string]schema.BlockList, len(cfg.Databases))
	for _, db := range cfg.Databases {
		blockLists[db.Name] = blockList
	}

	schemaRegistry, err := schema.NewRegistry(ctx, databases, schema.RegistryConfig{
		RefreshInterval:    cfg.Cache.SchemaTTL,
		StopTimeout:        5 * time.Second,
		RelevanceCacheSize: 256,
		BlockLists:         blockLists,
		EagerLoad:          cfg.Cache.EagerLoad,
	}, registry.Runtime(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading schema cache: %w", err)
	}

	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	}, logger)

	breaker, err := resilience.NewCircuitBreaker("llm", resilience.CircuitBreakerConfig{
		MaxFailures:      cfg.Resilience.CircuitBreakerThreshold,
		ResetTimeout:     cfg.Resilience.CircuitBreakerTimeout,
		FailureThreshold: 0.5,
		TimeWindow:       time.Minute,
		HalfOpenMaxCalls: 1,
	}, logger, registry.Runtime())
	if err != nil {
		return nil, nil, fmt.Errorf("constructing llm circuit breaker: %w", err)
	}

	limiters := ratelimit.NewMultiLimiter(cfg.Resilience.QueryLimit, cfg.Resilience.LLMLimit, registry.Runtime())

	generator := sqlgen.New(llmClient, breaker, limiters.LLM, schemaRegistry.Selector(), registry.LLM(), logger)

	// sqlvalidate.ExplainPolicy and config.ExplainPolicy share the exact
	// same constant spellings by construction, so this is a direct cast,
	// not a behavioral translation.
	validator := sqlvalidate.New(sqlvalidate.Config{
		ExplainPolicy:    sqlvalidate.ExplainPolicy(cfg.Security.ExplainPolicy),
		BlockedTables:    cfg.Security.BlockedTables,
		BlockedColumns:   cfg.Security.BlockedColumns,
		BlockedFunctions: cfg.Security.BlockedFunctions,
	})

	exec := executor.New(executor.Config{
		MaxRows:          cfg.Security.MaxRows,
		MaxExecutionTime: cfg.Security.MaxExecutionTime,
	}, logger)

	resultValidator := resultvalidator.New(llmClient, breaker, limiters.LLM, registry.LLM(), logger)

	orch := orchestrator.New(databases, schemaRegistry, generator, validator, exec, resultValidator, limiters.Query,
		orchestrator.Policy{
			MaxRetries:         cfg.Resilience.MaxRetries,
			RetryOnSecurity:    cfg.Resilience.RetryOnSecurity,
			RequestBudget:      cfg.Resilience.RequestBudget,
			MinConfidenceScore: cfg.Validation.MinConfidenceScore,
			SampleRows:         cfg.Validation.SampleRows,
		}, registry.Query(), logger)

	cleanup := func() {
		schemaRegistry.StopAll()
		databases.CloseAll(5 * time.Second)
	}

	return hostfacade.New(orch, logger), cleanup, nil
}

// blockListFromSecurity lower-cases every entry, matching the case
// insensitivity schema.Cache applies when filtering a loaded Summary.
func blockListFromSecurity(sec config.SecurityConfig) schema.BlockList {
	tables := make(map[string]struct{}, len(sec.BlockedTables))
	for _, t := range sec.BlockedTables {
		tables[strings.ToLower(t)] = struct{}{}
	}
	columns := make(map[string]struct{}, len(sec.BlockedColumns))
	for _, c := range sec.BlockedColumns {
		columns[strings.ToLower(c)] = struct{}{}
	}
	return schema.BlockList{Tables: tables, Columns: columns}
}

// startMetricsServer serves /metrics and /healthz on ObservabilityConfig's
// configured port. It returns nil if metrics are disabled.
func startMetricsServer(cfg *config.Config, registry *metrics.Registry, logger *slog.Logger) *http.Server {
	if !cfg.Observability.MetricsEnabled {
		return nil
	}

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.NewEndpointHandler(5, 10)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	addr := fmt.Sprintf(":%d", cfg.Observability.MetricsPort)
	server := metrics.NewMetricsServer(addr, router)

	go func() {
		logger.Info("metrics server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return server
}
