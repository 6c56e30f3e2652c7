// Package config provides typed, validated configuration for the query
// orchestration service: database pools, security policy, result
// validation, schema caching, resilience, the LLM backend, and
// observability.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level, validated configuration for the service.
type Config struct {
	Databases    []DatabaseConfig    `mapstructure:"databases"`
	Security     SecurityConfig      `mapstructure:"security"`
	Validation   ValidationConfig    `mapstructure:"validation"`
	Cache        CacheConfig         `mapstructure:"cache"`
	Resilience   ResilienceConfig    `mapstructure:"resilience"`
	OpenAI       OpenAIConfig        `mapstructure:"openai"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Log          LogConfig           `mapstructure:"log"`
}

// DatabaseConfig describes one named, pooled PostgreSQL-compatible database.
type DatabaseConfig struct {
	Name         string `mapstructure:"name"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	MinPoolSize  int32  `mapstructure:"min_pool_size"`
	MaxPoolSize  int32  `mapstructure:"max_pool_size"`
	SSLMode      string `mapstructure:"ssl_mode"`
}

// ExplainPolicy governs whether EXPLAIN statements are permitted by the
// SQL validator, and whether ANALYZE is allowed within them.
type ExplainPolicy string

const (
	ExplainDisabled      ExplainPolicy = "DISABLED"
	ExplainOnly          ExplainPolicy = "EXPLAIN_ONLY"
	ExplainAnalyzeAllowed ExplainPolicy = "EXPLAIN_ANALYZE"
)

// SecurityConfig is the read-only SQL policy enforced by the validator and
// the executor.
type SecurityConfig struct {
	ReadonlyRole     string        `mapstructure:"readonly_role"`
	SafeSearchPath   string        `mapstructure:"safe_search_path"`
	ExplainPolicy    ExplainPolicy `mapstructure:"explain_policy"`
	BlockedTables    []string      `mapstructure:"blocked_tables"`
	BlockedColumns   []string      `mapstructure:"blocked_columns"`
	BlockedFunctions []string      `mapstructure:"blocked_functions"`
	MaxRows          int           `mapstructure:"max_rows"`
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`
}

// ValidationConfig governs the result validator.
type ValidationConfig struct {
	MinConfidenceScore int `mapstructure:"min_confidence_score"`
	SampleRows         int `mapstructure:"sample_rows"`
}

// CacheConfig governs the schema cache.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	SchemaTTL time.Duration `mapstructure:"schema_ttl"`
	EagerLoad bool          `mapstructure:"eager_load"`
}

// ResilienceConfig governs retries and the LLM circuit breaker.
type ResilienceConfig struct {
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryOnSecurity         bool          `mapstructure:"retry_on_security"`
	QueryLimit              int           `mapstructure:"query_limit"`
	LLMLimit                int           `mapstructure:"llm_limit"`
	RequestBudget           time.Duration `mapstructure:"request_budget"`
}

// OpenAIConfig configures the LLM backend used by the SQL generator and
// result validator.
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ObservabilityConfig governs logging format and the metrics endpoint.
type ObservabilityConfig struct {
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	MetricsEnabled bool  `mapstructure:"metrics_enabled"`
	MetricsPort   int    `mapstructure:"metrics_port"`
}

// LogConfig governs the log sink (stdout/stderr/file, rotation).
type LogConfig struct {
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from an optional YAML file, overlaid by
// environment variables, applies documented DATABASE_*/DATABASE2_*
// fallbacks, and validates the result.
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Databases = append(cfg.Databases, databasesFromEnv()...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("security.explain_policy", ExplainDisabled)
	viper.SetDefault("security.max_rows", 1000)
	viper.SetDefault("security.max_execution_time", "30s")
	viper.SetDefault("security.blocked_functions", []string{
		"pg_sleep", "pg_read_file", "pg_read_binary_file", "pg_ls_dir",
		"lo_import", "lo_export", "dblink", "dblink_exec",
	})

	viper.SetDefault("validation.min_confidence_score", 60)
	viper.SetDefault("validation.sample_rows", 5)

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.schema_ttl", "1h")
	viper.SetDefault("cache.eager_load", false)

	viper.SetDefault("resilience.circuit_breaker_threshold", 3)
	viper.SetDefault("resilience.circuit_breaker_timeout", "30s")
	viper.SetDefault("resilience.max_retries", 2)
	viper.SetDefault("resilience.retry_on_security", true)
	viper.SetDefault("resilience.query_limit", 10)
	viper.SetDefault("resilience.llm_limit", 5)
	viper.SetDefault("resilience.request_budget", "60s")

	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.timeout", "30s")

	viper.SetDefault("observability.log_level", "info")
	viper.SetDefault("observability.log_format", "json")
	viper.SetDefault("observability.metrics_enabled", true)
	viper.SetDefault("observability.metrics_port", 9090)

	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)
}

// databasesFromEnv builds DatabaseConfig entries from DATABASE_* and
// DATABASE2_*, with DATABASE2_* falling back to DATABASE_* for any unset
// field, matching the documented environment-variable contract.
func databasesFromEnv() []DatabaseConfig {
	var out []DatabaseConfig

	primary, ok := databaseFromEnvPrefix("DATABASE", DatabaseConfig{})
	if ok {
		out = append(out, primary)
	}

	if os.Getenv("DATABASE2_NAME") != "" {
		secondary, _ := databaseFromEnvPrefix("DATABASE2", primary)
		out = append(out, secondary)
	}

	return out
}

func databaseFromEnvPrefix(prefix string, fallback DatabaseConfig) (DatabaseConfig, bool) {
	name := os.Getenv(prefix + "_NAME")
	if name == "" {
		return DatabaseConfig{}, false
	}

	cfg := DatabaseConfig{
		Name:        name,
		Host:        envOr(prefix+"_HOST", fallback.Host, "localhost"),
		User:        envOr(prefix+"_USER", fallback.User, "postgres"),
		Password:    envOr(prefix+"_PASSWORD", fallback.Password, ""),
		SSLMode:     envOr(prefix+"_SSL_MODE", fallback.SSLMode, "disable"),
		Port:        5432,
		MinPoolSize: 2,
		MaxPoolSize: 10,
	}
	if fallback.Port != 0 {
		cfg.Port = fallback.Port
	}
	if v := os.Getenv(prefix + "_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if fallback.MinPoolSize != 0 {
		cfg.MinPoolSize = fallback.MinPoolSize
	}
	if fallback.MaxPoolSize != 0 {
		cfg.MaxPoolSize = fallback.MaxPoolSize
	}
	return cfg, true
}

func envOr(key, fallback, zeroDefault string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return zeroDefault
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("at least one database must be configured")
	}

	seen := make(map[string]bool, len(c.Databases))
	for _, db := range c.Databases {
		if db.Name == "" {
			return fmt.Errorf("database entry missing a name")
		}
		if seen[db.Name] {
			return fmt.Errorf("duplicate database name %q", db.Name)
		}
		seen[db.Name] = true
		if db.Host == "" {
			return fmt.Errorf("database %q: host cannot be empty", db.Name)
		}
		if db.MinPoolSize < 0 || db.MaxPoolSize <= 0 || db.MinPoolSize > db.MaxPoolSize {
			return fmt.Errorf("database %q: invalid pool size bounds (%d..%d)", db.Name, db.MinPoolSize, db.MaxPoolSize)
		}
	}

	switch c.Security.ExplainPolicy {
	case ExplainDisabled, ExplainOnly, ExplainAnalyzeAllowed:
	default:
		return fmt.Errorf("invalid explain_policy: %s", c.Security.ExplainPolicy)
	}

	if c.Security.MaxRows <= 0 {
		return fmt.Errorf("security.max_rows must be positive")
	}
	if c.Security.MaxExecutionTime <= 0 {
		return fmt.Errorf("security.max_execution_time must be positive")
	}

	if c.Validation.MinConfidenceScore < 0 || c.Validation.MinConfidenceScore > 100 {
		return fmt.Errorf("validation.min_confidence_score must be within 0..100")
	}

	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("resilience.max_retries cannot be negative")
	}
	if c.Resilience.QueryLimit <= 0 || c.Resilience.LLMLimit <= 0 {
		return fmt.Errorf("resilience.query_limit and llm_limit must be positive")
	}

	return nil
}

// DefaultDatabase returns the sole configured database when exactly one
// is present, and false otherwise.
func (c *Config) DefaultDatabase() (DatabaseConfig, bool) {
	if len(c.Databases) == 1 {
		return c.Databases[0], true
	}
	return DatabaseConfig{}, false
}

// DatabaseNames returns the configured database names in order.
func (c *Config) DatabaseNames() []string {
	names := make([]string, 0, len(c.Databases))
	for _, db := range c.Databases {
		names = append(names, db.Name)
	}
	return names
}

// DSN builds a pgx connection string for the given database entry.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}
