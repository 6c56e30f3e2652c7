package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Databases: []DatabaseConfig{
			{Name: "app", Host: "localhost", Port: 5432, User: "postgres", MinPoolSize: 2, MaxPoolSize: 10},
		},
		Security: SecurityConfig{
			ExplainPolicy:    ExplainDisabled,
			MaxRows:          1000,
			MaxExecutionTime: 30 * time.Second,
		},
		Validation: ValidationConfig{MinConfidenceScore: 60, SampleRows: 5},
		Resilience: ResilienceConfig{MaxRetries: 2, QueryLimit: 10, LLMLimit: 5},
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RequiresAtLeastOneDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.Databases = nil
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsDuplicateDatabaseNames(t *testing.T) {
	cfg := validConfig()
	cfg.Databases = append(cfg.Databases, cfg.Databases[0])
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadPoolBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Databases[0].MinPoolSize = 20
	cfg.Databases[0].MaxPoolSize = 10
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownExplainPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Security.ExplainPolicy = "BOGUS"
	require.Error(t, cfg.Validate())
}

func TestDefaultDatabase_SingleEntry(t *testing.T) {
	cfg := validConfig()
	db, ok := cfg.DefaultDatabase()
	require.True(t, ok)
	assert.Equal(t, "app", db.Name)
}

func TestDefaultDatabase_MultipleEntriesRequiresExplicitChoice(t *testing.T) {
	cfg := validConfig()
	cfg.Databases = append(cfg.Databases, DatabaseConfig{Name: "warehouse", Host: "localhost", MinPoolSize: 2, MaxPoolSize: 10})
	_, ok := cfg.DefaultDatabase()
	require.False(t, ok)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Name: "app", Host: "db", Port: 5432, User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable", d.DSN())
}

func TestDatabasesFromEnv_SecondaryFallsBackToPrimary(t *testing.T) {
	t.Setenv("DATABASE_NAME", "primary")
	t.Setenv("DATABASE_HOST", "db1")
	t.Setenv("DATABASE_USER", "alice")
	t.Setenv("DATABASE2_NAME", "secondary")

	dbs := databasesFromEnv()
	require.Len(t, dbs, 2)
	assert.Equal(t, "primary", dbs[0].Name)
	assert.Equal(t, "secondary", dbs[1].Name)
	assert.Equal(t, "db1", dbs[1].Host, "secondary inherits host from primary when unset")
	assert.Equal(t, "alice", dbs[1].User, "secondary inherits user from primary when unset")
}
