package migrations

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"dance-ticketing/internal/config"
	"dance-ticketing/internal/logger"
)

func sqliteConfig(t *testing.T) config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "migrate.db"),
	}
}

func TestMigrateUpAndDownSQLite(t *testing.T) {
	cfg := sqliteConfig(t)
	var logs bytes.Buffer
	runner := NewRunner(cfg, logger.NewWriterLogger(&logs))
	defer runner.Close()

	require.NoError(t, runner.MigrateUp())
	assert.Contains(t, logs.String(), "[MIGRATE] schema_migrations - current schema version 2")

	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// running again is a no-op
	require.NoError(t, runner.MigrateUp())

	sqldb, err := sql.Open("sqlite", cfg.SQLitePath)
	require.NoError(t, err)
	defer sqldb.Close()

	var count int
	err = sqldb.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('customers', 'ticket_history')").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, runner.MigrateTo(1))
	version, _, err = runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, runner.MigrateDown())
	version, _, err = runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestPostgresRequiresURLDSN(t *testing.T) {
	runner := NewRunner(config.DatabaseConfig{Driver: "postgres", PostgresDSN: "host=localhost user=x"}, logger.Discard())
	err := runner.Initialize()
	assert.ErrorContains(t, err, "postgres:// URL")
}

func TestUnsupportedDriver(t *testing.T) {
	runner := NewRunner(config.DatabaseConfig{Driver: "mysql"}, logger.Discard())
	assert.Error(t, runner.Initialize())
}
