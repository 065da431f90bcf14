package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 1024, cfg.Events.BufferSize)
	require.False(t, cfg.Postgres.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  addr: \":9090\"\nsweeper:\n  enabled: true\n  interval: 30s\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.True(t, cfg.Sweeper.Enabled)
	require.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	// Fields the file omits keep their defaults.
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("MARKETD_ADDR", ":7070")
	t.Setenv("MARKETD_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Server.Addr)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestPostgresRequiresDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("postgres:\n  enabled: true\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
