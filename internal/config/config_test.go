package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "ska-data-product.yaml", cfg.Volume.MetadataFileName)
	assert.Equal(t, 5*time.Minute, cfg.Reindex.Interval)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
store:
  backend: sqlite
  dsn: /var/lib/dpd/catalog.db
reindex:
  interval: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/dpd/catalog.db", cfg.Store.DSN)
	assert.Equal(t, 30*time.Second, cfg.Reindex.Interval)
	// Untouched sections keep defaults.
	assert.Equal(t, "/mnt/data", cfg.Volume.Root)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PERSISTENT_STORAGE_PATH", "/srv/products")
	t.Setenv("API_PORT", "8123")
	t.Setenv("METADATA_STORE_BACKEND", "postgres")
	t.Setenv("REINDEXING_DELAY", "300")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/products", cfg.Volume.Root)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 300*time.Second, cfg.Reindex.Interval)
}

func TestEnvDurationForm(t *testing.T) {
	t.Setenv("REINDEXING_DELAY", "2m")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Reindex.Interval)
}

func TestInvalidPort(t *testing.T) {
	t.Setenv("API_PORT", "70000")
	_, err := Load("")
	assert.Error(t, err)
}
