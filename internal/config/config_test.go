package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Positive(t, cfg.Storage.MaxItems)
	assert.Positive(t, cfg.Search.DefaultLimit)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Search.DefaultLimit, cfg.Search.DefaultLimit)
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search:
  default_limit: 25
  max_limit: 100
  max_candidate_fraction: 0.5
  recent_window: 200
storage:
  max_items: 5000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Search.DefaultLimit)
	assert.Equal(t, 5000, cfg.Storage.MaxItems)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Storage.MaxTotalBytes, cfg.Storage.MaxTotalBytes)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search:
  max_candidate_fraction: 2.5
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCOPY_DATA_DIR", "/tmp/elsewhere")
	t.Setenv("SCOPY_MAX_ITEMS", "123")
	t.Setenv("SCOPY_SEARCH_DEADLINE", "300ms")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere", cfg.Storage.DataDir)
	assert.Equal(t, 123, cfg.Storage.MaxItems)
	assert.Equal(t, 300*time.Millisecond, cfg.Search.Deadline)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default()
	cfg.Search.DefaultLimit = 42
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Search.DefaultLimit)
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/data/scopy"
	assert.Equal(t, filepath.Join("/data/scopy", "scopy.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join("/data/scopy", "payloads"), cfg.PayloadDir())
	assert.Equal(t, filepath.Join("/data/scopy", "fuzzy.snap"), cfg.SnapshotPath())
}
