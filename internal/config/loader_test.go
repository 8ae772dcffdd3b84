package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesmith/pagesync/internal/config"
)

// chdir changes into dir for the duration of the test. It stands in for
// t.Chdir, which requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no stray config file is picked up.
	chdir(t, t.TempDir())

	cfg, err := config.NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.pagesmith.dev", cfg.API.BaseURL)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, "merge", cfg.Sync.Strategy)
	assert.Equal(t, time.Second, cfg.Sync.TimestampWindow)
	assert.True(t, cfg.Sync.ValidateIntegrity)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagesync.yaml")
	content := `
api:
  base_url: https://staging.pagesmith.dev
sync:
  batch_size: 25
  strategy: timestamp
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "https://staging.pagesmith.dev", cfg.API.BaseURL)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	assert.Equal(t, "timestamp", cfg.Sync.Strategy)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Values absent from the file keep their defaults.
	assert.Equal(t, 5, cfg.Sync.MaxConcurrent)
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PAGESYNC_SYNC_STRATEGY", "local_wins")
	t.Setenv("PAGESYNC_API_BASE_URL", "https://env.pagesmith.dev")

	cfg, err := config.NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, "local_wins", cfg.Sync.Strategy)
	assert.Equal(t, "https://env.pagesmith.dev", cfg.API.BaseURL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  strategy: newest\n"), 0o644))

	_, err := config.NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid conflict strategy")
}

func TestValidate(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Sync.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = config.DefaultConfig()
	cfg.API.BaseURL = ""
	assert.Error(t, cfg.Validate())
}
