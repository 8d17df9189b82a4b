package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paveg/tabula/internal/chart"
	"github.com/paveg/tabula/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultValues(t *testing.T) {
	cfg := config.NewConfig()

	assert.EqualValues(t, 10<<20, cfg.Limits.MaxFileBytes)
	assert.EqualValues(t, 1_000_000, cfg.Limits.MaxRows)
	assert.Equal(t, 8, cfg.Charts.DefaultTopK)
	assert.Equal(t, 100, cfg.Charts.MaxTopK)
	assert.Equal(t, 100, cfg.Charts.MaxBins)
	assert.Equal(t, 20, cfg.Charts.MaxCorrelationColumns)
	assert.Equal(t, config.EngineArrow, cfg.Engine.Kind)
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, chart.DefaultLimits(), cfg.ChartLimits())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*config.Config)
		expectedError string
	}{
		{"valid config", func(*config.Config) {}, ""},
		{"negative file limit", func(c *config.Config) { c.Limits.MaxFileBytes = -1 }, "limits.max_file_bytes must be non-negative"},
		{"negative row limit", func(c *config.Config) { c.Limits.MaxRows = -5 }, "limits.max_rows must be non-negative"},
		{"default top-k above max", func(c *config.Config) { c.Charts.DefaultTopK = 101 }, "charts.default_top_k must be in [1, 100]"},
		{"zero max top-k", func(c *config.Config) { c.Charts.MaxTopK = 0 }, "charts.max_top_k must be positive"},
		{"one bin", func(c *config.Config) { c.Charts.MaxBins = 1 }, "charts.max_bins must be at least 2"},
		{"one correlation column", func(c *config.Config) { c.Charts.MaxCorrelationColumns = 1 }, "charts.max_correlation_columns must be at least 2"},
		{"unknown engine", func(c *config.Config) { c.Engine.Kind = "duckdb" }, `engine.kind must be "arrow" or "sqlite"`},
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mysql" }, "store.driver must be one of"},
		{"postgres without dsn", func(c *config.Config) { c.Store.Driver = config.DriverPostgres; c.Store.DSN = "" }, `store.dsn is required for driver "postgres"`},
		{"memory without dsn", func(c *config.Config) { c.Store.Driver = config.DriverMemory; c.Store.DSN = "" }, ""},
		{"no upload dir", func(c *config.Config) { c.Store.UploadDir = "" }, "store.upload_dir is required"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "verbose" }, "log.level must be one of"},
		{"upper-case log level", func(c *config.Config) { c.Log.Level = "DEBUG" }, ""},
		{"enabled cache without room", func(c *config.Config) { c.Cache.Enabled = true; c.Cache.MaxEntries = 0 }, "cache.max_entries must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectedError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := config.Config{
		Charts: config.ChartsConfig{DefaultTopK: 5},
		Cache:  config.CacheConfig{Enabled: true},
	}.WithDefaults()

	assert.Equal(t, 5, cfg.Charts.DefaultTopK)
	assert.Equal(t, 100, cfg.Charts.MaxTopK)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, config.DefaultCacheEntries, cfg.Cache.MaxEntries)
	assert.Equal(t, config.EngineArrow, cfg.Engine.Kind)
	assert.Equal(t, "tabula.db", cfg.Store.DSN)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	cfg, err := config.LoadFromYAML([]byte(`
limits:
  max_rows: 500
  null_values: ["-", "n/a"]
charts:
  default_top_k: 3
engine:
  kind: sqlite
store:
  driver: memory
cache:
  enabled: true
  max_entries: 16
`))
	require.NoError(t, err)
	assert.EqualValues(t, 500, cfg.Limits.MaxRows)
	assert.EqualValues(t, config.DefaultMaxFileBytes, cfg.Limits.MaxFileBytes)
	assert.Equal(t, []string{"-", "n/a"}, cfg.Limits.NullValues)
	assert.Equal(t, 3, cfg.ChartLimits().DefaultTopK)
	assert.Equal(t, config.EngineSQLite, cfg.Engine.Kind)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 16, cfg.Cache.MaxEntries)

	_, err = config.LoadFromYAML([]byte("charts: [1, 2"))
	assert.ErrorContains(t, err, "parsing YAML configuration")

	_, err = config.LoadFromYAML([]byte("engine:\n  kind: spark\n"))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := config.LoadFromEnv()
		require.NoError(t, err)
		assert.Equal(t, config.NewConfig(), cfg)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("TABULA_ENGINE", "sqlite")
		t.Setenv("TABULA_MAX_TOP_K", "50")
		t.Setenv("TABULA_CACHE_ENABLED", "true")
		t.Setenv("TABULA_NULL_VALUES", "-,missing")
		t.Setenv("TABULA_LOG_LEVEL", "debug")

		cfg, err := config.LoadFromEnv()
		require.NoError(t, err)
		assert.Equal(t, config.EngineSQLite, cfg.Engine.Kind)
		assert.Equal(t, 50, cfg.Charts.MaxTopK)
		assert.True(t, cfg.Cache.Enabled)
		assert.Equal(t, []string{"-", "missing"}, cfg.Limits.NullValues)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Setenv("TABULA_STORE_DRIVER", "mysql")
		_, err := config.LoadFromEnv()
		assert.ErrorContains(t, err, "store.driver")
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tabula.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  kind: sqlite\nstore:\n  driver: memory\n  upload_dir: files\n"), 0o600))

	t.Run("file values", func(t *testing.T) {
		cfg, err := config.LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, config.EngineSQLite, cfg.Engine.Kind)
		assert.Equal(t, "files", cfg.Store.UploadDir)
		assert.Equal(t, 8, cfg.Charts.DefaultTopK)
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("TABULA_ENGINE", "arrow")
		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, config.EngineArrow, cfg.Engine.Kind)
	})

	t.Run("json", func(t *testing.T) {
		jsonPath := filepath.Join(dir, "tabula.json")
		require.NoError(t, os.WriteFile(jsonPath, []byte(`{"charts":{"max_bins":40}}`), 0o600))
		cfg, err := config.LoadFromFile(jsonPath)
		require.NoError(t, err)
		assert.Equal(t, 40, cfg.Charts.MaxBins)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadFromFile(filepath.Join(dir, "absent.yaml"))
		assert.ErrorContains(t, err, "reading config file")
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := config.LoadFromFile(filepath.Join(dir, "tabula.ini"))
		assert.ErrorContains(t, err, "unsupported config file format")
	})
}
