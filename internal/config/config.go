// Package config provides configuration management for tabula.
//
// Configuration comes from defaults, an optional YAML file and TABULA_*
// environment variables; the environment always wins over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/paveg/tabula/internal/chart"
	"gopkg.in/yaml.v3"
)

// Config represents the whole service configuration.
type Config struct {
	Limits  LimitsConfig  `json:"limits" yaml:"limits"`
	Charts  ChartsConfig  `json:"charts" yaml:"charts"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// LimitsConfig bounds ingestion. Zero takes the default ceiling.
type LimitsConfig struct {
	MaxFileBytes int64 `json:"max_file_bytes" yaml:"max_file_bytes" env:"TABULA_MAX_FILE_BYTES" env-default:"10485760"`
	MaxRows      int64 `json:"max_rows" yaml:"max_rows" env:"TABULA_MAX_ROWS" env-default:"1000000"`
	// NullValues replaces the default missing-value tokens when set
	NullValues []string `json:"null_values,omitempty" yaml:"null_values,omitempty" env:"TABULA_NULL_VALUES" env-separator:","`
}

// ChartsConfig holds the chart request ceilings.
type ChartsConfig struct {
	DefaultTopK           int `json:"default_top_k" yaml:"default_top_k" env:"TABULA_DEFAULT_TOP_K" env-default:"8"`
	MaxTopK               int `json:"max_top_k" yaml:"max_top_k" env:"TABULA_MAX_TOP_K" env-default:"100"`
	MaxBins               int `json:"max_bins" yaml:"max_bins" env:"TABULA_MAX_BINS" env-default:"100"`
	MaxCorrelationColumns int `json:"max_correlation_columns" yaml:"max_correlation_columns" env:"TABULA_MAX_CORRELATION_COLUMNS" env-default:"20"`
}

// EngineConfig selects the chart executor.
type EngineConfig struct {
	Kind string `json:"kind" yaml:"kind" env:"TABULA_ENGINE" env-default:"arrow"`
}

// StoreConfig selects where dataset records and uploads live.
type StoreConfig struct {
	Driver    string `json:"driver" yaml:"driver" env:"TABULA_STORE_DRIVER" env-default:"sqlite"`
	DSN       string `json:"dsn" yaml:"dsn" env:"TABULA_STORE_DSN" env-default:"tabula.db"`
	UploadDir string `json:"upload_dir" yaml:"upload_dir" env:"TABULA_UPLOAD_DIR" env-default:"uploads"`
	// MaxConnections applies to the postgres pool only
	MaxConnections int32 `json:"max_connections" yaml:"max_connections" env:"TABULA_STORE_MAX_CONNECTIONS" env-default:"10"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `json:"level" yaml:"level" env:"TABULA_LOG_LEVEL" env-default:"info"`
	Development bool   `json:"development" yaml:"development" env:"TABULA_LOG_DEVELOPMENT"`
}

// CacheConfig configures the chart payload cache.
type CacheConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled" env:"TABULA_CACHE_ENABLED"`
	MaxEntries int  `json:"max_entries" yaml:"max_entries" env:"TABULA_CACHE_MAX_ENTRIES" env-default:"256"`
}

// MetricsConfig toggles operation metrics.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"TABULA_METRICS_ENABLED"`
}

// Engine kinds.
const (
	EngineArrow  = "arrow"
	EngineSQLite = "sqlite"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default configuration values
const (
	DefaultMaxFileBytes   = 10 << 20
	DefaultMaxRows        = 1_000_000
	DefaultCacheEntries   = 256
	DefaultMaxConnections = 10
)

var logLevels = []string{"debug", "info", "warn", "error"}

// NewConfig creates a new configuration with default values.
func NewConfig() Config {
	limits := chart.DefaultLimits()
	return Config{
		Limits: LimitsConfig{
			MaxFileBytes: DefaultMaxFileBytes,
			MaxRows:      DefaultMaxRows,
		},
		Charts: ChartsConfig{
			DefaultTopK:           limits.DefaultTopK,
			MaxTopK:               limits.MaxTopK,
			MaxBins:               limits.MaxBins,
			MaxCorrelationColumns: limits.MaxCorrelationColumns,
		},
		Engine: EngineConfig{Kind: EngineArrow},
		Store: StoreConfig{
			Driver:         DriverSQLite,
			DSN:            "tabula.db",
			UploadDir:      "uploads",
			MaxConnections: DefaultMaxConnections,
		},
		Log:   LogConfig{Level: "info"},
		Cache: CacheConfig{MaxEntries: DefaultCacheEntries},
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Limits.MaxFileBytes < 0 {
		return fmt.Errorf("limits.max_file_bytes must be non-negative, got %d", c.Limits.MaxFileBytes)
	}
	if c.Limits.MaxRows < 0 {
		return fmt.Errorf("limits.max_rows must be non-negative, got %d", c.Limits.MaxRows)
	}

	ch := c.Charts
	if ch.MaxTopK <= 0 {
		return fmt.Errorf("charts.max_top_k must be positive, got %d", ch.MaxTopK)
	}
	if ch.DefaultTopK <= 0 || ch.DefaultTopK > ch.MaxTopK {
		return fmt.Errorf("charts.default_top_k must be in [1, %d], got %d", ch.MaxTopK, ch.DefaultTopK)
	}
	if ch.MaxBins < 2 {
		return fmt.Errorf("charts.max_bins must be at least 2, got %d", ch.MaxBins)
	}
	if ch.MaxCorrelationColumns < 2 {
		return fmt.Errorf("charts.max_correlation_columns must be at least 2, got %d", ch.MaxCorrelationColumns)
	}

	switch c.Engine.Kind {
	case EngineArrow, EngineSQLite:
	default:
		return fmt.Errorf("engine.kind must be %q or %q, got %q", EngineArrow, EngineSQLite, c.Engine.Kind)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, sqlite, postgres, got %q", c.Store.Driver)
	}
	if c.Store.UploadDir == "" {
		return fmt.Errorf("store.upload_dir is required")
	}
	if c.Store.MaxConnections < 0 {
		return fmt.Errorf("store.max_connections must be non-negative, got %d", c.Store.MaxConnections)
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("log.level must be one of %s, got %q", strings.Join(logLevels, ", "), c.Log.Level)
	}
	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive when the cache is enabled, got %d", c.Cache.MaxEntries)
	}
	return nil
}

// WithDefaults returns a copy with zero values replaced by defaults.
// Booleans are left as set.
func (c Config) WithDefaults() Config {
	d := NewConfig()
	if c.Limits.MaxFileBytes == 0 {
		c.Limits.MaxFileBytes = d.Limits.MaxFileBytes
	}
	if c.Limits.MaxRows == 0 {
		c.Limits.MaxRows = d.Limits.MaxRows
	}
	if c.Charts.DefaultTopK == 0 {
		c.Charts.DefaultTopK = d.Charts.DefaultTopK
	}
	if c.Charts.MaxTopK == 0 {
		c.Charts.MaxTopK = d.Charts.MaxTopK
	}
	if c.Charts.MaxBins == 0 {
		c.Charts.MaxBins = d.Charts.MaxBins
	}
	if c.Charts.MaxCorrelationColumns == 0 {
		c.Charts.MaxCorrelationColumns = d.Charts.MaxCorrelationColumns
	}
	if c.Engine.Kind == "" {
		c.Engine.Kind = d.Engine.Kind
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.DSN == "" && c.Store.Driver == DriverSQLite {
		c.Store.DSN = d.Store.DSN
	}
	if c.Store.UploadDir == "" {
		c.Store.UploadDir = d.Store.UploadDir
	}
	if c.Store.MaxConnections == 0 {
		c.Store.MaxConnections = d.Store.MaxConnections
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = d.Cache.MaxEntries
	}
	return c
}

// ChartLimits converts the chart section for the request validator.
func (c Config) ChartLimits() chart.Limits {
	limits := chart.DefaultLimits()
	limits.DefaultTopK = c.Charts.DefaultTopK
	limits.MaxTopK = c.Charts.MaxTopK
	limits.MaxBins = c.Charts.MaxBins
	limits.MaxCorrelationColumns = c.Charts.MaxCorrelationColumns
	return limits
}

// LoadFromYAML parses YAML configuration and fills in defaults.
func LoadFromYAML(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing YAML configuration: %w", err)
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// LoadFromFile reads a YAML or JSON file and applies TABULA_* overrides.
func LoadFromFile(filename string) (Config, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml", ".json":
	default:
		return Config{}, fmt.Errorf("unsupported config file format: %s", ext)
	}
	if _, err := os.Stat(filename); err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	var config Config
	if err := cleanenv.ReadConfig(filename, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration in %s: %w", filename, err)
	}
	return config, nil
}

// LoadFromEnv builds configuration from defaults and TABULA_* variables.
func LoadFromEnv() (Config, error) {
	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return config, nil
}

// Load reads filename when non-empty and the environment otherwise.
func Load(filename string) (Config, error) {
	if filename == "" {
		return LoadFromEnv()
	}
	return LoadFromFile(filename)
}
