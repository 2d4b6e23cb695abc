// Package config loads and validates the Scopy core configuration.
//
// Configuration precedence, highest last:
//  1. built-in defaults
//  2. config.yaml in the data directory
//  3. SCOPY_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// Config represents the complete Scopy core configuration.
type Config struct {
	Version int           `yaml:"version"`
	Storage StorageConfig `yaml:"storage"`
	Search  SearchConfig  `yaml:"search"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures the persistence repository.
type StorageConfig struct {
	// DataDir is the root directory for the database, payloads and logs.
	DataDir string `yaml:"data_dir"`

	// MaxItems is the item-count ceiling enforced by Cleanup.
	MaxItems int `yaml:"max_items"`

	// MaxTotalBytes is the aggregate-size ceiling enforced by Cleanup.
	MaxTotalBytes int64 `yaml:"max_total_bytes"`

	// InlineSizeCutoff is the payload size in bytes above which the
	// payload is written to an external file instead of the row.
	InlineSizeCutoff int `yaml:"inline_size_cutoff"`

	// BusyTimeout is the sqlite busy_timeout applied to both connections.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// SearchConfig configures the search engine and its caches.
type SearchConfig struct {
	// DefaultLimit is the page size when a request passes limit <= 0.
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit caps the page size of any single request.
	MaxLimit int `yaml:"max_limit"`

	// Deadline bounds a single search; expiry degrades to the fast path.
	Deadline time.Duration `yaml:"deadline"`

	// PrefilterThreshold is the corpus size above which short fuzzy
	// queries take the fast path unless forceFullFuzzy is set.
	PrefilterThreshold int `yaml:"prefilter_threshold"`

	// MaxCandidateFraction is the posting-intersection coverage above
	// which a short query falls back to the full-text prefilter.
	MaxCandidateFraction float64 `yaml:"max_candidate_fraction"`

	// RecentWindow is the size of the recent-items cache used by the
	// short-query and regex paths.
	RecentWindow int `yaml:"recent_window"`

	// RecentTTL bounds the age of the recent-items cache.
	RecentTTL time.Duration `yaml:"recent_ttl"`

	// ResultCacheSize is the entry cap of the short-query result cache.
	ResultCacheSize int `yaml:"result_cache_size"`

	// ResultCacheTTL bounds the age of cached result pages.
	ResultCacheTTL time.Duration `yaml:"result_cache_ttl"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Storage: StorageConfig{
			DataDir:          defaultDataDir(),
			MaxItems:         100_000,
			MaxTotalBytes:    2 << 30, // 2 GiB
			InlineSizeCutoff: 512 << 10,
			BusyTimeout:      5 * time.Second,
		},
		Search: SearchConfig{
			DefaultLimit:         50,
			MaxLimit:             500,
			Deadline:             150 * time.Millisecond,
			PrefilterThreshold:   2_000,
			MaxCandidateFraction: 0.85,
			RecentWindow:         500,
			RecentTTL:            30 * time.Second,
			ResultCacheSize:      128,
			ResultCacheTTL:       10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// Load reads the config file at path, layering it over defaults and
// applying environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Storage.MaxItems <= 0 {
		return fmt.Errorf("storage.max_items must be positive, got %d", c.Storage.MaxItems)
	}
	if c.Storage.MaxTotalBytes <= 0 {
		return fmt.Errorf("storage.max_total_bytes must be positive, got %d", c.Storage.MaxTotalBytes)
	}
	if c.Storage.InlineSizeCutoff < 0 {
		return fmt.Errorf("storage.inline_size_cutoff must not be negative, got %d", c.Storage.InlineSizeCutoff)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit must be in 1..%d, got %d", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Search.MaxCandidateFraction <= 0 || c.Search.MaxCandidateFraction > 1 {
		return fmt.Errorf("search.max_candidate_fraction must be in (0,1], got %g", c.Search.MaxCandidateFraction)
	}
	if c.Search.RecentWindow <= 0 {
		return fmt.Errorf("search.recent_window must be positive, got %d", c.Search.RecentWindow)
	}
	return nil
}

// DatabasePath returns the sqlite database path under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "scopy.db")
}

// PayloadDir returns the external-payload directory under the data dir.
func (c *Config) PayloadDir() string {
	return filepath.Join(c.Storage.DataDir, "payloads")
}

// SnapshotPath returns the fuzzy-index snapshot path under the data dir.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Storage.DataDir, "fuzzy.snap")
}

// applyEnv overrides fields from SCOPY_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("SCOPY_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("SCOPY_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Storage.MaxItems = n
		}
	}
	if v := os.Getenv("SCOPY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCOPY_SEARCH_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Search.Deadline = d
		}
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".scopy")
	}
	return filepath.Join(home, ".scopy")
}
