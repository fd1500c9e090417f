package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultCacheDir             = ".sbx-cache"
	DefaultMaxCacheAge          = 24 * time.Hour
	DefaultMemorySampleInterval = 1 * time.Second
	DefaultBundleSizeTopN       = 10
	DefaultMemorySpikeThreshold = int64(100 << 20) // 100MB
	DefaultMinFreeDiskBytes     = uint64(1 << 30)  // 1GB
	DefaultOutputDir            = "dist"
)

// Package describes one independently buildable deliverable.
type Package struct {
	// Name identifies the package in phase names and cache keys
	Name string `mapstructure:"name"`

	// Dir is the package root, source globs and the command run relative to it
	Dir string `mapstructure:"dir"`

	// Sources are glob patterns (relative to Dir) selecting the files that
	// feed the cache key
	Sources []string `mapstructure:"sources"`

	// Command is the external build tool invocation, argv style
	Command []string `mapstructure:"command"`

	// Outputs are glob patterns (relative to Dir) selecting the build
	// outputs to cache
	Outputs []string `mapstructure:"outputs"`
}

// Shared describes the one-time shared-dependency build step.
type Shared struct {
	// Inputs are the schema/config files hashed into the shared cache key
	Inputs []string `mapstructure:"inputs"`

	// Command is the install/codegen invocation, argv style
	Command []string `mapstructure:"command"`

	// Outputs are glob patterns selecting the step's outputs to cache
	Outputs []string `mapstructure:"outputs"`
}

// Holds the configuration options for sbx
type Config struct {
	// Root of the on-disk cache (manifest, artifacts, deps, reports)
	CacheDir string

	// Entries older than this are treated as cache misses
	MaxCacheAge time.Duration

	// Interval of the background memory sampler
	MemorySampleInterval time.Duration

	// Number of rows in the report's bundle-size table
	BundleSizeTopN int

	// Per-phase heap growth beyond this is flagged as a spike
	MemorySpikeThreshold int64

	// Free disk space below this triggers a pre-build warning
	MinFreeDiskBytes uint64

	// Directory holding emitted static assets to compress and fingerprint
	OutputDir string

	// Directory for timestamped performance reports
	ReportsDir string

	// Shared-dependency build step (stage 2)
	Shared Shared

	// Deliverables built in parallel (stage 3)
	Packages []Package

	// Disable cache lookups (fresh results are still saved)
	NoCache bool

	// Enable verbose output
	Verbose bool
}

func Load() (*Config, error) {
	cfg := &Config{
		CacheDir:             viper.GetString("cache_dir"),
		MaxCacheAge:          viper.GetDuration("max_cache_age"),
		MemorySampleInterval: viper.GetDuration("memory_sample_interval"),
		BundleSizeTopN:       viper.GetInt("bundle_size_top_n"),
		MemorySpikeThreshold: viper.GetInt64("memory_spike_threshold"),
		MinFreeDiskBytes:     viper.GetUint64("min_free_disk_bytes"),
		OutputDir:            viper.GetString("output_dir"),
		ReportsDir:           viper.GetString("reports_dir"),
		NoCache:              viper.GetBool("no_cache"),
		Verbose:              viper.GetBool("verbose"),
	}

	if err := viper.UnmarshalKey("shared", &cfg.Shared); err != nil {
		return nil, fmt.Errorf("invalid shared section: %w", err)
	}

	if err := viper.UnmarshalKey("packages", &cfg.Packages); err != nil {
		return nil, fmt.Errorf("invalid packages section: %w", err)
	}

	// Apply defaults if not set
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}

	if cfg.MaxCacheAge <= 0 {
		cfg.MaxCacheAge = DefaultMaxCacheAge
	}

	if cfg.MemorySampleInterval <= 0 {
		cfg.MemorySampleInterval = DefaultMemorySampleInterval
	}

	if cfg.BundleSizeTopN <= 0 {
		cfg.BundleSizeTopN = DefaultBundleSizeTopN
	}

	if cfg.MemorySpikeThreshold <= 0 {
		cfg.MemorySpikeThreshold = DefaultMemorySpikeThreshold
	}

	if cfg.MinFreeDiskBytes == 0 {
		cfg.MinFreeDiskBytes = DefaultMinFreeDiskBytes
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}

	if cfg.ReportsDir == "" {
		cfg.ReportsDir = filepath.Join(cfg.CacheDir, "reports")
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if abs, err := filepath.Abs(c.CacheDir); err == nil {
		c.CacheDir = abs
	}

	if abs, err := filepath.Abs(c.OutputDir); err == nil {
		c.OutputDir = abs
	}

	if abs, err := filepath.Abs(c.ReportsDir); err == nil {
		c.ReportsDir = abs
	}

	seen := make(map[string]bool, len(c.Packages))
	for i, pkg := range c.Packages {
		if pkg.Name == "" {
			return fmt.Errorf("package %d has no name", i)
		}

		if seen[pkg.Name] {
			return fmt.Errorf("duplicate package name: %s", pkg.Name)
		}

		seen[pkg.Name] = true

		if len(pkg.Command) == 0 {
			return fmt.Errorf("package %s has no build command", pkg.Name)
		}

		if abs, err := filepath.Abs(pkg.Dir); err == nil {
			c.Packages[i].Dir = abs
		}
	}

	if len(c.Shared.Command) > 0 && len(c.Shared.Inputs) == 0 {
		return fmt.Errorf("shared step has a command but no inputs to key on")
	}

	return nil
}
