package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForBuild loads configuration for a pipeline run: defaults, then the
// global config, then the nearest local config, then command-line flags.
func (l *Loader) LoadForBuild(cmd *cobra.Command) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig()
	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("cache_dir", DefaultCacheDir)
	viper.SetDefault("max_cache_age", DefaultMaxCacheAge)
	viper.SetDefault("memory_sample_interval", DefaultMemorySampleInterval)
	viper.SetDefault("bundle_size_top_n", DefaultBundleSizeTopN)
	viper.SetDefault("memory_spike_threshold", DefaultMemorySpikeThreshold)
	viper.SetDefault("min_free_disk_bytes", DefaultMinFreeDiskBytes)
	viper.SetDefault("output_dir", DefaultOutputDir)
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalDir := filepath.Join(configDir, "sbx")

	for _, ext := range []string{"yml", "yaml", "json", "toml"} {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig loads the nearest project configuration
func (l *Loader) loadLocalConfig() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	localPath := FindLocalConfig(cwd)
	if localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.MergeInConfig()
	}
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("cache_dir", cmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("max_cache_age", cmd.Flags().Lookup("max-cache-age"))
	_ = viper.BindPFlag("output_dir", cmd.Flags().Lookup("output-dir"))
	_ = viper.BindPFlag("no_cache", cmd.Flags().Lookup("no-cache"))
	_ = viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
}
