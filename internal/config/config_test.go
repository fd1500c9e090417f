package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxCacheAge, cfg.MaxCacheAge)
	assert.Equal(t, DefaultMemorySampleInterval, cfg.MemorySampleInterval)
	assert.Equal(t, DefaultBundleSizeTopN, cfg.BundleSizeTopN)
	assert.Equal(t, DefaultMemorySpikeThreshold, cfg.MemorySpikeThreshold)
	assert.Equal(t, DefaultMinFreeDiskBytes, cfg.MinFreeDiskBytes)
	assert.True(t, filepath.IsAbs(cfg.CacheDir), "cache dir should be resolved to an absolute path")
	assert.Equal(t, filepath.Join(cfg.CacheDir, "reports"), cfg.ReportsDir)
	assert.Empty(t, cfg.Packages)
}

func TestLoad_Overrides(t *testing.T) {
	resetViper(t)

	viper.Set("max_cache_age", "2h")
	viper.Set("bundle_size_top_n", 5)
	viper.Set("no_cache", true)
	viper.Set("packages", []map[string]any{
		{
			"name":    "web",
			"dir":     "apps/web",
			"sources": []string{"src/**/*.ts"},
			"command": []string{"npm", "run", "build"},
			"outputs": []string{"dist/*"},
		},
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.MaxCacheAge)
	assert.Equal(t, 5, cfg.BundleSizeTopN)
	assert.True(t, cfg.NoCache)

	require.Len(t, cfg.Packages, 1)
	assert.Equal(t, "web", cfg.Packages[0].Name)
	assert.True(t, filepath.IsAbs(cfg.Packages[0].Dir), "package dirs should be resolved")
	assert.Equal(t, []string{"npm", "run", "build"}, cfg.Packages[0].Command)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name     string
		packages []map[string]any
		shared   map[string]any
		wantErr  string
	}{
		{
			name: "package without name",
			packages: []map[string]any{
				{"dir": "apps/web", "command": []string{"make"}},
			},
			wantErr: "has no name",
		},
		{
			name: "package without command",
			packages: []map[string]any{
				{"name": "web", "dir": "apps/web"},
			},
			wantErr: "no build command",
		},
		{
			name: "duplicate package names",
			packages: []map[string]any{
				{"name": "web", "command": []string{"make"}},
				{"name": "web", "command": []string{"make"}},
			},
			wantErr: "duplicate package name",
		},
		{
			name:    "shared command without inputs",
			shared:  map[string]any{"command": []string{"npm", "install"}},
			wantErr: "no inputs to key on",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)

			if tt.packages != nil {
				viper.Set("packages", tt.packages)
			}

			if tt.shared != nil {
				viper.Set("shared", tt.shared)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
