package cmd

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

func TestCacheStatsCommand(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "cache")

	err := execute(t, "cache", "stats", "--cache-dir", cacheDir)
	require.NoError(t, err)

	// The command initialised an empty cache at the requested location.
	assert.FileExists(t, filepath.Join(cacheDir, "manifest.db"))
}

func TestCacheCleanCommand(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "cache")

	err := execute(t, "cache", "clean", "--cache-dir", cacheDir)
	require.NoError(t, err)
}

func TestCacheInvalidateCommand_BadPattern(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "cache")

	err := execute(t, "cache", "invalidate", "([", "--cache-dir", cacheDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern")
}
