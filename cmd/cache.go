package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/schoolworks-dev/sbx/internal/cache"
	"github.com/schoolworks-dev/sbx/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the build cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:          "clean",
	Short:        "Remove cache entries older than the max age",
	RunE:         runCacheClean,
	SilenceUsage: true,
}

var cacheStatsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show cache statistics",
	RunE:         runCacheStats,
	SilenceUsage: true,
}

var cacheInvalidateCmd = &cobra.Command{
	Use:          "invalidate <pattern>",
	Short:        "Remove all cache entries whose key matches a regular expression",
	Args:         cobra.ExactArgs(1),
	RunE:         runCacheInvalidate,
	SilenceUsage: true,
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}

func openCache(cmd *cobra.Command) (*cache.Cache, *config.Config, error) {
	cfg, err := config.NewLoader().LoadForBuild(cmd)
	if err != nil {
		return nil, nil, err
	}

	c, err := cache.Open(cfg.CacheDir, cfg.MaxCacheAge)
	if err != nil {
		return nil, nil, err
	}

	return c, cfg, nil
}

func runCacheClean(cmd *cobra.Command, args []string) error {
	c, cfg, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	removed, freed, err := c.Clean(cfg.MaxCacheAge)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d entries, freed %s\n", removed, humanize.Bytes(uint64(freed)))

	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	c, _, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Entries:    %d\n", stats.Entries)
	fmt.Printf("Artifacts:  %d (%s)\n", stats.Artifacts, humanize.Bytes(uint64(stats.TotalBytes)))
	fmt.Printf("Lookups:    %d\n", stats.Lookups)
	fmt.Printf("Hit rate:   %.1f%%\n", stats.HitRate*100)
	fmt.Printf("Time saved: %s\n", stats.TimeSaved.Round(time.Millisecond))

	return nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	c, _, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	removed, err := c.InvalidatePattern(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Invalidated %d entries\n", removed)

	return nil
}
