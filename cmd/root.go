package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schoolworks-dev/sbx/internal/logging"
	"github.com/schoolworks-dev/sbx/internal/version"
)

var rootCmd = &cobra.Command{
	Use:          "sbx",
	Short:        "Cached monorepo build runner",
	Long:         `Runs the multi-package build pipeline with content-addressed caching and performance telemetry.`,
	RunE:         runBuild,
	SilenceUsage: true,
}

func Execute() {
	logging.Init()

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	rootCmd.PersistentFlags().String("cache-dir", "", "Cache root directory")
	rootCmd.PersistentFlags().String("max-cache-age", "", "Max cache entry age before entries are treated as misses (e.g. 24h)")
	rootCmd.PersistentFlags().StringP("output-dir", "o", "", "Directory of emitted static assets")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable cache lookups (fresh results are still saved)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cacheCmd)
}
