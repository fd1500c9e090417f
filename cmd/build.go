package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/schoolworks-dev/sbx/internal/cache"
	"github.com/schoolworks-dev/sbx/internal/config"
	"github.com/schoolworks-dev/sbx/internal/deps"
	"github.com/schoolworks-dev/sbx/internal/orchestrator"
	"github.com/schoolworks-dev/sbx/internal/perf"
	"github.com/schoolworks-dev/sbx/internal/progress"
)

var buildCmd = &cobra.Command{
	Use:          "build",
	Short:        "Run the full build pipeline",
	Long:         `Runs pre-build checks, the shared dependency build, all package builds in parallel, and post-build optimization, with caching throughout.`,
	RunE:         runBuild,
	SilenceUsage: true,
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForBuild(cmd)
	if err != nil {
		return err
	}

	if len(cfg.Packages) == 0 {
		return fmt.Errorf("no packages configured; add a packages section to .sbx.yml")
	}

	c, err := cache.Open(cfg.CacheDir, cfg.MaxCacheAge)
	if err != nil {
		return err
	}
	defer c.Close()

	tracker, err := deps.NewTracker(filepath.Join(cfg.CacheDir, "deps"))
	if err != nil {
		return err
	}

	monitor := perf.NewMonitor(perf.Options{
		SampleInterval: cfg.MemorySampleInterval,
		BundleTopN:     cfg.BundleSizeTopN,
		SpikeThreshold: cfg.MemorySpikeThreshold,
		ReportsDir:     cfg.ReportsDir,
	})

	repoRoot, err := os.Getwd()
	if err != nil {
		return err
	}

	prog := progress.New(cfg.Verbose, false)
	defer prog.Stop()

	o := orchestrator.New(cfg, c, monitor, tracker, prog, repoRoot)

	runErr := o.Run()
	prog.Stop()

	if report := o.Report(); report != nil {
		printReportSummary(report)
	}

	return runErr
}

// printReportSummary prints the human-readable slice of the report; the full
// machine-readable version is already on disk.
func printReportSummary(report *perf.Report) {
	fmt.Printf("\nBuild finished in %s\n", report.WallClock.Round(time.Millisecond))

	for _, phase := range report.Phases {
		if phase.Unfinished {
			fmt.Printf("  %-28s FAILED (no end time)\n", phase.Name)
			continue
		}

		fmt.Printf("  %-28s %10s  %5.1f%%\n", phase.Name, phase.Duration.Round(time.Millisecond), phase.Percent)
	}

	fmt.Printf("Peak heap %s, parallel savings %s\n",
		humanize.Bytes(report.Memory.PeakHeap),
		report.Bottleneck.ParallelSavings.Round(time.Millisecond))

	if len(report.Warnings) > 0 {
		fmt.Printf("\n%d warning(s):\n", len(report.Warnings))
		for _, w := range report.Warnings {
			fmt.Printf("  - %s", w.Message)
			if w.Details != "" {
				fmt.Printf(" (%s)", w.Details)
			}
			fmt.Println()
		}
	}

	if report.File != "" {
		fmt.Printf("Report: %s\n", report.File)
	}
}
