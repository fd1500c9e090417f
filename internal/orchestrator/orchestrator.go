// Package orchestrator runs the four-stage build pipeline: pre-build checks,
// shared-dependency build, parallel per-package builds, and post-build
// optimization. Each stage is cached through the content-addressed cache and
// instrumented through the performance monitor.
package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"github.com/schoolworks-dev/sbx/internal/cache"
	"github.com/schoolworks-dev/sbx/internal/config"
	"github.com/schoolworks-dev/sbx/internal/deps"
	"github.com/schoolworks-dev/sbx/internal/perf"
	"github.com/schoolworks-dev/sbx/internal/progress"
)

// Commander interface for testing
type Commander interface {
	Run() error
}

// Orchestrator composes the cache, dependency tracker and performance monitor
// into one pipeline run. Construct one per run; it owns no global state, so
// tests can point isolated instances at distinct temporary roots.
type Orchestrator struct {
	cfg      *config.Config
	cache    *cache.Cache
	monitor  *perf.Monitor
	tracker  *deps.Tracker
	progress *progress.Progress
	repoRoot string
	report   *perf.Report

	// Subprocess seams, replaced in tests
	execCommand func(dir string, argv []string) Commander
	gitOutput   func(args ...string) (string, error)
	freeDisk    func(path string) (uint64, error)
}

// New creates an orchestrator rooted at repoRoot.
func New(cfg *config.Config, c *cache.Cache, m *perf.Monitor, t *deps.Tracker, p *progress.Progress, repoRoot string) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		cache:    c,
		monitor:  m,
		tracker:  t,
		progress: p,
		repoRoot: repoRoot,

		execCommand: func(dir string, argv []string) Commander {
			cmd := exec.Command(argv[0], argv[1:]...)
			cmd.Dir = dir
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr

			return cmd
		},
		gitOutput: func(args ...string) (string, error) {
			out, err := exec.Command("git", args...).Output()
			return strings.TrimSpace(string(out)), err
		},
		freeDisk: freeDiskBytes,
	}
}

// Run executes the pipeline. A stage failure aborts the remaining stages but
// the performance report collected so far is still generated and persisted.
func (o *Orchestrator) Run() error {
	runErr := o.runStages()

	report, err := o.monitor.GenerateReport()
	if err != nil {
		log.WithError(err).Warn("failed to persist performance report")
	}

	o.report = report

	if runErr != nil {
		return fmt.Errorf("build failed: %w", runErr)
	}

	return nil
}

// Report returns the performance report of the last Run, if any.
func (o *Orchestrator) Report() *perf.Report {
	return o.report
}

func (o *Orchestrator) runStages() error {
	o.preBuildChecks()

	if err := o.buildShared(); err != nil {
		return err
	}

	if err := o.buildPackages(); err != nil {
		return err
	}

	return o.postBuild()
}

// runCommand launches one external build tool invocation and waits for it.
// The exit code is the sole success signal; stdout/stderr pass through.
func (o *Orchestrator) runCommand(dir string, argv []string) (time.Duration, error) {
	start := time.Now()

	if err := o.execCommand(dir, argv).Run(); err != nil {
		return time.Since(start), fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
	}

	return time.Since(start), nil
}

// expandGlobs resolves glob patterns relative to base into absolute file
// paths, sorted and deduplicated. A pattern containing "**" matches files at
// any depth below the pattern's static prefix, with the final path component
// matched against the file name.
func expandGlobs(base string, patterns []string) ([]string, error) {
	set := make(map[string]bool)

	for _, pattern := range patterns {
		if strings.Contains(pattern, "**") {
			if err := expandRecursive(base, pattern, set); err != nil {
				return nil, err
			}

			continue
		}

		matches, err := filepath.Glob(filepath.Join(base, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid glob %s: %w", pattern, err)
		}

		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && !info.IsDir() {
				set[m] = true
			}
		}
	}

	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}

	sort.Strings(files)

	return files, nil
}

func expandRecursive(base, pattern string, set map[string]bool) error {
	prefix, suffix, _ := strings.Cut(pattern, "**")
	root := filepath.Join(base, filepath.Clean(prefix))
	name := strings.TrimPrefix(suffix, "/")

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if info.IsDir() {
			return nil
		}

		ok, err := filepath.Match(name, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("invalid glob %s: %w", pattern, err)
		}

		if ok || name == "" {
			set[path] = true
		}

		return nil
	})
}

// warnf records a warning with both the logger and the report.
func (o *Orchestrator) warnf(message, format string, args ...any) {
	o.monitor.AddWarning(message, fmt.Sprintf(format, args...))
}

func humanBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}

	return humanize.Bytes(uint64(n))
}
