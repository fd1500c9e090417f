package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/schoolworks-dev/sbx/internal/config"
	"github.com/schoolworks-dev/sbx/internal/deps"
	"github.com/schoolworks-dev/sbx/internal/hasher"
)

// preBuildChecks runs stage 1: uncommitted-change and disk-space checks plus
// a proactive cache cleanup. Everything here is advisory; nothing fails the
// build.
func (o *Orchestrator) preBuildChecks() {
	o.monitor.StartPhase("pre-build", nil)
	defer o.monitor.EndPhase("pre-build", nil)

	o.progress.Updatef("running pre-build checks")

	if status, err := o.gitOutput("status", "--porcelain"); err == nil && status != "" {
		o.warnf("uncommitted changes in source tree", "%d dirty paths", len(strings.Split(status, "\n")))
	}

	if free, err := o.freeDisk(o.repoRoot); err == nil && free < o.cfg.MinFreeDiskBytes {
		o.warnf("low disk space", "%s free, want at least %s",
			humanBytes(int64(free)), humanBytes(int64(o.cfg.MinFreeDiskBytes)))
	}

	removed, freed, err := o.cache.Clean(o.cfg.MaxCacheAge)
	if err != nil {
		o.warnf("cache cleanup failed", "%v", err)
		return
	}

	if removed > 0 {
		log.Infof("cache cleanup removed %d entries, freed %s", removed, humanBytes(freed))
	}
}

// buildShared runs stage 2: the one-time install/codegen step keyed over the
// shared schema and config inputs.
func (o *Orchestrator) buildShared() error {
	if len(o.cfg.Shared.Command) == 0 {
		return nil
	}

	const phase = "shared-dependencies"
	o.monitor.StartPhase(phase, nil)

	o.progress.Updatef("building shared dependencies")

	inputs := make([]string, len(o.cfg.Shared.Inputs))
	for i, in := range o.cfg.Shared.Inputs {
		inputs[i] = o.abs(in)
	}

	key, err := hasher.CacheKey(inputs, map[string]string{
		"step":    "shared",
		"command": strings.Join(o.cfg.Shared.Command, " "),
	})
	if err != nil {
		o.monitor.EndPhase(phase, nil)
		return fmt.Errorf("failed to compute shared cache key: %w", err)
	}

	if restored := o.tryRestore(key, phase); restored {
		o.monitor.EndPhase(phase, map[string]string{"cached": "true"})
		return nil
	}

	elapsed, err := o.runCommand(o.repoRoot, o.cfg.Shared.Command)
	if err != nil {
		// Fatal: the phase stays open so the report shows it unfinished.
		o.warnf("shared dependency build failed", "%v", err)
		return err
	}

	o.saveOutputs(key, o.repoRoot, o.cfg.Shared.Outputs, elapsed)
	o.monitor.EndPhase(phase, map[string]string{"cached": "false"})

	return nil
}

// buildPackages runs stage 3: every package is keyed, checked and built
// independently and concurrently. All packages are launched together; the
// stage completes when all finish. The first failure is propagated, but
// already-started sibling builds run to completion (there is no subprocess
// cancellation by design).
func (o *Orchestrator) buildPackages() error {
	var g errgroup.Group

	for _, pkg := range o.cfg.Packages {
		pkg := pkg
		g.Go(func() error {
			return o.buildPackage(pkg)
		})
	}

	return g.Wait()
}

func (o *Orchestrator) buildPackage(pkg config.Package) error {
	phase := "build:" + pkg.Name
	o.monitor.StartPhase(phase, map[string]string{"package": pkg.Name})

	o.progress.Updatef("building %s", pkg.Name)

	sources, err := expandGlobs(pkg.Dir, pkg.Sources)
	if err != nil {
		o.monitor.EndPhase(phase, nil)
		return fmt.Errorf("%s: failed to resolve sources: %w", pkg.Name, err)
	}

	key, err := hasher.CacheKey(sources, map[string]string{
		"package": pkg.Name,
		"command": strings.Join(pkg.Command, " "),
	})
	if err != nil {
		o.monitor.EndPhase(phase, nil)
		return fmt.Errorf("%s: failed to compute cache key: %w", pkg.Name, err)
	}

	o.trackDependencies(pkg, sources)

	if restored := o.tryRestore(key, pkg.Name); restored {
		o.monitor.EndPhase(phase, map[string]string{"cached": "true"})
		return nil
	}

	elapsed, err := o.runCommand(pkg.Dir, pkg.Command)
	if err != nil {
		// Fatal: the phase stays open so the report shows it unfinished.
		o.warnf("package build failed", "%s: %v", pkg.Name, err)
		return fmt.Errorf("%s: %w", pkg.Name, err)
	}

	o.saveOutputs(key, pkg.Dir, pkg.Outputs, elapsed)
	o.monitor.EndPhase(phase, map[string]string{"cached": "false"})

	o.progress.Printf("built %s in %s", pkg.Name, elapsed.Round(time.Millisecond))

	return nil
}

// tryRestore checks the cache for key and restores on a hit. Cache trouble is
// never fatal; it degrades to a miss with a warning.
func (o *Orchestrator) tryRestore(key, label string) bool {
	if o.cfg.NoCache {
		return false
	}

	entry, err := o.cache.Check(key)
	if err != nil {
		o.warnf("cache lookup failed", "%s: %v", label, err)
		return false
	}

	if entry == nil {
		return false
	}

	saved, err := o.cache.Restore(entry)
	if err != nil {
		o.warnf("cache restore failed", "%s: %v", label, err)
		return false
	}

	// Negative savings are reported as-is: they mean the cache is not
	// paying for itself on this phase.
	o.progress.Printf("restored %s from cache (saved %s)", label, saved.Round(time.Millisecond))
	log.WithField("saved", saved.String()).Debugf("cache hit for %s", label)

	return true
}

// saveOutputs stores a build's outputs under key. Failing to populate the
// cache is a warning, not a build failure.
func (o *Orchestrator) saveOutputs(key, dir string, patterns []string, buildTime time.Duration) {
	outputs, err := expandGlobs(dir, patterns)
	if err != nil {
		o.warnf("failed to collect outputs", "%v", err)
		return
	}

	if len(outputs) == 0 {
		o.warnf("no outputs matched", "dir %s patterns %v", dir, patterns)
		return
	}

	if _, err := o.cache.Save(key, outputs, buildTime); err != nil {
		o.warnf("failed to save cache entry", "%v", err)
	}
}

// trackDependencies records the package's resolved source set for future
// invalidation work. Advisory only; failures are warnings.
func (o *Orchestrator) trackDependencies(pkg config.Package, sources []string) {
	records := make([]deps.Dependency, 0, len(sources))
	for _, src := range sources {
		digest, err := hasher.HashFile(src)
		if err != nil {
			digest = "missing"
		}

		records = append(records, deps.Dependency{Path: src, Hash: digest})
	}

	if err := o.tracker.Track(pkg.Dir, records); err != nil {
		o.warnf("failed to record dependencies", "%s: %v", pkg.Name, err)
	}
}

func (o *Orchestrator) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(o.repoRoot, path)
}
