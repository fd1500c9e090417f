package perf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, opts Options) *Monitor {
	t.Helper()

	m := NewMonitor(opts)
	t.Cleanup(m.stopSampler)

	return m
}

func TestMonitor_PhaseAccounting(t *testing.T) {
	m := newTestMonitor(t, Options{})

	m.StartPhase("compile", map[string]string{"package": "web"})
	time.Sleep(10 * time.Millisecond)
	m.EndPhase("compile", map[string]string{"cached": "false"})

	m.mu.Lock()
	phase := m.phases["compile"]
	m.mu.Unlock()

	require.NotNil(t, phase)
	assert.True(t, phase.Finished())
	assert.Equal(t, phase.EndTime.Sub(phase.StartTime), phase.Duration)
	assert.GreaterOrEqual(t, phase.Duration, 10*time.Millisecond)
	assert.Equal(t, "web", phase.Metadata["package"])
	assert.Equal(t, "false", phase.Metadata["cached"], "EndPhase metadata should merge in")
}

func TestMonitor_EndUnstartedPhaseIsWarning(t *testing.T) {
	m := newTestMonitor(t, Options{})

	m.EndPhase("never-started", nil)

	warnings := m.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "unstarted")
}

func TestMonitor_TrackSubPhase(t *testing.T) {
	m := newTestMonitor(t, Options{})

	m.StartPhase("build", nil)

	err := m.TrackSubPhase("build", "typecheck", func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	// fn errors pass through untouched.
	wantErr := errors.New("boom")
	err = m.TrackSubPhase("build", "lint", func() error { return wantErr })
	assert.ErrorIs(t, err, wantErr)

	m.EndPhase("build", nil)

	m.mu.Lock()
	phase := m.phases["build"]
	m.mu.Unlock()

	require.Len(t, phase.SubPhases, 2)
	assert.Equal(t, "typecheck", phase.SubPhases[0].Name)
	assert.GreaterOrEqual(t, phase.SubPhases[0].Duration, 5*time.Millisecond)

	// fn still runs when the parent is unknown.
	ran := false
	_ = m.TrackSubPhase("ghost", "x", func() error { ran = true; return nil })
	assert.True(t, ran)
}

func TestMonitor_GenerateReport(t *testing.T) {
	reportsDir := t.TempDir()
	m := NewMonitor(Options{
		SampleInterval: 5 * time.Millisecond,
		ReportsDir:     reportsDir,
	})

	m.StartPhase("slow", nil)
	time.Sleep(30 * time.Millisecond)
	m.EndPhase("slow", nil)

	m.StartPhase("fast", nil)
	m.EndPhase("fast", nil)

	// A failed build leaves its phase open.
	m.StartPhase("broken", nil)

	m.AddWarning("build failed", "broken: exit status 1")

	report, err := m.GenerateReport()
	require.NoError(t, err)

	require.Len(t, report.Phases, 3)
	assert.Equal(t, "slow", report.Phases[0].Name, "phases should sort by duration descending")
	assert.Equal(t, "slow", report.Bottleneck.SlowestPhase)

	var broken *PhaseSummary
	for i := range report.Phases {
		if report.Phases[i].Name == "broken" {
			broken = &report.Phases[i]
		}
	}
	require.NotNil(t, broken)
	assert.True(t, broken.Unfinished, "a phase with no end should be flagged")
	assert.Zero(t, broken.Duration)

	require.Len(t, report.Warnings, 1)

	assert.GreaterOrEqual(t, report.Memory.Samples, 2)
	assert.NotEmpty(t, report.Memory.Sparkline)
	assert.GreaterOrEqual(t, report.Memory.PeakHeap, report.Memory.AverageHeap)

	// Persisted to a timestamped file.
	require.NotEmpty(t, report.File)
	assert.FileExists(t, report.File)

	entries, err := os.ReadDir(reportsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "build-report-")
}

func TestMonitor_ParallelSavings(t *testing.T) {
	m := newTestMonitor(t, Options{})

	// Two overlapping phases: summed durations exceed wall clock.
	m.StartPhase("a", nil)
	m.StartPhase("b", nil)
	time.Sleep(20 * time.Millisecond)
	m.EndPhase("a", nil)
	m.EndPhase("b", nil)

	report, err := m.GenerateReport()
	require.NoError(t, err)

	var total time.Duration
	for _, p := range report.Phases {
		total += p.Duration
	}

	assert.Equal(t, total-report.WallClock, report.Bottleneck.ParallelSavings)
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "", sparkline(nil))
	assert.Equal(t, "▁▁▁", sparkline([]uint64{5, 5, 5}), "flat series renders low blocks")

	line := sparkline([]uint64{0, 50, 100})
	assert.Equal(t, 3, len([]rune(line)))
	assert.Equal(t, '▁', []rune(line)[0])
	assert.Equal(t, '█', []rune(line)[2])
}

func TestTrackBundleSizes(t *testing.T) {
	m := newTestMonitor(t, Options{BundleTopN: 2})

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))

	// Highly compressible content.
	big := make([]byte, 4096)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), big, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "style.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.txt"), []byte("x"), 0o644))

	require.NoError(t, m.TrackBundleSizes(dir))

	report, err := m.GenerateReport()
	require.NoError(t, err)

	require.Len(t, report.Bundles, 2, "bundle table should be capped at top N")
	assert.Equal(t, "app.js", report.Bundles[0].Path, "largest bundle first")
	assert.Equal(t, int64(4096), report.Bundles[0].RawSize)
	assert.Less(t, report.Bundles[0].GzipSize, report.Bundles[0].RawSize)
	assert.Less(t, report.Bundles[0].ZstdSize, report.Bundles[0].RawSize)
}
