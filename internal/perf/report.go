package perf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// PhaseSummary is one row of the report's phase table.
type PhaseSummary struct {
	Name        string            `json:"name"`
	Duration    time.Duration     `json:"duration"`
	Percent     float64           `json:"percent"`
	MemoryDelta int64             `json:"memory_delta"`
	SubPhases   []SubPhase        `json:"sub_phases,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// Unfinished marks a phase that was started but never ended, usually
	// because its build step failed
	Unfinished bool `json:"unfinished,omitempty"`
}

// MemorySummary aggregates the background sampler's series.
type MemorySummary struct {
	PeakHeap    uint64 `json:"peak_heap"`
	AverageHeap uint64 `json:"average_heap"`
	Samples     int    `json:"samples"`
	Sparkline   string `json:"sparkline"`
}

// Bottleneck is the derived analysis section of a report.
type Bottleneck struct {
	SlowestPhase    string        `json:"slowest_phase"`
	SlowestDuration time.Duration `json:"slowest_duration"`

	// MemorySpikes lists phases whose heap delta exceeded the threshold
	MemorySpikes []string `json:"memory_spikes,omitempty"`

	// ParallelSavings is the sum of phase durations minus wall-clock
	// elapsed: the time already being saved by running phases in parallel
	ParallelSavings time.Duration `json:"parallel_savings"`
}

// Report is the machine-readable result of one monitored run.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WallClock   time.Duration  `json:"wall_clock"`
	Phases      []PhaseSummary `json:"phases"`
	Memory      MemorySummary  `json:"memory"`
	Bundles     []BundleSize   `json:"bundles,omitempty"`
	Warnings    []Warning      `json:"warnings,omitempty"`
	Bottleneck  Bottleneck     `json:"bottleneck"`

	// File is where the report was persisted, empty if persistence was off
	File string `json:"-"`
}

// GenerateReport stops the background sampler, derives the report and, when a
// reports directory is configured, persists it to a timestamped file for
// comparison across runs.
func (m *Monitor) GenerateReport() (*Report, error) {
	m.stopSampler()

	m.mu.Lock()

	report := &Report{
		GeneratedAt: time.Now(),
		WallClock:   time.Since(m.started),
		Memory:      summarizeMemory(m.samples),
		Warnings:    append([]Warning(nil), m.warnings...),
	}

	var totalPhaseTime time.Duration
	for _, name := range m.order {
		phase := m.phases[name]

		summary := PhaseSummary{
			Name:        phase.Name,
			Duration:    phase.Duration,
			MemoryDelta: phase.MemoryDelta,
			SubPhases:   phase.SubPhases,
			Metadata:    phase.Metadata,
			Unfinished:  !phase.Finished(),
		}
		report.Phases = append(report.Phases, summary)

		totalPhaseTime += phase.Duration

		if phase.MemoryDelta > m.opts.SpikeThreshold {
			report.Bottleneck.MemorySpikes = append(report.Bottleneck.MemorySpikes, phase.Name)
		}
	}

	report.Bundles = topBundles(m.bundles, m.opts.BundleTopN)

	m.mu.Unlock()

	sort.SliceStable(report.Phases, func(i, j int) bool {
		return report.Phases[i].Duration > report.Phases[j].Duration
	})

	for i := range report.Phases {
		if totalPhaseTime > 0 {
			report.Phases[i].Percent = 100 * float64(report.Phases[i].Duration) / float64(totalPhaseTime)
		}
	}

	if len(report.Phases) > 0 {
		report.Bottleneck.SlowestPhase = report.Phases[0].Name
		report.Bottleneck.SlowestDuration = report.Phases[0].Duration
	}

	report.Bottleneck.ParallelSavings = totalPhaseTime - report.WallClock

	if m.opts.ReportsDir != "" {
		file, err := persistReport(m.opts.ReportsDir, report)
		if err != nil {
			return report, err
		}

		report.File = file
	}

	return report, nil
}

// summarizeMemory computes peak and average heap plus a sparkline.
func summarizeMemory(samples []MemorySample) MemorySummary {
	summary := MemorySummary{Samples: len(samples)}
	if len(samples) == 0 {
		return summary
	}

	series := make([]uint64, len(samples))

	var total uint64
	for i, s := range samples {
		series[i] = s.HeapAlloc
		total += s.HeapAlloc

		if s.HeapAlloc > summary.PeakHeap {
			summary.PeakHeap = s.HeapAlloc
		}
	}

	summary.AverageHeap = total / uint64(len(samples))
	summary.Sparkline = sparkline(series)

	return summary
}

// sparkline renders a series as a row of block characters.
func sparkline(series []uint64) string {
	if len(series) == 0 {
		return ""
	}

	blocks := []rune("▁▂▃▄▅▆▇█")

	low, high := series[0], series[0]
	for _, v := range series {
		if v < low {
			low = v
		}

		if v > high {
			high = v
		}
	}

	out := make([]rune, len(series))
	for i, v := range series {
		idx := 0
		if high > low {
			idx = int((v - low) * uint64(len(blocks)-1) / (high - low))
		}

		out[i] = blocks[idx]
	}

	return string(out)
}

// topBundles returns the n largest bundles by raw size.
func topBundles(bundles []BundleSize, n int) []BundleSize {
	sorted := make([]BundleSize, len(bundles))
	copy(sorted, bundles)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RawSize > sorted[j].RawSize
	})

	if len(sorted) > n {
		sorted = sorted[:n]
	}

	return sorted
}

// persistReport writes the report to a timestamped file under dir.
func persistReport(dir string, report *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	name := fmt.Sprintf("build-report-%s.json", report.GeneratedAt.Format("20060102-150405"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return path, nil
}
