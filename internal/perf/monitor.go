// Package perf instruments a build run: named timed phases with memory
// deltas, a background memory sampler, bundle-size analysis and a final
// bottleneck report.
//
// Telemetry never interrupts a build. Bookkeeping mistakes such as ending a
// phase that was never started are downgraded to warnings and collected into
// the report alongside whatever the pipeline wanted to flag itself.
package perf

import (
	"runtime"
	"sync"
	"time"

	"github.com/apex/log"
)

// Default thresholds. MaxCacheAge lives in the cache package; these cover
// the telemetry side.
const (
	DefaultSampleInterval = 1 * time.Second
	DefaultBundleTopN     = 10
	DefaultSpikeThreshold = 100 << 20 // 100MB
)

// Options configures a Monitor. Zero values fall back to the defaults above.
type Options struct {
	SampleInterval time.Duration
	BundleTopN     int
	SpikeThreshold int64
	ReportsDir     string
}

// SubPhase is one measured unit of work inside a phase.
type SubPhase struct {
	Name      string        `json:"name"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Phase is a named, timed unit of build work.
type Phase struct {
	Name        string            `json:"name"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Duration    time.Duration     `json:"duration"`
	HeapBefore  uint64            `json:"heap_before"`
	HeapAfter   uint64            `json:"heap_after"`
	MemoryDelta int64             `json:"memory_delta"`
	SubPhases   []SubPhase        `json:"sub_phases,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Finished reports whether the phase was closed by EndPhase.
func (p *Phase) Finished() bool {
	return !p.EndTime.IsZero()
}

// Warning is a free-form diagnostic captured for the report.
type Warning struct {
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor tracks phases, memory and warnings for one build run.
// Phase names must be unique per run; concurrent phases are safe as long as
// each goroutine uses its own name.
type Monitor struct {
	mu       sync.Mutex
	opts     Options
	started  time.Time
	phases   map[string]*Phase
	order    []string
	samples  []MemorySample
	warnings []Warning
	bundles  []BundleSize

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a Monitor and starts its background memory sampler.
func NewMonitor(opts Options) *Monitor {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}

	if opts.BundleTopN <= 0 {
		opts.BundleTopN = DefaultBundleTopN
	}

	if opts.SpikeThreshold <= 0 {
		opts.SpikeThreshold = DefaultSpikeThreshold
	}

	m := &Monitor{
		opts:    opts,
		started: time.Now(),
		phases:  make(map[string]*Phase),
		stop:    make(chan struct{}),
	}

	m.wg.Add(1)
	go m.sample()

	return m
}

// StartPhase opens a named phase, snapshotting time and heap usage.
func (m *Monitor) StartPhase(name string, metadata map[string]string) {
	heap := heapInUse()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.phases[name]; exists {
		m.warn("phase started twice", name)
		return
	}

	m.phases[name] = &Phase{
		Name:       name,
		StartTime:  time.Now(),
		HeapBefore: heap,
		Metadata:   metadata,
	}
	m.order = append(m.order, name)
}

// EndPhase closes a named phase, computing duration and memory delta.
// Ending a phase that was never started records a warning and is otherwise a
// no-op.
func (m *Monitor) EndPhase(name string, metadata map[string]string) {
	heap := heapInUse()

	m.mu.Lock()
	defer m.mu.Unlock()

	phase, ok := m.phases[name]
	if !ok {
		m.warn("endPhase called for unstarted phase", name)
		return
	}

	phase.EndTime = time.Now()
	phase.Duration = phase.EndTime.Sub(phase.StartTime)
	phase.HeapAfter = heap
	phase.MemoryDelta = int64(heap) - int64(phase.HeapBefore)

	for k, v := range metadata {
		if phase.Metadata == nil {
			phase.Metadata = make(map[string]string)
		}

		phase.Metadata[k] = v
	}
}

// TrackSubPhase runs fn and appends its timing to the parent phase's
// sub-phase list. The parent's own start and end are untouched. fn runs even
// if the parent does not exist; only the bookkeeping is skipped.
func (m *Monitor) TrackSubPhase(parent, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()

	phase, ok := m.phases[parent]
	if !ok {
		m.warn("sub-phase recorded against unknown phase", parent+"/"+name)
		return err
	}

	phase.SubPhases = append(phase.SubPhases, SubPhase{
		Name:      name,
		Duration:  elapsed,
		Timestamp: start,
	})

	return err
}

// AddWarning captures a diagnostic for the report. Never fails.
func (m *Monitor) AddWarning(message, details string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warn(message, details)
}

// Warnings returns a copy of the warnings captured so far.
func (m *Monitor) Warnings() []Warning {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Warning, len(m.warnings))
	copy(out, m.warnings)

	return out
}

// warn appends a warning. Caller must hold the lock.
func (m *Monitor) warn(message, details string) {
	log.WithField("details", details).Warn(message)
	m.warnings = append(m.warnings, Warning{
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	})
}

// heapInUse snapshots current heap usage.
func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return ms.HeapAlloc
}
