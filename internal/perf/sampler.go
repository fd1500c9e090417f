package perf

import (
	"runtime"
	"time"
)

// MemorySample is one point of the background memory time series.
type MemorySample struct {
	Timestamp time.Time `json:"timestamp"`
	HeapAlloc uint64    `json:"heap_alloc"`
	Sys       uint64    `json:"sys"`
}

// sample runs on its own timer, independent of phase boundaries, until the
// monitor is stopped. The series feeds the peak/average summary and the
// sparkline in the report.
func (m *Monitor) sample() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.SampleInterval)
	defer ticker.Stop()

	m.captureSample()

	for {
		select {
		case <-ticker.C:
			m.captureSample()
		case <-m.stop:
			m.captureSample()
			return
		}
	}
}

func (m *Monitor) captureSample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, MemorySample{
		Timestamp: time.Now(),
		HeapAlloc: ms.HeapAlloc,
		Sys:       ms.Sys,
	})
}

// stopSampler halts the background sampler and waits for it to finish.
// Safe to call more than once.
func (m *Monitor) stopSampler() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}
