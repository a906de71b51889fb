package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises observed step durations.
type TickMetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
	// Overruns counts steps that took longer than their timestep.
	Overruns int
	// Dropped counts steps skipped because the loop fell too far behind.
	Dropped int
}

// AverageFPS derives the steps-per-second equivalent of the sampled duration.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the simulation loop. A nil
// monitor ignores every sample.
type TickMonitor struct {
	mu       sync.Mutex
	samples  int
	total    time.Duration
	max      time.Duration
	last     time.Duration
	overruns int
	dropped  int
}

// NewTickMonitor constructs an empty monitor ready to collect samples.
func NewTickMonitor() *TickMonitor {
	return &TickMonitor{}
}

// Observe records how long one step took against its budget.
func (m *TickMonitor) Observe(duration, budget time.Duration) {
	if m == nil || duration < 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	if budget > 0 && duration > budget {
		m.overruns++
	}
	m.mu.Unlock()
}

// Dropped records steps the loop skipped to catch up.
func (m *TickMonitor) Dropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	m.dropped += n
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := TickMetricsSnapshot{
		Samples:  m.samples,
		Max:      m.max,
		Last:     m.last,
		Overruns: m.overruns,
		Dropped:  m.dropped,
	}
	if m.samples > 0 {
		out.Average = m.total / time.Duration(m.samples)
	}
	return out
}

// Reset clears the accumulated statistics, typically on reconnect.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.total, m.max, m.last = 0, 0, 0, 0
	m.overruns, m.dropped = 0, 0
	m.mu.Unlock()
}
