package control

import (
	"sync"
	"time"
)

// TickStats summarizes control loop timing since the last reset.
type TickStats struct {
	Count    uint64        `json:"count"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Avg      time.Duration `json:"avg"`
	Overruns uint64        `json:"overruns"`
}

// PerfMonitor tracks per-tick execution time against the tick budget. An
// overrun is counted when a tick exceeds 80% of the budget, leaving headroom
// before the deadline is actually missed.
type PerfMonitor struct {
	mu       sync.Mutex
	budget   time.Duration
	warnAt   time.Duration
	count    uint64
	min      time.Duration
	max      time.Duration
	total    time.Duration
	overruns uint64
}

// NewPerfMonitor builds a monitor for the given tick budget.
func NewPerfMonitor(budget time.Duration) *PerfMonitor {
	return &PerfMonitor{
		budget: budget,
		warnAt: budget * 8 / 10,
		min:    time.Duration(1<<63 - 1),
	}
}

// Record accounts one tick duration and reports whether it breached the
// warning threshold.
func (m *PerfMonitor) Record(d time.Duration) (overrun bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count++
	m.total += d
	if d < m.min {
		m.min = d
	}
	if d > m.max {
		m.max = d
	}
	if d > m.warnAt {
		m.overruns++
		return true
	}
	return false
}

// Reset clears accumulated statistics.
func (m *PerfMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count = 0
	m.min = time.Duration(1<<63 - 1)
	m.max = 0
	m.total = 0
	m.overruns = 0
}

// Stats returns a snapshot of the accumulated statistics.
func (m *PerfMonitor) Stats() TickStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := TickStats{
		Count:    m.count,
		Max:      m.max,
		Overruns: m.overruns,
	}
	if m.count > 0 {
		stats.Min = m.min
		stats.Avg = m.total / time.Duration(m.count)
	}
	return stats
}
