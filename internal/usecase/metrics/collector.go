// Package metrics aggregates per-call gateway measurements in memory.
package metrics

import (
	"slices"
	"sync"
	"time"

	"audacity-mcp/internal/domain"
)

// DefaultWindow is how many recent latencies feed the percentile.
const DefaultWindow = 1024

// Collector records call latencies and failures. It is safe for concurrent use.
// Counts cover the whole process lifetime; the percentile covers only the
// most recent window of calls.
type Collector struct {
	mu        sync.Mutex
	latencies []time.Duration // ring, len <= window
	next      int
	window    int
	total     int
	errors    int
}

// NewCollector creates an empty Collector with DefaultWindow.
func NewCollector() *Collector {
	return NewCollectorWithWindow(DefaultWindow)
}

// NewCollectorWithWindow creates an empty Collector keeping the last size
// latencies. A size below one selects DefaultWindow.
func NewCollectorWithWindow(size int) *Collector {
	if size < 1 {
		size = DefaultWindow
	}
	return &Collector{latencies: make([]time.Duration, 0, size), window: size}
}

// Record adds one call observation.
func (c *Collector) Record(duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.latencies) < c.window {
		c.latencies = append(c.latencies, duration)
	} else {
		c.latencies[c.next] = duration
	}
	c.next = (c.next + 1) % c.window
	c.total++
	if !success {
		c.errors++
	}
}

// P95 returns the 95th percentile latency, or zero when nothing was recorded.
func (c *Collector) P95() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.p95Locked()
}

func (c *Collector) p95Locked() time.Duration {
	n := len(c.latencies)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(c.latencies)
	slices.Sort(sorted)
	idx := int(float64(n) * 0.95)
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Summary returns a snapshot of the collected counters.
func (c *Collector) Summary() domain.MetricsSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := domain.MetricsSummary{
		TotalCalls:   c.total,
		Errors:       c.errors,
		P95LatencyMs: float64(c.p95Locked()) / float64(time.Millisecond),
	}
	if c.total > 0 {
		s.ErrorRate = float64(c.errors) / float64(c.total)
	}
	return s
}

var _ domain.MetricsRecorder = (*Collector)(nil)
