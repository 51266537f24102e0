package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const maxHistory = 300

// Collector records per-call metrics in a thread-safe manner.
type Collector struct {
	mu       sync.Mutex
	total    *opStats
	ops      map[string]*opStats
	failures map[string]map[string]int
	history  []DataPoint
	lastSnap int64
	start    time.Time
}

type opStats struct {
	hist       *hdrhistogram.Histogram
	successes  int64
	failures   int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
}

func newOpStats() *opStats {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &opStats{hist: hdrhistogram.New(1, 60_000_000, 3)}
}

func (s *opStats) record(latency time.Duration, failed bool) {
	if latency > 0 {
		us := latency.Microseconds()
		if us < s.hist.LowestTrackableValue() {
			us = s.hist.LowestTrackableValue()
		}
		if us > s.hist.HighestTrackableValue() {
			us = s.hist.HighestTrackableValue()
		}
		_ = s.hist.RecordValue(us)
	}
	s.sumLatency += latency
	if s.minLatency == 0 || latency < s.minLatency {
		s.minLatency = latency
	}
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	if failed {
		s.failures++
	} else {
		s.successes++
	}
}

func (s *opStats) latencies() LatencyStats {
	ls := LatencyStats{
		Total:      s.successes + s.failures,
		Successes:  s.successes,
		Failures:   s.failures,
		MinLatency: s.minLatency,
		MaxLatency: s.maxLatency,
	}
	if ls.Total > 0 {
		ls.MeanLatency = time.Duration(int64(s.sumLatency) / ls.Total)
	}
	if s.hist.TotalCount() > 0 {
		ls.P50Latency = time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond
		ls.P90Latency = time.Duration(s.hist.ValueAtQuantile(90)) * time.Microsecond
		ls.P99Latency = time.Duration(s.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	ls.MinLatencyMs = toMs(ls.MinLatency)
	ls.MaxLatencyMs = toMs(ls.MaxLatency)
	ls.MeanLatencyMs = toMs(ls.MeanLatency)
	ls.P50LatencyMs = toMs(ls.P50Latency)
	ls.P90LatencyMs = toMs(ls.P90Latency)
	ls.P99LatencyMs = toMs(ls.P99Latency)
	return ls
}

// LatencyStats are counts and latency figures for a set of calls.
type LatencyStats struct {
	Total       int64         `json:"total" yaml:"total"`
	Successes   int64         `json:"successes" yaml:"successes"`
	Failures    int64         `json:"failures" yaml:"failures"`
	MinLatency  time.Duration `json:"-" yaml:"-"`
	MaxLatency  time.Duration `json:"-" yaml:"-"`
	MeanLatency time.Duration `json:"-" yaml:"-"`
	P50Latency  time.Duration `json:"-" yaml:"-"`
	P90Latency  time.Duration `json:"-" yaml:"-"`
	P99Latency  time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
}

// OperationStats is the breakdown for one tank API operation.
type OperationStats struct {
	Operation    string `json:"operation" yaml:"operation"`
	LatencyStats `yaml:",inline"`
}

// Stats represents aggregated metrics.
type Stats struct {
	LatencyStats  `yaml:",inline"`
	Duration      time.Duration    `json:"-" yaml:"-"`
	DurationMs    float64          `json:"duration_ms" yaml:"duration_ms"`
	CallsPerSec   float64          `json:"calls_per_sec" yaml:"calls_per_sec"`
	Operations    []OperationStats `json:"operations,omitempty" yaml:"operations,omitempty"`
	StatusBuckets []StatusBucket   `json:"status_buckets,omitempty" yaml:"status_buckets,omitempty"`
}

// DataPoint is one entry of the collector's time series.
type DataPoint struct {
	Timestamp     time.Time
	TotalCalls    int64
	Failures      int64
	CallsInPeriod int64
	P90LatencyMs  float64
}

func NewCollector() *Collector {
	return &Collector{
		total:    newOpStats(),
		ops:      make(map[string]*opStats),
		failures: make(map[string]map[string]int),
		start:    time.Now(),
	}
}

// RecordCall records one API attempt for operation op.
func (c *Collector) RecordCall(op string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	failed := err != nil
	c.total.record(latency, failed)
	s, ok := c.ops[op]
	if !ok {
		s = newOpStats()
		c.ops[op] = s
	}
	s.record(latency, failed)

	if failed {
		codes, ok := c.failures[op]
		if !ok {
			codes = make(map[string]int)
			c.failures[op] = codes
		}
		codes[ErrorLabel(err)]++
	}
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		LatencyStats: c.total.latencies(),
		Duration:     elapsed,
		DurationMs:   toMs(elapsed),
	}
	if elapsed > 0 && stats.Total > 0 {
		stats.CallsPerSec = float64(stats.Total) / elapsed.Seconds()
	}

	names := make([]string, 0, len(c.ops))
	for name := range c.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats.Operations = append(stats.Operations, OperationStats{
			Operation:    name,
			LatencyStats: c.ops[name].latencies(),
		})
	}

	stats.StatusBuckets = FlattenStatusBuckets(c.failures)
	return stats
}

// Elapsed returns the time since the collector was created.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.start)
}

// Snapshot appends the current totals to the history.
func (c *Collector) Snapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.total.successes + c.total.failures
	p90 := 0.0
	if c.total.hist.TotalCount() > 0 {
		p90 = float64(c.total.hist.ValueAtQuantile(90)) / 1000
	}
	c.history = append(c.history, DataPoint{
		Timestamp:     time.Now(),
		TotalCalls:    total,
		Failures:      c.total.failures,
		CallsInPeriod: total - c.lastSnap,
		P90LatencyMs:  p90,
	})
	c.lastSnap = total
	if len(c.history) > maxHistory {
		c.history = append([]DataPoint(nil), c.history[len(c.history)-maxHistory:]...)
	}
}

// History returns a copy of the recorded time series, oldest first.
func (c *Collector) History() []DataPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DataPoint(nil), c.history...)
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
