package metrics_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/torosent/tankpilot/internal/metrics"
	"github.com/torosent/tankpilot/internal/tankapi"
)

func TestCollectorLatencyStats(t *testing.T) {
	c := metrics.NewCollector()

	c.RecordCall(tankapi.OpStatus, 10*time.Millisecond, nil)
	c.RecordCall(tankapi.OpStatus, 20*time.Millisecond, nil)
	c.RecordCall(tankapi.OpStatus, 30*time.Millisecond, nil)
	c.RecordCall(tankapi.OpStart, 40*time.Millisecond, nil)
	c.RecordCall(tankapi.OpStart, 50*time.Millisecond, nil)

	stats := c.Stats(0)

	if stats.Total != 5 || stats.Successes != 5 || stats.Failures != 0 {
		t.Errorf("unexpected counts %+v", stats.LatencyStats)
	}
	if stats.MinLatency != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %s", stats.MinLatency)
	}
	if stats.MaxLatency != 50*time.Millisecond {
		t.Errorf("expected max 50ms, got %s", stats.MaxLatency)
	}
	if stats.MeanLatency != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %s", stats.MeanLatency)
	}
	if len(stats.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(stats.Operations))
	}
	// Operations are sorted by name.
	if stats.Operations[0].Operation != tankapi.OpStart || stats.Operations[0].Total != 2 {
		t.Errorf("unexpected first operation %+v", stats.Operations[0])
	}
	if stats.Operations[1].MeanLatency != 20*time.Millisecond {
		t.Errorf("status mean = %s, want 20ms", stats.Operations[1].MeanLatency)
	}
}

func TestPercentilesCalculations(t *testing.T) {
	c := metrics.NewCollector()
	for i := 1; i <= 100; i++ {
		c.RecordCall(tankapi.OpStatus, time.Duration(i)*time.Millisecond, nil)
	}

	stats := c.Stats(0)
	if stats.P50Latency < 49*time.Millisecond || stats.P50Latency > 51*time.Millisecond {
		t.Errorf("expected P50 ~50ms, got %s", stats.P50Latency)
	}
	if stats.P90Latency < 89*time.Millisecond || stats.P90Latency > 91*time.Millisecond {
		t.Errorf("expected P90 ~90ms, got %s", stats.P90Latency)
	}
	if stats.P99Latency < 98*time.Millisecond || stats.P99Latency > 100*time.Millisecond {
		t.Errorf("expected P99 ~99ms, got %s", stats.P99Latency)
	}
}

func TestFailuresAreBucketedByLabel(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordCall(tankapi.OpStatus, time.Millisecond, fmt.Errorf("%w: dial tcp", tankapi.ErrTransport))
	c.RecordCall(tankapi.OpStatus, time.Millisecond, fmt.Errorf("%w: dial tcp", tankapi.ErrTransport))
	c.RecordCall(tankapi.OpStart, time.Millisecond, &tankapi.APIError{StatusCode: 409, Reason: "busy"})
	c.RecordCall(tankapi.OpStart, time.Millisecond, nil)

	stats := c.Stats(time.Second)
	if stats.Failures != 3 || stats.Successes != 1 {
		t.Fatalf("unexpected counts %+v", stats.LatencyStats)
	}
	want := []metrics.StatusBucket{
		{Operation: tankapi.OpStatus, Label: "Transport error", Count: 2},
		{Operation: tankapi.OpStart, Label: "HTTP 409", Count: 1},
	}
	if len(stats.StatusBuckets) != len(want) {
		t.Fatalf("buckets = %+v", stats.StatusBuckets)
	}
	for i := range want {
		if stats.StatusBuckets[i] != want[i] {
			t.Errorf("bucket[%d] = %+v, want %+v", i, stats.StatusBuckets[i], want[i])
		}
	}
	if stats.CallsPerSec != 4 {
		t.Errorf("CallsPerSec = %v, want 4", stats.CallsPerSec)
	}
}

func TestStatsJSON(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordCall(tankapi.OpStop, 15*time.Millisecond, errors.New("boom"))

	data, err := json.Marshal(c.Stats(150 * time.Millisecond))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"total", "duration_ms", "p90_latency_ms", "operations", "status_buckets"} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("missing %s in JSON", key)
		}
	}
}

func TestErrorLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&tankapi.APIError{StatusCode: 503}, "HTTP 503"},
		{fmt.Errorf("wrapped: %w", &tankapi.APIError{StatusCode: 404}), "HTTP 404"},
		{context.DeadlineExceeded, "Context deadline exceeded"},
		{tankapi.ErrMalformedResponse, "Malformed response"},
		{fmt.Errorf("%w: reset", tankapi.ErrTransport), "Transport error"},
	}
	for _, tt := range tests {
		if got := metrics.ErrorLabel(tt.err); got != tt.want {
			t.Errorf("ErrorLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSnapshotHistory(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordCall(tankapi.OpStatus, 5*time.Millisecond, nil)
	c.Snapshot()
	c.RecordCall(tankapi.OpStatus, 5*time.Millisecond, nil)
	c.RecordCall(tankapi.OpStatus, 5*time.Millisecond, errors.New("x"))
	c.Snapshot()

	h := c.History()
	if len(h) != 2 {
		t.Fatalf("history length = %d, want 2", len(h))
	}
	if h[0].CallsInPeriod != 1 || h[1].CallsInPeriod != 2 || h[1].TotalCalls != 3 || h[1].Failures != 1 {
		t.Errorf("unexpected history %+v", h)
	}
	if h[1].P90LatencyMs <= 0 {
		t.Errorf("expected p90 in history")
	}
}

func TestCollectorConcurrentRecording(t *testing.T) {
	c := metrics.NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordCall(tankapi.OpStatus, time.Millisecond, nil)
			}
		}()
	}
	wg.Wait()
	if got := c.Stats(0).Total; got != 800 {
		t.Fatalf("Total = %d, want 800", got)
	}
}
