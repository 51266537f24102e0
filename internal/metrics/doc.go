// Package metrics aggregates tank API call latencies and outcomes.
//
// A [Collector] implements the tankapi.Recorder interface, so every HTTP
// attempt the client makes is recorded once:
//
//	collector := metrics.NewCollector()
//	client, _ := tankapi.New(tankapi.Options{BaseURL: api, Recorder: collector})
//
//	// later
//	stats := collector.Stats(time.Since(start))
//
// # Statistics
//
// [Stats] carries overall counts and latency percentiles, a per-operation
// breakdown ([OperationStats]) and failure counts keyed by operation and
// error label ([StatusBucket]).
//
// # Time-Series Data
//
// [Collector.Snapshot] appends a [DataPoint] to a bounded history that the
// dashboard charts:
//
//	collector.Snapshot() // once per refresh
//	history := collector.History()
//
// The Collector is safe for concurrent use.
package metrics
