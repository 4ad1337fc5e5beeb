// Package metrics records operation latency quantiles for btdt's cache
// layers (SPEC_FULL.md §2 item 8, and the §4.5 addition of latency
// recording around each handler). Adapted from the teacher's pkg/metrics.LatencyTracker,
// generalized from a build-cache's operation names to btdt's own
// (local_get, local_set, local_clean, remote_get, remote_set,
// server_get, server_put, server_clean).
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Standard operation names recorded across btdt's layers.
const (
	OpLocalGet    = "local_get"
	OpLocalSet    = "local_set"
	OpLocalClean  = "local_clean"
	OpRemoteGet   = "remote_get"
	OpRemoteSet   = "remote_set"
	OpServerGet   = "server_get"
	OpServerPut   = "server_put"
	OpServerClean = "server_clean"
)

// defaultRelativeAccuracy matches the teacher's own default (1% quantile error).
const defaultRelativeAccuracy = 0.01

// LatencyTracker tracks per-operation latency quantiles using DDSketch,
// relative-error sketches that stay accurate across the wide dynamic
// range a cache sees (a sub-millisecond in-memory hit next to a
// multi-second cold S3 download).
type LatencyTracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	relativeAccuracy float64
}

// NewLatencyTracker creates a tracker with the given relative accuracy
// (e.g. 0.01 = 1%).
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	if relativeAccuracy <= 0 {
		relativeAccuracy = defaultRelativeAccuracy
	}
	return &LatencyTracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		relativeAccuracy: relativeAccuracy,
	}
}

// Record records a duration for the given operation, in milliseconds.
func (lt *LatencyTracker) Record(operation string, duration time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, ok := lt.sketches[operation]
	if !ok {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(lt.relativeAccuracy)
		}
		lt.sketches[operation] = sketch
	}

	sketch.Add(float64(duration.Microseconds()) / 1000.0)
}

// RecordFunc wraps fn, recording its execution time under operation
// regardless of whether it returns an error.
func (lt *LatencyTracker) RecordFunc(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	lt.Record(operation, time.Since(start))
	return err
}

// RecordFuncWithResult wraps fn, recording its execution time under
// operation and forwarding its result and error unchanged.
func (lt *LatencyTracker) RecordFuncWithResult(operation string, fn func() (any, error)) (any, error) {
	start := time.Now()
	result, err := fn()
	lt.Record(operation, time.Since(start))
	return result, err
}

// Stats summarizes one operation's recorded latencies.
type Stats struct {
	Operation string
	Count     int64
	Min       float64
	P50       float64
	P90       float64
	P95       float64
	P99       float64
	Max       float64
}

// GetStats returns the current statistics for operation.
func (lt *LatencyTracker) GetStats(operation string) (Stats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, ok := lt.sketches[operation]
	if !ok {
		return Stats{}, fmt.Errorf("no data for operation: %s", operation)
	}

	count := sketch.GetCount()
	if count == 0 {
		return Stats{Operation: operation}, nil
	}

	min, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p95, _ := sketch.GetValueAtQuantile(0.95)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	max, _ := sketch.GetMaxValue()

	return Stats{
		Operation: operation,
		Count:     int64(count),
		Min:       min,
		P50:       p50,
		P90:       p90,
		P95:       p95,
		P99:       p99,
		Max:       max,
	}, nil
}

// GetAllStats returns statistics for every operation recorded so far.
func (lt *LatencyTracker) GetAllStats() []Stats {
	lt.mu.Lock()
	operations := make([]string, 0, len(lt.sketches))
	for op := range lt.sketches {
		operations = append(operations, op)
	}
	lt.mu.Unlock()

	stats := make([]Stats, 0, len(operations))
	for _, op := range operations {
		if s, err := lt.GetStats(op); err == nil {
			stats = append(stats, s)
		}
	}
	return stats
}

// String renders Stats in a human-readable, single-line form.
func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("%s: no data", s.Operation)
	}
	return fmt.Sprintf("%s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p95=%.2fms p99=%.2fms max=%.2fms",
		s.Operation, s.Count, s.Min, s.P50, s.P90, s.P95, s.P99, s.Max)
}
