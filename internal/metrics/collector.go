// Package metrics provides fee record collection and Prometheus instrumentation.
package metrics

import (
	"sync"

	"github.com/gateway-fm/tvt/pkg/types"
)

// Recorder accepts fee records from executing actions.
type Recorder interface {
	// Record stores all records of one action invocation as a unit.
	Record(records ...types.FeeRecord)
}

// FeeCollector is an append-only store of fee records partitioned by result type.
// Records of one Record call are stored atomically with respect to readers.
type FeeCollector struct {
	mu      sync.RWMutex
	buckets map[types.ResultType][]types.FeeRecord
	total   int

	onRecord func(types.FeeRecord)
}

// NewFeeCollector creates an empty collector.
func NewFeeCollector() *FeeCollector {
	return &FeeCollector{
		buckets: make(map[types.ResultType][]types.FeeRecord),
	}
}

// OnRecord registers a hook called for every stored record, outside the lock.
// It must be set before the collector is shared.
func (c *FeeCollector) OnRecord(fn func(types.FeeRecord)) {
	c.onRecord = fn
}

// Record appends records in completion order.
func (c *FeeCollector) Record(records ...types.FeeRecord) {
	if len(records) == 0 {
		return
	}

	c.mu.Lock()
	for _, r := range records {
		c.buckets[r.Type] = append(c.buckets[r.Type], r)
	}
	c.total += len(records)
	c.mu.Unlock()

	if c.onRecord != nil {
		for _, r := range records {
			c.onRecord(r)
		}
	}
}

// Records returns a copy of the records of type t in completion order.
func (c *FeeCollector) Records(t types.ResultType) []types.FeeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.buckets[t]
	out := make([]types.FeeRecord, len(src))
	copy(out, src)
	return out
}

// Count returns the number of records of type t.
func (c *FeeCollector) Count(t types.ResultType) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buckets[t])
}

// Total returns the number of records across all types.
func (c *FeeCollector) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

// Counts returns the per-type record counts for non-empty types.
func (c *FeeCollector) Counts() map[types.ResultType]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.ResultType]int, len(c.buckets))
	for t, recs := range c.buckets {
		if len(recs) > 0 {
			out[t] = len(recs)
		}
	}
	return out
}

// Snapshot returns a consistent copy of all buckets.
func (c *FeeCollector) Snapshot() map[types.ResultType][]types.FeeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.ResultType][]types.FeeRecord, len(c.buckets))
	for t, recs := range c.buckets {
		cp := make([]types.FeeRecord, len(recs))
		copy(cp, recs)
		out[t] = cp
	}
	return out
}

// All returns every record, grouped by result type in report order.
func (c *FeeCollector) All() []types.FeeRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.FeeRecord, 0, c.total)
	for _, t := range types.AllResultTypes() {
		out = append(out, c.buckets[t]...)
	}
	return out
}

// Reset discards all records.
func (c *FeeCollector) Reset() {
	c.mu.Lock()
	c.buckets = make(map[types.ResultType][]types.FeeRecord)
	c.total = 0
	c.mu.Unlock()
}
