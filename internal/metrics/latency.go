package metrics

import (
	"math"
	"sort"
	"sync"

	"github.com/gateway-fm/tvt/pkg/types"
)

// ActionLatency tracks how long actions take to execute, from submission to
// receipt. Percentiles are estimated from a fixed-size reservoir, so memory
// stays bounded for any run size.
type ActionLatency struct {
	mu sync.RWMutex

	count int64
	sum   float64
	min   float64
	max   float64

	// Algorithm R (Vitter)
	reservoir     []float64
	reservoirSize int
	seen          int64

	buckets   []int64
	randState uint64
}

// DefaultReservoirSize is the number of samples kept for percentiles.
const DefaultReservoirSize = 10000

// Action latency bucket bounds in milliseconds. Consensus finality on Hedera
// is a few seconds, so the buckets are coarser than block-level latency.
var latencyBounds = []float64{1000, 3000, 5000, 10000}

var latencyLabels = []string{"0-1s", "1-3s", "3-5s", "5-10s", "10s+"}

// NewActionLatency creates an empty tracker.
func NewActionLatency() *ActionLatency {
	return &ActionLatency{
		min:           math.MaxFloat64,
		reservoir:     make([]float64, 0, 64),
		reservoirSize: DefaultReservoirSize,
		buckets:       make([]int64, len(latencyLabels)),
		randState:     1,
	}
}

// Add records a sample in milliseconds. Safe for concurrent use.
func (s *ActionLatency) Add(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += ms
	s.seen++

	if ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
	s.buckets[bucketIndex(ms)]++

	if len(s.reservoir) < s.reservoirSize {
		s.reservoir = append(s.reservoir, ms)
	} else {
		j := s.fastRand() % uint64(s.seen)
		if j < uint64(s.reservoirSize) {
			s.reservoir[j] = ms
		}
	}
}

func bucketIndex(ms float64) int {
	for i, bound := range latencyBounds {
		if ms < bound {
			return i
		}
	}
	return len(latencyBounds)
}

// fastRand is xorshift64*. Per-instance state keeps instances race-free.
func (s *ActionLatency) fastRand() uint64 {
	s.randState ^= s.randState >> 12
	s.randState ^= s.randState << 25
	s.randState ^= s.randState >> 27
	return s.randState * 0x2545F4914F6CDD1D
}

// Stats returns the current statistics, or nil when nothing was recorded.
func (s *ActionLatency) Stats() *types.LatencyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	sorted := make([]float64, len(s.reservoir))
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)

	stats := &types.LatencyStats{
		Count:   int(s.count),
		Min:     s.min,
		Max:     s.max,
		Avg:     s.sum / float64(s.count),
		P50:     percentile(sorted, 0.50),
		P90:     percentile(sorted, 0.90),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Buckets: make([]types.LatencyBucket, len(latencyLabels)),
	}
	for i, label := range latencyLabels {
		stats.Buckets[i] = types.LatencyBucket{Label: label, Count: int(s.buckets[i])}
	}
	return stats
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Reset clears all samples.
func (s *ActionLatency) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count = 0
	s.sum = 0
	s.min = math.MaxFloat64
	s.max = 0
	s.reservoir = s.reservoir[:0]
	s.seen = 0
	for i := range s.buckets {
		s.buckets[i] = 0
	}
}

// Count returns the number of samples recorded.
func (s *ActionLatency) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
