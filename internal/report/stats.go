// Package report aggregates collected fees into statistics and CSV reports.
package report

import (
	"math"
	"sort"
)

// Stats holds the descriptive statistics of one result type, in HBAR.
type Stats struct {
	Count  int
	Total  float64
	Mean   float64
	StdDev float64
	Max    float64
	P25    float64
	Median float64
	P75    float64
}

// Describe computes Stats for values.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return Stats{
		Count:  len(values),
		Total:  Sum(values),
		Mean:   Mean(values),
		StdDev: StdDev(values),
		Max:    sorted[len(sorted)-1],
		P25:    percentile(sorted, 0.25),
		Median: percentile(sorted, 0.5),
		P75:    percentile(sorted, 0.75),
	}
}

// Scale multiplies every money statistic by factor.
func (s Stats) Scale(factor float64) Stats {
	return Stats{
		Count:  s.Count,
		Total:  s.Total * factor,
		Mean:   s.Mean * factor,
		StdDev: s.StdDev * factor,
		Max:    s.Max * factor,
		P25:    s.P25 * factor,
		Median: s.Median * factor,
		P75:    s.P75 * factor,
	}
}

// Sum returns the sum of values.
func Sum(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum
}

// Mean returns the arithmetic mean, or 0 for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// StdDev returns the sample standard deviation (n-1 denominator).
// It is 0 for fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// Max returns the largest value, or 0 for no values.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Quantile returns the p-quantile (0 <= p <= 1) using linear interpolation
// between closest ranks.
func Quantile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentile(sorted, p)
}

// Median returns Quantile(values, 0.5).
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// percentile calculates the p-quantile from sorted values using linear interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// Labels of statistics compared against the scheduled fee.
const (
	LabelMax    = "max"
	LabelP25    = "p25"
	LabelP75    = "p75"
	LabelMean   = "mean"
	LabelMedian = "median"
)

// tieEpsilon absorbs floating point noise when comparing distances.
const tieEpsilon = 1e-12

// ClosestLabels returns every label among max, p25, p75, mean and median whose
// value is nearest to schedule. Ties are all reported, in that order.
func ClosestLabels(schedule float64, s Stats) []string {
	candidates := []struct {
		label string
		value float64
	}{
		{LabelMax, s.Max},
		{LabelP25, s.P25},
		{LabelP75, s.P75},
		{LabelMean, s.Mean},
		{LabelMedian, s.Median},
	}

	best := math.Inf(1)
	for _, c := range candidates {
		if d := math.Abs(schedule - c.value); d < best {
			best = d
		}
	}

	var labels []string
	for _, c := range candidates {
		if math.Abs(schedule-c.value)-best <= tieEpsilon {
			labels = append(labels, c.label)
		}
	}
	return labels
}
