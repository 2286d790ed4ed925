package report

import (
	"math"
	"reflect"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single", []float64{7}, 0.25, 7},
		{"median odd", []float64{3, 1, 2}, 0.5, 2},
		{"median even interpolates", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p25 interpolates", []float64{1, 2, 3, 4}, 0.25, 1.75},
		{"p75 interpolates", []float64{1, 2, 3, 4}, 0.75, 3.25},
		{"p0 is min", []float64{5, 9, 1}, 0, 1},
		{"p1 is max", []float64{5, 9, 1}, 1, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Quantile(tt.values, tt.p); !approx(got, tt.want) {
				t.Errorf("Quantile(%v, %v) = %v, want %v", tt.values, tt.p, got, tt.want)
			}
		})
	}
}

func TestMedianEqualsQuantileHalf(t *testing.T) {
	sets := [][]float64{
		{0.0012, 0.0011, 0.0013},
		{1, 1, 1, 1},
		{0.5, 0.25, 8, 3, 1, 0.75},
	}
	for _, s := range sets {
		if Median(s) != Quantile(s, 0.5) {
			t.Errorf("Median(%v) = %v, Quantile 0.5 = %v", s, Median(s), Quantile(s, 0.5))
		}
	}
}

func TestDescribe_Bounds(t *testing.T) {
	values := []float64{0.00083, 0.00091, 0.00087, 0.0012, 0.00079, 0.00085}
	s := Describe(values)

	min := values[0]
	for _, v := range values {
		min = math.Min(min, v)
	}
	for name, v := range map[string]float64{"p25": s.P25, "median": s.Median, "p75": s.P75} {
		if v < min || v > s.Max {
			t.Errorf("%s = %v outside [%v, %v]", name, v, min, s.Max)
		}
	}
	if !(s.P25 <= s.Median && s.Median <= s.P75) {
		t.Errorf("quantiles not ordered: p25=%v median=%v p75=%v", s.P25, s.Median, s.P75)
	}
	if s.Count != len(values) {
		t.Errorf("Count = %d, want %d", s.Count, len(values))
	}
	if !approx(s.Total, Sum(values)) {
		t.Errorf("Total = %v, want %v", s.Total, Sum(values))
	}
}

func TestStdDev(t *testing.T) {
	if got := StdDev([]float64{4}); got != 0 {
		t.Errorf("StdDev single = %v, want 0", got)
	}
	// Sample std dev of 2,4,4,4,5,5,7,9 is sqrt(32/7).
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if !approx(got, math.Sqrt(32.0/7.0)) {
		t.Errorf("StdDev = %v, want %v", got, math.Sqrt(32.0/7.0))
	}
}

func TestScale(t *testing.T) {
	s := Describe([]float64{1, 2, 3}).Scale(0.5)
	if !approx(s.Mean, 1) || !approx(s.Max, 1.5) || !approx(s.Total, 3) || s.Count != 3 {
		t.Errorf("Scale(0.5) = %+v", s)
	}
}

func TestClosestLabels(t *testing.T) {
	tests := []struct {
		name     string
		schedule float64
		stats    Stats
		want     []string
	}{
		{
			name:     "uniform sample ties every label",
			schedule: 0.0001,
			stats:    Describe([]float64{0.0001, 0.0001, 0.0001}),
			want:     []string{LabelMax, LabelP25, LabelP75, LabelMean, LabelMedian},
		},
		{
			name:     "single nearest",
			schedule: 10,
			stats:    Stats{Max: 15, P25: 2, P75: 8, Mean: 5, Median: 4},
			want:     []string{LabelP75},
		},
		{
			name:     "equidistant tie",
			schedule: 5,
			stats:    Stats{Max: 7, P25: 3, P75: 9, Mean: 1, Median: 0},
			want:     []string{LabelMax, LabelP25},
		},
		{
			name:     "mean and median tie",
			schedule: 1,
			stats:    Stats{Max: 9, P25: 0.1, P75: 3, Mean: 1.5, Median: 0.5},
			want:     []string{LabelMean, LabelMedian},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClosestLabels(tt.schedule, tt.stats)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ClosestLabels() = %v, want %v", got, tt.want)
			}
			if len(got) == 0 {
				t.Error("ClosestLabels() returned no label")
			}
		})
	}
}
