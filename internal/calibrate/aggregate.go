package calibrate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// median returns the midpoint-convention median: the mean of the two middle
// values for even-length input. gonum's empirical quantile picks a sample
// point instead, which is not what multi-observation segments need.
func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// segmentStats summarizes the valid roughness samples at one segment, used
// for the per-segment debug table and variability logging.
type segmentStats struct {
	Median float64
	Min    float64
	Max    float64
	StdDev float64
	Count  int
}

func (s segmentStats) Range() float64 { return s.Max - s.Min }

func summarize(xs []float64) segmentStats {
	st := segmentStats{
		Median: median(xs),
		Min:    xs[0],
		Max:    xs[0],
		Count:  len(xs),
	}
	for _, x := range xs {
		st.Min = math.Min(st.Min, x)
		st.Max = math.Max(st.Max, x)
	}
	if len(xs) > 1 {
		st.StdDev = stat.StdDev(xs, nil)
	}
	return st
}

// meanOf wraps gonum's mean for the per-feature and per-magnitude
// aggregations.
func meanOf(xs []float64) float64 {
	return stat.Mean(xs, nil)
}
