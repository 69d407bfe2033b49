package rtt

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrNoData is returned by every statistic over an empty sample set.
	ErrNoData = errors.New("no completed round trips")
	// ErrOutOfRange is returned for a percentile outside [0, 1).
	ErrOutOfRange = errors.New("percentile index out of range")
)

// Stats summarises a set of RTT samples in microseconds.
type Stats struct {
	Count    int
	Mean     float64
	Median   int64
	Min      int64
	Max      int64
	Variance float64
	StdDev   float64
	P95      int64
}

// Evaluate computes all statistics at once.
func Evaluate(samples []int64) (Stats, error) {
	if len(samples) == 0 {
		return Stats{}, ErrNoData
	}
	sorted := sortedCopy(samples)

	s := Stats{Count: len(samples)}
	s.Mean, _ = Mean(samples)
	s.Median = median(sorted)
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.Variance = variance(samples, s.Mean)
	s.StdDev = math.Sqrt(s.Variance)

	p95, err := percentile(sorted, 0.95)
	if err != nil {
		return Stats{}, err
	}
	s.P95 = p95
	return s, nil
}

// Mean is sum/count.
func Mean(samples []int64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples)), nil
}

// Median is the middle of the ascending order. For even counts the lower of
// the two middle elements is used.
func Median(samples []int64) (int64, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}
	return median(sortedCopy(samples)), nil
}

func median(sorted []int64) int64 {
	n := len(sorted)
	if n%2 == 0 {
		return sorted[n/2-1]
	}
	return sorted[n/2]
}

// Min is the smallest sample.
func Min(samples []int64) (int64, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}
	m := samples[0]
	for _, v := range samples[1:] {
		if v < m {
			m = v
		}
	}
	return m, nil
}

// Max is the largest sample.
func Max(samples []int64) (int64, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}
	m := samples[0]
	for _, v := range samples[1:] {
		if v > m {
			m = v
		}
	}
	return m, nil
}

// Variance is the mean squared deviation (population variance).
func Variance(samples []int64) (float64, error) {
	mean, err := Mean(samples)
	if err != nil {
		return 0, err
	}
	return variance(samples, mean), nil
}

func variance(samples []int64, mean float64) float64 {
	var acc float64
	for _, v := range samples {
		d := float64(v) - mean
		acc += d * d
	}
	return acc / float64(len(samples))
}

// StdDev is the square root of Variance.
func StdDev(samples []int64) (float64, error) {
	v, err := Variance(samples)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// Percentile returns the element at floor(p*count) of the ascending order,
// without interpolation.
func Percentile(samples []int64, p float64) (int64, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}
	return percentile(sortedCopy(samples), p)
}

func percentile(sorted []int64, p float64) (int64, error) {
	if p < 0 || p >= 1 || math.IsNaN(p) {
		return 0, errors.Wrapf(ErrOutOfRange, "p=%v", p)
	}
	// p just below 1 can still round up to len(sorted)
	idx := min(int(math.Floor(p*float64(len(sorted)))), len(sorted)-1)
	return sorted[idx], nil
}

func sortedCopy(samples []int64) []int64 {
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}
