package utils

import (
	"cmp"
	"math"
)

// Clamp bounds value to [lo, hi]
func Clamp[T cmp.Ordered](value, lo, hi T) T {
	return min(max(value, lo), hi)
}

// Sum adds up values
func Sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

// Mean is the arithmetic mean; 0 for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// Variance is the population variance; 0 for an empty slice
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return ss / float64(len(values))
}

// StdDev is the population standard deviation
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}
