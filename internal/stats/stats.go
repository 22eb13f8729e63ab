// Package stats holds the numeric pieces of output comparison: finiteness checks,
// standardization and the 1-D Wasserstein (earth mover's) distance.
package stats

import (
	"errors"
	"math"
	"sort"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

var (
	// ErrEmpty is returned for zero-length input
	ErrEmpty = errors.New("empty vector")
	// ErrZeroVariance is returned when a vector cannot be standardized
	ErrZeroVariance = errors.New("zero variance")
	// ErrNonFinite is returned when a vector holds NaN or Inf
	ErrNonFinite = errors.New("non-finite value")
)

// HasNonFinite reports whether any element is NaN or ±Inf
func HasNonFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// Mean returns the arithmetic mean, or 0 for empty input
func Mean(x []float64) float64 { return utils.Mean(x) }

// StdDev returns the population standard deviation
func StdDev(x []float64) float64 { return utils.StdDev(x) }

// Standardize returns (x - mean) / std along with the mean and std used.
func Standardize(x []float64) (out []float64, mean, std float64, err error) {
	if len(x) == 0 {
		return nil, 0, 0, ErrEmpty
	}
	if HasNonFinite(x) {
		return nil, 0, 0, ErrNonFinite
	}
	mean = Mean(x)
	std = StdDev(x)
	if std == 0 {
		return nil, mean, 0, ErrZeroVariance
	}
	out = make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - mean) / std
	}
	return out, mean, std, nil
}

// Unstandardize maps standardized values back with the given mean and std
func Unstandardize(z []float64, mean, std float64) []float64 {
	out := make([]float64, len(z))
	for i, v := range z {
		out[i] = v*std + mean
	}
	return out
}

// Wasserstein computes the first Wasserstein distance between the empirical
// distributions of u and v (equal weights per observation). The inputs may
// differ in length and are not modified.
func Wasserstein(u, v []float64) (float64, error) {
	if len(u) == 0 || len(v) == 0 {
		return 0, ErrEmpty
	}
	if HasNonFinite(u) || HasNonFinite(v) {
		return 0, ErrNonFinite
	}

	us := append([]float64(nil), u...)
	vs := append([]float64(nil), v...)
	sort.Float64s(us)
	sort.Float64s(vs)

	all := make([]float64, 0, len(us)+len(vs))
	all = append(all, us...)
	all = append(all, vs...)
	sort.Float64s(all)

	// Integrate |U(x) - V(x)| over the merged support, where U and V are the
	// right-continuous empirical CDFs.
	var (
		dist   float64
		iu, iv int
		nu     = float64(len(us))
		nv     = float64(len(vs))
	)
	for i := 0; i < len(all)-1; i++ {
		x := all[i]
		for iu < len(us) && us[iu] <= x {
			iu++
		}
		for iv < len(vs) && vs[iv] <= x {
			iv++
		}
		delta := all[i+1] - x
		if delta == 0 {
			continue
		}
		dist += math.Abs(float64(iu)/nu-float64(iv)/nv) * delta
	}
	return dist, nil
}
