package stats

import (
	"errors"
	"fmt"
)

// PerSampleMinimum is the number of valid samples at which distances are
// computed per sample instead of over pooled vectors.
const PerSampleMinimum = 3

// ErrNoValidSamples is returned when every sample pair was rejected
var ErrNoValidSamples = errors.New("no valid samples")

// SkipReason explains why a sample pair was excluded
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipEmpty        SkipReason = "empty"
	SkipNonFinite    SkipReason = "non_finite"
	SkipZeroVariance SkipReason = "zero_variance"
)

// EMDAccumulator folds paired float/quantized output vectors into an
// earth mover's distance loss. Pairs are truncated to the shorter length,
// filtered, standardized, and either scored immediately or pooled.
type EMDAccumulator struct {
	valid        int
	outputLength int
	skipped      map[SkipReason]int
	perSample    float64

	// pooled vectors are kept only until the per-sample rule applies
	pooledFloat []float64
	pooledQuant []float64
}

// NewEMDAccumulator creates an empty accumulator
func NewEMDAccumulator() *EMDAccumulator {
	return &EMDAccumulator{skipped: make(map[SkipReason]int)}
}

// Add offers one pair of outputs. It returns SkipNone when the pair was kept.
func (a *EMDAccumulator) Add(floatOut, quantOut []float64) (SkipReason, error) {
	if len(floatOut) == 0 || len(quantOut) == 0 {
		a.skipped[SkipEmpty]++
		return SkipEmpty, nil
	}
	n := min(len(floatOut), len(quantOut))
	f, q := floatOut[:n], quantOut[:n]
	a.outputLength += n

	if HasNonFinite(f) || HasNonFinite(q) {
		a.skipped[SkipNonFinite]++
		return SkipNonFinite, nil
	}
	fz, _, _, err := Standardize(f)
	if err != nil {
		a.skipped[SkipZeroVariance]++
		return SkipZeroVariance, nil
	}
	qz, _, _, err := Standardize(q)
	if err != nil {
		a.skipped[SkipZeroVariance]++
		return SkipZeroVariance, nil
	}

	d, err := Wasserstein(fz, qz)
	if err != nil {
		return SkipNone, fmt.Errorf("wasserstein distance: %w", err)
	}
	a.perSample += d
	a.valid++

	if a.valid < PerSampleMinimum {
		a.pooledFloat = append(a.pooledFloat, fz...)
		a.pooledQuant = append(a.pooledQuant, qz...)
	} else {
		a.pooledFloat, a.pooledQuant = nil, nil
	}
	return SkipNone, nil
}

// Valid returns the number of retained pairs
func (a *EMDAccumulator) Valid() int { return a.valid }

// OutputLength returns the summed truncated length of every non-empty pair
func (a *EMDAccumulator) OutputLength() int { return a.outputLength }

// Skipped returns how many pairs were rejected for the given reason
func (a *EMDAccumulator) Skipped(reason SkipReason) int { return a.skipped[reason] }

// Loss returns the distance divided by the valid-sample count. With at least
// PerSampleMinimum valid pairs the per-sample distances are summed; otherwise
// a single distance over the pooled vectors is used.
func (a *EMDAccumulator) Loss() (float64, error) {
	if a.valid == 0 {
		return 0, ErrNoValidSamples
	}
	total := a.perSample
	if a.valid < PerSampleMinimum {
		d, err := Wasserstein(a.pooledFloat, a.pooledQuant)
		if err != nil {
			return 0, fmt.Errorf("pooled wasserstein distance: %w", err)
		}
		total = d
	}
	return total / float64(a.valid), nil
}

// EMDLoss scores paired output lists in one call
func EMDLoss(floatOuts, quantOuts [][]float64) (float64, int, error) {
	if len(floatOuts) != len(quantOuts) {
		return 0, 0, fmt.Errorf("mismatched output counts: %d float vs %d quantized", len(floatOuts), len(quantOuts))
	}
	acc := NewEMDAccumulator()
	for i := range floatOuts {
		if _, err := acc.Add(floatOuts[i], quantOuts[i]); err != nil {
			return 0, acc.Valid(), err
		}
	}
	loss, err := acc.Loss()
	return loss, acc.Valid(), err
}
