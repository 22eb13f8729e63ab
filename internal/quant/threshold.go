package quant

import (
	"math"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
)

const (
	histogramBins = 2048
	// mse scale search: fractions of the abs max from mseStart to 1.0
	mseStart = 0.3
	mseStep  = 0.02
)

// Algorithms for choosing activation thresholds
const (
	AlgoKL     = "KL"
	AlgoHist   = "hist"
	AlgoAvg    = "avg"
	AlgoMSE    = "mse"
	AlgoAbsMax = "abs_max"
)

// needsSecondPass reports whether algo needs the abs max before it can observe values
func needsSecondPass(algo string) bool {
	return algo == AlgoKL || algo == AlgoHist || algo == AlgoMSE
}

// varStats accumulates calibration statistics for one activation variable
type varStats struct {
	absMax      float32
	batchAbsMax []float32

	hist     []float64
	binWidth float64

	mseScales []float32
	mseErr    []float64
}

func (s *varStats) observeFirstPass(data []float32) {
	var m float32
	for _, v := range data {
		m = max(m, abs32(v))
	}
	s.absMax = max(s.absMax, m)
	s.batchAbsMax = append(s.batchAbsMax, m)
}

func (s *varStats) prepareSecondPass(algo string) {
	switch algo {
	case AlgoKL, AlgoHist:
		s.hist = make([]float64, histogramBins)
		s.binWidth = float64(s.absMax) / histogramBins
	case AlgoMSE:
		s.mseScales = nil
		for f := mseStart; f <= 1.0+1e-9; f += mseStep {
			s.mseScales = append(s.mseScales, float32(f)*s.absMax)
		}
		s.mseErr = make([]float64, len(s.mseScales))
	}
}

func (s *varStats) observeSecondPass(algo string, bits int, data []float32) {
	switch algo {
	case AlgoKL, AlgoHist:
		if s.binWidth == 0 {
			return
		}
		for _, v := range data {
			idx := int(float64(abs32(v)) / s.binWidth)
			if idx >= histogramBins {
				idx = histogramBins - 1
			}
			s.hist[idx]++
		}
	case AlgoMSE:
		for i, scale := range s.mseScales {
			var sum float64
			for _, v := range data {
				d := float64(v - model.QuantDequant(v, scale, bits))
				sum += d * d
			}
			s.mseErr[i] += sum
		}
	}
}

// threshold returns the clipping range chosen by algo
func (s *varStats) threshold(algo string, histPercent float64, bits int) float32 {
	if s.absMax == 0 {
		return 0
	}
	switch algo {
	case AlgoAbsMax:
		return s.absMax
	case AlgoAvg:
		var sum float64
		for _, m := range s.batchAbsMax {
			sum += float64(m)
		}
		return float32(sum / float64(len(s.batchAbsMax)))
	case AlgoHist:
		return float32(histThreshold(s.hist, s.binWidth, histPercent))
	case AlgoKL:
		return float32(klThreshold(s.hist, s.binWidth, bits))
	case AlgoMSE:
		best := 0
		for i := range s.mseErr {
			if s.mseErr[i] < s.mseErr[best] {
				best = i
			}
		}
		return s.mseScales[best]
	}
	return s.absMax
}

// histThreshold returns the center of the first bin at which the cumulative
// share of values reaches percent.
func histThreshold(hist []float64, binWidth, percent float64) float64 {
	var total float64
	for _, h := range hist {
		total += h
	}
	if total == 0 {
		return 0
	}
	target := percent * total
	var cum float64
	for i, h := range hist {
		cum += h
		if cum >= target {
			return (float64(i) + 0.5) * binWidth
		}
	}
	return float64(len(hist)) * binWidth
}

// klThreshold searches for the clipping bin that minimizes the KL divergence
// between the clipped reference histogram and its quantized approximation.
func klThreshold(hist []float64, binWidth float64, bits int) float64 {
	levels := 1<<(bits-1) - 1
	n := len(hist)
	if levels >= n {
		return float64(n) * binWidth
	}

	bestI := n
	bestKL := math.Inf(1)
	ref := make([]float64, n)
	cand := make([]float64, n)
	for i := levels; i <= n; i++ {
		copy(ref[:i], hist[:i])
		var outliers float64
		for _, h := range hist[i:] {
			outliers += h
		}
		ref[i-1] += outliers

		// merge hist[:i] into levels buckets, then spread each bucket evenly
		// over the bins that were non-zero
		for j := 0; j < i; j++ {
			cand[j] = 0
		}
		for q := 0; q < levels; q++ {
			start := q * i / levels
			end := (q + 1) * i / levels
			var sum float64
			nonZero := 0
			for k := start; k < end; k++ {
				sum += hist[k]
				if hist[k] != 0 {
					nonZero++
				}
			}
			if nonZero == 0 {
				continue
			}
			avg := sum / float64(nonZero)
			for k := start; k < end; k++ {
				if hist[k] != 0 {
					cand[k] = avg
				}
			}
		}

		kl := klDivergence(ref[:i], cand[:i])
		if kl < bestKL {
			bestKL = kl
			bestI = i
		}
	}
	return (float64(bestI) + 0.5) * binWidth
}

func klDivergence(p, q []float64) float64 {
	const eps = 1e-10
	var ps, qs float64
	for i := range p {
		ps += p[i]
		qs += q[i]
	}
	if ps == 0 {
		return math.Inf(1)
	}
	if qs == 0 {
		qs = 1
	}
	var kl float64
	for i := range p {
		if p[i] == 0 {
			continue
		}
		pi := p[i] / ps
		qi := max(q[i]/qs, eps)
		kl += pi * math.Log(pi/qi)
	}
	return kl
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
