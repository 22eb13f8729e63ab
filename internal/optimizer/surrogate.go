package optimizer

import (
	"math"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/space"
)

// surrogate is a Nadaraya-Watson kernel regression over normalized
// configuration vectors. Costs are rescaled to [0, 1] so that kappa is
// comparable across problems.
type surrogate struct {
	space     *space.Space
	points    [][]float64
	costs     []float64
	mean      float64
	bandwidth float64
}

func newSurrogate(sp *space.Space, obs []Observation, bandwidth float64) *surrogate {
	s := &surrogate{space: sp, bandwidth: bandwidth}
	if len(obs) == 0 {
		return s
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, o := range obs {
		lo = min(lo, o.Cost)
		hi = max(hi, o.Cost)
	}
	span := hi - lo
	for _, o := range obs {
		c := 0.0
		if span > 0 {
			c = (o.Cost - lo) / span
		}
		s.points = append(s.points, sp.Vector(o.Config))
		s.costs = append(s.costs, c)
		s.mean += c
	}
	s.mean /= float64(len(obs))
	return s
}

// predict returns the kernel-weighted cost and the distance to the nearest
// observation
func (s *surrogate) predict(cfg space.Configuration) (float64, float64) {
	if len(s.points) == 0 {
		return 0, math.Inf(1)
	}
	x := s.space.Vector(cfg)
	var num, den float64
	nearest := math.Inf(1)
	for i, p := range s.points {
		d := distance(x, p)
		nearest = min(nearest, d)
		w := math.Exp(-d * d / (2 * s.bandwidth * s.bandwidth))
		num += w * s.costs[i]
		den += w
	}
	if den < 1e-12 {
		return s.mean, nearest
	}
	return num / den, nearest
}

// lcb is the lower confidence bound used as acquisition value
func (s *surrogate) lcb(cfg space.Configuration, kappa float64) float64 {
	pred, nearest := s.predict(cfg)
	if math.IsInf(nearest, 1) {
		return pred
	}
	return pred - kappa*nearest
}

func distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
