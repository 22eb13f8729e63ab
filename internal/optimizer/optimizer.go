// Package optimizer proposes quantization configurations with an ask/tell
// loop: a default-first initial design followed by surrogate-guided local
// search mixed with random exploration.
package optimizer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/space"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

var (
	// ErrOptimizerState is returned when the optimizer cannot answer from its
	// current state, e.g. no finite cost has been told yet.
	ErrOptimizerState = errors.New("optimizer state unavailable")
	// ErrSpaceExhausted is returned by Ask when no unseen configuration could be found
	ErrSpaceExhausted = errors.New("configuration space exhausted")
)

// Options tunes the optimizer. Zero values select defaults.
type Options struct {
	Seed              int64
	InitialRandom     int
	RandomProbability float64
	// Candidates is the number of random candidates scored per suggestion
	Candidates int
	// Neighbors is the number of neighbors generated around each of the TopK best
	Neighbors int
	TopK      int
	// Kappa weighs distance to the nearest observation against predicted cost
	Kappa float64
	// Bandwidth of the Gaussian kernel in normalized parameter units
	Bandwidth      float64
	MaxAskAttempts int
	Convergence    ConvergenceStrategy
	Logger         *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Candidates <= 0 {
		o.Candidates = 64
	}
	if o.Neighbors <= 0 {
		o.Neighbors = 8
	}
	if o.TopK <= 0 {
		o.TopK = 3
	}
	if o.Kappa <= 0 {
		o.Kappa = 0.5
	}
	if o.Bandwidth <= 0 {
		o.Bandwidth = 0.25
	}
	if o.MaxAskAttempts <= 0 {
		o.MaxAskAttempts = 100
	}
	if o.Logger == nil {
		o.Logger = logger.Component("optimizer")
	}
}

// Observation is one told (configuration, cost) pair
type Observation struct {
	Iteration int
	Config    space.Configuration
	Cost      float64
}

// State is a snapshot of the optimizer
type State struct {
	History   []Observation
	Incumbent *Observation
	Iteration int
}

// Optimizer is safe for concurrent use but designed for one evaluation at a time
type Optimizer struct {
	mu        sync.Mutex
	space     *space.Space
	opts      Options
	rng       *utils.RandSource
	design    []space.Configuration
	history   []Observation
	known     map[string]bool
	incumbent *Observation
	logger    *slog.Logger
}

// New creates an optimizer over sp
func New(sp *space.Space, opts Options) *Optimizer {
	opts.applyDefaults()
	rng := utils.NewRandSource(opts.Seed)
	design := []space.Configuration{sp.Default()}
	for i := 0; i < opts.InitialRandom; i++ {
		design = append(design, sp.Sample(rng))
	}
	return &Optimizer{
		space:  sp,
		opts:   opts,
		rng:    rng,
		design: design,
		known:  make(map[string]bool),
		logger: opts.Logger,
	}
}

// Space returns the configuration space being searched
func (o *Optimizer) Space() *space.Space { return o.space }

// Ask returns the next configuration to evaluate. It never returns a
// configuration that was already asked or told.
func (o *Optimizer) Ask() (space.Configuration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for len(o.design) > 0 {
		c := o.design[0]
		o.design = o.design[1:]
		if !o.known[c.Key()] {
			o.known[c.Key()] = true
			return c, nil
		}
	}

	for attempt := 0; attempt < o.opts.MaxAskAttempts; attempt++ {
		var cand space.Configuration
		if len(o.finiteHistory()) == 0 || o.rng.BernoulliBool(o.opts.RandomProbability) {
			cand = o.space.Sample(o.rng)
		} else {
			var ok bool
			if cand, ok = o.suggest(); !ok {
				continue
			}
		}
		if !o.known[cand.Key()] {
			o.known[cand.Key()] = true
			return cand, nil
		}
	}
	return space.Configuration{}, fmt.Errorf("%w after %d attempts", ErrSpaceExhausted, o.opts.MaxAskAttempts)
}

// Tell records the cost of an evaluated configuration. Non-finite costs are
// kept in the history but never become the incumbent.
func (o *Optimizer) Tell(cfg space.Configuration, cost float64) error {
	if err := o.space.Validate(cfg); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	obs := Observation{Iteration: len(o.history), Config: cfg, Cost: cost}
	o.history = append(o.history, obs)
	o.known[cfg.Key()] = true
	if isFinite(cost) && (o.incumbent == nil || cost < o.incumbent.Cost) {
		inc := obs
		o.incumbent = &inc
		o.logger.Debug("new incumbent", "iteration", obs.Iteration, "cost", cost, "config", cfg.Key())
	}
	return nil
}

// Converged consults the configured convergence strategy
func (o *Optimizer) Converged() (bool, string) {
	if o.opts.Convergence == nil {
		return false, ""
	}
	o.mu.Lock()
	history := append([]Observation(nil), o.history...)
	o.mu.Unlock()
	return o.opts.Convergence.CheckConvergence(history)
}

// Incumbent returns the best configuration told so far
func (o *Optimizer) Incumbent() (space.Configuration, float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.incumbent == nil {
		return space.Configuration{}, math.Inf(1), fmt.Errorf("%w: no finite cost told", ErrOptimizerState)
	}
	return o.incumbent.Config, o.incumbent.Cost, nil
}

// State returns a copy of the optimizer state
func (o *Optimizer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := State{
		History:   append([]Observation(nil), o.history...),
		Iteration: len(o.history),
	}
	if o.incumbent != nil {
		inc := *o.incumbent
		s.Incumbent = &inc
	}
	return s
}

func (o *Optimizer) finiteHistory() []Observation {
	return finite(o.history)
}

// suggest scores neighbors of the best observations plus random samples with
// the surrogate and returns the unseen candidate with the lowest bound.
func (o *Optimizer) suggest() (space.Configuration, bool) {
	obs := o.finiteHistory()
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Cost < obs[j].Cost })

	var cands []space.Configuration
	for i := 0; i < len(obs) && i < o.opts.TopK; i++ {
		cands = append(cands, o.space.Neighbors(obs[i].Config, o.rng, o.opts.Neighbors)...)
	}
	for i := 0; i < o.opts.Candidates; i++ {
		cands = append(cands, o.space.Sample(o.rng))
	}

	model := newSurrogate(o.space, obs, o.opts.Bandwidth)
	best := -1
	bestScore := math.Inf(1)
	for i, c := range cands {
		if o.known[c.Key()] {
			continue
		}
		if s := model.lcb(c, o.opts.Kappa); s < bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return space.Configuration{}, false
	}
	return cands[best], true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
