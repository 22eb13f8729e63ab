package optimizer

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

// ConvergenceStrategy defines how to detect convergence
type ConvergenceStrategy interface {
	// CheckConvergence checks if the search has converged based on history
	CheckConvergence(history []Observation) (bool, string)
	// Name returns the name of the convergence strategy
	Name() string
}

// ConvergenceConfig holds configuration for convergence detection
type ConvergenceConfig struct {
	// NoImprovementIterations is the number of trials without improvement before stopping
	NoImprovementIterations int
	// ImprovementThreshold is the minimum relative improvement to consider significant
	ImprovementThreshold float64
	// ScoreTolerance is the absolute tolerance for costs to be considered equal
	ScoreTolerance float64
	// MinIterations is the minimum number of trials before convergence can be detected
	MinIterations int
	// PlateauIterations is the number of trials with similar costs before stopping
	PlateauIterations int
}

// DefaultConvergenceConfig returns a default convergence configuration
func DefaultConvergenceConfig() *ConvergenceConfig {
	return &ConvergenceConfig{
		NoImprovementIterations: 8,
		ImprovementThreshold:    0.01, // 1% improvement
		ScoreTolerance:          1e-4,
		MinIterations:           5,
		PlateauIterations:       6,
	}
}

// StrategyFromConfig builds the strategy named in cfg, filling unset fields
// from DefaultConvergenceConfig. A nil cfg yields a nil strategy.
func StrategyFromConfig(cfg *config.Convergence) (ConvergenceStrategy, error) {
	if cfg == nil {
		return nil, nil
	}
	c := DefaultConvergenceConfig()
	if cfg.NoImprovementIterations > 0 {
		c.NoImprovementIterations = cfg.NoImprovementIterations
	}
	if cfg.ImprovementThreshold > 0 {
		c.ImprovementThreshold = cfg.ImprovementThreshold
	}
	if cfg.ScoreTolerance > 0 {
		c.ScoreTolerance = cfg.ScoreTolerance
	}
	if cfg.MinIterations > 0 {
		c.MinIterations = cfg.MinIterations
	}
	if cfg.PlateauIterations > 0 {
		c.PlateauIterations = cfg.PlateauIterations
	}

	switch cfg.Strategy {
	case "no_improvement":
		return NewNoImprovementStrategy(c), nil
	case "plateau":
		return NewPlateauStrategy(c), nil
	case "threshold":
		return NewThresholdStrategy(c), nil
	case "variance":
		return NewVarianceStrategy(c), nil
	case "combined":
		return NewCombinedStrategy(c), nil
	default:
		return nil, fmt.Errorf("unknown convergence strategy: %s", cfg.Strategy)
	}
}

// finite drops failed trials; they carry no information about the landscape
func finite(history []Observation) []Observation {
	out := make([]Observation, 0, len(history))
	for _, o := range history {
		if !math.IsInf(o.Cost, 0) && !math.IsNaN(o.Cost) {
			out = append(out, o)
		}
	}
	return out
}

// NoImprovementStrategy detects convergence when there's no improvement for N trials
type NoImprovementStrategy struct {
	config *ConvergenceConfig
}

// NewNoImprovementStrategy creates a new no-improvement convergence strategy
func NewNoImprovementStrategy(config *ConvergenceConfig) *NoImprovementStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &NoImprovementStrategy{config: config}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []Observation) (converged bool, reason string) {
	if len(history) < s.config.MinIterations {
		return false, ""
	}

	best := math.Inf(1)
	bestIteration := -1
	for i, o := range history {
		if o.Cost < best {
			best = o.Cost
			bestIteration = i
		}
	}
	if bestIteration < 0 {
		return false, ""
	}

	since := len(history) - 1 - bestIteration
	if since >= s.config.NoImprovementIterations {
		return true, fmt.Sprintf("no improvement for %d trials (best at trial %d)", since, bestIteration)
	}
	return false, ""
}

// PlateauStrategy detects convergence when recent costs are all within tolerance
type PlateauStrategy struct {
	config *ConvergenceConfig
}

// NewPlateauStrategy creates a new plateau convergence strategy
func NewPlateauStrategy(config *ConvergenceConfig) *PlateauStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &PlateauStrategy{config: config}
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []Observation) (converged bool, reason string) {
	history = finite(history)
	if len(history) < s.config.MinIterations || len(history) < s.config.PlateauIterations {
		return false, ""
	}

	recent := history[len(history)-s.config.PlateauIterations:]
	lo, hi := recent[0].Cost, recent[0].Cost
	for _, o := range recent {
		lo = min(lo, o.Cost)
		hi = max(hi, o.Cost)
	}
	if spread := hi - lo; spread <= s.config.ScoreTolerance {
		return true, fmt.Sprintf("cost plateaued for %d trials (range: %.6f)", s.config.PlateauIterations, spread)
	}
	return false, ""
}

// ThresholdStrategy detects convergence when the running best improves by less
// than ImprovementThreshold over the last NoImprovementIterations trials.
type ThresholdStrategy struct {
	config *ConvergenceConfig
}

// NewThresholdStrategy creates a new improvement threshold convergence strategy
func NewThresholdStrategy(config *ConvergenceConfig) *ThresholdStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &ThresholdStrategy{config: config}
}

func (s *ThresholdStrategy) Name() string {
	return "improvement_threshold"
}

func (s *ThresholdStrategy) CheckConvergence(history []Observation) (converged bool, reason string) {
	history = finite(history)
	window := s.config.NoImprovementIterations
	if len(history) < s.config.MinIterations+1 || len(history) <= window || window < 1 {
		return false, ""
	}

	bestBefore := math.Inf(1)
	for _, o := range history[:len(history)-window] {
		bestBefore = min(bestBefore, o.Cost)
	}
	bestNow := bestBefore
	for _, o := range history[len(history)-window:] {
		bestNow = min(bestNow, o.Cost)
	}
	if bestBefore <= 0 {
		return false, ""
	}
	rel := (bestBefore - bestNow) / bestBefore
	if rel <= s.config.ImprovementThreshold {
		return true, fmt.Sprintf("improvement below threshold over %d trials (%.4f%%, threshold: %.4f%%)", window, rel*100, s.config.ImprovementThreshold*100)
	}
	return false, ""
}

// VarianceStrategy detects convergence when recent cost variance is low
type VarianceStrategy struct {
	config *ConvergenceConfig
}

// NewVarianceStrategy creates a new variance-based convergence strategy
func NewVarianceStrategy(config *ConvergenceConfig) *VarianceStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &VarianceStrategy{config: config}
}

func (s *VarianceStrategy) Name() string {
	return "variance"
}

func (s *VarianceStrategy) CheckConvergence(history []Observation) (converged bool, reason string) {
	history = finite(history)
	if len(history) < s.config.MinIterations {
		return false, ""
	}

	window := min(s.config.PlateauIterations, len(history))
	recent := history[len(history)-window:]
	if len(recent) < 2 {
		return false, ""
	}

	costs := make([]float64, len(recent))
	for i, o := range recent {
		costs[i] = o.Cost
	}
	mean := utils.Mean(costs)
	if mean > 0 {
		rel := utils.StdDev(costs) / mean
		if rel < s.config.ImprovementThreshold {
			return true, fmt.Sprintf("low cost variance (relative stddev: %.4f%%)", rel*100)
		}
	}
	return false, ""
}

// CombinedStrategy converges as soon as any of its strategies does
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy creates a combined strategy over no-improvement,
// plateau and threshold detection.
func NewCombinedStrategy(config *ConvergenceConfig) *CombinedStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &CombinedStrategy{
		strategies: []ConvergenceStrategy{
			NewNoImprovementStrategy(config),
			NewPlateauStrategy(config),
			NewThresholdStrategy(config),
		},
	}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []Observation) (converged bool, reason string) {
	for _, strategy := range s.strategies {
		if ok, why := strategy.CheckConvergence(history); ok {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), why)
		}
	}
	return false, ""
}

// AddStrategy adds a custom strategy to the combined strategy
func (s *CombinedStrategy) AddStrategy(strategy ConvergenceStrategy) {
	s.strategies = append(s.strategies, strategy)
}
