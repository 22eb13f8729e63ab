package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/optimizer"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/space"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// Optimizer is the ask/tell interface the driver needs
type Optimizer interface {
	Ask() (space.Configuration, error)
	Tell(cfg space.Configuration, cost float64) error
	Converged() (bool, string)
	Incumbent() (space.Configuration, float64, error)
	State() optimizer.State
}

// Guard is consulted before every evaluation
type Guard interface {
	Check(ctx context.Context) error
}

// Trial is one evaluated configuration
type Trial struct {
	Iteration    int                 `json:"iteration"`
	Config       space.Configuration `json:"config"`
	Cost         float64             `json:"cost"`
	Err          string              `json:"error,omitempty"`
	Promoted     bool                `json:"promoted"`
	ValidSamples int                 `json:"valid_samples"`
	Duration     time.Duration       `json:"duration"`
	Final        bool                `json:"final,omitempty"`
}

// MarshalJSON encodes a non-finite cost as null
func (t Trial) MarshalJSON() ([]byte, error) {
	type plain Trial
	var cost *float64
	if !math.IsInf(t.Cost, 0) && !math.IsNaN(t.Cost) {
		cost = &t.Cost
	}
	return json.Marshal(struct {
		plain
		Cost *float64 `json:"cost"`
	}{plain(t), cost})
}

// Result summarizes a search
type Result struct {
	BaselineCost      float64
	FinalCost         float64
	BestCost          float64
	Incumbent         space.Configuration
	Trials            []Trial
	Converged         bool
	ConvergenceReason string
	Promotions        int
	Duration          time.Duration
}

// DriverOptions configures a Driver
type DriverOptions struct {
	// TolerateFailures records evaluation errors as +Inf cost instead of aborting
	TolerateFailures bool
	// EvalTimeout bounds one evaluation; zero disables it
	EvalTimeout time.Duration
	Progress    func(Trial)
	Guard       Guard
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Driver runs the baseline, the ask/evaluate/consider/tell loop and the final
// re-evaluation of the incumbent
type Driver struct {
	evaluator Evaluator
	tracker   *BestModelTracker
	optimizer Optimizer
	opts      DriverOptions
	logger    *slog.Logger
}

// NewDriver creates a search driver
func NewDriver(ev Evaluator, tracker *BestModelTracker, opt Optimizer, opts DriverOptions) *Driver {
	l := opts.Logger
	if l == nil {
		l = logger.Component("driver")
	}
	return &Driver{evaluator: ev, tracker: tracker, optimizer: opt, opts: opts, logger: l}
}

// Run searches sp for at most budget evaluations, the baseline included
func (d *Driver) Run(ctx context.Context, sp *space.Space, budget int) (*Result, error) {
	if budget < 1 {
		return nil, fmt.Errorf("budget must be at least 1, got %d", budget)
	}
	start := time.Now()
	res := &Result{}

	baseline := sp.Default()
	trial, err := d.evaluate(ctx, 0, baseline, false)
	if err != nil {
		return nil, err
	}
	res.Trials = append(res.Trials, trial)
	res.BaselineCost = trial.Cost
	d.logger.Info("baseline evaluated", "config", baseline.Key(), "cost", trial.Cost)
	if err := d.optimizer.Tell(baseline, trial.Cost); err != nil {
		return nil, fmt.Errorf("tell baseline: %w", err)
	}

	for i := 1; i < budget; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ok, reason := d.optimizer.Converged(); ok {
			res.Converged, res.ConvergenceReason = true, reason
			break
		}
		cfg, err := d.optimizer.Ask()
		if errors.Is(err, optimizer.ErrSpaceExhausted) {
			res.Converged, res.ConvergenceReason = true, err.Error()
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ask: %w", err)
		}

		trial, err := d.evaluate(ctx, i, cfg, false)
		if err != nil {
			return nil, err
		}
		res.Trials = append(res.Trials, trial)
		if err := d.optimizer.Tell(cfg, trial.Cost); err != nil {
			return nil, fmt.Errorf("tell: %w", err)
		}
	}
	if res.Converged {
		d.logger.Info("search converged", "reason", res.ConvergenceReason, "trials", len(res.Trials))
	}

	incumbent, err := d.incumbent()
	if err != nil {
		return nil, err
	}
	res.Incumbent = incumbent

	final, err := d.evaluate(ctx, len(res.Trials), incumbent, true)
	if err != nil {
		return nil, err
	}
	res.Trials = append(res.Trials, final)
	res.FinalCost = final.Cost
	res.BestCost = d.tracker.BestCost()
	res.Promotions = d.tracker.Promotions()
	res.Duration = time.Since(start)

	d.logger.Info("search finished",
		"baseline_cost", res.BaselineCost,
		"final_cost", res.FinalCost,
		"best_cost", res.BestCost,
		"promotions", res.Promotions,
		"incumbent", incumbent.Key(),
		"duration", res.Duration)
	return res, nil
}

// incumbent asks the optimizer for its best configuration, falling back to
// the raw solver state when the accessor cannot answer
func (d *Driver) incumbent() (space.Configuration, error) {
	cfg, _, err := d.optimizer.Incumbent()
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, optimizer.ErrOptimizerState) {
		return space.Configuration{}, err
	}
	st := d.optimizer.State()
	if st.Incumbent == nil {
		return space.Configuration{}, fmt.Errorf("no successful evaluation: %w", err)
	}
	d.logger.Warn("incumbent accessor failed, using solver state", "error", err)
	return st.Incumbent.Config, nil
}

// evaluate runs one trial and passes its artifact through the tracker.
// A returned error aborts the search.
func (d *Driver) evaluate(ctx context.Context, iteration int, cfg space.Configuration, final bool) (Trial, error) {
	trial := Trial{Iteration: iteration, Config: cfg, Final: final}
	start := time.Now()

	res, err := d.runEvaluation(ctx, cfg)
	trial.Duration = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return trial, ctx.Err()
		}
		evalErr := &EvaluationError{Iteration: iteration, Config: cfg.Key(), Err: err}
		if !d.opts.TolerateFailures {
			return trial, evalErr
		}
		d.logger.Warn("evaluation failed, recording infinite cost", "iteration", iteration, "config", cfg.Key(), "error", err)
		trial.Cost = math.Inf(1)
		trial.Err = err.Error()
		d.finish(trial)
		return trial, nil
	}

	trial.Cost = res.Cost
	trial.ValidSamples = res.ValidSamples
	promoted, err := d.tracker.Consider(res.Cost, res.ArtifactPath)
	if err != nil {
		return trial, err
	}
	trial.Promoted = promoted
	d.logger.Info("trial finished",
		"iteration", iteration,
		"config", cfg.Key(),
		"cost", res.Cost,
		"promoted", promoted,
		"valid_samples", res.ValidSamples,
		"duration", trial.Duration)
	d.finish(trial)
	return trial, nil
}

func (d *Driver) runEvaluation(ctx context.Context, cfg space.Configuration) (*EvaluationResult, error) {
	if d.opts.Guard != nil {
		if err := d.opts.Guard.Check(ctx); err != nil {
			return nil, err
		}
	}
	if d.opts.EvalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.EvalTimeout)
		defer cancel()
	}
	return d.evaluator.Evaluate(ctx, cfg)
}

func (d *Driver) finish(t Trial) {
	d.opts.Metrics.ObserveTrial(t, d.tracker.BestCost())
	if d.opts.Progress != nil {
		d.opts.Progress(t)
	}
}
