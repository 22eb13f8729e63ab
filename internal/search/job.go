package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/optimizer"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/resource"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/space"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// JobOptions adjusts how NewJob assembles a search
type JobOptions struct {
	// Budget overrides search.runcount_limit when positive
	Budget   int
	Progress func(Trial)
	Metrics  *Metrics
	// Evaluator replaces the QuantEvaluator built from the config
	Evaluator Evaluator
	Logger    *slog.Logger
}

// Job is a fully wired search ready to run
type Job struct {
	Config  *config.Config
	Space   *space.Space
	Tracker *BestModelTracker
	Driver  *Driver
	Budget  int
}

// NewJob wires the space, optimizer, evaluator, tracker and guard described by cfg
func NewJob(cfg *config.Config, opts JobOptions) (*Job, error) {
	l := opts.Logger
	if l == nil {
		l = logger.Component("search")
	}
	sp, err := space.QuantSpace(cfg.Quantization.WeightQuantizeType, cfg.Search.Space)
	if err != nil {
		return nil, fmt.Errorf("build space: %w", err)
	}
	strategy, err := optimizer.StrategyFromConfig(cfg.Search.Convergence)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Search.GetEvalTimeout()
	if err != nil {
		return nil, fmt.Errorf("eval timeout: %w", err)
	}

	ev := opts.Evaluator
	if ev == nil {
		qe, err := NewQuantEvaluator(cfg, l.With("component", "evaluator"))
		if err != nil {
			return nil, err
		}
		ev = qe
	}

	opt := optimizer.New(sp, optimizer.Options{
		Seed:              cfg.Search.Seed,
		InitialRandom:     cfg.Search.InitialRandom,
		RandomProbability: cfg.Search.RandomProbability,
		Convergence:       strategy,
		Logger:            l.With("component", "optimizer"),
	})
	tracker := NewBestModelTracker(cfg.Output.Path, l.With("component", "tracker"))

	dopts := DriverOptions{
		TolerateFailures: cfg.Search.TolerateFailures,
		EvalTimeout:      timeout,
		Progress:         opts.Progress,
		Metrics:          opts.Metrics,
		Logger:           l.With("component", "driver"),
	}
	if cfg.Resources != nil && cfg.Resources.MinAvailableMemoryMB > 0 {
		dopts.Guard = resource.NewMemoryGuard(cfg.Resources.MinAvailableMemoryMB, l.With("component", "guard"))
	}

	budget := cfg.Search.RuncountLimit
	if opts.Budget > 0 {
		budget = opts.Budget
	}
	return &Job{
		Config:  cfg,
		Space:   sp,
		Tracker: tracker,
		Driver:  NewDriver(ev, tracker, opt, dopts),
		Budget:  budget,
	}, nil
}

// Run executes the search
func (j *Job) Run(ctx context.Context) (*Result, error) {
	return j.Driver.Run(ctx, j.Space, j.Budget)
}
