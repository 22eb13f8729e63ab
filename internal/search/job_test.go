package search

import (
	"context"
	"os"
	"testing"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

func TestNewJobRunsQuantSearch(t *testing.T) {
	cfg := evalConfig(t)
	cfg.Search = config.Search{RuncountLimit: 30, Seed: 5, TolerateFailures: true}

	var progress []Trial
	job, err := NewJob(cfg, JobOptions{
		Budget:    2,
		Evaluator: newTestEvaluator(t, cfg, 6),
		Progress:  func(tr Trial) { progress = append(progress, tr) },
		Logger:    logger.Discard(),
	})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.Budget != 2 {
		t.Fatalf("expected budget override 2, got %d", job.Budget)
	}
	if job.Space.Len() == 0 {
		t.Fatalf("expected a non-empty space")
	}

	res, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Trials) != 3 {
		t.Fatalf("expected baseline, one trial and the final evaluation, got %d", len(res.Trials))
	}
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress callbacks, got %d", len(progress))
	}
	if !job.Tracker.HasPromoted() {
		t.Fatalf("expected the baseline to be promoted")
	}
	if _, err := os.Stat(cfg.Output.Path); err != nil {
		t.Fatalf("expected promoted artifact at %s: %v", cfg.Output.Path, err)
	}
}

func TestNewJobDefaultsBudgetAndGuard(t *testing.T) {
	cfg := evalConfig(t)
	cfg.Search = config.Search{RuncountLimit: 7, Seed: 1}
	cfg.Resources = &config.Resources{MinAvailableMemoryMB: 1}

	job, err := NewJob(cfg, JobOptions{Evaluator: newStubEvaluator(t, 1), Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.Budget != 7 {
		t.Fatalf("expected runcount_limit budget 7, got %d", job.Budget)
	}
	if job.Driver.opts.Guard == nil {
		t.Fatalf("expected a memory guard to be wired")
	}
}

func TestNewJobErrors(t *testing.T) {
	cfg := evalConfig(t)
	cfg.Search = config.Search{RuncountLimit: 3, Seed: 1}
	cfg.Data.Calibration = config.Source{Type: "parquet"}
	if _, err := NewJob(cfg, JobOptions{Logger: logger.Discard()}); err == nil {
		t.Fatalf("expected error for unknown calibration source")
	}

	cfg = evalConfig(t)
	cfg.Search = config.Search{RuncountLimit: 3, EvalTimeout: "soon"}
	if _, err := NewJob(cfg, JobOptions{Evaluator: newStubEvaluator(t, 1), Logger: logger.Discard()}); err == nil {
		t.Fatalf("expected error for bad eval timeout")
	}
}
