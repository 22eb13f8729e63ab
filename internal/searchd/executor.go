package searchd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/search"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// ErrInvalidConfig wraps config parse and validation failures of a submission
var ErrInvalidConfig = errors.New("invalid search config")

// JobFactory builds the search for a submitted config
type JobFactory func(cfg *config.Config, opts search.JobOptions) (*search.Job, error)

// ExecutorOptions configures a RunExecutor
type ExecutorOptions struct {
	// BaseDir roots relative paths in submitted configs
	BaseDir string
	Metrics *search.Metrics
	NewJob  JobFactory
	Logger  *slog.Logger
}

// RunExecutor runs submitted searches in the background, one at a time,
// and handles per-search cancellation.
type RunExecutor struct {
	store  *RunStore
	opts   ExecutorOptions
	logger *slog.Logger
	sem    chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunExecutor(store *RunStore, opts ExecutorOptions) *RunExecutor {
	if opts.NewJob == nil {
		opts.NewJob = search.NewJob
	}
	l := opts.Logger
	if l == nil {
		l = logger.Component("searchd")
	}
	return &RunExecutor{
		store:   store,
		opts:    opts,
		logger:  l,
		sem:     make(chan struct{}, 1),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit parses configYAML, registers a pending search and queues it.
// A positive budget overrides the config's runcount_limit.
func (e *RunExecutor) Submit(id, configYAML string, budget int) (*RunRecord, error) {
	cfg, err := config.ParseConfigYAMLString(configYAML)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if budget < 0 {
		return nil, fmt.Errorf("%w: budget cannot be negative, got %d", ErrInvalidConfig, budget)
	}
	if e.opts.BaseDir != "" {
		cfg.ResolvePaths(e.opts.BaseDir)
	}
	effective := cfg.Search.RuncountLimit
	if budget > 0 {
		effective = budget
	}

	rec, err := e.store.Create(id, configYAML, cfg.Output.Path, effective)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[rec.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runSearch(ctx, rec.ID, cfg, effective)

	e.logger.Info("search submitted", "search_id", rec.ID, "budget", effective)
	return rec, nil
}

// Stop cancels a pending or running search and marks it cancelled
func (e *RunExecutor) Stop(id string) (*RunRecord, error) {
	if id == "" {
		return nil, ErrRunIDMissing
	}
	rec, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunTerminal, id, rec.Status)
	}

	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}

	return e.store.SetStatus(id, StatusCancelled, "")
}

// Shutdown cancels every active search and waits for them to return
func (e *RunExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.cancels))
	for id := range e.cancels {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if _, err := e.Stop(id); err != nil && !errors.Is(err, ErrRunTerminal) {
			e.logger.Warn("failed to stop search", "search_id", id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted search has returned
func (e *RunExecutor) Wait() {
	e.wg.Wait()
}

func (e *RunExecutor) cleanup(id string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
		delete(e.cancels, id)
	}
	e.mu.Unlock()
}

func (e *RunExecutor) runSearch(ctx context.Context, id string, cfg *config.Config, budget int) {
	defer e.wg.Done()
	defer e.cleanup(id)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.logger.Info("search cancelled before start", "search_id", id)
		return
	}
	defer func() { <-e.sem }()

	if _, err := e.store.SetStatus(id, StatusRunning, ""); err != nil {
		// stopped between acquiring the slot and starting
		e.logger.Info("search not started", "search_id", id, "error", err)
		return
	}

	l := e.logger.With("search_id", id)
	job, err := e.opts.NewJob(cfg, search.JobOptions{
		Budget:  budget,
		Metrics: e.opts.Metrics,
		Logger:  l,
		Progress: func(t search.Trial) {
			if err := e.store.AppendTrial(id, t); err != nil {
				l.Warn("failed to record trial", "iteration", t.Iteration, "error", err)
			}
		},
	})
	if err != nil {
		e.fail(id, fmt.Errorf("build search: %w", err))
		return
	}

	l.Info("starting search", "budget", budget, "output", cfg.Output.Path)
	res, err := job.Run(ctx)
	if ctx.Err() != nil {
		l.Info("search cancelled")
		return
	}
	if err != nil {
		e.fail(id, err)
		return
	}

	if err := e.store.SetResult(id, res); err != nil {
		l.Error("failed to store result", "error", err)
	}
	if _, err := e.store.SetStatus(id, StatusCompleted, ""); err != nil {
		l.Error("failed to set completed status", "error", err)
		return
	}
	l.Info("search completed",
		"best_cost", res.BestCost,
		"final_cost", res.FinalCost,
		"promotions", res.Promotions)
}

func (e *RunExecutor) fail(id string, err error) {
	e.logger.Error("search failed", "search_id", id, "error", err)
	if _, setErr := e.store.SetStatus(id, StatusFailed, err.Error()); setErr != nil {
		e.logger.Error("failed to set failed status", "search_id", id, "error", setErr)
	}
}
