package model

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// Hook observes every variable value produced during a run, feeds included
type Hook func(name string, t *Tensor)

// Executor runs programs op by op on the CPU
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an executor. A nil logger uses the package default.
func NewExecutor(l *slog.Logger) *Executor {
	if l == nil {
		l = logger.Component("executor")
	}
	return &Executor{logger: l}
}

// Run feeds the program and returns its fetch tensors in fetch order
func (e *Executor) Run(ctx context.Context, prog *Program, scope *Scope, feed map[string]*Tensor) ([]*Tensor, error) {
	return e.RunWithHook(ctx, prog, scope, feed, nil)
}

// RunWithHook is Run with an observer for intermediate values
func (e *Executor) RunWithHook(ctx context.Context, prog *Program, scope *Scope, feed map[string]*Tensor, hook Hook) ([]*Tensor, error) {
	g := prog.Graph
	values := make(map[string]*Tensor, len(g.Ops)+len(g.Feeds))

	for _, v := range g.Feeds {
		t, ok := feed[v.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeed, v.Name)
		}
		if err := checkFeedShape(v, t); err != nil {
			return nil, err
		}
		values[v.Name] = t
		if hook != nil {
			hook(v.Name, t)
		}
	}

	get := func(name string) (*Tensor, error) {
		if t, ok := values[name]; ok {
			return t, nil
		}
		return scope.MustGet(name)
	}

	for i, op := range g.Ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kernel, ok := kernels[op.Type]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, op.Type)
		}
		out, err := kernel(op, get)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s -> %s): %w", i, op.Type, op.Output(), err)
		}
		values[op.Output()] = out
		if hook != nil {
			hook(op.Output(), out)
		}
	}

	fetches := make([]*Tensor, len(g.Fetches))
	for i, name := range g.Fetches {
		t, err := get(name)
		if err != nil {
			return nil, err
		}
		fetches[i] = t
	}
	e.logger.Debug("program run", "ops", len(g.Ops), "fetches", len(fetches))
	return fetches, nil
}

func checkFeedShape(v Var, t *Tensor) error {
	if len(v.Shape) == 0 {
		return nil
	}
	if len(v.Shape) != t.Rank() {
		return fmt.Errorf("%w: feed %s expects rank %d, got %v", ErrShapeMismatch, v.Name, len(v.Shape), t.Shape)
	}
	for i, d := range v.Shape {
		if d >= 0 && d != t.Shape[i] {
			return fmt.Errorf("%w: feed %s expects %v, got %v", ErrShapeMismatch, v.Name, v.Shape, t.Shape)
		}
	}
	return nil
}
