package search

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

// BestModelTracker keeps the lowest-cost artifact at a fixed path. An artifact
// is promoted only on strict improvement.
type BestModelTracker struct {
	mu         sync.RWMutex
	path       string
	best       float64
	promotions int
	logger     *slog.Logger
}

// NewBestModelTracker creates a tracker promoting into path. The best cost
// starts at +Inf.
func NewBestModelTracker(path string, l *slog.Logger) *BestModelTracker {
	if l == nil {
		l = logger.Component("tracker")
	}
	return &BestModelTracker{path: path, best: math.Inf(1), logger: l}
}

// Consider promotes candidateDir when cost beats the best cost so far. A
// non-improving cost leaves state and disk untouched.
func (t *BestModelTracker) Consider(cost float64, candidateDir string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if math.IsNaN(cost) || !(cost < t.best) {
		return false, nil
	}
	if err := t.replace(candidateDir); err != nil {
		return false, fmt.Errorf("promote %s: %w", candidateDir, err)
	}
	prev := t.best
	t.best = cost
	t.promotions++
	t.logger.Info("promoted model", "cost", cost, "previous", prev, "path", t.path)
	return true, nil
}

// replace copies src next to the destination, then swaps it in. The previous
// artifact is restored if the swap fails.
func (t *BestModelTracker) replace(src string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	suffix := utils.RandomSuffix(4)
	staging := t.path + ".staging-" + suffix
	old := t.path + ".old-" + suffix

	if err := os.CopyFS(staging, os.DirFS(src)); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("copy candidate: %w", err)
	}

	hadPrevious := false
	if _, err := os.Stat(t.path); err == nil {
		if err := os.Rename(t.path, old); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("move previous artifact aside: %w", err)
		}
		hadPrevious = true
	}
	if err := os.Rename(staging, t.path); err != nil {
		os.RemoveAll(staging)
		if hadPrevious {
			if rerr := os.Rename(old, t.path); rerr != nil {
				t.logger.Error("failed to restore previous artifact", "error", rerr, "path", old)
			}
		}
		return fmt.Errorf("swap in candidate: %w", err)
	}
	if hadPrevious {
		if err := os.RemoveAll(old); err != nil {
			t.logger.Warn("failed to remove previous artifact", "error", err, "path", old)
		}
	}
	return nil
}

// BestCost returns the lowest promoted cost, +Inf before any promotion
func (t *BestModelTracker) BestCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.best
}

// Promotions returns how many times an artifact was promoted
func (t *BestModelTracker) Promotions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.promotions
}

// HasPromoted reports whether an artifact exists at Path
func (t *BestModelTracker) HasPromoted() bool {
	return t.Promotions() > 0
}

// Path returns the promotion destination
func (t *BestModelTracker) Path() string { return t.path }
