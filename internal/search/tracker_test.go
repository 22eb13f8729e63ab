package search

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// writeCandidate writes an artifact directory whose "cost" file records label
func writeCandidate(t *testing.T, dir, label string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cost"), []byte(label), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "params"), []byte("p"+label), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return dir
}

func readLabel(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "cost"))
	if err != nil {
		t.Fatalf("read promoted artifact: %v", err)
	}
	return string(data)
}

func TestTrackerPromotesOnStrictImprovement(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "out", "best")
	tr := NewBestModelTracker(dest, logger.Discard())

	if !math.IsInf(tr.BestCost(), 1) || tr.HasPromoted() {
		t.Fatalf("expected fresh tracker at +Inf without promotion")
	}

	costs := []float64{5, 2, 8, 2, 1.5}
	wantPromoted := []bool{true, true, false, false, true}
	for i, c := range costs {
		label := strconv.FormatFloat(c, 'g', -1, 64)
		cand := writeCandidate(t, filepath.Join(root, "scratch"), label)
		promoted, err := tr.Consider(c, cand)
		if err != nil {
			t.Fatalf("Consider(%v) failed: %v", c, err)
		}
		if promoted != wantPromoted[i] {
			t.Fatalf("Consider(%v): promoted=%v, want %v", c, promoted, wantPromoted[i])
		}
	}
	if tr.BestCost() != 1.5 {
		t.Fatalf("expected best cost 1.5, got %v", tr.BestCost())
	}
	if tr.Promotions() != 3 {
		t.Fatalf("expected 3 promotions, got %d", tr.Promotions())
	}
	if got := readLabel(t, dest); got != "1.5" {
		t.Fatalf("expected promoted artifact 1.5, got %s", got)
	}
	data, err := os.ReadFile(filepath.Join(dest, "sub", "params"))
	if err != nil || string(data) != "p1.5" {
		t.Fatalf("expected nested file copied, got %q, %v", data, err)
	}

	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the promoted directory, found %d entries", len(entries))
	}
}

func TestTrackerNonImprovingIsNoOp(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "best")
	tr := NewBestModelTracker(dest, logger.Discard())
	if _, err := tr.Consider(1, writeCandidate(t, filepath.Join(root, "a"), "1")); err != nil {
		t.Fatalf("Consider failed: %v", err)
	}

	for _, c := range []float64{1, 3, math.Inf(1), math.NaN()} {
		promoted, err := tr.Consider(c, writeCandidate(t, filepath.Join(root, "b"), "other"))
		if err != nil || promoted {
			t.Fatalf("Consider(%v) = %v, %v; want no promotion", c, promoted, err)
		}
	}
	if tr.BestCost() != 1 || tr.Promotions() != 1 {
		t.Fatalf("state changed: best=%v promotions=%d", tr.BestCost(), tr.Promotions())
	}
	if got := readLabel(t, dest); got != "1" {
		t.Fatalf("artifact changed to %s", got)
	}
}

func TestTrackerNaNNeverPromotes(t *testing.T) {
	tr := NewBestModelTracker(filepath.Join(t.TempDir(), "best"), logger.Discard())
	promoted, err := tr.Consider(math.NaN(), t.TempDir())
	if err != nil || promoted {
		t.Fatalf("NaN must not promote, got %v, %v", promoted, err)
	}
	if tr.HasPromoted() {
		t.Fatalf("expected no promotion")
	}
}

func TestTrackerCopiesCandidate(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "best")
	cand := writeCandidate(t, filepath.Join(root, "scratch"), "1")
	tr := NewBestModelTracker(dest, logger.Discard())
	if _, err := tr.Consider(1, cand); err != nil {
		t.Fatalf("Consider failed: %v", err)
	}
	// the scratch directory is overwritten by the next evaluation
	writeCandidate(t, cand, "9")
	if got := readLabel(t, dest); got != "1" {
		t.Fatalf("promoted artifact must be independent of the candidate, got %s", got)
	}
}

func TestTrackerFailedCopyKeepsPrevious(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "best")
	tr := NewBestModelTracker(dest, logger.Discard())
	if _, err := tr.Consider(2, writeCandidate(t, filepath.Join(root, "a"), "2")); err != nil {
		t.Fatalf("Consider failed: %v", err)
	}

	promoted, err := tr.Consider(1, filepath.Join(root, "missing"))
	if err == nil || promoted {
		t.Fatalf("expected error for missing candidate, got %v, %v", promoted, err)
	}
	if tr.BestCost() != 2 || tr.Promotions() != 1 {
		t.Fatalf("failed promotion changed state: best=%v promotions=%d", tr.BestCost(), tr.Promotions())
	}
	if got := readLabel(t, dest); got != "2" {
		t.Fatalf("previous artifact lost, got %s", got)
	}
}

func TestTrackerConcurrentReaders(t *testing.T) {
	root := t.TempDir()
	tr := NewBestModelTracker(filepath.Join(root, "best"), logger.Discard())
	cand := writeCandidate(t, filepath.Join(root, "a"), "x")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.BestCost()
				_ = tr.Promotions()
			}
		}()
	}
	for c := 10.0; c > 5; c-- {
		if _, err := tr.Consider(c, cand); err != nil {
			t.Fatalf("Consider failed: %v", err)
		}
	}
	wg.Wait()
	if tr.Promotions() != 5 {
		t.Fatalf("expected 5 promotions, got %d", tr.Promotions())
	}
}
