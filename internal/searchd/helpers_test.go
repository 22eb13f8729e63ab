package searchd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/search"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/space"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// fakeEvaluator returns strictly decreasing costs and optionally blocks until
// release is closed or the context is cancelled
type fakeEvaluator struct {
	dir     string
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newFakeEvaluator(t *testing.T, blocking bool) *fakeEvaluator {
	f := &fakeEvaluator{dir: filepath.Join(t.TempDir(), "candidate")}
	if blocking {
		f.release = make(chan struct{})
	}
	return f
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, _ space.Configuration) (*search.EvaluationResult, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(f.dir, "label"), []byte(fmt.Sprint(n)), 0o644); err != nil {
		return nil, err
	}
	return &search.EvaluationResult{Cost: 10 / float64(n), ArtifactPath: f.dir, ValidSamples: 3}, nil
}

func factoryFor(ev search.Evaluator) JobFactory {
	return func(cfg *config.Config, opts search.JobOptions) (*search.Job, error) {
		opts.Evaluator = ev
		opts.Logger = logger.Discard()
		return search.NewJob(cfg, opts)
	}
}

// testConfigYAML renders a valid search config whose output lives in a temp dir
func testConfigYAML(t *testing.T, budget int) string {
	t.Helper()
	root := t.TempDir()
	return fmt.Sprintf(`
model:
  dir: %s
output:
  path: %s
  scratch_path: %s
quantization:
  weight_bits: 8
  activation_bits: 8
  weight_quantize_type: channel_wise_abs_max
data:
  calibration: {type: tensor_file, path: %s, shape: [1, 8, 8]}
  evaluation: {type: tensor_file, path: %s, shape: [1, 8, 8]}
search:
  runcount_limit: %d
  seed: 7
`,
		filepath.Join(root, "float"),
		filepath.Join(root, "best"),
		filepath.Join(root, "scratch"),
		filepath.Join(root, "calib.bin"),
		filepath.Join(root, "eval.bin"),
		budget)
}

func newTestExecutor(t *testing.T, ev search.Evaluator) (*RunStore, *RunExecutor) {
	t.Helper()
	store := NewRunStore()
	exec := NewRunExecutor(store, ExecutorOptions{NewJob: factoryFor(ev), Logger: logger.Discard()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = exec.Shutdown(ctx)
	})
	return store, exec
}

func waitForStatus(t *testing.T, store *RunStore, id string, want Status) *RunRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := store.Get(id)
		if !ok {
			t.Fatalf("search %s not found", id)
		}
		if rec.Status == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := store.Get(id)
	t.Fatalf("search %s did not reach %s, last status %s (error %q)", id, want, rec.Status, rec.Error)
	return nil
}
