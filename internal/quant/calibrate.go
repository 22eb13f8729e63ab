package quant

import (
	"context"
	"fmt"
	"io"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/dataset"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
)

// calibrate runs the calibration batches through the float program and
// returns a threshold per activation variable. Batches are cached so that
// algorithms needing the overall abs max can take a second pass.
func calibrate(ctx context.Context, exec *model.Executor, prog *model.Program, scope *model.Scope, opts Options, activations []string) (map[string]float32, int, error) {
	it, err := opts.Calibration.Open(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("open calibration data: %w", err)
	}
	defer it.Close()

	var feeds []map[string]*model.Tensor
	samples := 0
	for opts.BatchNums <= 0 || len(feeds) < opts.BatchNums {
		batch, n, err := dataset.NextBatch(it, opts.BatchSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read calibration batch: %w", err)
		}
		feed, err := dataset.Feed(prog, batch)
		if err != nil {
			return nil, 0, err
		}
		feeds = append(feeds, feed)
		samples += n
	}
	if samples == 0 {
		return nil, 0, ErrNoCalibrationData
	}

	stats := make(map[string]*varStats, len(activations))
	for _, name := range activations {
		stats[name] = &varStats{}
	}
	run := func(observe func(s *varStats, data []float32)) error {
		for _, feed := range feeds {
			_, err := exec.RunWithHook(ctx, prog, scope, feed, func(name string, t *model.Tensor) {
				if s, ok := stats[name]; ok {
					observe(s, t.Data)
				}
			})
			if err != nil {
				return fmt.Errorf("calibration run: %w", err)
			}
		}
		return nil
	}

	if err := run(func(s *varStats, data []float32) { s.observeFirstPass(data) }); err != nil {
		return nil, 0, err
	}
	if needsSecondPass(opts.Algo) {
		for _, s := range stats {
			s.prepareSecondPass(opts.Algo)
		}
		err := run(func(s *varStats, data []float32) {
			s.observeSecondPass(opts.Algo, opts.ActivationBits, data)
		})
		if err != nil {
			return nil, 0, err
		}
	}

	thresholds := make(map[string]float32, len(stats))
	for name, s := range stats {
		thresholds[name] = s.threshold(opts.Algo, opts.HistPercent, opts.ActivationBits)
	}
	return thresholds, samples, nil
}
