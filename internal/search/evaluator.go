package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/dataset"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/quant"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/space"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/stats"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// EvaluationResult is the outcome of one successful evaluation
type EvaluationResult struct {
	Cost         float64
	ArtifactPath string
	ValidSamples int
	OutputLength int
	Skipped      map[stats.SkipReason]int
	Duration     time.Duration
}

// Evaluator scores a configuration; lower cost is better
type Evaluator interface {
	Evaluate(ctx context.Context, cfg space.Configuration) (*EvaluationResult, error)
}

// QuantEvaluator quantizes the float model with the configuration's settings
// and measures the EMD between float and quantized outputs.
type QuantEvaluator struct {
	cfg         *config.Config
	calibration dataset.Source
	evaluation  dataset.Source
	codec       model.Codec
	executor    *model.Executor
	logger      *slog.Logger
}

// NewQuantEvaluator builds an evaluator from a loaded config
func NewQuantEvaluator(cfg *config.Config, l *slog.Logger) (*QuantEvaluator, error) {
	if l == nil {
		l = logger.Component("evaluator")
	}
	calibration, err := dataset.FromConfig(cfg.Data.Calibration)
	if err != nil {
		return nil, fmt.Errorf("calibration source: %w", err)
	}
	evaluation, err := dataset.FromConfig(cfg.Data.Evaluation)
	if err != nil {
		return nil, fmt.Errorf("evaluation source: %w", err)
	}
	codec, err := model.ParseCodec(cfg.Model.ParamsCodec)
	if err != nil {
		return nil, err
	}
	return NewQuantEvaluatorWithSources(cfg, calibration, evaluation, codec, l), nil
}

// NewQuantEvaluatorWithSources is NewQuantEvaluator with explicit sources
func NewQuantEvaluatorWithSources(cfg *config.Config, calibration, evaluation dataset.Source, codec model.Codec, l *slog.Logger) *QuantEvaluator {
	if l == nil {
		l = logger.Component("evaluator")
	}
	limit := cfg.Data.MaxEvalSamples
	if limit <= 0 {
		limit = config.DefaultMaxEvalSamples
	}
	return &QuantEvaluator{
		cfg:         cfg,
		calibration: calibration,
		evaluation:  dataset.Limit(evaluation, limit),
		codec:       codec,
		executor:    model.NewExecutor(l),
		logger:      l,
	}
}

// QuantOptions maps a configuration onto quantizer options. Parameters
// missing from c fall back to the configured defaults.
func (e *QuantEvaluator) QuantOptions(c space.Configuration) quant.Options {
	q := e.cfg.Quantization
	def := space.Configuration{}
	if sp, err := space.QuantSpace(q.WeightQuantizeType, e.cfg.Search.Space); err == nil {
		def = sp.Default()
	}
	pick := func(name string) space.Configuration {
		if _, ok := c.Value(name); ok {
			return c
		}
		return def
	}
	return quant.Options{
		Executor:               e.executor,
		ModelDir:               e.cfg.Model.Dir,
		ModelFilename:          e.cfg.Model.ModelFilename,
		ParamsFilename:         e.cfg.Model.ParamsFilename,
		SaveModelFilename:      e.cfg.Model.SaveModelFilename,
		SaveParamsFilename:     e.cfg.Model.SaveParamsFilename,
		Codec:                  e.codec,
		Destination:            e.cfg.Output.ScratchPath,
		Calibration:            e.calibration,
		QuantizableOpTypes:     q.QuantizableOpTypes,
		IsFullQuantize:         q.IsFullQuantize,
		WeightBits:             q.WeightBits,
		ActivationBits:         q.ActivationBits,
		ActivationQuantizeType: q.ActivationQuantizeType,
		WeightQuantizeType:     pick(space.ParamWeightQuantizeMethod).Choice(space.ParamWeightQuantizeMethod),
		Algo:                   pick(space.ParamAlgo).Choice(space.ParamAlgo),
		HistPercent:            pick(space.ParamHistPercent).Float(space.ParamHistPercent),
		BiasCorrection:         pick(space.ParamBiasCorrect).Bool(space.ParamBiasCorrect),
		BatchSize:              pick(space.ParamBatchSize).Int(space.ParamBatchSize),
		BatchNums:              pick(space.ParamBatchNum).Int(space.ParamBatchNum),
		OptimizeModel:          q.OptimizeModel,
		Logger:                 e.logger,
	}
}

// Evaluate quantizes into the scratch path and scores the result
func (e *QuantEvaluator) Evaluate(ctx context.Context, c space.Configuration) (*EvaluationResult, error) {
	start := time.Now()
	floatScope := model.NewScope()
	floatProg, err := model.Load(e.cfg.Model.Dir, model.LoadOptions{
		ModelFilename:  e.cfg.Model.ModelFilename,
		ParamsFilename: e.cfg.Model.ParamsFilename,
	}, floatScope)
	if err != nil {
		return nil, fmt.Errorf("%w: float model: %w", ErrModelLoad, err)
	}

	if _, err := quant.PostTraining(ctx, e.QuantOptions(c)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrQuantization, err)
	}

	quantScope := model.NewScope()
	quantProg, err := model.Load(e.cfg.Output.ScratchPath, model.LoadOptions{
		ModelFilename:  e.cfg.Model.SaveModelFilename,
		ParamsFilename: e.cfg.Model.SaveParamsFilename,
	}, quantScope)
	if err != nil {
		return nil, fmt.Errorf("%w: quantized model: %w", ErrModelLoad, err)
	}

	acc, err := e.compare(ctx, floatProg, floatScope, quantProg, quantScope)
	if err != nil {
		return nil, err
	}
	cost, err := acc.Loss()
	if errors.Is(err, stats.ErrNoValidSamples) {
		return nil, fmt.Errorf("%w: 0 of %d samples usable", ErrInsufficientValidSamples, acc.Valid()+e.skippedTotal(acc))
	}
	if err != nil {
		return nil, err
	}

	res := &EvaluationResult{
		Cost:         cost,
		ArtifactPath: e.cfg.Output.ScratchPath,
		ValidSamples: acc.Valid(),
		OutputLength: acc.OutputLength(),
		Skipped: map[stats.SkipReason]int{
			stats.SkipEmpty:        acc.Skipped(stats.SkipEmpty),
			stats.SkipNonFinite:    acc.Skipped(stats.SkipNonFinite),
			stats.SkipZeroVariance: acc.Skipped(stats.SkipZeroVariance),
		},
		Duration: time.Since(start),
	}
	e.logger.Debug("evaluation scored",
		"config", c.Key(),
		"cost", cost,
		"valid_samples", res.ValidSamples,
		"output_length", res.OutputLength,
		"duration", res.Duration)
	return res, nil
}

// compare runs both models on every evaluation sample and accumulates the
// distance between their flattened outputs
func (e *QuantEvaluator) compare(ctx context.Context, floatProg *model.Program, floatScope *model.Scope, quantProg *model.Program, quantScope *model.Scope) (*stats.EMDAccumulator, error) {
	it, err := e.evaluation.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open evaluation data: %w", err)
	}
	defer it.Close()

	acc := stats.NewEMDAccumulator()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, _, err := dataset.NextBatch(it, 1)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read evaluation sample: %w", err)
		}
		feed, err := dataset.Feed(floatProg, batch)
		if err != nil {
			return nil, err
		}
		floatOut, err := e.executor.Run(ctx, floatProg, floatScope, feed)
		if err != nil {
			return nil, fmt.Errorf("float inference: %w", err)
		}
		quantOut, err := e.executor.Run(ctx, quantProg, quantScope, feed)
		if err != nil {
			return nil, fmt.Errorf("quantized inference: %w", err)
		}
		if _, err := acc.Add(flatten(floatOut), flatten(quantOut)); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (e *QuantEvaluator) skippedTotal(acc *stats.EMDAccumulator) int {
	return acc.Skipped(stats.SkipEmpty) + acc.Skipped(stats.SkipNonFinite) + acc.Skipped(stats.SkipZeroVariance)
}

// flatten concatenates every fetch tensor
func flatten(ts []*model.Tensor) []float64 {
	n := 0
	for _, t := range ts {
		n += t.Len()
	}
	out := make([]float64, 0, n)
	for _, t := range ts {
		for _, v := range t.Data {
			out = append(out, float64(v))
		}
	}
	return out
}
