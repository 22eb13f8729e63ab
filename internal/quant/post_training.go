// Package quant implements post-training quantization of float programs:
// activation thresholds are calibrated on sample batches, weights are
// quantized in place and fake quantize/dequantize ops are inserted in front
// of every quantized operator.
package quant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/dataset"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

var (
	ErrNoCalibrationData     = errors.New("no calibration data")
	ErrUnsupportedAlgo       = errors.New("unsupported calibration algo")
	ErrUnsupportedWeightType = errors.New("unsupported weight quantize type")
	ErrInvalidOptions        = errors.New("invalid quantization options")
)

// Weight quantize types
const (
	WeightAbsMax        = "abs_max"
	WeightChannelAbsMax = "channel_wise_abs_max"
)

// Options configures one post-training quantization run
type Options struct {
	Executor *model.Executor
	// Scope receives the loaded parameters; a fresh scope is used when nil
	Scope *model.Scope

	ModelDir           string
	ModelFilename      string
	ParamsFilename     string
	SaveModelFilename  string
	SaveParamsFilename string
	Codec              model.Codec
	Destination        string

	Calibration        dataset.Source
	QuantizableOpTypes []string
	// IsFullQuantize also quantizes the activations of pool2d and
	// elementwise_add ops.
	IsFullQuantize         bool
	WeightBits             int
	ActivationBits         int
	ActivationQuantizeType string
	WeightQuantizeType     string

	Algo           string
	HistPercent    float64
	BiasCorrection bool
	BatchSize      int
	BatchNums      int // <= 0 means use every calibration sample
	OptimizeModel  bool

	Logger *slog.Logger
}

// Result summarizes a quantization run
type Result struct {
	QuantizedOps       int
	Thresholds         map[string]float32
	CalibrationSamples int
	FusedBatchNorms    int
}

func (o *Options) validate() error {
	switch o.Algo {
	case AlgoKL, AlgoHist, AlgoAvg, AlgoMSE, AlgoAbsMax:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgo, o.Algo)
	}
	if o.WeightQuantizeType != WeightAbsMax && o.WeightQuantizeType != WeightChannelAbsMax {
		return fmt.Errorf("%w: %q", ErrUnsupportedWeightType, o.WeightQuantizeType)
	}
	if o.Algo == AlgoHist && (o.HistPercent <= 0 || o.HistPercent > 1) {
		return fmt.Errorf("%w: hist_percent %v outside (0, 1]", ErrInvalidOptions, o.HistPercent)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidOptions, o.BatchSize)
	}
	if o.WeightBits < 2 || o.WeightBits > 16 || o.ActivationBits < 2 || o.ActivationBits > 16 {
		return fmt.Errorf("%w: bit widths must be in [2, 16]", ErrInvalidOptions)
	}
	if o.Calibration == nil {
		return fmt.Errorf("%w: calibration source is required", ErrInvalidOptions)
	}
	return nil
}

// PostTraining loads the float model from ModelDir, quantizes it and writes
// the result to Destination, replacing anything already there.
func PostTraining(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Destination == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrInvalidOptions)
	}
	scope := opts.Scope
	if scope == nil {
		scope = model.NewScope()
	}
	prog, err := model.Load(opts.ModelDir, model.LoadOptions{
		ModelFilename:  opts.ModelFilename,
		ParamsFilename: opts.ParamsFilename,
	}, scope)
	if err != nil {
		return nil, fmt.Errorf("load float model: %w", err)
	}

	res, err := QuantizeProgram(ctx, prog, scope, opts)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(opts.Destination); err != nil {
		return nil, fmt.Errorf("clear destination: %w", err)
	}
	if err := model.Save(opts.Destination, prog, scope, model.SaveOptions{
		ModelFilename:  opts.SaveModelFilename,
		ParamsFilename: opts.SaveParamsFilename,
		Codec:          opts.Codec,
	}); err != nil {
		return nil, fmt.Errorf("save quantized model: %w", err)
	}
	return res, nil
}

// QuantizeProgram quantizes prog in place. Weights in scope are overwritten
// with their quantize-dequantized values.
func QuantizeProgram(ctx context.Context, prog *model.Program, scope *model.Scope, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Component("quant")
	}
	exec := opts.Executor
	if exec == nil {
		exec = model.NewExecutor(log)
	}

	res := &Result{Thresholds: make(map[string]float32)}
	if opts.OptimizeModel {
		n, err := model.FuseBatchNorm(prog, scope)
		if err != nil {
			return nil, fmt.Errorf("fuse batch norm: %w", err)
		}
		res.FusedBatchNorms = n
	}

	targets := selectTargets(prog.Graph, opts)
	if len(targets.ops) == 0 {
		log.Warn("no quantizable ops found", "op_types", opts.QuantizableOpTypes)
	}

	thresholds, samples, err := calibrate(ctx, exec, prog, scope, opts, targets.activations)
	if err != nil {
		return nil, err
	}
	res.CalibrationSamples = samples
	res.Thresholds = thresholds

	if err := quantizeWeights(prog, scope, opts, targets.weights); err != nil {
		return nil, err
	}
	res.QuantizedOps = insertFakeQuant(prog, scope, opts, targets, thresholds)

	log.Info("post-training quantization done",
		"algo", opts.Algo,
		"quantized_ops", res.QuantizedOps,
		"activations", len(thresholds),
		"calibration_samples", samples,
		"fused_batch_norms", res.FusedBatchNorms)
	return res, nil
}

// activationSlot binds an op input slot to the variable it reads
type activationSlot struct {
	op   *model.Op
	slot string
	name string
}

type weightTarget struct {
	name string
	axis int // output channel axis for channel-wise quantization
	ops  []*model.Op
}

type targets struct {
	ops         []*model.Op
	activations []string
	slots       []activationSlot
	weights     []*weightTarget
}

func selectTargets(g *model.Graph, opts Options) targets {
	var t targets
	isParam := func(name string) bool { return slices.Contains(g.Params, name) }
	seenAct := make(map[string]bool)
	weightIdx := make(map[string]*weightTarget)

	addActivation := func(op *model.Op, slot string) {
		name := op.Input(slot)
		if name == "" || isParam(name) {
			return
		}
		t.slots = append(t.slots, activationSlot{op: op, slot: slot, name: name})
		if !seenAct[name] {
			seenAct[name] = true
			t.activations = append(t.activations, name)
		}
	}
	addWeight := func(op *model.Op, slot string, axis int) {
		name := op.Input(slot)
		if name == "" || !isParam(name) {
			return
		}
		w, ok := weightIdx[name]
		if !ok {
			w = &weightTarget{name: name, axis: axis}
			weightIdx[name] = w
			t.weights = append(t.weights, w)
		}
		w.ops = append(w.ops, op)
	}

	for _, op := range g.Ops {
		quantizable := slices.Contains(opts.QuantizableOpTypes, op.Type)
		switch {
		case quantizable && (op.Type == model.OpConv2D || op.Type == model.OpDepthwiseConv2D):
			addActivation(op, model.SlotInput)
			addWeight(op, model.SlotFilter, 0)
		case quantizable && op.Type == model.OpMul:
			addActivation(op, model.SlotX)
			if isParam(op.Input(model.SlotY)) {
				addWeight(op, model.SlotY, 1)
			} else {
				addActivation(op, model.SlotY)
			}
		case opts.IsFullQuantize && op.Type == model.OpPool2D:
			addActivation(op, model.SlotX)
		case opts.IsFullQuantize && op.Type == model.OpElementwiseAdd:
			addActivation(op, model.SlotX)
			addActivation(op, model.SlotY)
		default:
			continue
		}
		t.ops = append(t.ops, op)
	}
	return t
}
