// Package modeltest builds small deterministic models for tests.
package modeltest

import (
	"math/rand"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
)

// Input shape of TinyCNN samples (without the batch dimension)
var InputShape = []int{1, 6, 6}

// TinyCNN returns a conv -> batch_norm -> relu -> depthwise conv -> pool ->
// fc -> softmax classifier with seeded random weights.
func TinyCNN(seed int64) (*model.Program, *model.Scope) {
	rng := rand.New(rand.NewSource(seed))
	randn := func(shape ...int) *model.Tensor {
		t := model.Zeros(shape...)
		for i := range t.Data {
			t.Data[i] = float32(rng.NormFloat64() * 0.5)
		}
		return t
	}
	positive := func(n int) *model.Tensor {
		t := model.Zeros(n)
		for i := range t.Data {
			t.Data[i] = 0.5 + float32(rng.Float64())
		}
		return t
	}

	scope := model.NewScope()
	scope.Set("conv1.w", randn(4, 1, 3, 3))
	scope.Set("bn1.scale", positive(4))
	scope.Set("bn1.bias", randn(4))
	scope.Set("bn1.mean", randn(4))
	scope.Set("bn1.var", positive(4))
	scope.Set("dw2.w", randn(4, 1, 3, 3))
	scope.Set("fc.w", randn(4, 3))
	scope.Set("fc.b", randn(3))

	g := &model.Graph{
		Feeds:   []model.Var{{Name: "image", Shape: []int{-1, 1, 6, 6}}},
		Fetches: []string{"prob"},
		Params:  []string{"conv1.w", "bn1.scale", "bn1.bias", "bn1.mean", "bn1.var", "dw2.w", "fc.w", "fc.b"},
		Ops: []*model.Op{
			{
				Type:    model.OpConv2D,
				Inputs:  map[string][]string{model.SlotInput: {"image"}, model.SlotFilter: {"conv1.w"}},
				Outputs: map[string][]string{model.SlotOut: {"conv1.out"}},
				Attrs:   map[string]any{"strides": []int{1, 1}, "paddings": []int{1, 1}},
			},
			{
				Type: model.OpBatchNorm,
				Inputs: map[string][]string{
					model.SlotX:        {"conv1.out"},
					model.SlotScale:    {"bn1.scale"},
					model.SlotBias:     {"bn1.bias"},
					model.SlotMean:     {"bn1.mean"},
					model.SlotVariance: {"bn1.var"},
				},
				Outputs: map[string][]string{model.SlotOut: {"bn1.out"}},
				Attrs:   map[string]any{"epsilon": 1e-5},
			},
			{
				Type:    model.OpRelu,
				Inputs:  map[string][]string{model.SlotX: {"bn1.out"}},
				Outputs: map[string][]string{model.SlotOut: {"relu1.out"}},
			},
			{
				Type:    model.OpDepthwiseConv2D,
				Inputs:  map[string][]string{model.SlotInput: {"relu1.out"}, model.SlotFilter: {"dw2.w"}},
				Outputs: map[string][]string{model.SlotOut: {"dw2.out"}},
				Attrs:   map[string]any{"strides": []int{2, 2}, "paddings": []int{1, 1}, "groups": 4},
			},
			{
				Type:    model.OpPool2D,
				Inputs:  map[string][]string{model.SlotX: {"dw2.out"}},
				Outputs: map[string][]string{model.SlotOut: {"pool.out"}},
				Attrs:   map[string]any{"pooling_type": "avg", "global_pooling": true},
			},
			{
				Type:    model.OpFlatten,
				Inputs:  map[string][]string{model.SlotX: {"pool.out"}},
				Outputs: map[string][]string{model.SlotOut: {"flat.out"}},
				Attrs:   map[string]any{"axis": 1},
			},
			{
				Type:    model.OpMul,
				Inputs:  map[string][]string{model.SlotX: {"flat.out"}, model.SlotY: {"fc.w"}},
				Outputs: map[string][]string{model.SlotOut: {"fc.mul"}},
			},
			{
				Type:    model.OpElementwiseAdd,
				Inputs:  map[string][]string{model.SlotX: {"fc.mul"}, model.SlotY: {"fc.b"}},
				Outputs: map[string][]string{model.SlotOut: {"fc.out"}},
				Attrs:   map[string]any{"axis": 1},
			},
			{
				Type:    model.OpSoftmax,
				Inputs:  map[string][]string{model.SlotX: {"fc.out"}},
				Outputs: map[string][]string{model.SlotOut: {"prob"}},
			},
		},
	}
	return &model.Program{Graph: g}, scope
}

// WriteTinyCNN saves TinyCNN into dir with combined params under
// model.DefaultParamsFilename.
func WriteTinyCNN(dir string, seed int64) error {
	prog, scope := TinyCNN(seed)
	return model.Save(dir, prog, scope, model.SaveOptions{
		ModelFilename:  model.DefaultModelFilename,
		ParamsFilename: model.DefaultParamsFilename,
		Codec:          model.CodecZSTD,
	})
}

// RandomSamples returns n seeded inputs shaped like InputShape
func RandomSamples(n int, seed int64) []*model.Tensor {
	rng := rand.New(rand.NewSource(seed))
	out := make([]*model.Tensor, n)
	for i := range out {
		t := model.Zeros(InputShape...)
		for j := range t.Data {
			t.Data[j] = float32(rng.Float64()*2 - 1)
		}
		out[i] = t
	}
	return out
}
