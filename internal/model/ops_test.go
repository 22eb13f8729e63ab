package model

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runOp(t *testing.T, op *Op, vals map[string]*Tensor) *Tensor {
	t.Helper()
	out, err := kernels[op.Type](op, func(name string) (*Tensor, error) {
		v, ok := vals[name]
		if !ok {
			return nil, ErrParamNotFound
		}
		return v, nil
	})
	require.NoError(t, err)
	return out
}

func mustTensor(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	tt, err := NewTensor(shape, data)
	require.NoError(t, err)
	return tt
}

func TestNewTensorShapeMismatch(t *testing.T) {
	_, err := NewTensor([]int{2, 2}, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestStack(t *testing.T) {
	a := mustTensor(t, []int{2}, []float32{1, 2})
	b := mustTensor(t, []int{2}, []float32{3, 4})
	s, err := Stack([]*Tensor{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, s.Shape)
	assert.Equal(t, []float32{1, 2, 3, 4}, s.Data)

	_, err = Stack([]*Tensor{a, mustTensor(t, []int{1}, []float32{1})})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestMulKernel(t *testing.T) {
	op := &Op{Type: OpMul, Inputs: map[string][]string{SlotX: {"x"}, SlotY: {"w"}}, Outputs: map[string][]string{SlotOut: {"o"}}}
	out := runOp(t, op, map[string]*Tensor{
		"x": mustTensor(t, []int{1, 2}, []float32{1, 2}),
		"w": mustTensor(t, []int{2, 3}, []float32{1, 0, 1, 0, 1, 1}),
	})
	assert.Equal(t, []int{1, 3}, out.Shape)
	assert.Equal(t, []float32{1, 2, 3}, out.Data)
}

func TestConvKernel(t *testing.T) {
	op := &Op{Type: OpConv2D, Inputs: map[string][]string{SlotInput: {"x"}, SlotFilter: {"w"}}, Outputs: map[string][]string{SlotOut: {"o"}}}
	x := Zeros(1, 1, 3, 3)
	for i := range x.Data {
		x.Data[i] = 1
	}
	w := mustTensor(t, []int{1, 1, 2, 2}, []float32{1, 1, 1, 1})
	out := runOp(t, op, map[string]*Tensor{"x": x, "w": w})
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape)
	assert.Equal(t, []float32{4, 4, 4, 4}, out.Data)

	op.Attrs = map[string]any{"paddings": []any{1, 1}}
	out = runOp(t, op, map[string]*Tensor{"x": x, "w": w})
	assert.Equal(t, []int{1, 1, 4, 4}, out.Shape)
	assert.Equal(t, float32(1), out.Data[0])
	assert.Equal(t, float32(4), out.Data[5])
}

func TestDepthwiseConvKernel(t *testing.T) {
	op := &Op{Type: OpDepthwiseConv2D, Inputs: map[string][]string{SlotInput: {"x"}, SlotFilter: {"w"}}, Outputs: map[string][]string{SlotOut: {"o"}}}
	x := mustTensor(t, []int{1, 2, 1, 1}, []float32{1, 1})
	w := mustTensor(t, []int{2, 1, 1, 1}, []float32{2, 3})
	out := runOp(t, op, map[string]*Tensor{"x": x, "w": w})
	assert.Equal(t, []float32{2, 3}, out.Data)
}

func TestAddKernelBroadcast(t *testing.T) {
	op := &Op{Type: OpElementwiseAdd, Inputs: map[string][]string{SlotX: {"x"}, SlotY: {"b"}}, Outputs: map[string][]string{SlotOut: {"o"}}, Attrs: map[string]any{"axis": 1}}
	x := Zeros(1, 2, 2, 1)
	b := mustTensor(t, []int{2}, []float32{10, 20})
	out := runOp(t, op, map[string]*Tensor{"x": x, "b": b})
	assert.Equal(t, []float32{10, 10, 20, 20}, out.Data)

	bad := mustTensor(t, []int{3}, []float32{1, 2, 3})
	_, err := kernels[OpElementwiseAdd](op, func(name string) (*Tensor, error) {
		if name == "x" {
			return x, nil
		}
		return bad, nil
	})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSoftmaxKernel(t *testing.T) {
	op := &Op{Type: OpSoftmax, Inputs: map[string][]string{SlotX: {"x"}}, Outputs: map[string][]string{SlotOut: {"o"}}}
	out := runOp(t, op, map[string]*Tensor{"x": mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 1000, 1000, 1000})})
	for r := 0; r < 2; r++ {
		var sum float32
		for _, v := range out.Data[r*3 : r*3+3] {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
	assert.InDelta(t, 1.0/3, out.Data[4], 1e-6)
	assert.Greater(t, out.Data[2], out.Data[1])
}

func TestPoolKernel(t *testing.T) {
	x := mustTensor(t, []int{1, 1, 2, 2}, []float32{1, 2, 3, 4})
	maxOp := &Op{Type: OpPool2D, Inputs: map[string][]string{SlotX: {"x"}}, Outputs: map[string][]string{SlotOut: {"o"}},
		Attrs: map[string]any{"pooling_type": "max", "ksize": []int{2, 2}, "strides": []int{2, 2}}}
	out := runOp(t, maxOp, map[string]*Tensor{"x": x})
	assert.Equal(t, []float32{4}, out.Data)

	avgOp := &Op{Type: OpPool2D, Inputs: map[string][]string{SlotX: {"x"}}, Outputs: map[string][]string{SlotOut: {"o"}},
		Attrs: map[string]any{"pooling_type": "avg", "global_pooling": true}}
	out = runOp(t, avgOp, map[string]*Tensor{"x": x})
	assert.Equal(t, []int{1, 1, 1, 1}, out.Shape)
	assert.Equal(t, []float32{2.5}, out.Data)
}

func TestBatchNormKernel(t *testing.T) {
	op := &Op{Type: OpBatchNorm, Inputs: map[string][]string{
		SlotX: {"x"}, SlotScale: {"s"}, SlotBias: {"b"}, SlotMean: {"m"}, SlotVariance: {"v"},
	}, Outputs: map[string][]string{SlotOut: {"o"}}, Attrs: map[string]any{"epsilon": 0.0}}
	out := runOp(t, op, map[string]*Tensor{
		"x": mustTensor(t, []int{1, 2}, []float32{3, 5}),
		"s": mustTensor(t, []int{2}, []float32{2, 1}),
		"b": mustTensor(t, []int{2}, []float32{1, 0}),
		"m": mustTensor(t, []int{2}, []float32{1, 1}),
		"v": mustTensor(t, []int{2}, []float32{4, 16}),
	})
	// (3-1)/2*2+1 = 3, (5-1)/4*1+0 = 1
	assert.InDeltaSlice(t, []float32{3, 1}, out.Data, 1e-6)
}

func TestQuantDequant(t *testing.T) {
	assert.InDelta(t, 64.0/127.0, QuantDequant(0.5, 1, 8), 1e-6)
	assert.Equal(t, float32(1), QuantDequant(2, 1, 8))
	assert.Equal(t, float32(-1), QuantDequant(-2, 1, 8))
	assert.Equal(t, float32(0), QuantDequant(0.3, 0, 8))
	// fewer bits give a coarser grid
	assert.InDelta(t, 0.0, QuantDequant(0.1, 1, 2), 1e-6)
}

func TestFakeQuantKernelPerChannel(t *testing.T) {
	op := &Op{Type: OpFakeQuantizeDequantize, Inputs: map[string][]string{SlotX: {"x"}, SlotScale: {"s"}}, Outputs: map[string][]string{SlotOut: {"o"}},
		Attrs: map[string]any{"bit_length": 8, "quant_axis": 0}}
	out := runOp(t, op, map[string]*Tensor{
		"x": mustTensor(t, []int{2, 2}, []float32{1, -1, 1, -1}),
		"s": mustTensor(t, []int{2}, []float32{1, 0.5}),
	})
	assert.InDeltaSlice(t, []float32{1, -1, 0.5, -0.5}, out.Data, 1e-6)
}

func TestExecutorRun(t *testing.T) {
	scope := NewScope()
	scope.Set("w", mustTensor(t, []int{2, 2}, []float32{1, 0, 0, 1}))
	prog := &Program{Graph: &Graph{
		Feeds:   []Var{{Name: "x", Shape: []int{-1, 2}}},
		Fetches: []string{"y"},
		Params:  []string{"w"},
		Ops: []*Op{
			{Type: OpMul, Inputs: map[string][]string{SlotX: {"x"}, SlotY: {"w"}}, Outputs: map[string][]string{SlotOut: {"h"}}},
			{Type: OpRelu, Inputs: map[string][]string{SlotX: {"h"}}, Outputs: map[string][]string{SlotOut: {"y"}}},
		},
	}}
	require.NoError(t, prog.Graph.Validate())
	exe := NewExecutor(nil)

	var seen []string
	out, err := exe.RunWithHook(context.Background(), prog, scope,
		map[string]*Tensor{"x": mustTensor(t, []int{1, 2}, []float32{-1, 2})},
		func(name string, _ *Tensor) { seen = append(seen, name) })
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []float32{0, 2}, out[0].Data)
	assert.Equal(t, []string{"x", "h", "y"}, seen)

	_, err = exe.Run(context.Background(), prog, scope, map[string]*Tensor{})
	assert.ErrorIs(t, err, ErrMissingFeed)

	_, err = exe.Run(context.Background(), prog, scope, map[string]*Tensor{"x": Zeros(1, 3)})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exe.Run(ctx, prog, scope, map[string]*Tensor{"x": Zeros(1, 2)})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = exe.Run(context.Background(), prog, NewScope(), map[string]*Tensor{"x": Zeros(1, 2)})
	assert.ErrorIs(t, err, ErrParamNotFound)
}

func TestGraphValidate(t *testing.T) {
	base := func() *Graph {
		return &Graph{
			Feeds:   []Var{{Name: "x"}},
			Fetches: []string{"y"},
			Ops: []*Op{
				{Type: OpRelu, Inputs: map[string][]string{SlotX: {"x"}}, Outputs: map[string][]string{SlotOut: {"y"}}},
			},
		}
	}
	require.NoError(t, base().Validate())

	g := base()
	g.Ops[0].Type = "lstm"
	assert.ErrorIs(t, g.Validate(), ErrUnsupportedOp)

	g = base()
	g.Ops[0].Inputs[SlotX] = []string{"missing"}
	assert.ErrorIs(t, g.Validate(), ErrInvalidGraph)

	g = base()
	g.Fetches = []string{"z"}
	assert.ErrorIs(t, g.Validate(), ErrInvalidGraph)

	g = base()
	g.Ops = append(g.Ops, g.Ops[0].Clone())
	assert.ErrorIs(t, g.Validate(), ErrInvalidGraph)
}

func TestSigmoid(t *testing.T) {
	op := &Op{Type: OpSigmoid, Inputs: map[string][]string{SlotX: {"x"}}, Outputs: map[string][]string{SlotOut: {"o"}}}
	out := runOp(t, op, map[string]*Tensor{"x": mustTensor(t, []int{1}, []float32{0})})
	assert.InDelta(t, 0.5, out.Data[0], 1e-7)
	assert.False(t, math.IsNaN(float64(out.Data[0])))
}
