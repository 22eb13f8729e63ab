package model

import (
	"fmt"
	"math"
	"slices"
)

// FuseBatchNorm folds batch_norm ops that directly follow a conv2d or
// depthwise_conv2d (optionally through a bias elementwise_add) into the conv
// filter and a bias add. It returns how many batch norms were folded.
func FuseBatchNorm(prog *Program, scope *Scope) (int, error) {
	g := prog.Graph
	fused := 0
	for i := 0; i < len(g.Ops); i++ {
		bn := g.Ops[i]
		if bn.Type != OpBatchNorm {
			continue
		}
		bnIn := bn.Input(SlotX)
		if len(g.Consumers(bnIn)) != 1 {
			continue
		}

		var add *Op
		conv := g.Producer(bnIn)
		if conv != nil && conv.Type == OpElementwiseAdd {
			add = conv
			if !isParam(g, add.Input(SlotY)) || len(g.Consumers(add.Input(SlotX))) != 1 {
				continue
			}
			conv = g.Producer(add.Input(SlotX))
		}
		if conv == nil || (conv.Type != OpConv2D && conv.Type != OpDepthwiseConv2D) {
			continue
		}
		filterName := conv.Input(SlotFilter)
		if !isParam(g, filterName) || len(g.Consumers(filterName)) != 1 {
			continue
		}

		filter, err := scope.MustGet(filterName)
		if err != nil {
			return fused, err
		}
		oc := filter.Shape[0]
		params := make([][]float32, 4)
		for j, slot := range []string{SlotScale, SlotBias, SlotMean, SlotVariance} {
			t, err := scope.MustGet(bn.Input(slot))
			if err != nil {
				return fused, err
			}
			if t.Len() != oc {
				return fused, fmt.Errorf("%w: batch_norm %s has %d channels, filter %s has %d", ErrShapeMismatch, slot, t.Len(), filterName, oc)
			}
			params[j] = t.Data
		}
		scale, beta, mean, variance := params[0], params[1], params[2], params[3]
		eps := attrFloat(bn, "epsilon", 1e-5)

		oldBias := make([]float32, oc)
		if add != nil {
			b, err := scope.MustGet(add.Input(SlotY))
			if err != nil {
				return fused, err
			}
			if b.Len() != oc {
				continue
			}
			copy(oldBias, b.Data)
		}

		newFilter := filter.Clone()
		per := filter.Len() / oc
		newBias := Zeros(oc)
		for c := 0; c < oc; c++ {
			inv := float32(float64(scale[c]) / math.Sqrt(float64(variance[c])+eps))
			for k := c * per; k < (c+1)*per; k++ {
				newFilter.Data[k] *= inv
			}
			newBias.Data[c] = (oldBias[c]-mean[c])*inv + beta[c]
		}
		scope.Set(filterName, newFilter)
		biasName := filterName + ".fused_bias"
		prog.AddParam(scope, biasName, newBias)

		if add != nil {
			add.Inputs[SlotY] = []string{biasName}
			add.Outputs[SlotOut] = []string{bn.Output()}
			add.Attrs = map[string]any{"axis": 1}
			g.Ops = slices.Delete(g.Ops, i, i+1)
			i--
		} else {
			g.Ops[i] = &Op{
				Type:    OpElementwiseAdd,
				Inputs:  map[string][]string{SlotX: {bnIn}, SlotY: {biasName}},
				Outputs: map[string][]string{SlotOut: {bn.Output()}},
				Attrs:   map[string]any{"axis": 1},
			}
		}
		fused++
	}
	if fused > 0 {
		prog.RemoveUnusedParams(scope)
	}
	return fused, g.Validate()
}

func isParam(g *Graph, name string) bool {
	return slices.Contains(g.Params, name)
}
