package quant

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
)

const biasCorrectionEps = 1e-8

// quantizeWeights replaces every target weight with its quantize-dequantized
// value and records the scales as "<weight>.quant_scale".
func quantizeWeights(prog *model.Program, scope *model.Scope, opts Options, weights []*weightTarget) error {
	for _, w := range weights {
		t, err := scope.MustGet(w.name)
		if err != nil {
			return err
		}
		axis := -1
		if opts.WeightQuantizeType == WeightChannelAbsMax {
			if w.axis >= t.Rank() {
				return fmt.Errorf("weight %s: channel axis %d out of range for shape %v", w.name, w.axis, t.Shape)
			}
			axis = w.axis
		}

		groups := channelGroups(t, axis)
		scales := make([]float32, len(groups))
		q := t.Clone()
		for c, idx := range groups {
			scales[c] = groupAbsMax(t.Data, idx)
			for _, i := range idx {
				q.Data[i] = model.QuantDequant(t.Data[i], scales[c], opts.WeightBits)
			}
			if opts.BiasCorrection {
				correctBias(t.Data, q.Data, idx, scales[c], opts.WeightBits)
			}
		}
		scope.Set(w.name, q)

		scaleName := w.name + ".quant_scale"
		prog.AddParam(scope, scaleName, &model.Tensor{Shape: []int{len(scales)}, Data: scales})
		for _, op := range w.ops {
			if op.Attrs == nil {
				op.Attrs = make(map[string]any)
			}
			op.Attrs["weight_bits"] = opts.WeightBits
			op.Attrs["weight_quantize_type"] = opts.WeightQuantizeType
			op.Attrs["weight_scale"] = scaleName
			op.Attrs["weight_quant_axis"] = axis
		}
	}
	return nil
}

// channelGroups returns the flat indices of each slice along axis. A negative
// axis yields one group covering the whole tensor.
func channelGroups(t *model.Tensor, axis int) [][]int {
	if axis < 0 {
		all := make([]int, t.Len())
		for i := range all {
			all[i] = i
		}
		return [][]int{all}
	}
	c := t.Shape[axis]
	post := 1
	for _, d := range t.Shape[axis+1:] {
		post *= d
	}
	groups := make([][]int, c)
	for i := range t.Data {
		ch := (i / post) % c
		groups[ch] = append(groups[ch], i)
	}
	return groups
}

func groupAbsMax(data []float32, idx []int) float32 {
	var m float32
	for _, i := range idx {
		m = max(m, abs32(data[i]))
	}
	return m
}

// correctBias shifts and rescales the dequantized group so its mean and
// standard deviation match the float weights, then quantizes it again.
func correctBias(orig, quant []float32, idx []int, scale float32, bits int) {
	if len(idx) == 0 || scale == 0 {
		return
	}
	n := float64(len(idx))
	var meanBias, meanX, meanQ float64
	for _, i := range idx {
		meanBias += float64(orig[i] - quant[i])
		meanX += float64(orig[i])
		meanQ += float64(quant[i])
	}
	meanBias /= n
	meanX /= n
	meanQ /= n

	var varX, varQ float64
	for _, i := range idx {
		dx := float64(orig[i]) - meanX
		dq := float64(quant[i]) - meanQ
		varX += dx * dx
		varQ += dq * dq
	}
	ratio := math.Sqrt(varX/n) / (math.Sqrt(varQ/n) + biasCorrectionEps)

	for _, i := range idx {
		v := (float64(quant[i]) + meanBias) * ratio
		quant[i] = model.QuantDequant(float32(v), scale, bits)
	}
}
