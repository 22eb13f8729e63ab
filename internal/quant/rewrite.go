package quant

import (
	"slices"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
)

// insertFakeQuant puts one fake_quantize_dequantize op in front of the first
// quantized reader of each calibrated activation and rewires the quantized
// readers to its output. It returns the number of quantized ops.
func insertFakeQuant(prog *model.Program, scope *model.Scope, opts Options, t targets, thresholds map[string]float32) int {
	g := prog.Graph
	quantized := make(map[string]string, len(thresholds))

	for _, name := range t.activations {
		scale, ok := thresholds[name]
		if !ok || scale <= 0 {
			continue
		}
		first := -1
		for _, s := range t.slots {
			if s.name != name {
				continue
			}
			if i := slices.Index(g.Ops, s.op); i >= 0 && (first < 0 || i < first) {
				first = i
			}
		}
		if first < 0 {
			continue
		}

		scaleName := name + ".quant_scale"
		outName := name + ".quantized"
		prog.AddParam(scope, scaleName, &model.Tensor{Shape: []int{1}, Data: []float32{scale}})
		fq := &model.Op{
			Type:    model.OpFakeQuantizeDequantize,
			Inputs:  map[string][]string{model.SlotX: {name}, model.SlotScale: {scaleName}},
			Outputs: map[string][]string{model.SlotOut: {outName}},
			Attrs: map[string]any{
				"bit_length":    opts.ActivationBits,
				"quantize_type": opts.ActivationQuantizeType,
				"algo":          opts.Algo,
			},
		}
		g.Ops = slices.Insert(g.Ops, first, fq)
		quantized[name] = outName
	}

	for _, s := range t.slots {
		out, ok := quantized[s.name]
		if !ok {
			continue
		}
		ins := s.op.Inputs[s.slot]
		if len(ins) > 0 && ins[0] == s.name {
			ins[0] = out
		}
	}

	rewired := make(map[*model.Op]bool)
	for _, s := range t.slots {
		if _, ok := quantized[s.name]; ok {
			rewired[s.op] = true
		}
	}
	n := 0
	for _, op := range t.ops {
		if _, hasWeight := op.Attrs["weight_scale"]; rewired[op] || hasWeight {
			n++
		}
	}
	return n
}
