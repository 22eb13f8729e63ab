package model

import (
	"fmt"
	"math"
)

type valueLookup func(name string) (*Tensor, error)

type kernelFunc func(op *Op, get valueLookup) (*Tensor, error)

var kernels = map[string]kernelFunc{
	OpMul:                    mulKernel,
	OpConv2D:                 convKernel,
	OpDepthwiseConv2D:        convKernel,
	OpElementwiseAdd:         addKernel,
	OpRelu:                   unaryKernel(func(v float32) float32 { return max(v, 0) }),
	OpSigmoid:                unaryKernel(func(v float32) float32 { return float32(1 / (1 + math.Exp(-float64(v)))) }),
	OpSoftmax:                softmaxKernel,
	OpFlatten:                flattenKernel,
	OpPool2D:                 poolKernel,
	OpBatchNorm:              batchNormKernel,
	OpFakeQuantizeDequantize: fakeQuantKernel,
}

// SupportedOps returns whether the executor has a kernel for typ
func SupportedOps(typ string) bool {
	_, ok := kernels[typ]
	return ok
}

func input(op *Op, get valueLookup, slot string) (*Tensor, error) {
	name := op.Input(slot)
	if name == "" {
		return nil, fmt.Errorf("%w: %s has no %s input", ErrInvalidGraph, op.Type, slot)
	}
	return get(name)
}

func unaryKernel(f func(float32) float32) kernelFunc {
	return func(op *Op, get valueLookup) (*Tensor, error) {
		x, err := input(op, get, SlotX)
		if err != nil {
			return nil, err
		}
		out := &Tensor{Shape: append([]int(nil), x.Shape...), Data: make([]float32, len(x.Data))}
		for i, v := range x.Data {
			out.Data[i] = f(v)
		}
		return out, nil
	}
}

// mulKernel flattens X to [rows, K] at x_num_col_dims and multiplies by Y [K, M].
func mulKernel(op *Op, get valueLookup) (*Tensor, error) {
	x, err := input(op, get, SlotX)
	if err != nil {
		return nil, err
	}
	y, err := input(op, get, SlotY)
	if err != nil {
		return nil, err
	}
	cols := attrInt(op, "x_num_col_dims", 1)
	if cols < 1 || cols >= x.Rank() || y.Rank() != 2 {
		return nil, fmt.Errorf("%w: mul %v x %v", ErrShapeMismatch, x.Shape, y.Shape)
	}
	rows, k := prod(x.Shape[:cols]), prod(x.Shape[cols:])
	if k != y.Shape[0] {
		return nil, fmt.Errorf("%w: mul inner dims %d vs %d", ErrShapeMismatch, k, y.Shape[0])
	}
	m := y.Shape[1]
	outShape := append(append([]int(nil), x.Shape[:cols]...), m)
	out := &Tensor{Shape: outShape, Data: make([]float32, rows*m)}
	for r := 0; r < rows; r++ {
		xr := x.Data[r*k : (r+1)*k]
		outRow := out.Data[r*m : (r+1)*m]
		for kk, xv := range xr {
			if xv == 0 {
				continue
			}
			yr := y.Data[kk*m : (kk+1)*m]
			for j, yv := range yr {
				outRow[j] += xv * yv
			}
		}
	}
	return out, nil
}

// convKernel handles conv2d and depthwise_conv2d over NCHW input and
// [OC, C/groups, KH, KW] filters.
func convKernel(op *Op, get valueLookup) (*Tensor, error) {
	x, err := input(op, get, SlotInput)
	if err != nil {
		return nil, err
	}
	w, err := input(op, get, SlotFilter)
	if err != nil {
		return nil, err
	}
	if x.Rank() != 4 || w.Rank() != 4 {
		return nil, fmt.Errorf("%w: %s input %v filter %v", ErrShapeMismatch, op.Type, x.Shape, w.Shape)
	}
	n, c, h, wd := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oc, icg, kh, kw := w.Shape[0], w.Shape[1], w.Shape[2], w.Shape[3]

	defGroups := 1
	if op.Type == OpDepthwiseConv2D {
		defGroups = c
	}
	groups := attrInt(op, "groups", defGroups)
	strides := attrInts(op, "strides", 2, 1)
	pads := attrInts(op, "paddings", 2, 0)
	dil := attrInts(op, "dilations", 2, 1)
	if groups < 1 || c%groups != 0 || oc%groups != 0 || icg != c/groups {
		return nil, fmt.Errorf("%w: %s channels %d, filter %v, groups %d", ErrShapeMismatch, op.Type, c, w.Shape, groups)
	}

	oh := (h+2*pads[0]-(dil[0]*(kh-1)+1))/strides[0] + 1
	ow := (wd+2*pads[1]-(dil[1]*(kw-1)+1))/strides[1] + 1
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("%w: %s output would be %dx%d", ErrShapeMismatch, op.Type, oh, ow)
	}
	out := Zeros(n, oc, oh, ow)
	ocg := oc / groups

	for b := 0; b < n; b++ {
		for g := 0; g < groups; g++ {
			for o := g * ocg; o < (g+1)*ocg; o++ {
				outBase := ((b*oc + o) * oh) * ow
				for y := 0; y < oh; y++ {
					for xo := 0; xo < ow; xo++ {
						var sum float32
						for ic := 0; ic < icg; ic++ {
							cin := g*icg + ic
							inBase := (b*c + cin) * h * wd
							wBase := ((o*icg + ic) * kh) * kw
							for ky := 0; ky < kh; ky++ {
								iy := y*strides[0] - pads[0] + ky*dil[0]
								if iy < 0 || iy >= h {
									continue
								}
								for kx := 0; kx < kw; kx++ {
									ix := xo*strides[1] - pads[1] + kx*dil[1]
									if ix < 0 || ix >= wd {
										continue
									}
									sum += x.Data[inBase+iy*wd+ix] * w.Data[wBase+ky*kw+kx]
								}
							}
						}
						out.Data[outBase+y*ow+xo] = sum
					}
				}
			}
		}
	}
	return out, nil
}

// addKernel adds Y to X, broadcasting Y over X starting at axis.
func addKernel(op *Op, get valueLookup) (*Tensor, error) {
	x, err := input(op, get, SlotX)
	if err != nil {
		return nil, err
	}
	y, err := input(op, get, SlotY)
	if err != nil {
		return nil, err
	}
	out := &Tensor{Shape: append([]int(nil), x.Shape...), Data: make([]float32, len(x.Data))}
	if sameShape(x.Shape, y.Shape) {
		for i := range x.Data {
			out.Data[i] = x.Data[i] + y.Data[i]
		}
		return out, nil
	}

	axis := attrInt(op, "axis", -1)
	if axis < 0 {
		axis = x.Rank() - y.Rank()
	}
	if axis < 0 || axis+y.Rank() > x.Rank() || !sameShape(x.Shape[axis:axis+y.Rank()], y.Shape) {
		return nil, fmt.Errorf("%w: cannot broadcast %v onto %v at axis %d", ErrShapeMismatch, y.Shape, x.Shape, axis)
	}
	post := prod(x.Shape[axis+y.Rank():])
	ny := len(y.Data)
	for i, v := range x.Data {
		out.Data[i] = v + y.Data[(i/post)%ny]
	}
	return out, nil
}

func softmaxKernel(op *Op, get valueLookup) (*Tensor, error) {
	x, err := input(op, get, SlotX)
	if err != nil {
		return nil, err
	}
	if x.Rank() == 0 {
		return nil, fmt.Errorf("%w: softmax of scalar", ErrShapeMismatch)
	}
	d := x.Shape[x.Rank()-1]
	out := &Tensor{Shape: append([]int(nil), x.Shape...), Data: make([]float32, len(x.Data))}
	for start := 0; start+d <= len(x.Data) && d > 0; start += d {
		row := x.Data[start : start+d]
		mx := row[0]
		for _, v := range row {
			mx = max(mx, v)
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - mx))
			out.Data[start+i] = float32(e)
			sum += e
		}
		for i := range row {
			out.Data[start+i] = float32(float64(out.Data[start+i]) / sum)
		}
	}
	return out, nil
}

func flattenKernel(op *Op, get valueLookup) (*Tensor, error) {
	x, err := input(op, get, SlotX)
	if err != nil {
		return nil, err
	}
	axis := attrInt(op, "axis", 1)
	if axis < 0 || axis > x.Rank() {
		return nil, fmt.Errorf("%w: flatten axis %d for rank %d", ErrShapeMismatch, axis, x.Rank())
	}
	return &Tensor{
		Shape: []int{prod(x.Shape[:axis]), prod(x.Shape[axis:])},
		Data:  append([]float32(nil), x.Data...),
	}, nil
}

func poolKernel(op *Op, get valueLookup) (*Tensor, error) {
	x, err := input(op, get, SlotX)
	if err != nil {
		return nil, err
	}
	if x.Rank() != 4 {
		return nil, fmt.Errorf("%w: pool2d input %v", ErrShapeMismatch, x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	typ := attrString(op, "pooling_type", "max")
	if typ != "max" && typ != "avg" {
		return nil, fmt.Errorf("%w: pooling_type %q", ErrUnsupportedOp, typ)
	}
	ksize := attrInts(op, "ksize", 2, 1)
	strides := attrInts(op, "strides", 2, 1)
	pads := attrInts(op, "paddings", 2, 0)
	if attrBool(op, "global_pooling", false) {
		ksize = []int{h, w}
		strides = []int{1, 1}
		pads = []int{0, 0}
	}
	oh := (h+2*pads[0]-ksize[0])/strides[0] + 1
	ow := (w+2*pads[1]-ksize[1])/strides[1] + 1
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("%w: pool2d output would be %dx%d", ErrShapeMismatch, oh, ow)
	}
	out := Zeros(n, c, oh, ow)
	for plane := 0; plane < n*c; plane++ {
		in := x.Data[plane*h*w : (plane+1)*h*w]
		for y := 0; y < oh; y++ {
			for xo := 0; xo < ow; xo++ {
				y0, x0 := y*strides[0]-pads[0], xo*strides[1]-pads[1]
				y1, x1 := min(y0+ksize[0], h), min(x0+ksize[1], w)
				y0, x0 = max(y0, 0), max(x0, 0)
				var acc float32
				if typ == "max" {
					acc = float32(math.Inf(-1))
				}
				count := 0
				for iy := y0; iy < y1; iy++ {
					for ix := x0; ix < x1; ix++ {
						v := in[iy*w+ix]
						if typ == "max" {
							acc = max(acc, v)
						} else {
							acc += v
						}
						count++
					}
				}
				if typ == "avg" && count > 0 {
					acc /= float32(count)
				}
				if count == 0 {
					acc = 0
				}
				out.Data[(plane*oh+y)*ow+xo] = acc
			}
		}
	}
	return out, nil
}

func batchNormKernel(op *Op, get valueLookup) (*Tensor, error) {
	x, err := input(op, get, SlotX)
	if err != nil {
		return nil, err
	}
	var p [4]*Tensor
	for i, slot := range []string{SlotScale, SlotBias, SlotMean, SlotVariance} {
		if p[i], err = input(op, get, slot); err != nil {
			return nil, err
		}
	}
	if x.Rank() < 2 {
		return nil, fmt.Errorf("%w: batch_norm input %v", ErrShapeMismatch, x.Shape)
	}
	c := x.Shape[1]
	for _, t := range p {
		if t.Len() != c {
			return nil, fmt.Errorf("%w: batch_norm expects %d channels, got %v", ErrShapeMismatch, c, t.Shape)
		}
	}
	eps := attrFloat(op, "epsilon", 1e-5)
	scale, bias, mean, variance := p[0].Data, p[1].Data, p[2].Data, p[3].Data
	post := prod(x.Shape[2:])
	out := &Tensor{Shape: append([]int(nil), x.Shape...), Data: make([]float32, len(x.Data))}
	for i, v := range x.Data {
		ch := (i / post) % c
		inv := float32(1 / math.Sqrt(float64(variance[ch])+eps))
		out.Data[i] = scale[ch]*(v-mean[ch])*inv + bias[ch]
	}
	return out, nil
}

func fakeQuantKernel(op *Op, get valueLookup) (*Tensor, error) {
	x, err := input(op, get, SlotX)
	if err != nil {
		return nil, err
	}
	s, err := input(op, get, SlotScale)
	if err != nil {
		return nil, err
	}
	bits := attrInt(op, "bit_length", 8)
	axis := attrInt(op, "quant_axis", -1)
	out := &Tensor{Shape: append([]int(nil), x.Shape...), Data: make([]float32, len(x.Data))}

	if axis < 0 || s.Len() == 1 {
		if s.Len() < 1 {
			return nil, fmt.Errorf("%w: empty quant scale", ErrShapeMismatch)
		}
		for i, v := range x.Data {
			out.Data[i] = QuantDequant(v, s.Data[0], bits)
		}
		return out, nil
	}
	if axis >= x.Rank() || x.Shape[axis] != s.Len() {
		return nil, fmt.Errorf("%w: %d scales for axis %d of %v", ErrShapeMismatch, s.Len(), axis, x.Shape)
	}
	c := x.Shape[axis]
	post := prod(x.Shape[axis+1:])
	for i, v := range x.Data {
		out.Data[i] = QuantDequant(v, s.Data[(i/post)%c], bits)
	}
	return out, nil
}

// QuantDequant clips v to [-scale, scale], rounds it onto the signed integer
// grid of the given bit width and maps it back. A non-positive scale yields 0.
func QuantDequant(v, scale float32, bits int) float32 {
	if scale <= 0 {
		return 0
	}
	bnt := float32(int(1)<<(bits-1) - 1)
	r := min(max(v/scale, -1), 1)
	return float32(math.Round(float64(r*bnt))) * scale / bnt
}
