package model

import (
	"fmt"
)

// Tensor is a dense row-major float32 array
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor wraps data with shape. The element count must match.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d elements, got %d", ErrShapeMismatch, shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Zeros allocates a zero tensor
func Zeros(shape ...int) *Tensor {
	n, _ := numel(shape)
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// Len returns the number of elements
func (t *Tensor) Len() int { return len(t.Data) }

// Rank returns the number of dimensions
func (t *Tensor) Rank() int { return len(t.Shape) }

// Clone deep-copies the tensor
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Reshape returns a view with a new shape over the same data
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if n != len(t.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, t.Shape, shape)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: t.Data}, nil
}

// Float64s copies the data widened to float64
func (t *Tensor) Float64s() []float64 {
	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = float64(v)
	}
	return out
}

// Stack joins same-shaped tensors along a new leading batch dimension
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrShapeMismatch)
	}
	inner := ts[0].Shape
	data := make([]float32, 0, len(ts)*len(ts[0].Data))
	for i, t := range ts {
		if !sameShape(t.Shape, inner) {
			return nil, fmt.Errorf("%w: element %d has shape %v, want %v", ErrShapeMismatch, i, t.Shape, inner)
		}
		data = append(data, t.Data...)
	}
	shape := append([]int{len(ts)}, inner...)
	return &Tensor{Shape: shape, Data: data}, nil
}

func numel(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
		n *= d
	}
	return n, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func prod(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
