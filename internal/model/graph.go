package model

import (
	"fmt"
	"slices"
)

// Op types understood by the executor
const (
	OpMul                    = "mul"
	OpConv2D                 = "conv2d"
	OpDepthwiseConv2D        = "depthwise_conv2d"
	OpElementwiseAdd         = "elementwise_add"
	OpRelu                   = "relu"
	OpSigmoid                = "sigmoid"
	OpSoftmax                = "softmax"
	OpFlatten                = "flatten"
	OpPool2D                 = "pool2d"
	OpBatchNorm              = "batch_norm"
	OpFakeQuantizeDequantize = "fake_quantize_dequantize"
)

// Slot names
const (
	SlotX        = "X"
	SlotY        = "Y"
	SlotInput    = "Input"
	SlotFilter   = "Filter"
	SlotScale    = "Scale"
	SlotBias     = "Bias"
	SlotMean     = "Mean"
	SlotVariance = "Variance"
	SlotOut      = "Out"
)

// Graph is the serialized program description
type Graph struct {
	Feeds   []Var    `yaml:"feeds"`
	Fetches []string `yaml:"fetches"`
	Params  []string `yaml:"params"`
	Ops     []*Op    `yaml:"ops"`
}

// Var declares a feed variable. A -1 dimension accepts any size.
type Var struct {
	Name  string `yaml:"name"`
	Shape []int  `yaml:"shape"`
}

// Op is one operator in program order
type Op struct {
	Type    string              `yaml:"type"`
	Inputs  map[string][]string `yaml:"inputs"`
	Outputs map[string][]string `yaml:"outputs"`
	Attrs   map[string]any      `yaml:"attrs,omitempty"`
}

// Input returns the first variable bound to slot, or ""
func (o *Op) Input(slot string) string {
	if v := o.Inputs[slot]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Output returns the op's output variable
func (o *Op) Output() string {
	if v := o.Outputs[SlotOut]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// InputNames returns every input variable in sorted slot order
func (o *Op) InputNames() []string {
	slots := make([]string, 0, len(o.Inputs))
	for s := range o.Inputs {
		slots = append(slots, s)
	}
	slices.Sort(slots)
	var names []string
	for _, s := range slots {
		names = append(names, o.Inputs[s]...)
	}
	return names
}

// Clone deep-copies the op
func (o *Op) Clone() *Op {
	c := &Op{
		Type:    o.Type,
		Inputs:  make(map[string][]string, len(o.Inputs)),
		Outputs: make(map[string][]string, len(o.Outputs)),
	}
	for k, v := range o.Inputs {
		c.Inputs[k] = append([]string(nil), v...)
	}
	for k, v := range o.Outputs {
		c.Outputs[k] = append([]string(nil), v...)
	}
	if o.Attrs != nil {
		c.Attrs = make(map[string]any, len(o.Attrs))
		for k, v := range o.Attrs {
			c.Attrs[k] = v
		}
	}
	return c
}

// Clone deep-copies the graph
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Feeds:   make([]Var, len(g.Feeds)),
		Fetches: append([]string(nil), g.Fetches...),
		Params:  append([]string(nil), g.Params...),
		Ops:     make([]*Op, len(g.Ops)),
	}
	for i, f := range g.Feeds {
		c.Feeds[i] = Var{Name: f.Name, Shape: append([]int(nil), f.Shape...)}
	}
	for i, op := range g.Ops {
		c.Ops[i] = op.Clone()
	}
	return c
}

// FeedNames returns the feed variable names in declaration order
func (g *Graph) FeedNames() []string {
	names := make([]string, len(g.Feeds))
	for i, f := range g.Feeds {
		names[i] = f.Name
	}
	return names
}

// Consumers returns the ops that read name
func (g *Graph) Consumers(name string) []*Op {
	var out []*Op
	for _, op := range g.Ops {
		if slices.Contains(op.InputNames(), name) {
			out = append(out, op)
		}
	}
	return out
}

// Producer returns the op writing name, or nil
func (g *Graph) Producer(name string) *Op {
	for _, op := range g.Ops {
		if op.Output() == name {
			return op
		}
	}
	return nil
}

// Validate checks that ops are known, read only defined variables and write
// each variable once, and that fetches are produced.
func (g *Graph) Validate() error {
	if len(g.Feeds) == 0 {
		return fmt.Errorf("%w: no feeds", ErrInvalidGraph)
	}
	if len(g.Fetches) == 0 {
		return fmt.Errorf("%w: no fetches", ErrInvalidGraph)
	}
	defined := make(map[string]bool)
	for _, f := range g.Feeds {
		if f.Name == "" || defined[f.Name] {
			return fmt.Errorf("%w: bad or duplicate feed %q", ErrInvalidGraph, f.Name)
		}
		defined[f.Name] = true
	}
	for _, p := range g.Params {
		if defined[p] {
			return fmt.Errorf("%w: duplicate variable %q", ErrInvalidGraph, p)
		}
		defined[p] = true
	}
	for i, op := range g.Ops {
		if _, ok := kernels[op.Type]; !ok {
			return fmt.Errorf("%w: op %d type %q", ErrUnsupportedOp, i, op.Type)
		}
		for _, in := range op.InputNames() {
			if !defined[in] {
				return fmt.Errorf("%w: op %d (%s) reads undefined variable %q", ErrInvalidGraph, i, op.Type, in)
			}
		}
		out := op.Output()
		if out == "" {
			return fmt.Errorf("%w: op %d (%s) has no output", ErrInvalidGraph, i, op.Type)
		}
		if defined[out] {
			return fmt.Errorf("%w: op %d (%s) redefines %q", ErrInvalidGraph, i, op.Type, out)
		}
		defined[out] = true
	}
	for _, f := range g.Fetches {
		if !defined[f] {
			return fmt.Errorf("%w: fetch %q is never produced", ErrInvalidGraph, f)
		}
	}
	return nil
}

func attrInt(op *Op, name string, def int) int {
	switch v := op.Attrs[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func attrFloat(op *Op, name string, def float64) float64 {
	switch v := op.Attrs[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

func attrString(op *Op, name, def string) string {
	if v, ok := op.Attrs[name].(string); ok {
		return v
	}
	return def
}

func attrBool(op *Op, name string, def bool) bool {
	if v, ok := op.Attrs[name].(bool); ok {
		return v
	}
	return def
}

// attrInts reads an integer list attribute; a scalar is repeated to length n.
func attrInts(op *Op, name string, n int, def int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = def
	}
	switch v := op.Attrs[name].(type) {
	case []int:
		copy(out, v)
	case []any:
		for i := 0; i < len(v) && i < n; i++ {
			switch x := v[i].(type) {
			case int:
				out[i] = x
			case float64:
				out[i] = int(x)
			}
		}
	case int:
		for i := range out {
			out[i] = v
		}
	}
	return out
}
