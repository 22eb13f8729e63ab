package space

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

// neighborStdDev is the gaussian step, in normalized units, used for numeric neighbors.
const neighborStdDev = 0.2

// Hyperparameter is one named, typed dimension of a configuration space
type Hyperparameter interface {
	Name() string
	Default() any
	Sample(rng *utils.RandSource) any
	// Neighbor returns a value close to v, different from v when the domain allows it.
	Neighbor(v any, rng *utils.RandSource) any
	Validate(v any) error
	// Normalize maps a value to [0, 1] for distance computations.
	Normalize(v any) float64
	String() string
}

// CategoricalParam chooses one of a fixed set of values
type CategoricalParam struct {
	name    string
	choices []any
	def     any
}

// Categorical creates a categorical hyperparameter. Choices must be comparable
// (strings, bools or numbers).
func Categorical(name string, choices []any, def any) (*CategoricalParam, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidDomain)
	}
	if len(choices) == 0 {
		return nil, fmt.Errorf("%w: %s has no choices", ErrInvalidDomain, name)
	}
	seen := make(map[any]bool, len(choices))
	for _, c := range choices {
		if seen[c] {
			return nil, fmt.Errorf("%w: %s has duplicate choice %v", ErrInvalidDomain, name, c)
		}
		seen[c] = true
	}
	if !seen[def] {
		return nil, fmt.Errorf("%w: %s default %v is not a choice", ErrInvalidDomain, name, def)
	}
	return &CategoricalParam{
		name:    name,
		choices: append([]any(nil), choices...),
		def:     def,
	}, nil
}

func (p *CategoricalParam) Name() string { return p.name }
func (p *CategoricalParam) Default() any { return p.def }

// Choices returns a copy of the allowed values
func (p *CategoricalParam) Choices() []any {
	return append([]any(nil), p.choices...)
}

func (p *CategoricalParam) Sample(rng *utils.RandSource) any {
	return p.choices[rng.Intn(len(p.choices))]
}

func (p *CategoricalParam) Neighbor(v any, rng *utils.RandSource) any {
	if len(p.choices) == 1 {
		return p.choices[0]
	}
	idx := p.index(v)
	pick := rng.Intn(len(p.choices) - 1)
	if idx >= 0 && pick >= idx {
		pick++
	}
	return p.choices[pick]
}

func (p *CategoricalParam) Validate(v any) error {
	if p.index(v) < 0 {
		return fmt.Errorf("%w: %s=%v not in %v", ErrInvalidValue, p.name, v, p.choices)
	}
	return nil
}

func (p *CategoricalParam) Normalize(v any) float64 {
	if len(p.choices) == 1 {
		return 0
	}
	idx := p.index(v)
	if idx < 0 {
		return 0
	}
	return float64(idx) / float64(len(p.choices)-1)
}

func (p *CategoricalParam) String() string {
	return fmt.Sprintf("%s, Type: Categorical, Choices: %v, Default: %v", p.name, p.choices, p.def)
}

func (p *CategoricalParam) index(v any) int {
	for i, c := range p.choices {
		if c == v {
			return i
		}
	}
	return -1
}

// FloatParam is a uniform continuous range [Lower, Upper]
type FloatParam struct {
	name         string
	lower, upper float64
	def          float64
	log          bool
}

// UniformFloat creates a continuous hyperparameter, optionally sampled on a log scale.
func UniformFloat(name string, lower, upper, def float64, log bool) (*FloatParam, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidDomain)
	}
	if !(lower < upper) || math.IsInf(lower, 0) || math.IsInf(upper, 0) {
		return nil, fmt.Errorf("%w: %s range [%v, %v]", ErrInvalidDomain, name, lower, upper)
	}
	if log && lower <= 0 {
		return nil, fmt.Errorf("%w: %s log scale needs a positive lower bound", ErrInvalidDomain, name)
	}
	if def < lower || def > upper {
		return nil, fmt.Errorf("%w: %s default %v outside [%v, %v]", ErrInvalidDomain, name, def, lower, upper)
	}
	return &FloatParam{name: name, lower: lower, upper: upper, def: def, log: log}, nil
}

func (p *FloatParam) Name() string               { return p.name }
func (p *FloatParam) Default() any               { return p.def }
func (p *FloatParam) Bounds() (float64, float64) { return p.lower, p.upper }

func (p *FloatParam) Sample(rng *utils.RandSource) any {
	return p.denormalize(rng.Float64())
}

func (p *FloatParam) Neighbor(v any, rng *utils.RandSource) any {
	x := p.Normalize(v)
	for i := 0; i < 8; i++ {
		n := utils.Clamp(x+rng.NormFloat64(0, neighborStdDev), 0, 1)
		if n != x {
			return p.denormalize(n)
		}
	}
	return p.denormalize(rng.Float64())
}

func (p *FloatParam) Validate(v any) error {
	f, ok := toFloat(v)
	if !ok {
		return fmt.Errorf("%w: %s expects a float, got %T", ErrInvalidValue, p.name, v)
	}
	if math.IsNaN(f) || f < p.lower || f > p.upper {
		return fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrInvalidValue, p.name, f, p.lower, p.upper)
	}
	return nil
}

func (p *FloatParam) Normalize(v any) float64 {
	f, _ := toFloat(v)
	if p.log {
		return utils.Clamp((math.Log(f)-math.Log(p.lower))/(math.Log(p.upper)-math.Log(p.lower)), 0, 1)
	}
	return utils.Clamp((f-p.lower)/(p.upper-p.lower), 0, 1)
}

func (p *FloatParam) String() string {
	return fmt.Sprintf("%s, Type: UniformFloat, Range: [%v, %v], Default: %v, Log: %t", p.name, p.lower, p.upper, p.def, p.log)
}

func (p *FloatParam) denormalize(x float64) float64 {
	if p.log {
		return math.Exp(math.Log(p.lower) + x*(math.Log(p.upper)-math.Log(p.lower)))
	}
	return p.lower + x*(p.upper-p.lower)
}

// IntParam is a uniform integer range [Lower, Upper]
type IntParam struct {
	name         string
	lower, upper int
	def          int
}

// UniformInteger creates an integer hyperparameter with inclusive bounds.
func UniformInteger(name string, lower, upper, def int) (*IntParam, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidDomain)
	}
	if lower > upper {
		return nil, fmt.Errorf("%w: %s range [%d, %d]", ErrInvalidDomain, name, lower, upper)
	}
	if def < lower || def > upper {
		return nil, fmt.Errorf("%w: %s default %d outside [%d, %d]", ErrInvalidDomain, name, def, lower, upper)
	}
	return &IntParam{name: name, lower: lower, upper: upper, def: def}, nil
}

func (p *IntParam) Name() string       { return p.name }
func (p *IntParam) Default() any       { return p.def }
func (p *IntParam) Bounds() (int, int) { return p.lower, p.upper }

func (p *IntParam) Sample(rng *utils.RandSource) any {
	return rng.UniformInt(p.lower, p.upper)
}

func (p *IntParam) Neighbor(v any, rng *utils.RandSource) any {
	cur, _ := toInt(v)
	if p.lower == p.upper {
		return p.lower
	}
	span := float64(p.upper - p.lower)
	step := int(math.Round(rng.NormFloat64(0, neighborStdDev) * span))
	if step == 0 {
		step = 1
		if rng.BernoulliBool(0.5) {
			step = -1
		}
	}
	n := utils.Clamp(cur+step, p.lower, p.upper)
	if n == cur {
		// pinned at a bound; step the other way
		n = utils.Clamp(cur-step, p.lower, p.upper)
	}
	return n
}

func (p *IntParam) Validate(v any) error {
	i, ok := toInt(v)
	if !ok {
		return fmt.Errorf("%w: %s expects an integer, got %T", ErrInvalidValue, p.name, v)
	}
	if i < p.lower || i > p.upper {
		return fmt.Errorf("%w: %s=%d outside [%d, %d]", ErrInvalidValue, p.name, i, p.lower, p.upper)
	}
	return nil
}

func (p *IntParam) Normalize(v any) float64 {
	if p.lower == p.upper {
		return 0
	}
	i, _ := toInt(v)
	return utils.Clamp(float64(i-p.lower)/float64(p.upper-p.lower), 0, 1)
}

func (p *IntParam) String() string {
	return fmt.Sprintf("%s, Type: UniformInteger, Range: [%d, %d], Default: %d", p.name, p.lower, p.upper, p.def)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		// JSON round trips deliver integers as float64
		if x == math.Trunc(x) {
			return int(x), true
		}
	}
	return 0, false
}
