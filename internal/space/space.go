package space

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

var (
	// ErrUnknownHyperparameter is returned when a configuration names a parameter the space does not have
	ErrUnknownHyperparameter = errors.New("unknown hyperparameter")
	// ErrDuplicateHyperparameter is returned when a name is added twice
	ErrDuplicateHyperparameter = errors.New("duplicate hyperparameter")
	// ErrInvalidDomain is returned for malformed hyperparameter definitions
	ErrInvalidDomain = errors.New("invalid hyperparameter domain")
	// ErrInvalidValue is returned when a value lies outside its domain
	ErrInvalidValue = errors.New("invalid hyperparameter value")
)

// Space is an ordered set of hyperparameters
type Space struct {
	params []Hyperparameter
	index  map[string]int
}

// New creates an empty space
func New() *Space {
	return &Space{index: make(map[string]int)}
}

// Add appends hyperparameters to the space
func (s *Space) Add(params ...Hyperparameter) error {
	for _, p := range params {
		if _, ok := s.index[p.Name()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateHyperparameter, p.Name())
		}
		s.index[p.Name()] = len(s.params)
		s.params = append(s.params, p)
	}
	return nil
}

// Hyperparameters returns the parameters in insertion order
func (s *Space) Hyperparameters() []Hyperparameter {
	return append([]Hyperparameter(nil), s.params...)
}

// Get returns the named hyperparameter
func (s *Space) Get(name string) (Hyperparameter, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.params[i], true
}

// Len returns the number of hyperparameters
func (s *Space) Len() int { return len(s.params) }

// Default returns the configuration of all default values
func (s *Space) Default() Configuration {
	values := make(map[string]any, len(s.params))
	for _, p := range s.params {
		values[p.Name()] = p.Default()
	}
	return Configuration{values: values}
}

// Sample draws a configuration uniformly from the space
func (s *Space) Sample(rng *utils.RandSource) Configuration {
	values := make(map[string]any, len(s.params))
	for _, p := range s.params {
		values[p.Name()] = p.Sample(rng)
	}
	return Configuration{values: values}
}

// Neighbors returns up to n configurations that each differ from cfg in exactly
// one hyperparameter. Duplicates of cfg are dropped.
func (s *Space) Neighbors(cfg Configuration, rng *utils.RandSource, n int) []Configuration {
	if len(s.params) == 0 || n <= 0 {
		return nil
	}
	origin := cfg.Key()
	seen := map[string]bool{origin: true}
	out := make([]Configuration, 0, n)
	for attempt := 0; len(out) < n && attempt < n*4; attempt++ {
		p := s.params[rng.Intn(len(s.params))]
		cur, ok := cfg.Value(p.Name())
		if !ok {
			cur = p.Default()
		}
		next := cfg.With(p.Name(), p.Neighbor(cur, rng))
		key := next.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, next)
	}
	return out
}

// Validate checks that cfg assigns a valid value to every hyperparameter and nothing else
func (s *Space) Validate(cfg Configuration) error {
	for _, name := range cfg.Names() {
		if _, ok := s.index[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownHyperparameter, name)
		}
	}
	for _, p := range s.params {
		v, ok := cfg.Value(p.Name())
		if !ok {
			return fmt.Errorf("%w: %s is not set", ErrInvalidValue, p.Name())
		}
		if err := p.Validate(v); err != nil {
			return err
		}
	}
	return nil
}

// Vector encodes cfg as normalized coordinates in [0, 1], one per hyperparameter
func (s *Space) Vector(cfg Configuration) []float64 {
	vec := make([]float64, len(s.params))
	for i, p := range s.params {
		v, ok := cfg.Value(p.Name())
		if !ok {
			v = p.Default()
		}
		vec[i] = p.Normalize(v)
	}
	return vec
}

func (s *Space) String() string {
	var b strings.Builder
	b.WriteString("Configuration space object:\n  Hyperparameters:\n")
	for _, p := range s.params {
		b.WriteString("    ")
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	return b.String()
}
