package space

import (
	"errors"
	"math"
	"testing"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

func TestCategoricalInvalidDomain(t *testing.T) {
	tests := []struct {
		name    string
		choices []any
		def     any
	}{
		{"no choices", nil, "a"},
		{"duplicate", []any{"a", "a"}, "a"},
		{"default missing", []any{"a", "b"}, "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Categorical("p", tt.choices, tt.def); !errors.Is(err, ErrInvalidDomain) {
				t.Fatalf("expected ErrInvalidDomain, got %v", err)
			}
		})
	}
}

func TestCategoricalNeighborDiffers(t *testing.T) {
	p, err := Categorical("algo", []any{"KL", "hist", "avg", "mse"}, "KL")
	if err != nil {
		t.Fatalf("Categorical failed: %v", err)
	}
	rng := utils.NewRandSource(3)
	for i := 0; i < 100; i++ {
		if n := p.Neighbor("hist", rng); n == "hist" {
			t.Fatalf("neighbor returned the same choice")
		}
	}

	single, _ := Categorical("w", []any{"abs_max"}, "abs_max")
	if n := single.Neighbor("abs_max", rng); n != "abs_max" {
		t.Fatalf("single-choice neighbor should be the only choice, got %v", n)
	}
}

func TestUniformFloat(t *testing.T) {
	if _, err := UniformFloat("f", 1, 1, 1, false); !errors.Is(err, ErrInvalidDomain) {
		t.Fatalf("expected ErrInvalidDomain for empty range, got %v", err)
	}
	if _, err := UniformFloat("f", 0, 1, 0.5, true); !errors.Is(err, ErrInvalidDomain) {
		t.Fatalf("expected ErrInvalidDomain for log scale at zero, got %v", err)
	}

	p, err := UniformFloat("f", 0.98, 0.999, 0.99, false)
	if err != nil {
		t.Fatalf("UniformFloat failed: %v", err)
	}
	rng := utils.NewRandSource(11)
	for i := 0; i < 200; i++ {
		v := p.Sample(rng)
		if err := p.Validate(v); err != nil {
			t.Fatalf("sample invalid: %v", err)
		}
		n := p.Neighbor(v, rng)
		if err := p.Validate(n); err != nil {
			t.Fatalf("neighbor invalid: %v", err)
		}
	}
	if err := p.Validate("0.99"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for string, got %v", err)
	}
	if err := p.Validate(math.NaN()); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for NaN, got %v", err)
	}
}

func TestUniformFloatLogNormalize(t *testing.T) {
	p, err := UniformFloat("lr", 1e-4, 1e-2, 1e-3, true)
	if err != nil {
		t.Fatalf("UniformFloat failed: %v", err)
	}
	if got := p.Normalize(1e-3); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected log midpoint 0.5, got %v", got)
	}
}

func TestUniformIntegerNeighbor(t *testing.T) {
	p, err := UniformInteger("batch_num", 10, 30, 10)
	if err != nil {
		t.Fatalf("UniformInteger failed: %v", err)
	}
	rng := utils.NewRandSource(5)
	for _, start := range []int{10, 20, 30} {
		for i := 0; i < 50; i++ {
			n := p.Neighbor(start, rng).(int)
			if n == start {
				t.Fatalf("neighbor of %d equals origin", start)
			}
			if n < 10 || n > 30 {
				t.Fatalf("neighbor %d outside range", n)
			}
		}
	}

	pinned, _ := UniformInteger("one", 4, 4, 4)
	if n := pinned.Neighbor(4, rng); n != 4 {
		t.Fatalf("single-value range neighbor should be 4, got %v", n)
	}
	if err := p.Validate(12.5); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue for fractional value, got %v", err)
	}
	if err := p.Validate(12.0); err != nil {
		t.Fatalf("whole float should validate as integer: %v", err)
	}
}
