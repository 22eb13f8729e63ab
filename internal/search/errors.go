package search

import (
	"errors"
	"fmt"
)

var (
	ErrModelLoad                = errors.New("model load failed")
	ErrInsufficientValidSamples = errors.New("insufficient valid samples")
	ErrQuantization             = errors.New("quantization failed")
)

// EvaluationError records which trial failed
type EvaluationError struct {
	Iteration int
	Config    string
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation %d (%s): %v", e.Iteration, e.Config, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
