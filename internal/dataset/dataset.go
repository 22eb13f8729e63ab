// Package dataset provides calibration and evaluation sample sources.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
)

// ErrEmptySource is returned when a source yields no samples
var ErrEmptySource = errors.New("source yields no samples")

// Sample is one model input, one tensor per feed variable, with an optional label (-1 when absent)
type Sample struct {
	Inputs []*model.Tensor
	Label  int
}

// Source can be iterated any number of times
type Source interface {
	Open(ctx context.Context) (Iterator, error)
	Name() string
}

// Iterator yields samples until io.EOF
type Iterator interface {
	Next() (Sample, error)
	Close() error
}

// FromConfig builds the source described by cfg
func FromConfig(cfg config.Source) (Source, error) {
	var src Source
	switch cfg.Type {
	case "image_list":
		src = &ImageList{
			Root:        cfg.Root,
			ListFile:    cfg.ListFile,
			ResizeShort: cfg.ResizeShort,
			CropSize:    cfg.CropSize,
			Mean:        toFloat32s(cfg.Mean),
			Std:         toFloat32s(cfg.Std),
		}
	case "tensor_file":
		src = &TensorFile{Path: cfg.Path, Shape: append([]int(nil), cfg.Shape...)}
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
	if cfg.Limit > 0 {
		src = Limit(src, cfg.Limit)
	}
	return src, nil
}

// NextBatch reads up to size samples and stacks each input along a new batch
// dimension. It returns io.EOF only when no sample was read.
func NextBatch(it Iterator, size int) ([]*model.Tensor, int, error) {
	var samples []Sample
	for len(samples) < size {
		s, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return nil, 0, io.EOF
	}
	batch := make([]*model.Tensor, len(samples[0].Inputs))
	for i := range batch {
		parts := make([]*model.Tensor, len(samples))
		for j, s := range samples {
			if len(s.Inputs) != len(batch) {
				return nil, 0, fmt.Errorf("sample %d has %d inputs, want %d", j, len(s.Inputs), len(batch))
			}
			parts[j] = s.Inputs[i]
		}
		t, err := model.Stack(parts)
		if err != nil {
			return nil, 0, fmt.Errorf("stack input %d: %w", i, err)
		}
		batch[i] = t
	}
	return batch, len(samples), nil
}

// Feed maps batched inputs onto the program's feed names in order
func Feed(prog *model.Program, inputs []*model.Tensor) (map[string]*model.Tensor, error) {
	names := prog.FeedNames()
	if len(names) != len(inputs) {
		return nil, fmt.Errorf("program takes %d feeds, sample has %d inputs", len(names), len(inputs))
	}
	feed := make(map[string]*model.Tensor, len(names))
	for i, n := range names {
		feed[n] = inputs[i]
	}
	return feed, nil
}

// Memory is an in-memory source
type Memory struct {
	Samples []Sample
	Label   string
}

// FromTensors wraps single-input samples
func FromTensors(ts []*model.Tensor) *Memory {
	m := &Memory{Samples: make([]Sample, len(ts))}
	for i, t := range ts {
		m.Samples[i] = Sample{Inputs: []*model.Tensor{t}, Label: -1}
	}
	return m
}

func (m *Memory) Name() string {
	if m.Label != "" {
		return m.Label
	}
	return fmt.Sprintf("memory(%d)", len(m.Samples))
}

func (m *Memory) Open(ctx context.Context) (Iterator, error) {
	return &sliceIterator{ctx: ctx, samples: m.Samples}, nil
}

type sliceIterator struct {
	ctx     context.Context
	samples []Sample
	pos     int
}

func (it *sliceIterator) Next() (Sample, error) {
	if err := it.ctx.Err(); err != nil {
		return Sample{}, err
	}
	if it.pos >= len(it.samples) {
		return Sample{}, io.EOF
	}
	s := it.samples[it.pos]
	it.pos++
	return s, nil
}

func (it *sliceIterator) Close() error { return nil }

// Limit caps a source at n samples
func Limit(src Source, n int) Source {
	return &limited{src: src, n: n}
}

type limited struct {
	src Source
	n   int
}

func (l *limited) Name() string { return fmt.Sprintf("%s[:%d]", l.src.Name(), l.n) }

func (l *limited) Open(ctx context.Context) (Iterator, error) {
	it, err := l.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &limitedIterator{it: it, left: l.n}, nil
}

type limitedIterator struct {
	it   Iterator
	left int
}

func (l *limitedIterator) Next() (Sample, error) {
	if l.left <= 0 {
		return Sample{}, io.EOF
	}
	s, err := l.it.Next()
	if err == nil {
		l.left--
	}
	return s, err
}

func (l *limitedIterator) Close() error { return l.it.Close() }

func toFloat32s(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
