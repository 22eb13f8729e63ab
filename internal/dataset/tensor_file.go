package dataset

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
)

// TensorFile is a raw little-endian float32 file of back-to-back samples of
// a fixed Shape.
type TensorFile struct {
	Path  string
	Shape []int
}

func (f *TensorFile) Name() string { return "tensor_file:" + f.Path }

func (f *TensorFile) Open(ctx context.Context) (Iterator, error) {
	n := 1
	for _, d := range f.Shape {
		if d <= 0 {
			return nil, fmt.Errorf("tensor file: invalid shape %v", f.Shape)
		}
		n *= d
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open tensor file: %w", err)
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, err
	}
	if st.Size() == 0 {
		fh.Close()
		return nil, fmt.Errorf("%w: %s", ErrEmptySource, f.Path)
	}
	if st.Size()%int64(4*n) != 0 {
		fh.Close()
		return nil, fmt.Errorf("tensor file %s: size %d is not a multiple of %d-byte samples", f.Path, st.Size(), 4*n)
	}
	return &tensorIterator{
		ctx:   ctx,
		f:     fh,
		r:     bufio.NewReader(fh),
		shape: f.Shape,
		buf:   make([]byte, 4*n),
	}, nil
}

type tensorIterator struct {
	ctx   context.Context
	f     *os.File
	r     *bufio.Reader
	shape []int
	buf   []byte
}

func (it *tensorIterator) Next() (Sample, error) {
	if err := it.ctx.Err(); err != nil {
		return Sample{}, err
	}
	if _, err := io.ReadFull(it.r, it.buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Sample{}, fmt.Errorf("tensor file: truncated sample")
		}
		return Sample{}, err
	}
	data := make([]float32, len(it.buf)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(it.buf[4*i:]))
	}
	t, err := model.NewTensor(it.shape, data)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Inputs: []*model.Tensor{t}, Label: -1}, nil
}

func (it *tensorIterator) Close() error { return it.f.Close() }

// WriteTensorFile writes samples in the TensorFile layout
func WriteTensorFile(path string, samples []*model.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	buf := make([]byte, 4)
	for _, s := range samples {
		for _, v := range s.Data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				f.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
