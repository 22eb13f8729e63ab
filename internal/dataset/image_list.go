package dataset

import (
	"bufio"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/model"
)

// ImageList reads "relative/path [label]" lines and produces normalized CHW
// RGB tensors: resize the short side, center crop, scale to [0, 1], then
// subtract Mean and divide by Std per channel.
type ImageList struct {
	Root        string
	ListFile    string
	ResizeShort int
	CropSize    int
	Mean        []float32
	Std         []float32
}

type listEntry struct {
	path  string
	label int
}

func (l *ImageList) Name() string { return "image_list:" + l.ListFile }

func (l *ImageList) Open(ctx context.Context) (Iterator, error) {
	if l.CropSize <= 0 || l.ResizeShort < l.CropSize {
		return nil, fmt.Errorf("image list: resize_short %d must be >= crop_size %d > 0", l.ResizeShort, l.CropSize)
	}
	if len(l.Mean) != 3 || len(l.Std) != 3 {
		return nil, fmt.Errorf("image list: mean and std need 3 channels")
	}
	entries, err := readList(l.ListFile, l.Root)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySource, l.ListFile)
	}
	return &imageIterator{ctx: ctx, list: l, entries: entries}, nil
}

func readList(path, root string) ([]listEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image list: %w", err)
	}
	defer f.Close()

	var entries []listEntry
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		e := listEntry{path: filepath.Join(root, fields[0]), label: -1}
		if len(fields) > 1 {
			label, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: bad label %q", path, lineNo, fields[1])
			}
			e.label = label
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read image list: %w", err)
	}
	return entries, nil
}

type imageIterator struct {
	ctx     context.Context
	list    *ImageList
	entries []listEntry
	pos     int
}

func (it *imageIterator) Next() (Sample, error) {
	if err := it.ctx.Err(); err != nil {
		return Sample{}, err
	}
	if it.pos >= len(it.entries) {
		return Sample{}, io.EOF
	}
	e := it.entries[it.pos]
	it.pos++
	t, err := it.list.load(e.path)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Inputs: []*model.Tensor{t}, Label: e.label}, nil
}

func (it *imageIterator) Close() error { return nil }

func (l *ImageList) load(path string) (*model.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("cannot decode image %s: %w", path, err)
	}
	return Preprocess(img, l.ResizeShort, l.CropSize, l.Mean, l.Std), nil
}

// Preprocess resizes img so its short side is resizeShort, center crops a
// crop x crop square and returns a normalized [3, crop, crop] tensor.
func Preprocess(img image.Image, resizeShort, crop int, mean, std []float32) *model.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := float64(resizeShort) / float64(min(w, h))
	rw := max(int(float64(w)*scale+0.5), crop)
	rh := max(int(float64(h)*scale+0.5), crop)

	resized := image.NewRGBA(image.Rect(0, 0, rw, rh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, b, draw.Src, nil)

	x0 := (rw - crop) / 2
	y0 := (rh - crop) / 2
	t := model.Zeros(3, crop, crop)
	plane := crop * crop
	for y := 0; y < crop; y++ {
		for x := 0; x < crop; x++ {
			off := resized.PixOffset(x0+x, y0+y)
			for c := 0; c < 3; c++ {
				v := float32(resized.Pix[off+c]) / 255
				t.Data[c*plane+y*crop+x] = (v - mean[c]) / std[c]
			}
		}
	}
	return t
}
