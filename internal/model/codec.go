package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects how a params payload is compressed
type Codec uint8

const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecZSTD Codec = 2
)

const (
	paramsMagic   = "QHPP"
	paramsVersion = uint16(1)
	// magic + version + codec + uncompressed size
	paramsHeaderSize = 4 + 2 + 1 + 4
	maxParamRank     = 8
	// upper bound on lz4 expansion of a single block
	maxBlockRatio = 255
)

// ParseCodec maps a codec name (none, lz4, zstd) to a Codec
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZSTD, nil
	}
	return CodecNone, fmt.Errorf("unknown params codec %q", name)
}

func (c Codec) String() string {
	switch c {
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return "none"
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// EncodeParams serializes named tensors in the given order.
//
// Layout: "QHPP" | version u16 | codec u8 | payload size u32 | payload, where the
// (possibly compressed) payload is count u32 followed by, per tensor,
// name length u16 | name | rank u8 | dims u32... | float32 data, all little endian.
func EncodeParams(w io.Writer, names []string, tensors map[string]*Tensor, codec Codec) error {
	var payload bytes.Buffer
	if err := binary.Write(&payload, binary.LittleEndian, uint32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		t, ok := tensors[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrParamNotFound, name)
		}
		if len(name) > math.MaxUint16 || len(t.Shape) > maxParamRank {
			return fmt.Errorf("%w: cannot encode %s", ErrBadParamsFile, name)
		}
		hdr := make([]byte, 0, 2+len(name)+1+4*len(t.Shape))
		hdr = binary.LittleEndian.AppendUint16(hdr, uint16(len(name)))
		hdr = append(hdr, name...)
		hdr = append(hdr, byte(len(t.Shape)))
		for _, d := range t.Shape {
			hdr = binary.LittleEndian.AppendUint32(hdr, uint32(d))
		}
		payload.Write(hdr)
		buf := make([]byte, 4*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		payload.Write(buf)
	}

	raw := payload.Bytes()
	body, codec, err := compressPayload(raw, codec)
	if err != nil {
		return fmt.Errorf("compress params: %w", err)
	}

	header := make([]byte, 0, paramsHeaderSize)
	header = append(header, paramsMagic...)
	header = binary.LittleEndian.AppendUint16(header, paramsVersion)
	header = append(header, byte(codec))
	header = binary.LittleEndian.AppendUint32(header, uint32(len(raw)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// DecodeParams reads a params file written by EncodeParams. Tensors are
// returned in file order.
func DecodeParams(r io.Reader) ([]string, map[string]*Tensor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < paramsHeaderSize || string(data[:4]) != paramsMagic {
		return nil, nil, fmt.Errorf("%w: missing %s header", ErrBadParamsFile, paramsMagic)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != paramsVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrBadParamsFile, v)
	}
	codec := Codec(data[6])
	rawSize := binary.LittleEndian.Uint32(data[7:])
	raw, err := decompressPayload(data[paramsHeaderSize:], codec, int(rawSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadParamsFile, err)
	}

	rd := bytes.NewReader(raw)
	var count uint32
	if err := binary.Read(rd, binary.LittleEndian, &count); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadParamsFile, err)
	}
	// every tensor takes at least its name length and rank bytes
	hint := min(int(count), rd.Len()/3)
	names := make([]string, 0, hint)
	tensors := make(map[string]*Tensor, hint)
	for i := uint32(0); i < count; i++ {
		name, t, err := readTensor(rd)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: tensor %d: %v", ErrBadParamsFile, i, err)
		}
		names = append(names, name)
		tensors[name] = t
	}
	return names, tensors, nil
}

func readTensor(rd *bytes.Reader) (string, *Tensor, error) {
	var nameLen uint16
	if err := binary.Read(rd, binary.LittleEndian, &nameLen); err != nil {
		return "", nil, err
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(rd, name); err != nil {
		return "", nil, err
	}
	rank, err := rd.ReadByte()
	if err != nil {
		return "", nil, err
	}
	if rank > maxParamRank {
		return "", nil, fmt.Errorf("rank %d too large", rank)
	}
	shape := make([]int, rank)
	n := 1
	for i := range shape {
		var d uint32
		if err := binary.Read(rd, binary.LittleEndian, &d); err != nil {
			return "", nil, err
		}
		if d != 0 && n > rd.Len()/4/int(d) {
			return "", nil, fmt.Errorf("shape of %s exceeds remaining data", name)
		}
		shape[i] = int(d)
		n *= int(d)
	}
	if n*4 > rd.Len() {
		return "", nil, fmt.Errorf("truncated data for %s", name)
	}
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return "", nil, err
	}
	values := make([]float32, n)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return string(name), &Tensor{Shape: shape, Data: values}, nil
}

// compressPayload returns the body and the codec actually used; incompressible
// lz4 input is stored raw.
func compressPayload(raw []byte, codec Codec) ([]byte, Codec, error) {
	switch codec {
	case CodecNone:
		return raw, CodecNone, nil
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, codec, err
		}
		if n == 0 {
			return raw, CodecNone, nil
		}
		return dst[:n], CodecLZ4, nil
	case CodecZSTD:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, nil), CodecZSTD, nil
	}
	return nil, codec, fmt.Errorf("unknown codec %d", codec)
}

func decompressPayload(body []byte, codec Codec, rawSize int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(body) != rawSize {
			return nil, fmt.Errorf("payload size %d, header says %d", len(body), rawSize)
		}
		return body, nil
	case CodecLZ4:
		if rawSize > maxBlockRatio*len(body) {
			return nil, fmt.Errorf("header size %d implausible for %d byte block", rawSize, len(body))
		}
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, err
		}
		if n != rawSize {
			return nil, fmt.Errorf("decompressed size mismatch")
		}
		return out, nil
	case CodecZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, min(rawSize, maxBlockRatio*len(body))))
		if err != nil {
			return nil, err
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("decompressed size mismatch")
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown codec %d", codec)
}
