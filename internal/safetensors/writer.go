package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/x448/float16"
)

// DType names the on-disk element type used when writing.
type DType string

const (
	F32 DType = "F32"
	F16 DType = "F16"
)

func (d DType) size() (int, error) {
	switch d {
	case F32:
		return 4, nil
	case F16:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w %s", ErrBadDType, d)
	}
}

// Tensor is one named float32 tensor to be written.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// Write serialises tensors in name order with the given element type.
// The header is space padded to an 8-byte boundary.
func Write(w io.Writer, tensors []Tensor, dtype DType, metadata map[string]string) error {
	elem, err := dtype.size()
	if err != nil {
		return err
	}
	sorted := slices.Clone(tensors)
	slices.SortFunc(sorted, func(a, b Tensor) int { return strings.Compare(a.Name, b.Name) })

	header := make(map[string]any, len(sorted)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for i, t := range sorted {
		if i > 0 && sorted[i-1].Name == t.Name {
			return fmt.Errorf("safetensors: duplicate tensor %q", t.Name)
		}
		n, err := numElements(t.Shape)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", t.Name, err)
		}
		if n != len(t.Data) {
			return fmt.Errorf("tensor %s: shape %v holds %d elements, got %d", t.Name, t.Shape, n, len(t.Data))
		}
		end := offset + int64(n*elem)
		header[t.Name] = tensorHeader{DType: string(dtype), Shape: t.Shape, DataOffsets: []int64{offset, end}}
		offset = end
	}

	hb, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if pad := len(hb) % 8; pad != 0 {
		hb = append(hb, []byte("        ")[:8-pad]...)
	}

	bw := bufio.NewWriter(w)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	var buf [4]byte
	for _, t := range sorted {
		for _, v := range t.Data {
			switch dtype {
			case F32:
				binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			case F16:
				binary.LittleEndian.PutUint16(buf[:], float16.Fromfloat32(v).Bits())
			}
			if _, err := bw.Write(buf[:elem]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// WriteFile writes tensors to path, replacing any existing file.
func WriteFile(path string, tensors []Tensor, dtype DType, metadata map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, tensors, dtype, metadata); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
