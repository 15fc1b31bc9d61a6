package tensor

import "fmt"

// Tensor is a dense batch-major activation of shape (B, C, T) stored
// contiguously with time as the fastest axis.
type Tensor struct {
	B, C, T int
	Data    []float32
}

// New allocates a zeroed (b, c, t) tensor.
func New(b, c, t int) *Tensor {
	if b < 0 || c < 0 || t < 0 {
		panic("negative dimension for tensor")
	}
	return &Tensor{B: b, C: c, T: t, Data: make([]float32, b*c*t)}
}

// FromData wraps data as a (b, c, t) tensor without copying.
func FromData(b, c, t int, data []float32) *Tensor {
	if b*c*t != len(data) {
		panic("data length mismatch")
	}
	return &Tensor{B: b, C: c, T: t, Data: data}
}

// Shape returns the dimensions as a slice, useful in error messages.
func (x *Tensor) Shape() []int { return []int{x.B, x.C, x.T} }

func (x *Tensor) String() string {
	return fmt.Sprintf("Tensor(%d, %d, %d)", x.B, x.C, x.T)
}

// Row returns the time series of channel c in batch element b as a view.
func (x *Tensor) Row(b, c int) []float32 {
	off := (b*x.C + c) * x.T
	return x.Data[off : off+x.T]
}

// Plane returns the (C, T) block of batch element b as a view.
func (x *Tensor) Plane(b int) []float32 {
	n := x.C * x.T
	return x.Data[b*n : (b+1)*n]
}

// Clone returns a deep copy.
func (x *Tensor) Clone() *Tensor {
	out := New(x.B, x.C, x.T)
	copy(out.Data, x.Data)
	return out
}

// SameShape reports whether x and y have identical dimensions.
func (x *Tensor) SameShape(y *Tensor) bool {
	return x.B == y.B && x.C == y.C && x.T == y.T
}

// Narrow returns a copy holding only time steps [start, start+length).
func (x *Tensor) Narrow(start, length int) *Tensor {
	if start < 0 || length < 0 || start+length > x.T {
		panic("narrow out of range")
	}
	out := New(x.B, x.C, length)
	for b := 0; b < x.B; b++ {
		for c := 0; c < x.C; c++ {
			copy(out.Row(b, c), x.Row(b, c)[start:start+length])
		}
	}
	return out
}

// SplitChannels returns copies of channels [0, at) and [at, C).
func (x *Tensor) SplitChannels(at int) (*Tensor, *Tensor) {
	if at < 0 || at > x.C {
		panic("split out of range")
	}
	lo := New(x.B, at, x.T)
	hi := New(x.B, x.C-at, x.T)
	for b := 0; b < x.B; b++ {
		plane := x.Plane(b)
		copy(lo.Plane(b), plane[:at*x.T])
		copy(hi.Plane(b), plane[at*x.T:])
	}
	return lo, hi
}

// ConcatChannels stacks a and b along the channel axis.
func ConcatChannels(a, b *Tensor) (*Tensor, error) {
	if a.B != b.B || a.T != b.T {
		return nil, fmt.Errorf("concat channels: %v vs %v", a.Shape(), b.Shape())
	}
	out := New(a.B, a.C+b.C, a.T)
	for i := 0; i < a.B; i++ {
		plane := out.Plane(i)
		copy(plane, a.Plane(i))
		copy(plane[a.C*a.T:], b.Plane(i))
	}
	return out, nil
}

// FromTimeMajor converts a (T, C) matrix into a (1, C, T) tensor.
func FromTimeMajor(m *Mat) *Tensor {
	out := New(1, m.C, m.R)
	for t := 0; t < m.R; t++ {
		row := m.Row(t)
		for c, v := range row {
			out.Data[c*m.R+t] = v
		}
	}
	return out
}

// TimeMajor converts batch element b of x into a (T, C) matrix.
func (x *Tensor) TimeMajor(b int) Mat {
	out := NewMat(x.T, x.C)
	for c := 0; c < x.C; c++ {
		row := x.Row(b, c)
		for t, v := range row {
			out.Data[t*out.Stride+c] = v
		}
	}
	return out
}
