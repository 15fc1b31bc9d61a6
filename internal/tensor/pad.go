package tensor

// PadMode selects how values outside a signal are synthesized.
type PadMode int

const (
	PadConstant PadMode = iota
	PadReflect
	PadReplicate
)

func (m PadMode) String() string {
	switch m {
	case PadConstant:
		return "constant"
	case PadReflect:
		return "reflect"
	case PadReplicate:
		return "replicate"
	default:
		return "unknown"
	}
}

// Pad returns x padded by left and right steps along time.
// Reflection excludes the edge sample and requires left, right < T.
func Pad(x *Tensor, left, right int, mode PadMode) *Tensor {
	if left < 0 || right < 0 {
		panic("negative padding")
	}
	if mode == PadReflect && (left >= x.T || right >= x.T) {
		panic("reflection padding must be smaller than the input length")
	}
	if mode == PadReplicate && x.T == 0 && left+right > 0 {
		panic("cannot replicate an empty signal")
	}
	out := New(x.B, x.C, x.T+left+right)
	for b := 0; b < x.B; b++ {
		for c := 0; c < x.C; c++ {
			PadRow(out.Row(b, c), x.Row(b, c), left, mode)
		}
	}
	return out
}

// PadRow writes src into dst at offset left and fills the margins of dst
// according to mode.
func PadRow(dst, src []float32, left int, mode PadMode) {
	n := len(src)
	copy(dst[left:left+n], src)
	right := len(dst) - left - n
	switch mode {
	case PadConstant:
		for i := 0; i < left; i++ {
			dst[i] = 0
		}
		for i := 0; i < right; i++ {
			dst[left+n+i] = 0
		}
	case PadReflect:
		for i := 0; i < left; i++ {
			dst[left-1-i] = src[i+1]
		}
		for i := 0; i < right; i++ {
			dst[left+n+i] = src[n-2-i]
		}
	case PadReplicate:
		for i := 0; i < left; i++ {
			dst[i] = src[0]
		}
		for i := 0; i < right; i++ {
			dst[left+n+i] = src[n-1]
		}
	}
}

// ReplicationPadRows pads a time-major matrix by w rows on both ends by
// repeating the first and last rows.
func ReplicationPadRows(m *Mat, w int) Mat {
	if m.R == 0 && w > 0 {
		panic("cannot replicate an empty matrix")
	}
	out := NewMat(m.R+2*w, m.C)
	for i := 0; i < out.R; i++ {
		src := i - w
		if src < 0 {
			src = 0
		}
		if src >= m.R {
			src = m.R - 1
		}
		copy(out.Row(i), m.Row(src))
	}
	return out
}
