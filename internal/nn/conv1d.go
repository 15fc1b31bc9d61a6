package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// ConvOption tweaks a convolution at construction.
type ConvOption func(*convOpts)

type convOpts struct {
	stride, padding, dilation int
	bias                      bool
}

func defaultConvOpts() convOpts {
	return convOpts{stride: 1, dilation: 1, bias: true}
}

func WithStride(s int) ConvOption   { return func(o *convOpts) { o.stride = s } }
func WithPadding(p int) ConvOption  { return func(o *convOpts) { o.padding = p } }
func WithDilation(d int) ConvOption { return func(o *convOpts) { o.dilation = d } }
func WithBias(b bool) ConvOption    { return func(o *convOpts) { o.bias = b } }

// Conv1d is a 1D convolution over (B, C, T) tensors with zero padding.
//
// Weight holds one row per output channel; each row is the input channels'
// kernels laid out back to back (in*K + k), which is the flattening of a
// PyTorch (out, in, K) weight.
type Conv1d struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
	Dilation    int

	Weight tensor.Mat
	Bias   []float32

	wn *weightNorm
}

// NewConv1d allocates a zero-initialised convolution.
func NewConv1d(in, out, kernel int, opts ...ConvOption) *Conv1d {
	o := defaultConvOpts()
	for _, fn := range opts {
		fn(&o)
	}
	if in <= 0 || out <= 0 || kernel <= 0 || o.stride <= 0 || o.dilation <= 0 || o.padding < 0 {
		panic(fmt.Sprintf("invalid conv1d geometry in=%d out=%d k=%d s=%d d=%d p=%d",
			in, out, kernel, o.stride, o.dilation, o.padding))
	}
	c := &Conv1d{
		InChannels:  in,
		OutChannels: out,
		KernelSize:  kernel,
		Stride:      o.stride,
		Padding:     o.padding,
		Dilation:    o.dilation,
		Weight:      tensor.NewMat(out, in*kernel),
	}
	if o.bias {
		c.Bias = make([]float32, out)
	}
	return c
}

// NewConv1d1x1 is a pointwise convolution.
func NewConv1d1x1(in, out int, bias bool) *Conv1d {
	return NewConv1d(in, out, 1, WithBias(bias))
}

func (c *Conv1d) Children() []Child { return nil }

// Reset applies Kaiming-normal initialisation for ReLU networks and zeroes
// the bias.
func (c *Conv1d) Reset(rng *rand.Rand) {
	std := math.Sqrt(2.0 / float64(c.InChannels*c.KernelSize))
	w := &c.Weight
	if c.wn != nil {
		w = &c.wn.v
	}
	tensor.FillNormal(w.Data, rng, std)
	if c.wn != nil {
		for o := 0; o < w.R; o++ {
			c.wn.g[o] = float32(tensor.Norm(w.Row(o)))
		}
	}
	clear(c.Bias)
}

// OutputLength returns the number of output steps for an input of length t.
func (c *Conv1d) OutputLength(t int) int {
	n := t + 2*c.Padding - c.Dilation*(c.KernelSize-1) - 1
	if n < 0 {
		return 0
	}
	return n/c.Stride + 1
}

func (c *Conv1d) String() string {
	return fmt.Sprintf("Conv1d(%d, %d, kernel_size=%d, stride=%d, padding=%d, dilation=%d, bias=%t)",
		c.InChannels, c.OutChannels, c.KernelSize, c.Stride, c.Padding, c.Dilation, c.Bias != nil)
}

// Forward convolves x. It panics when x's channel count does not match.
//
// Each batch element is lowered to an (in·K)×T' column matrix and multiplied
// by the weight matrix. Pointwise convolutions skip the lowering.
func (c *Conv1d) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.C != c.InChannels {
		panic(fmt.Sprintf("conv1d: input has %d channels, want %d", x.C, c.InChannels))
	}
	w := c.effectiveWeight()
	tOut := c.OutputLength(x.T)
	out := tensor.New(x.B, c.OutChannels, tOut)
	if tOut == 0 {
		return out
	}
	pointwise := c.KernelSize == 1 && c.Stride == 1 && c.Padding == 0
	var cols tensor.Mat
	if !pointwise {
		cols = tensor.NewMat(c.InChannels*c.KernelSize, tOut)
	}
	inSize, outSize := x.C*x.T, c.OutChannels*tOut
	for b := 0; b < x.B; b++ {
		src := cols
		if pointwise {
			src = tensor.NewMatFromData(x.C, x.T, x.Data[b*inSize:(b+1)*inSize])
		} else {
			c.im2col(&cols, x, b)
		}
		dst := tensor.NewMatFromData(c.OutChannels, tOut, out.Data[b*outSize:(b+1)*outSize])
		tensor.GemmPar(&dst, w, &src, 1, 0, 0)
		if c.Bias != nil {
			for o, bo := range c.Bias {
				row := dst.Row(o)
				for t := range row {
					row[t] += bo
				}
			}
		}
	}
	return out
}

// im2col writes row i·K+k of cols as input channel i shifted by tap k,
// with zeros where the tap reads padding.
func (c *Conv1d) im2col(cols *tensor.Mat, x *tensor.Tensor, b int) {
	for i := 0; i < c.InChannels; i++ {
		src := x.Row(b, i)
		for k := 0; k < c.KernelSize; k++ {
			dst := cols.Row(i*c.KernelSize + k)
			off := k*c.Dilation - c.Padding
			lo, hi := validRange(len(dst), len(src), off, c.Stride)
			if lo >= hi {
				clear(dst)
				continue
			}
			clear(dst[:lo])
			clear(dst[hi:])
			if c.Stride == 1 {
				copy(dst[lo:hi], src[lo+off:hi+off])
				continue
			}
			for t := lo; t < hi; t++ {
				dst[t] = src[t*c.Stride+off]
			}
		}
	}
}

// accumulateTap adds wk*src[t*stride+off] to dst[t] for every t whose
// source index lies inside src.
func accumulateTap(dst, src []float32, wk float32, off, stride int) {
	lo, hi := validRange(len(dst), len(src), off, stride)
	if lo >= hi {
		return
	}
	if stride == 1 {
		tensor.Axpy(dst[lo:hi], src[lo+off:hi+off], wk)
		return
	}
	for t := lo; t < hi; t++ {
		dst[t] += wk * src[t*stride+off]
	}
}

// validRange returns [lo, hi) such that 0 <= t*stride+off < n for t in it.
func validRange(tOut, n, off, stride int) (int, int) {
	lo := 0
	if off < 0 {
		lo = (-off + stride - 1) / stride
	}
	hi := tOut
	if last := n - 1 - off; last < 0 {
		hi = 0
	} else if m := last/stride + 1; m < hi {
		hi = m
	}
	return lo, hi
}

func (c *Conv1d) effectiveWeight() *tensor.Mat {
	if c.wn == nil {
		return &c.Weight
	}
	w := tensor.NewMat(c.Weight.R, c.Weight.C)
	c.wn.compose(&w)
	return &w
}

func (c *Conv1d) HasWeightNorm() bool { return c.wn != nil }

func (c *Conv1d) ApplyWeightNorm() error {
	if c.wn != nil {
		return ErrWeightNormApplied
	}
	c.wn = newWeightNorm(&c.Weight)
	return nil
}

func (c *Conv1d) RemoveWeightNorm() error {
	if c.wn == nil {
		return ErrNoWeightNorm
	}
	c.wn.compose(&c.Weight)
	c.wn = nil
	return nil
}

func (c *Conv1d) Params() []Param {
	shape := []int{c.OutChannels, c.InChannels, c.KernelSize}
	var out []Param
	if c.wn != nil {
		out = append(out,
			Param{Name: "weight_g", Shape: []int{c.OutChannels, 1, 1}, Data: c.wn.g},
			Param{Name: "weight_v", Shape: shape, Data: c.wn.v.Data},
		)
	} else {
		out = append(out, Param{Name: "weight", Shape: shape, Data: c.Weight.Data})
	}
	if c.Bias != nil {
		out = append(out, Param{Name: "bias", Shape: []int{c.OutChannels}, Data: c.Bias})
	}
	return out
}
