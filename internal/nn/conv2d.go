package nn

import (
	"fmt"
	"math/rand"

	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// Conv2d is a single-channel 2D convolution applied to the (C, T) plane of
// each batch element, i.e. a (B, 1, C, T) image with the channel axis as
// height. It is used to smooth upsampled conditioning along time and,
// optionally, frequency.
type Conv2d struct {
	KernelH, KernelW   int
	PaddingH, PaddingW int

	Weight tensor.Mat // [1, KernelH*KernelW]
	Bias   []float32

	wn *weightNorm
}

// NewConv2d allocates a zero-initialised single-channel convolution.
func NewConv2d(kh, kw, ph, pw int, bias bool) *Conv2d {
	if kh <= 0 || kw <= 0 || ph < 0 || pw < 0 {
		panic(fmt.Sprintf("invalid conv2d geometry k=(%d,%d) p=(%d,%d)", kh, kw, ph, pw))
	}
	c := &Conv2d{
		KernelH:  kh,
		KernelW:  kw,
		PaddingH: ph,
		PaddingW: pw,
		Weight:   tensor.NewMat(1, kh*kw),
	}
	if bias {
		c.Bias = make([]float32, 1)
	}
	return c
}

func (c *Conv2d) Children() []Child { return nil }

// Reset fills the kernel with 1/(KernelH*KernelW) so a freshly built
// upsampler starts as a box filter over the stretched features.
func (c *Conv2d) Reset(_ *rand.Rand) {
	w := &c.Weight
	if c.wn != nil {
		w = &c.wn.v
	}
	v := 1 / float32(c.KernelH*c.KernelW)
	for i := range w.Data {
		w.Data[i] = v
	}
	if c.wn != nil {
		c.wn.g[0] = float32(tensor.Norm(w.Data))
	}
	clear(c.Bias)
}

func (c *Conv2d) String() string {
	return fmt.Sprintf("Conv2d(1, 1, kernel_size=(%d, %d), padding=(%d, %d), bias=%t)",
		c.KernelH, c.KernelW, c.PaddingH, c.PaddingW, c.Bias != nil)
}

// Forward convolves each batch element's (C, T) plane.
func (c *Conv2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	w := &c.Weight
	if c.wn != nil {
		composed := tensor.NewMat(1, c.KernelH*c.KernelW)
		c.wn.compose(&composed)
		w = &composed
	}
	hOut := x.C + 2*c.PaddingH - c.KernelH + 1
	wOut := x.T + 2*c.PaddingW - c.KernelW + 1
	if hOut < 0 {
		hOut = 0
	}
	if wOut < 0 {
		wOut = 0
	}
	out := tensor.New(x.B, hOut, wOut)
	kernel := w.Row(0)
	for b := 0; b < x.B; b++ {
		for h := 0; h < hOut; h++ {
			dst := out.Row(b, h)
			if c.Bias != nil {
				for t := range dst {
					dst[t] = c.Bias[0]
				}
			}
			for kh := 0; kh < c.KernelH; kh++ {
				srcH := h + kh - c.PaddingH
				if srcH < 0 || srcH >= x.C {
					continue
				}
				src := x.Row(b, srcH)
				for kw := 0; kw < c.KernelW; kw++ {
					wk := kernel[kh*c.KernelW+kw]
					if wk == 0 {
						continue
					}
					accumulateTap(dst, src, wk, kw-c.PaddingW, 1)
				}
			}
		}
	}
	return out
}

func (c *Conv2d) HasWeightNorm() bool { return c.wn != nil }

func (c *Conv2d) ApplyWeightNorm() error {
	if c.wn != nil {
		return ErrWeightNormApplied
	}
	c.wn = newWeightNorm(&c.Weight)
	return nil
}

func (c *Conv2d) RemoveWeightNorm() error {
	if c.wn == nil {
		return ErrNoWeightNorm
	}
	c.wn.compose(&c.Weight)
	c.wn = nil
	return nil
}

func (c *Conv2d) Params() []Param {
	shape := []int{1, 1, c.KernelH, c.KernelW}
	var out []Param
	if c.wn != nil {
		out = append(out,
			Param{Name: "weight_g", Shape: []int{1, 1, 1, 1}, Data: c.wn.g},
			Param{Name: "weight_v", Shape: shape, Data: c.wn.v.Data},
		)
	} else {
		out = append(out, Param{Name: "weight", Shape: shape, Data: c.Weight.Data})
	}
	if c.Bias != nil {
		out = append(out, Param{Name: "bias", Shape: []int{1}, Data: c.Bias})
	}
	return out
}
