package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// ConvTranspose1d is a strided transposed 1D convolution.
//
// Weight has one row per input channel holding that channel's kernels for
// every output channel (out*K + k), the flattening of a PyTorch (in, out, K)
// weight. It does not take part in weight normalization.
type ConvTranspose1d struct {
	InChannels    int
	OutChannels   int
	KernelSize    int
	Stride        int
	Padding       int
	OutputPadding int

	Weight tensor.Mat
	Bias   []float32
}

// NewConvTranspose1d allocates a zero-initialised transposed convolution.
func NewConvTranspose1d(in, out, kernel, stride, padding, outputPadding int, bias bool) *ConvTranspose1d {
	if in <= 0 || out <= 0 || kernel <= 0 || stride <= 0 || padding < 0 || outputPadding < 0 {
		panic(fmt.Sprintf("invalid conv_transpose1d geometry in=%d out=%d k=%d s=%d p=%d op=%d",
			in, out, kernel, stride, padding, outputPadding))
	}
	c := &ConvTranspose1d{
		InChannels:    in,
		OutChannels:   out,
		KernelSize:    kernel,
		Stride:        stride,
		Padding:       padding,
		OutputPadding: outputPadding,
		Weight:        tensor.NewMat(in, out*kernel),
	}
	if bias {
		c.Bias = make([]float32, out)
	}
	return c
}

func (c *ConvTranspose1d) Children() []Child { return nil }

// Reset draws weights and bias uniformly from ±1/sqrt(fan_in).
func (c *ConvTranspose1d) Reset(rng *rand.Rand) {
	bound := 1 / math.Sqrt(float64(c.OutChannels*c.KernelSize))
	for i := range c.Weight.Data {
		c.Weight.Data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	for i := range c.Bias {
		c.Bias[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

// OutputLength returns the number of output steps for an input of length t.
func (c *ConvTranspose1d) OutputLength(t int) int {
	n := (t-1)*c.Stride - 2*c.Padding + c.KernelSize + c.OutputPadding
	if t == 0 || n < 0 {
		return 0
	}
	return n
}

func (c *ConvTranspose1d) String() string {
	return fmt.Sprintf("ConvTranspose1d(%d, %d, kernel_size=%d, stride=%d, padding=%d, output_padding=%d)",
		c.InChannels, c.OutChannels, c.KernelSize, c.Stride, c.Padding, c.OutputPadding)
}

// Forward scatters every input step into the output through the kernel.
func (c *ConvTranspose1d) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.C != c.InChannels {
		panic(fmt.Sprintf("conv_transpose1d: input has %d channels, want %d", x.C, c.InChannels))
	}
	tOut := c.OutputLength(x.T)
	out := tensor.New(x.B, c.OutChannels, tOut)
	for b := 0; b < x.B; b++ {
		for o := 0; o < c.OutChannels; o++ {
			dst := out.Row(b, o)
			if c.Bias != nil {
				for t := range dst {
					dst[t] = c.Bias[o]
				}
			}
			for i := 0; i < c.InChannels; i++ {
				src := x.Row(b, i)
				taps := c.Weight.Row(i)[o*c.KernelSize : (o+1)*c.KernelSize]
				for t, v := range src {
					if v == 0 {
						continue
					}
					base := t*c.Stride - c.Padding
					for k, wk := range taps {
						pos := base + k
						if pos < 0 || pos >= tOut {
							continue
						}
						dst[pos] += v * wk
					}
				}
			}
		}
	}
	return out
}

func (c *ConvTranspose1d) Params() []Param {
	out := []Param{{
		Name:  "weight",
		Shape: []int{c.InChannels, c.OutChannels, c.KernelSize},
		Data:  c.Weight.Data,
	}}
	if c.Bias != nil {
		out = append(out, Param{Name: "bias", Shape: []int{c.OutChannels}, Data: c.Bias})
	}
	return out
}
