package layers

import (
	"fmt"

	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// MelGAN defaults used when UpsampleParams leaves a field unset.
const (
	defaultMelGANChannels        = 512
	defaultMelGANKernelSize      = 7
	defaultMelGANStackKernelSize = 3
	defaultMelGANStacks          = 3
	defaultMelGANSlope           = 0.2
)

// MelGANResidualStack is a dilated residual stack:
// out = conv1x1(lrelu(conv_d(pad(lrelu(c))))) + skip_layer(c).
type MelGANResidualStack struct {
	Conv      *nn.Conv1d
	Conv1x1   *nn.Conv1d
	SkipLayer *nn.Conv1d

	pad   int
	slope float32
}

func newMelGANResidualStack(channels, kernel, dilation int, bias bool, slope float32) *MelGANResidualStack {
	return &MelGANResidualStack{
		Conv:      nn.NewConv1d(channels, channels, kernel, nn.WithDilation(dilation), nn.WithBias(bias)),
		Conv1x1:   nn.NewConv1d1x1(channels, channels, bias),
		SkipLayer: nn.NewConv1d1x1(channels, channels, bias),
		pad:       (kernel - 1) / 2 * dilation,
		slope:     slope,
	}
}

func (s *MelGANResidualStack) Children() []nn.Child {
	return []nn.Child{
		{Name: "stack", Module: nn.Sequence{nil, nil, s.Conv, nil, s.Conv1x1}},
		{Name: "skip_layer", Module: s.SkipLayer},
	}
}

func (s *MelGANResidualStack) Forward(c *tensor.Tensor) *tensor.Tensor {
	h := c.Clone()
	tensor.LeakyReLU(h.Data, s.slope)
	h = s.Conv.Forward(tensor.Pad(h, s.pad, s.pad, tensor.PadReflect))
	tensor.LeakyReLU(h.Data, s.slope)
	h = s.Conv1x1.Forward(h)
	tensor.Add(h.Data, s.SkipLayer.Forward(c).Data)
	return h
}

type melganStage struct {
	up     *nn.ConvTranspose1d
	stacks []*MelGANResidualStack
}

// MelGANGenerator used as a conditioning upsampler: transposed convolutions
// interleaved with residual stacks, mapping aux channels to aux channels.
type MelGANGenerator struct {
	ConvIn  *nn.Conv1d
	ConvOut *nn.Conv1d

	stages []melganStage
	pad    int
	slope  float32
}

// NewMelGANGenerator builds a non-causal MelGAN upsampler. In this role it
// has no final tanh and applies no weight norm of its own; the owning
// generator's pass still reaches its Conv1d layers.
func NewMelGANGenerator(p UpsampleParams, o UpsampleOptions) (*MelGANGenerator, error) {
	if o.Causal {
		return nil, fmt.Errorf("%w: causal MelGANGenerator upsampling is not supported", ErrInvalidUpsampler)
	}
	if len(p.UpsampleScales) == 0 || o.AuxChannels <= 0 {
		return nil, fmt.Errorf("%w: MelGANGenerator needs upsample_scales and aux_channels", ErrInvalidUpsampler)
	}
	channels := orDefault(p.Channels, defaultMelGANChannels)
	kernel := orDefault(p.KernelSize, defaultMelGANKernelSize)
	stackKernel := orDefault(p.StackKernelSize, defaultMelGANStackKernelSize)
	stacks := orDefault(p.Stacks, defaultMelGANStacks)
	bias := p.Bias == nil || *p.Bias
	slope := float32(defaultMelGANSlope)
	if v, ok := p.NonlinearActivationParams["negative_slope"]; ok {
		slope = float32(v)
	}

	switch {
	case (kernel-1)%2 != 0 || (stackKernel-1)%2 != 0:
		return nil, fmt.Errorf("%w: MelGAN kernel sizes must be odd", ErrInvalidUpsampler)
	case channels < p.Factor():
		return nil, fmt.Errorf("%w: channels=%d smaller than upsample factor %d", ErrInvalidUpsampler, channels, p.Factor())
	case channels%(1<<len(p.UpsampleScales)) != 0:
		return nil, fmt.Errorf("%w: channels=%d not divisible by 2^%d", ErrInvalidUpsampler, channels, len(p.UpsampleScales))
	}

	g := &MelGANGenerator{
		ConvIn: nn.NewConv1d(o.AuxChannels, channels, kernel, nn.WithBias(bias)),
		pad:    (kernel - 1) / 2,
		slope:  slope,
	}
	for i, s := range p.UpsampleScales {
		if s <= 0 {
			return nil, fmt.Errorf("%w: upsample scale %d", ErrInvalidUpsampler, s)
		}
		in, out := channels>>i, channels>>(i+1)
		st := melganStage{up: nn.NewConvTranspose1d(in, out, 2*s, s, s/2+s%2, s%2, bias)}
		d := 1
		for j := 0; j < stacks; j++ {
			st.stacks = append(st.stacks, newMelGANResidualStack(out, stackKernel, d, bias, slope))
			d *= stackKernel
		}
		g.stages = append(g.stages, st)
	}
	g.ConvOut = nn.NewConv1d(channels>>len(p.UpsampleScales), o.AuxChannels, kernel, nn.WithBias(bias))
	return g, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Children lays out the "melgan" sequence with the indices the layer list
// has when pads and activations are counted as layers.
func (g *MelGANGenerator) Children() []nn.Child {
	seq := nn.Sequence{nil, g.ConvIn}
	for _, st := range g.stages {
		seq = append(seq, nil, st.up)
		for _, s := range st.stacks {
			seq = append(seq, s)
		}
	}
	seq = append(seq, nil, nil, g.ConvOut)
	return []nn.Child{{Name: "melgan", Module: seq}}
}

func (g *MelGANGenerator) Factor() int {
	f := 1
	for _, st := range g.stages {
		f *= st.up.Stride
	}
	return f
}

func (g *MelGANGenerator) ContextWindow() int { return 0 }

func (g *MelGANGenerator) Forward(c *tensor.Tensor) (*tensor.Tensor, error) {
	if c.T <= g.pad {
		return nil, fmt.Errorf("%w: MelGAN upsampler needs more than %d frames, got %d", ErrTooShort, g.pad, c.T)
	}
	h := g.ConvIn.Forward(tensor.Pad(c, g.pad, g.pad, tensor.PadReflect))
	for _, st := range g.stages {
		tensor.LeakyReLU(h.Data, g.slope)
		h = st.up.Forward(h)
		for _, s := range st.stacks {
			if h.T <= s.pad {
				return nil, fmt.Errorf("%w: %d steps cannot be reflection padded by %d", ErrTooShort, h.T, s.pad)
			}
			h = s.Forward(h)
		}
	}
	tensor.LeakyReLU(h.Data, g.slope)
	h = g.ConvOut.Forward(tensor.Pad(h, g.pad, g.pad, tensor.PadReflect))
	return h, nil
}
