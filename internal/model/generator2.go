package model

import (
	"fmt"
	"math/rand"

	"github.com/MaxMax2016/Multi-Singer/internal/layers"
	"github.com/MaxMax2016/Multi-Singer/internal/logger"
	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// Generator2 runs two residual stacks ("low" and "up") in parallel over
// the full-band input, sharing one upsampled conditioning. Each head emits
// OutChannels/2 bands; the concatenation [low, up] is PQMF-synthesized.
type Generator2 struct {
	cfg Config2
	log logger.Logger
	rng *rand.Rand

	Upsampler    layers.Upsampler
	PQMF         *layers.PQMF
	LowFirstConv *nn.Conv1d
	UpFirstConv  *nn.Conv1d
	LowStack     *ResidualStack
	UpStack      *ResidualStack
	LowHead      *OutputHead
	UpHead       *OutputHead
}

// NewGenerator2 validates cfg and builds the generator.
func NewGenerator2(cfg Config2, opts ...Option) (*Generator2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	o := buildOptions(opts)

	g := &Generator2{cfg: cfg, log: o.log, rng: o.rng()}

	up, err := layers.NewUpsampler(cfg.UpsampleNet, cfg.UpsampleParams, layers.UpsampleOptions{
		AuxChannels:      cfg.AuxChannels,
		AuxContextWindow: cfg.AuxContextWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	g.Upsampler = up

	if g.PQMF, err = layers.NewDefaultPQMF(cfg.OutChannels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	g.LowFirstConv = nn.NewConv1d1x1(cfg.InChannels, cfg.ResidualChannels, true)
	g.UpFirstConv = nn.NewConv1d1x1(cfg.InChannels, cfg.ResidualChannels, true)

	stacks := [2]*ResidualStack{}
	for i := range stacks {
		stacks[i], err = NewResidualStack(StackConfig{
			Layers:           cfg.Layers[i],
			Stacks:           cfg.Stacks[i],
			KernelSize:       cfg.KernelSizes[i],
			ResidualChannels: cfg.ResidualChannels,
			GateChannels:     cfg.GateChannels,
			SkipChannels:     cfg.SkipChannels,
			AuxChannels:      cfg.AuxChannels,
			Dropout:          cfg.Dropout,
			Bias:             cfg.Bias,
		})
		if err != nil {
			return nil, fmt.Errorf("%s stack: %w", branchNames[i], err)
		}
	}
	g.LowStack, g.UpStack = stacks[0], stacks[1]

	g.LowHead = NewOutputHead(cfg.SkipChannels, cfg.ResidualChannels, cfg.OutChannels/2)
	g.UpHead = NewOutputHead(cfg.SkipChannels, cfg.ResidualChannels, cfg.OutChannels/2)

	nn.Reset(g, g.rng)
	if cfg.UseWeightNorm {
		if err := g.ApplyWeightNorm(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Generator2) Config() Config2 { return g.cfg.Clone() }

func (g *Generator2) Children() []nn.Child {
	return []nn.Child{
		{Name: "low_first_conv", Module: g.LowFirstConv},
		{Name: "up_first_conv", Module: g.UpFirstConv},
		{Name: "upsample_net", Module: g.Upsampler},
		{Name: "low_conv_layers", Module: g.LowStack},
		{Name: "up_conv_layers", Module: g.UpStack},
		{Name: "last_low_conv_layers", Module: g.LowHead},
		{Name: "last_up_conv_layers", Module: g.UpHead},
		{Name: "pqmf", Module: g.PQMF},
	}
}

func (g *Generator2) UpsampleFactor() int { return g.Upsampler.Factor() }

// HopSize is the number of output samples per conditioning frame.
func (g *Generator2) HopSize() int { return g.Upsampler.Factor() * g.cfg.OutChannels }

// ReceptiveFieldSizes returns the receptive field of the low and up stacks.
func (g *Generator2) ReceptiveFieldSizes() [2]int {
	var out [2]int
	for i := range out {
		out[i] = ReceptiveFieldSize(g.cfg.Layers[i], g.cfg.Stacks[i], g.cfg.KernelSizes[i], nil)
	}
	return out
}

func (g *Generator2) ApplyWeightNorm() error { return nn.ApplyWeightNorm(g, g.log) }

func (g *Generator2) RemoveWeightNorm() int { return nn.RemoveWeightNorm(g, g.log) }

// Reseed resets the noise source used by Infer.
func (g *Generator2) Reseed(seed int64) { g.rng = rand.New(rand.NewSource(seed)) }

// Forward maps x (B, in, T) and conditioning c (B, aux, T') to a waveform
// (B, 1, T*OutChannels). After upsampling c must span exactly T steps.
func (g *Generator2) Forward(x, c *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || x.C != g.cfg.InChannels {
		return nil, fmt.Errorf("%w: input must have %d channels", ErrShapeMismatch, g.cfg.InChannels)
	}
	if c != nil {
		if c.B != x.B || c.C != g.cfg.AuxChannels {
			return nil, fmt.Errorf("%w: conditioning %v for input %v with aux_channels=%d",
				ErrShapeMismatch, c.Shape(), x.Shape(), g.cfg.AuxChannels)
		}
		up, err := g.Upsampler.Forward(c)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
		}
		if up.T != x.T {
			return nil, fmt.Errorf("%w: upsampled conditioning length %d != input length %d", ErrShapeMismatch, up.T, x.T)
		}
		c = up
	}

	low := g.LowHead.Forward(g.LowStack.Forward(g.LowFirstConv.Forward(x), c))
	high := g.UpHead.Forward(g.UpStack.Forward(g.UpFirstConv.Forward(x), c))
	bands, err := tensor.ConcatChannels(low, high)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	y, err := g.PQMF.Synthesis(bands)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	return y, nil
}

// Infer runs a single example from time-major conditioning (T', aux). The
// input signal is standard normal noise of T' * UpsampleFactor steps.
func (g *Generator2) Infer(c *tensor.Mat) (tensor.Mat, error) {
	if c == nil || c.R == 0 {
		return tensor.Mat{}, ErrMissingInput
	}
	if c.C != g.cfg.AuxChannels {
		return tensor.Mat{}, fmt.Errorf("%w: conditioning has %d channels, want %d", ErrShapeMismatch, c.C, g.cfg.AuxChannels)
	}
	x := tensor.New(1, g.cfg.InChannels, c.R*g.UpsampleFactor())
	tensor.FillNormal(x.Data, g.rng, 1)
	padded := tensor.ReplicationPadRows(c, g.cfg.AuxContextWindow)
	y, err := g.Forward(x, tensor.FromTimeMajor(&padded))
	if err != nil {
		return tensor.Mat{}, err
	}
	return y.TimeMajor(0), nil
}
