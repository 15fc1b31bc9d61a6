package model

import (
	"fmt"
	"math/rand"

	"github.com/MaxMax2016/Multi-Singer/internal/layers"
	"github.com/MaxMax2016/Multi-Singer/internal/logger"
	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// pqmfConvChannels is the width of the two convolutions after synthesis.
const (
	pqmfConvChannels = 128
	pqmfConvPadding  = 3
)

// Generator1 is the subband generator: PQMF analysis, one conditioned
// residual stack, output head, PQMF synthesis and two smoothing
// convolutions.
type Generator1 struct {
	cfg Config1
	log logger.Logger
	rng *rand.Rand

	Upsampler layers.Upsampler
	PQMF      *layers.PQMF
	FirstConv *nn.Conv1d
	Stack     *ResidualStack
	Head      *OutputHead
	PQMFConv1 *nn.Conv1d
	PQMFConv2 *nn.Conv1d
}

// NewGenerator1 validates cfg, builds every sub-module with freshly
// initialised weights and applies weight norm when configured.
func NewGenerator1(cfg Config1, opts ...Option) (*Generator1, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	o := buildOptions(opts)

	g := &Generator1{cfg: cfg, log: o.log, rng: o.rng()}

	g.Upsampler = layers.Identity{}
	if cfg.UpsampleConditionalFeatures {
		up, err := layers.NewUpsampler(cfg.UpsampleNet, cfg.UpsampleParams, layers.UpsampleOptions{
			AuxChannels:      cfg.AuxChannels,
			AuxContextWindow: cfg.AuxContextWindow,
			Causal:           cfg.UseCausalConv,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		g.Upsampler = up
	}

	pqmf, err := layers.NewDefaultPQMF(cfg.Subbands)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	g.PQMF = pqmf

	g.FirstConv = nn.NewConv1d1x1(cfg.InChannels, cfg.ResidualChannels, true)
	g.Stack, err = NewResidualStack(StackConfig{
		Layers:           cfg.Layers,
		Stacks:           cfg.Stacks,
		KernelSize:       cfg.KernelSize,
		ResidualChannels: cfg.ResidualChannels,
		GateChannels:     cfg.GateChannels,
		SkipChannels:     cfg.SkipChannels,
		AuxChannels:      cfg.AuxChannels,
		Dropout:          cfg.Dropout,
		Bias:             cfg.Bias,
		Causal:           cfg.UseCausalConv,
	})
	if err != nil {
		return nil, err
	}
	g.Head = NewOutputHead(cfg.SkipChannels, cfg.SkipChannels, cfg.InChannels)
	g.PQMFConv1 = nn.NewConv1d(1, pqmfConvChannels, cfg.KernelSize, nn.WithPadding(pqmfConvPadding))
	g.PQMFConv2 = nn.NewConv1d(pqmfConvChannels, cfg.OutChannels, cfg.KernelSize, nn.WithPadding(pqmfConvPadding))

	nn.Reset(g, g.rng)
	if cfg.UseWeightNorm {
		if err := g.ApplyWeightNorm(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Config returns a copy of the construction parameters.
func (g *Generator1) Config() Config1 { return g.cfg.Clone() }

func (g *Generator1) Children() []nn.Child {
	return []nn.Child{
		{Name: "first_conv", Module: g.FirstConv},
		{Name: "upsample_net", Module: g.Upsampler},
		{Name: "conv_layers", Module: g.Stack},
		{Name: "last_conv_layers", Module: g.Head},
		{Name: "pqmf_conv1", Module: g.PQMFConv1},
		{Name: "pqmf_conv2", Module: g.PQMFConv2},
		{Name: "pqmf", Module: g.PQMF},
	}
}

// UpsampleFactor is the number of subband steps per conditioning frame.
func (g *Generator1) UpsampleFactor() int { return g.Upsampler.Factor() }

// HopSize is the number of output samples per conditioning frame.
func (g *Generator1) HopSize() int { return g.Upsampler.Factor() * g.cfg.Subbands }

// ReceptiveFieldSize of the residual stack, in subband steps.
func (g *Generator1) ReceptiveFieldSize() int {
	return ReceptiveFieldSize(g.cfg.Layers, g.cfg.Stacks, g.cfg.KernelSize, nil)
}

// ApplyWeightNorm normalizes every Conv1d and Conv2d in the generator.
// Applying twice fails.
func (g *Generator1) ApplyWeightNorm() error { return nn.ApplyWeightNorm(g, g.log) }

// RemoveWeightNorm strips weight norm wherever present and reports how
// many modules changed.
func (g *Generator1) RemoveWeightNorm() int { return nn.RemoveWeightNorm(g, g.log) }

// Reseed resets the noise source used by Infer.
func (g *Generator1) Reseed(seed int64) { g.rng = rand.New(rand.NewSource(seed)) }

// Forward maps noise x (B, 1, T) and conditioning c (B, aux, T') to a
// waveform (B, out, L) where L depends on the trailing kernel size.
// c may be nil to run unconditioned.
func (g *Generator1) Forward(x, c *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || x.C != 1 {
		return nil, fmt.Errorf("%w: noise must have shape (B, 1, T)", ErrShapeMismatch)
	}
	if c != nil {
		if c.B != x.B || c.C != g.cfg.AuxChannels {
			return nil, fmt.Errorf("%w: conditioning %v for noise %v with aux_channels=%d",
				ErrShapeMismatch, c.Shape(), x.Shape(), g.cfg.AuxChannels)
		}
		up, err := g.Upsampler.Forward(c)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
		}
		if up.T*g.cfg.Subbands != x.T {
			return nil, fmt.Errorf("%w: upsampled conditioning length %d * %d subbands != noise length %d",
				ErrShapeMismatch, up.T, g.cfg.Subbands, x.T)
		}
		c = up
	} else if x.T%g.cfg.Subbands != 0 {
		return nil, fmt.Errorf("%w: noise length %d not divisible by %d subbands", ErrShapeMismatch, x.T, g.cfg.Subbands)
	}

	bands, err := g.PQMF.Analysis(x)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	h := g.FirstConv.Forward(bands)
	h = g.Stack.Forward(h, c)
	h = g.Head.Forward(h)

	y, err := g.PQMF.Synthesis(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	y = g.PQMFConv1.Forward(y)
	return g.PQMFConv2.Forward(y), nil
}

// PrepareInference turns time-major inputs into the batch-major tensors
// Forward consumes. Missing noise is drawn from a standard normal with
// length T' * UpsampleFactor * Subbands; conditioning is edge-replicated
// by aux_context_window frames on each side.
func (g *Generator1) PrepareInference(c, x *tensor.Mat) (noise, cond *tensor.Tensor, err error) {
	if c == nil && x == nil {
		return nil, nil, ErrMissingInput
	}
	if x != nil {
		if x.C != 1 {
			return nil, nil, fmt.Errorf("%w: noise must be (T, 1), got (%d, %d)", ErrShapeMismatch, x.R, x.C)
		}
		noise = tensor.FromTimeMajor(x)
	} else {
		noise = tensor.New(1, 1, c.R*g.UpsampleFactor()*g.cfg.Subbands)
		tensor.FillNormal(noise.Data, g.rng, 1)
	}
	if c != nil {
		if c.C != g.cfg.AuxChannels {
			return nil, nil, fmt.Errorf("%w: conditioning has %d channels, want %d", ErrShapeMismatch, c.C, g.cfg.AuxChannels)
		}
		if c.R == 0 {
			return nil, nil, fmt.Errorf("%w: empty conditioning", ErrShapeMismatch)
		}
		padded := tensor.ReplicationPadRows(c, g.cfg.AuxContextWindow)
		cond = tensor.FromTimeMajor(&padded)
	}
	return noise, cond, nil
}

// Infer runs a single example: c is (T', aux) and x is (T, 1), either may
// be nil but not both. The result is (L, out).
func (g *Generator1) Infer(c, x *tensor.Mat) (tensor.Mat, error) {
	noise, cond, err := g.PrepareInference(c, x)
	if err != nil {
		return tensor.Mat{}, err
	}
	y, err := g.Forward(noise, cond)
	if err != nil {
		return tensor.Mat{}, err
	}
	return y.TimeMajor(0), nil
}
