package layers

import (
	"errors"
	"fmt"
	"math"

	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

var ErrInvalidBlock = errors.New("layers: invalid residual block")

// ResidualBlockConfig describes one gated dilated residual block.
type ResidualBlockConfig struct {
	KernelSize       int
	ResidualChannels int
	GateChannels     int
	SkipChannels     int
	AuxChannels      int
	Dilation         int
	// Dropout is kept for configuration parity; inference never drops.
	Dropout float64
	Bias    bool
	Causal  bool
}

// ResidualBlock is the WaveNet-style gated block:
//
//	h     = conv(x) (+ conv1x1_aux(c))
//	z     = tanh(h[:G/2]) * sigmoid(h[G/2:])
//	skip  = conv1x1_skip(z)
//	x'    = (conv1x1_out(z) + x) * sqrt(0.5)
type ResidualBlock struct {
	cfg ResidualBlockConfig

	Conv     *nn.Conv1d
	ConvAux  *nn.Conv1d // nil when AuxChannels == 0
	ConvOut  *nn.Conv1d
	ConvSkip *nn.Conv1d
}

// NewResidualBlock validates cfg and allocates the block's convolutions.
func NewResidualBlock(cfg ResidualBlockConfig) (*ResidualBlock, error) {
	switch {
	case cfg.KernelSize <= 0 || cfg.Dilation <= 0:
		return nil, fmt.Errorf("%w: kernel_size=%d dilation=%d", ErrInvalidBlock, cfg.KernelSize, cfg.Dilation)
	case cfg.ResidualChannels <= 0 || cfg.SkipChannels <= 0 || cfg.AuxChannels < 0:
		return nil, fmt.Errorf("%w: residual=%d skip=%d aux=%d", ErrInvalidBlock,
			cfg.ResidualChannels, cfg.SkipChannels, cfg.AuxChannels)
	case cfg.GateChannels <= 0 || cfg.GateChannels%2 != 0:
		return nil, fmt.Errorf("%w: gate_channels must be positive and even, got %d", ErrInvalidBlock, cfg.GateChannels)
	case !cfg.Causal && (cfg.KernelSize-1)%2 != 0:
		return nil, fmt.Errorf("%w: non-causal kernel_size must be odd, got %d", ErrInvalidBlock, cfg.KernelSize)
	}

	padding := (cfg.KernelSize - 1) / 2 * cfg.Dilation
	if cfg.Causal {
		padding = (cfg.KernelSize - 1) * cfg.Dilation
	}
	half := cfg.GateChannels / 2
	b := &ResidualBlock{
		cfg: cfg,
		Conv: nn.NewConv1d(cfg.ResidualChannels, cfg.GateChannels, cfg.KernelSize,
			nn.WithPadding(padding), nn.WithDilation(cfg.Dilation), nn.WithBias(cfg.Bias)),
		ConvOut:  nn.NewConv1d1x1(half, cfg.ResidualChannels, cfg.Bias),
		ConvSkip: nn.NewConv1d1x1(half, cfg.SkipChannels, cfg.Bias),
	}
	if cfg.AuxChannels > 0 {
		b.ConvAux = nn.NewConv1d1x1(cfg.AuxChannels, cfg.GateChannels, false)
	}
	return b, nil
}

// Dilation returns the block's dilation factor.
func (b *ResidualBlock) Dilation() int { return b.cfg.Dilation }

func (b *ResidualBlock) Children() []nn.Child {
	out := []nn.Child{{Name: "conv", Module: b.Conv}}
	if b.ConvAux != nil {
		out = append(out, nn.Child{Name: "conv1x1_aux", Module: b.ConvAux})
	}
	return append(out,
		nn.Child{Name: "conv1x1_out", Module: b.ConvOut},
		nn.Child{Name: "conv1x1_skip", Module: b.ConvSkip},
	)
}

// Forward returns the updated hidden state and the block's skip output.
// c may be nil, in which case the auxiliary path is skipped; otherwise it
// must have the same batch size and length as x.
func (b *ResidualBlock) Forward(x, c *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	h := b.Conv.Forward(x)
	if b.cfg.Causal {
		h = h.Narrow(0, x.T)
	}
	half := b.cfg.GateChannels / 2

	if c != nil && b.ConvAux != nil {
		if c.B != x.B || c.T != x.T {
			panic(fmt.Sprintf("residual block: conditioning %v does not match hidden state %v", c.Shape(), x.Shape()))
		}
		tensor.Add(h.Data, b.ConvAux.Forward(c).Data)
	}

	z := tensor.New(x.B, half, x.T)
	for n := 0; n < x.B; n++ {
		for ch := 0; ch < half; ch++ {
			tensor.GatedTanh(z.Row(n, ch), h.Row(n, ch), h.Row(n, ch+half))
		}
	}

	skip := b.ConvSkip.Forward(z)
	out := b.ConvOut.Forward(z)
	tensor.Add(out.Data, x.Data)
	tensor.Scale(out.Data, float32(math.Sqrt(0.5)))
	return out, skip
}
