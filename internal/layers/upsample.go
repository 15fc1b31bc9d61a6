package layers

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

var (
	ErrInvalidUpsampler = errors.New("layers: invalid upsampler")
	ErrTooShort         = errors.New("layers: conditioning too short")
)

// UpsampleNet names a conditioning upsampler architecture.
type UpsampleNet int

const (
	UpsampleNone UpsampleNet = iota
	UpsampleNetworkKind
	ConvInUpsampleNetworkKind
	MelGANGeneratorKind
)

// ParseUpsampleNet maps the configuration name to an UpsampleNet.
func ParseUpsampleNet(name string) (UpsampleNet, error) {
	switch name {
	case "", "none":
		return UpsampleNone, nil
	case "UpsampleNetwork":
		return UpsampleNetworkKind, nil
	case "ConvInUpsampleNetwork":
		return ConvInUpsampleNetworkKind, nil
	case "MelGANGenerator":
		return MelGANGeneratorKind, nil
	default:
		return UpsampleNone, fmt.Errorf("%w: unknown upsample_net %q", ErrInvalidUpsampler, name)
	}
}

func (u UpsampleNet) String() string {
	switch u {
	case UpsampleNetworkKind:
		return "UpsampleNetwork"
	case ConvInUpsampleNetworkKind:
		return "ConvInUpsampleNetwork"
	case MelGANGeneratorKind:
		return "MelGANGenerator"
	default:
		return "none"
	}
}

// MarshalText and UnmarshalText let UpsampleNet appear directly in YAML.
func (u UpsampleNet) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *UpsampleNet) UnmarshalText(b []byte) error {
	v, err := ParseUpsampleNet(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// UpsampleParams is the open parameter set of an upsampler. Fields a given
// architecture does not use are ignored.
type UpsampleParams struct {
	UpsampleScales            []int              `yaml:"upsample_scales" json:"upsample_scales"`
	NonlinearActivation       string             `yaml:"nonlinear_activation,omitempty" json:"nonlinear_activation,omitempty"`
	NonlinearActivationParams map[string]float64 `yaml:"nonlinear_activation_params,omitempty" json:"nonlinear_activation_params,omitempty"`
	InterpolateMode           string             `yaml:"interpolate_mode,omitempty" json:"interpolate_mode,omitempty"`
	FreqAxisKernelSize        int                `yaml:"freq_axis_kernel_size,omitempty" json:"freq_axis_kernel_size,omitempty"`

	// MelGANGenerator
	Channels        int   `yaml:"channels,omitempty" json:"channels,omitempty"`
	KernelSize      int   `yaml:"kernel_size,omitempty" json:"kernel_size,omitempty"`
	StackKernelSize int   `yaml:"stack_kernel_size,omitempty" json:"stack_kernel_size,omitempty"`
	Stacks          int   `yaml:"stacks,omitempty" json:"stacks,omitempty"`
	Bias            *bool `yaml:"bias,omitempty" json:"bias,omitempty"`
}

// Clone returns a deep copy so callers never share scale slices.
func (p UpsampleParams) Clone() UpsampleParams {
	p.UpsampleScales = slices.Clone(p.UpsampleScales)
	p.NonlinearActivationParams = maps.Clone(p.NonlinearActivationParams)
	if p.Bias != nil {
		b := *p.Bias
		p.Bias = &b
	}
	return p
}

// Factor is the product of the upsample scales.
func (p UpsampleParams) Factor() int {
	f := 1
	for _, s := range p.UpsampleScales {
		f *= s
	}
	return f
}

// UpsampleOptions carries the generator-level settings an upsampler needs.
type UpsampleOptions struct {
	AuxChannels      int
	AuxContextWindow int
	Causal           bool
}

// Upsampler stretches (B, aux, T') conditioning features to sample rate.
type Upsampler interface {
	nn.Module
	Forward(c *tensor.Tensor) (*tensor.Tensor, error)
	// Factor is the number of output steps per consumed input frame.
	Factor() int
	// ContextWindow is the number of frames consumed at each edge.
	ContextWindow() int
}

// NewUpsampler builds the upsampler selected by kind.
func NewUpsampler(kind UpsampleNet, p UpsampleParams, o UpsampleOptions) (Upsampler, error) {
	switch kind {
	case UpsampleNone:
		return Identity{}, nil
	case UpsampleNetworkKind:
		return NewUpsampleNetwork(p, o.Causal)
	case ConvInUpsampleNetworkKind:
		return NewConvInUpsampleNetwork(p, o)
	case MelGANGeneratorKind:
		if o.AuxContextWindow != 0 {
			return nil, fmt.Errorf("%w: MelGANGenerator requires aux_context_window=0, got %d",
				ErrInvalidUpsampler, o.AuxContextWindow)
		}
		return NewMelGANGenerator(p, o)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpsampler, kind)
	}
}

// Identity passes conditioning through unchanged.
type Identity struct{ nn.Leaf }

func (Identity) Forward(c *tensor.Tensor) (*tensor.Tensor, error) { return c, nil }
func (Identity) Factor() int                                      { return 1 }
func (Identity) ContextWindow() int                               { return 0 }

// Stretch2d repeats every time step scale times (nearest interpolation).
func Stretch2d(x *tensor.Tensor, scale int) *tensor.Tensor {
	out := tensor.New(x.B, x.C, x.T*scale)
	for b := 0; b < x.B; b++ {
		for c := 0; c < x.C; c++ {
			dst := out.Row(b, c)
			for t, v := range x.Row(b, c) {
				seg := dst[t*scale : (t+1)*scale]
				for i := range seg {
					seg[i] = v
				}
			}
		}
	}
	return out
}

type upStage struct {
	scale int
	conv  *nn.Conv2d
}

// UpsampleNetwork alternates nearest stretching with a smoothing Conv2d
// over the (freq, time) plane, one stage per scale.
type UpsampleNetwork struct {
	stages []upStage
	act    Activation
	causal bool
}

// NewUpsampleNetwork validates p and builds one stage per scale.
func NewUpsampleNetwork(p UpsampleParams, causal bool) (*UpsampleNetwork, error) {
	if len(p.UpsampleScales) == 0 {
		return nil, fmt.Errorf("%w: upsample_scales is empty", ErrInvalidUpsampler)
	}
	if p.InterpolateMode != "" && p.InterpolateMode != "nearest" {
		return nil, fmt.Errorf("%w: interpolate_mode %q is not supported", ErrInvalidUpsampler, p.InterpolateMode)
	}
	fk := p.FreqAxisKernelSize
	if fk == 0 {
		fk = 1
	}
	if fk < 0 || (fk-1)%2 != 0 {
		return nil, fmt.Errorf("%w: freq_axis_kernel_size must be odd, got %d", ErrInvalidUpsampler, fk)
	}
	act, err := ParseActivation(p.NonlinearActivation, p.NonlinearActivationParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpsampler, err)
	}

	u := &UpsampleNetwork{act: act, causal: causal}
	for _, s := range p.UpsampleScales {
		if s <= 0 {
			return nil, fmt.Errorf("%w: upsample scale %d", ErrInvalidUpsampler, s)
		}
		padW := s
		if causal {
			padW = 2 * s
		}
		u.stages = append(u.stages, upStage{
			scale: s,
			conv:  nn.NewConv2d(fk, 2*s+1, (fk-1)/2, padW, false),
		})
	}
	nn.Reset(u, nil)
	return u, nil
}

// Children lays out "up_layers" with the indices of the stretch, conv and
// activation layers, so only every second or third index holds weights.
func (u *UpsampleNetwork) Children() []nn.Child {
	per := 2
	if u.act.Kind != ActNone {
		per = 3
	}
	seq := make(nn.Sequence, per*len(u.stages))
	for i, st := range u.stages {
		seq[i*per+1] = st.conv
	}
	return []nn.Child{{Name: "up_layers", Module: seq}}
}

func (u *UpsampleNetwork) Factor() int {
	f := 1
	for _, st := range u.stages {
		f *= st.scale
	}
	return f
}

func (u *UpsampleNetwork) ContextWindow() int { return 0 }

func (u *UpsampleNetwork) Forward(c *tensor.Tensor) (*tensor.Tensor, error) {
	if c.T == 0 {
		return nil, fmt.Errorf("%w: empty conditioning", ErrTooShort)
	}
	for _, st := range u.stages {
		c = Stretch2d(c, st.scale)
		n := c.T
		c = st.conv.Forward(c)
		if u.causal {
			c = c.Narrow(0, n)
		}
		u.act.Apply(c)
	}
	return c, nil
}

// ConvInUpsampleNetwork runs a context convolution of width 2W+1 over the
// conditioning before upsampling, consuming W frames at each edge.
type ConvInUpsampleNetwork struct {
	ConvIn   *nn.Conv1d
	Upsample *UpsampleNetwork

	window int
	causal bool
}

func NewConvInUpsampleNetwork(p UpsampleParams, o UpsampleOptions) (*ConvInUpsampleNetwork, error) {
	if o.AuxChannels <= 0 || o.AuxContextWindow < 0 {
		return nil, fmt.Errorf("%w: aux_channels=%d aux_context_window=%d",
			ErrInvalidUpsampler, o.AuxChannels, o.AuxContextWindow)
	}
	up, err := NewUpsampleNetwork(p, o.Causal)
	if err != nil {
		return nil, err
	}
	kernel := 2*o.AuxContextWindow + 1
	if o.Causal {
		kernel = o.AuxContextWindow + 1
	}
	return &ConvInUpsampleNetwork{
		ConvIn:   nn.NewConv1d(o.AuxChannels, o.AuxChannels, kernel, nn.WithBias(false)),
		Upsample: up,
		window:   o.AuxContextWindow,
		causal:   o.Causal && o.AuxContextWindow > 0,
	}, nil
}

func (u *ConvInUpsampleNetwork) Children() []nn.Child {
	return []nn.Child{
		{Name: "conv_in", Module: u.ConvIn},
		{Name: "upsample", Module: u.Upsample},
	}
}

func (u *ConvInUpsampleNetwork) Factor() int        { return u.Upsample.Factor() }
func (u *ConvInUpsampleNetwork) ContextWindow() int { return u.window }

func (u *ConvInUpsampleNetwork) Forward(c *tensor.Tensor) (*tensor.Tensor, error) {
	if c.T <= 2*u.window {
		return nil, fmt.Errorf("%w: %d frames with aux_context_window=%d", ErrTooShort, c.T, u.window)
	}
	h := u.ConvIn.Forward(c)
	if u.causal {
		h = h.Narrow(0, h.T-u.window)
	}
	return u.Upsample.Forward(h)
}
