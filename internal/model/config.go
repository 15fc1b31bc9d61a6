// Package model implements the two multi-band WaveNet-style generators.
//
// Generator1 splits a noise signal into PQMF subbands, runs one conditioned
// residual stack over them and recombines the bands. Generator2 runs two
// parallel residual stacks ("low" and "up") over the full-band signal and
// feeds their concatenated outputs to PQMF synthesis.
package model

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MaxMax2016/Multi-Singer/internal/layers"
)

var (
	// ErrInvalidConfig reports a configuration that cannot be built.
	ErrInvalidConfig = errors.New("model: invalid config")
	// ErrShapeMismatch reports inputs whose shapes violate a forward
	// precondition.
	ErrShapeMismatch = errors.New("model: shape mismatch")
	// ErrMissingInput reports an inference call without conditioning or
	// noise.
	ErrMissingInput = errors.New("model: conditioning or noise required")
)

// Config1 holds the construction parameters of Generator1. Field names and
// YAML keys follow the training recipe's generator_params.
type Config1 struct {
	InChannels       int     `yaml:"in_channels" json:"in_channels"`
	OutChannels      int     `yaml:"out_channels" json:"out_channels"`
	KernelSize       int     `yaml:"kernel_size" json:"kernel_size"`
	Layers           int     `yaml:"layers" json:"layers"`
	Stacks           int     `yaml:"stacks" json:"stacks"`
	ResidualChannels int     `yaml:"residual_channels" json:"residual_channels"`
	GateChannels     int     `yaml:"gate_channels" json:"gate_channels"`
	SkipChannels     int     `yaml:"skip_channels" json:"skip_channels"`
	AuxChannels      int     `yaml:"aux_channels" json:"aux_channels"`
	AuxContextWindow int     `yaml:"aux_context_window" json:"aux_context_window"`
	Dropout          float64 `yaml:"dropout" json:"dropout"`
	Bias             bool    `yaml:"bias" json:"bias"`
	UseWeightNorm    bool    `yaml:"use_weight_norm" json:"use_weight_norm"`
	UseCausalConv    bool    `yaml:"use_causal_conv" json:"use_causal_conv"`
	// Subbands is the PQMF band count; InChannels must equal it.
	Subbands int `yaml:"subbands" json:"subbands"`

	UpsampleConditionalFeatures bool                  `yaml:"upsample_conditional_features" json:"upsample_conditional_features"`
	UpsampleNet                 layers.UpsampleNet    `yaml:"upsample_net" json:"upsample_net"`
	UpsampleParams              layers.UpsampleParams `yaml:"upsample_params" json:"upsample_params"`
}

// DefaultConfig1 returns a fresh Generator1 configuration.
func DefaultConfig1() Config1 {
	return Config1{
		InChannels:       4,
		OutChannels:      1,
		KernelSize:       3,
		Layers:           30,
		Stacks:           3,
		ResidualChannels: 64,
		GateChannels:     128,
		SkipChannels:     64,
		AuxChannels:      80,
		AuxContextWindow: 2,
		Bias:             true,
		UseWeightNorm:    true,
		Subbands:         4,

		UpsampleConditionalFeatures: true,
		UpsampleNet:                 layers.ConvInUpsampleNetworkKind,
		UpsampleParams:              layers.UpsampleParams{UpsampleScales: []int{4, 4, 4, 4}},
	}
}

// Clone returns a deep copy of c.
func (c Config1) Clone() Config1 {
	c.UpsampleParams = c.UpsampleParams.Clone()
	return c
}

// Validate checks every constraint that does not require building a
// sub-module.
func (c Config1) Validate() error {
	if err := validateStack("", c.Layers, c.Stacks, c.KernelSize, c.UseCausalConv); err != nil {
		return err
	}
	if err := validateChannels(c.ResidualChannels, c.GateChannels, c.SkipChannels, c.AuxChannels, c.AuxContextWindow, c.Dropout); err != nil {
		return err
	}
	switch {
	case c.Subbands <= 0:
		return fmt.Errorf("%w: subbands must be positive, got %d", ErrInvalidConfig, c.Subbands)
	case c.InChannels != c.Subbands:
		return fmt.Errorf("%w: in_channels=%d must equal subbands=%d", ErrInvalidConfig, c.InChannels, c.Subbands)
	case c.OutChannels <= 0:
		return fmt.Errorf("%w: out_channels must be positive, got %d", ErrInvalidConfig, c.OutChannels)
	}
	if !c.UpsampleConditionalFeatures {
		return nil
	}
	return validateUpsampler(c.UpsampleNet, c.UpsampleParams, c.AuxContextWindow, c.UseCausalConv)
}

// UpsampleFactor is the number of samples per conditioning frame produced
// by the upsampler, or 1 without one.
func (c Config1) UpsampleFactor() int {
	if !c.UpsampleConditionalFeatures {
		return 1
	}
	return c.UpsampleParams.Factor()
}

// Config2 holds the construction parameters of Generator2. Per-stack
// fields are indexed low (0) then up (1).
type Config2 struct {
	InChannels       int     `yaml:"in_channels" json:"in_channels"`
	OutChannels      int     `yaml:"out_channels" json:"out_channels"`
	KernelSizes      []int   `yaml:"kernel_sizes" json:"kernel_sizes"`
	Layers           []int   `yaml:"layers" json:"layers"`
	Stacks           []int   `yaml:"stacks" json:"stacks"`
	ResidualChannels int     `yaml:"residual_channels" json:"residual_channels"`
	GateChannels     int     `yaml:"gate_channels" json:"gate_channels"`
	SkipChannels     int     `yaml:"skip_channels" json:"skip_channels"`
	AuxChannels      int     `yaml:"aux_channels" json:"aux_channels"`
	AuxContextWindow int     `yaml:"aux_context_window" json:"aux_context_window"`
	Dropout          float64 `yaml:"dropout" json:"dropout"`
	Bias             bool    `yaml:"bias" json:"bias"`
	UseWeightNorm    bool    `yaml:"use_weight_norm" json:"use_weight_norm"`

	UpsampleNet    layers.UpsampleNet    `yaml:"upsample_net" json:"upsample_net"`
	UpsampleParams layers.UpsampleParams `yaml:"upsample_params" json:"upsample_params"`
}

// DefaultConfig2 returns a fresh Generator2 configuration. Stacks counts
// dilation cycles, so [2, 3] gives cycle lengths 8 and 5.
func DefaultConfig2() Config2 {
	return Config2{
		InChannels:       1,
		OutChannels:      4,
		KernelSizes:      []int{7, 5},
		Layers:           []int{16, 15},
		Stacks:           []int{2, 3},
		ResidualChannels: 64,
		GateChannels:     128,
		SkipChannels:     64,
		AuxChannels:      80,
		AuxContextWindow: 2,
		Bias:             true,
		UseWeightNorm:    true,

		UpsampleNet:    layers.ConvInUpsampleNetworkKind,
		UpsampleParams: layers.UpsampleParams{UpsampleScales: []int{4, 4, 4, 4}},
	}
}

func (c Config2) Clone() Config2 {
	c.KernelSizes = slices.Clone(c.KernelSizes)
	c.Layers = slices.Clone(c.Layers)
	c.Stacks = slices.Clone(c.Stacks)
	c.UpsampleParams = c.UpsampleParams.Clone()
	return c
}

func (c Config2) Validate() error {
	if len(c.KernelSizes) != 2 || len(c.Layers) != 2 || len(c.Stacks) != 2 {
		return fmt.Errorf("%w: kernel_sizes, layers and stacks need one entry per branch, got %d/%d/%d",
			ErrInvalidConfig, len(c.KernelSizes), len(c.Layers), len(c.Stacks))
	}
	for i, name := range branchNames {
		if err := validateStack(name+" ", c.Layers[i], c.Stacks[i], c.KernelSizes[i], false); err != nil {
			return err
		}
	}
	if err := validateChannels(c.ResidualChannels, c.GateChannels, c.SkipChannels, c.AuxChannels, c.AuxContextWindow, c.Dropout); err != nil {
		return err
	}
	switch {
	case c.InChannels <= 0:
		return fmt.Errorf("%w: in_channels must be positive, got %d", ErrInvalidConfig, c.InChannels)
	case c.OutChannels <= 0 || c.OutChannels%2 != 0:
		return fmt.Errorf("%w: out_channels must be positive and even, got %d", ErrInvalidConfig, c.OutChannels)
	case c.UpsampleNet == layers.UpsampleNone:
		return fmt.Errorf("%w: Generator2 requires an upsample_net", ErrInvalidConfig)
	}
	return validateUpsampler(c.UpsampleNet, c.UpsampleParams, c.AuxContextWindow, false)
}

// UpsampleFactor is the number of samples per conditioning frame.
func (c Config2) UpsampleFactor() int { return c.UpsampleParams.Factor() }

var branchNames = [2]string{"low", "up"}

func validateStack(prefix string, layerCount, stacks, kernel int, causal bool) error {
	switch {
	case layerCount <= 0 || stacks <= 0:
		return fmt.Errorf("%w: %slayers=%d stacks=%d must be positive", ErrInvalidConfig, prefix, layerCount, stacks)
	case layerCount%stacks != 0:
		return fmt.Errorf("%w: %slayers=%d not divisible by stacks=%d", ErrInvalidConfig, prefix, layerCount, stacks)
	case kernel <= 0:
		return fmt.Errorf("%w: %skernel_size must be positive, got %d", ErrInvalidConfig, prefix, kernel)
	case !causal && kernel%2 == 0:
		return fmt.Errorf("%w: %skernel_size must be odd without causal convolutions, got %d", ErrInvalidConfig, prefix, kernel)
	}
	return nil
}

func validateChannels(residual, gate, skip, aux, window int, dropout float64) error {
	switch {
	case residual <= 0 || skip <= 0:
		return fmt.Errorf("%w: residual_channels=%d skip_channels=%d", ErrInvalidConfig, residual, skip)
	case gate <= 0 || gate%2 != 0:
		return fmt.Errorf("%w: gate_channels must be positive and even, got %d", ErrInvalidConfig, gate)
	case aux < 0 || window < 0:
		return fmt.Errorf("%w: aux_channels=%d aux_context_window=%d", ErrInvalidConfig, aux, window)
	case dropout < 0 || dropout >= 1:
		return fmt.Errorf("%w: dropout must lie in [0, 1), got %g", ErrInvalidConfig, dropout)
	}
	return nil
}

func validateUpsampler(kind layers.UpsampleNet, p layers.UpsampleParams, window int, causal bool) error {
	if kind == layers.UpsampleNone {
		return fmt.Errorf("%w: upsample_net is required when upsampling conditional features", ErrInvalidConfig)
	}
	if len(p.UpsampleScales) == 0 {
		return fmt.Errorf("%w: upsample_params.upsample_scales is empty", ErrInvalidConfig)
	}
	for _, s := range p.UpsampleScales {
		if s <= 0 {
			return fmt.Errorf("%w: upsample scale %d", ErrInvalidConfig, s)
		}
	}
	if kind == layers.MelGANGeneratorKind {
		if window != 0 {
			return fmt.Errorf("%w: MelGANGenerator requires aux_context_window=0, got %d", ErrInvalidConfig, window)
		}
		if causal {
			return fmt.Errorf("%w: MelGANGenerator cannot be used with causal convolutions", ErrInvalidConfig)
		}
	}
	if _, err := layers.ParseActivation(p.NonlinearActivation, p.NonlinearActivationParams); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
