// Package vocoder wires a configuration file and a safetensors checkpoint
// into a ready-to-run generator.
package vocoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MaxMax2016/Multi-Singer/internal/config"
	"github.com/MaxMax2016/Multi-Singer/internal/logger"
	"github.com/MaxMax2016/Multi-Singer/internal/model"
	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/safetensors"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

var ErrMonoOnly = errors.New("vocoder: generator must produce a single output channel")

// Vocoder turns log-mel frames into a waveform.
type Vocoder interface {
	// Synthesize runs the generator over time-major features (frames x
	// mels). seed fixes the noise excitation.
	Synthesize(features *tensor.Mat, seed int64) ([]float32, error)
	HopSize() int
	SampleRate() int
	Summary() Summary
}

// Summary describes a loaded generator.
type Summary struct {
	GeneratorType   string `json:"generator_type"`
	SampleRate      int    `json:"sample_rate"`
	HopSize         int    `json:"hop_size"`
	UpsampleFactor  int    `json:"upsample_factor"`
	AuxChannels     int    `json:"aux_channels"`
	ReceptiveFields []int  `json:"receptive_fields"`
	Params          int    `json:"params"`
	WeightNorm      bool   `json:"weight_norm"`
}

// Generator is the surface shared by both generator types.
type Generator interface {
	nn.Module
	UpsampleFactor() int
	HopSize() int
	ApplyWeightNorm() error
	RemoveWeightNorm() int
	Reseed(seed int64)
}

// Build constructs the generator selected by cfg with fresh weights.
// weightNorm overrides use_weight_norm so parameter names match a
// checkpoint.
func Build(cfg config.File, weightNorm bool, log logger.Logger) (Generator, error) {
	opts := []model.Option{model.WithLogger(log)}
	switch cfg.Type {
	case config.Generator1:
		p := cfg.Params1.Clone()
		p.UseWeightNorm = weightNorm
		g, err := model.NewGenerator1(p, opts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.Generator2:
		p := cfg.Params2.Clone()
		p.UseWeightNorm = weightNorm
		g, err := model.NewGenerator2(p, opts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w %q", config.ErrUnknownGenerator, cfg.Type)
	}
}

// HasWeightNorm reports whether a checkpoint stores weight-normalized
// convolutions.
func HasWeightNorm(names []string) bool {
	for _, n := range names {
		if strings.HasSuffix(n, ".weight_g") {
			return true
		}
	}
	return false
}

type vocoder struct {
	gen   Generator
	infer func(c *tensor.Mat) (tensor.Mat, error)
	cfg   config.File
}

// New wraps gen for inference. gen must have been built from cfg.
func New(cfg config.File, gen Generator) (Vocoder, error) {
	v := &vocoder{gen: gen, cfg: cfg}
	switch g := gen.(type) {
	case *model.Generator1:
		if cfg.Params1.OutChannels != 1 {
			return nil, ErrMonoOnly
		}
		v.infer = func(c *tensor.Mat) (tensor.Mat, error) { return g.Infer(c, nil) }
	case *model.Generator2:
		v.infer = g.Infer
	default:
		return nil, fmt.Errorf("vocoder: unsupported generator %T", gen)
	}
	if aux := v.auxChannels(); aux != cfg.Audio.NumMels {
		return nil, fmt.Errorf("vocoder: aux_channels %d does not match num_mels %d", aux, cfg.Audio.NumMels)
	}
	if hop := gen.HopSize(); hop != cfg.Audio.HopSize {
		return nil, fmt.Errorf("vocoder: generator hop size %d does not match hop_size %d", hop, cfg.Audio.HopSize)
	}
	return v, nil
}

// Load reads cfgPath and weightsPath and returns a vocoder with weight norm
// folded into plain convolution weights.
func Load(cfgPath, weightsPath string, log logger.Logger) (Vocoder, error) {
	if log == nil {
		log = logger.Discard()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	gen, err := LoadGenerator(cfg, weightsPath, log)
	if err != nil {
		return nil, err
	}
	if n := gen.RemoveWeightNorm(); n > 0 {
		log.Debug("weight norm removed", "modules", n)
	}
	return New(cfg, gen)
}

// LoadGenerator builds the generator for cfg and copies its parameters from
// a safetensors file. Weight norm is kept when the checkpoint has it.
func LoadGenerator(cfg config.File, weightsPath string, log logger.Logger) (Generator, error) {
	if log == nil {
		log = logger.Discard()
	}
	st, err := safetensors.Open(weightsPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	wn := HasWeightNorm(st.Names())
	gen, err := Build(cfg, wn, log)
	if err != nil {
		return nil, err
	}
	if err := nn.LoadParams(gen, st); err != nil {
		return nil, fmt.Errorf("%s: %w", weightsPath, err)
	}
	log.Info("loaded generator",
		"type", string(cfg.Type),
		"weights", weightsPath,
		"params", nn.CountParams(gen),
		"weight_norm", wn,
	)
	return gen, nil
}

func (v *vocoder) auxChannels() int {
	if v.cfg.Type == config.Generator2 {
		return v.cfg.Params2.AuxChannels
	}
	return v.cfg.Params1.AuxChannels
}

func (v *vocoder) HopSize() int    { return v.gen.HopSize() }
func (v *vocoder) SampleRate() int { return v.cfg.Audio.SamplingRate }

func (v *vocoder) Synthesize(features *tensor.Mat, seed int64) ([]float32, error) {
	if features == nil || features.R == 0 {
		return nil, model.ErrMissingInput
	}
	v.gen.Reseed(seed)
	y, err := v.infer(features)
	if err != nil {
		return nil, err
	}
	n := min(y.R, features.R*v.HopSize())
	out := make([]float32, n)
	for i := range out {
		out[i] = y.Row(i)[0]
	}
	return out, nil
}

func (v *vocoder) Summary() Summary {
	return Describe(v.cfg, v.gen)
}

// Describe summarises gen, which must have been built from cfg.
func Describe(cfg config.File, gen Generator) Summary {
	s := Summary{
		GeneratorType:  string(cfg.Type),
		SampleRate:     cfg.Audio.SamplingRate,
		HopSize:        gen.HopSize(),
		UpsampleFactor: gen.UpsampleFactor(),
		Params:         nn.CountParams(gen),
		WeightNorm:     hasWeightNorm(gen),
	}
	switch g := gen.(type) {
	case *model.Generator1:
		s.AuxChannels = cfg.Params1.AuxChannels
		s.ReceptiveFields = []int{g.ReceptiveFieldSize()}
	case *model.Generator2:
		s.AuxChannels = cfg.Params2.AuxChannels
		rf := g.ReceptiveFieldSizes()
		s.ReceptiveFields = rf[:]
	}
	return s
}

func hasWeightNorm(root nn.Module) bool {
	found := false
	_ = nn.Walk(root, func(_ string, m nn.Module) error {
		if w, ok := m.(nn.WeightNormalizable); ok && w.HasWeightNorm() {
			found = true
		}
		return nil
	})
	return found
}
