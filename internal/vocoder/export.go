package vocoder

import (
	"fmt"
	"slices"

	"github.com/MaxMax2016/Multi-Singer/internal/config"
	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/safetensors"
)

// Export metadata keys.
const (
	MetaGeneratorType = "generator_type"
	MetaConfig        = "config"
)

// Export removes weight norm from gen and writes its parameters to path.
// The config is embedded in the file metadata as YAML.
func Export(cfg config.File, gen Generator, path string, dtype safetensors.DType) (int, error) {
	removed := gen.RemoveWeightNorm()
	doc, err := cfg.Marshal()
	if err != nil {
		return 0, fmt.Errorf("marshal config: %w", err)
	}

	params := nn.NamedParams(gen)
	tensors := make([]safetensors.Tensor, 0, len(params))
	for _, p := range params {
		tensors = append(tensors, safetensors.Tensor{
			Name:  p.Name,
			Shape: slices.Clone(p.Shape),
			Data:  p.Data,
		})
	}
	meta := map[string]string{
		"format":          "pt",
		MetaGeneratorType: string(cfg.Type),
		MetaConfig:        string(doc),
	}
	if err := safetensors.WriteFile(path, tensors, dtype, meta); err != nil {
		return removed, err
	}
	return removed, nil
}

// LoadStats reads per-bin feature statistics ("mean" and "scale") used to
// normalise mel features before synthesis.
func LoadStats(path string) (mean, scale []float32, err error) {
	st, err := safetensors.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = st.Close() }()

	if mean, _, err = st.ReadTensorF32("mean"); err != nil {
		return nil, nil, err
	}
	if scale, _, err = st.ReadTensorF32("scale"); err != nil {
		return nil, nil, err
	}
	if len(mean) != len(scale) {
		return nil, nil, fmt.Errorf("stats: mean has %d bins, scale has %d", len(mean), len(scale))
	}
	for i, s := range scale {
		if s == 0 {
			return nil, nil, fmt.Errorf("stats: scale[%d] is zero", i)
		}
	}
	return mean, scale, nil
}
