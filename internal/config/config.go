// Package config loads vocoder configuration files. The layout follows the
// ParallelWaveGAN recipes: audio settings at the top level next to
// generator_type and generator_params.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MaxMax2016/Multi-Singer/internal/mel"
	"github.com/MaxMax2016/Multi-Singer/internal/model"
)

// GeneratorType selects the generator architecture.
type GeneratorType string

const (
	Generator1 GeneratorType = "Generator1"
	Generator2 GeneratorType = "Generator2"
)

var ErrUnknownGenerator = errors.New("config: unknown generator_type")

// File is a parsed configuration. Only the params matching Type are
// meaningful.
type File struct {
	Type    GeneratorType
	Params1 model.Config1
	Params2 model.Config2
	Audio   mel.Config
}

type rawFile struct {
	GeneratorType   GeneratorType `yaml:"generator_type"`
	GeneratorParams yaml.Node     `yaml:"generator_params"`
	mel.Config      `yaml:",inline"`
}

// Load reads and parses path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML document. Keys missing from generator_params keep
// the generator's defaults; missing audio keys keep mel.DefaultConfig.
func Parse(data []byte) (File, error) {
	raw := rawFile{GeneratorType: Generator1, Config: mel.DefaultConfig()}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return File{}, fmt.Errorf("parse config: %w", err)
	}

	f := File{
		Type:    raw.GeneratorType,
		Params1: model.DefaultConfig1(),
		Params2: model.DefaultConfig2(),
		Audio:   raw.Config,
	}
	var target any
	switch f.Type {
	case Generator1:
		target = &f.Params1
	case Generator2:
		target = &f.Params2
	default:
		return File{}, fmt.Errorf("%w %q", ErrUnknownGenerator, f.Type)
	}
	if !raw.GeneratorParams.IsZero() {
		if err := raw.GeneratorParams.Decode(target); err != nil {
			return File{}, fmt.Errorf("generator_params: %w", err)
		}
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks the audio section and the selected generator params.
func (f File) Validate() error {
	if err := f.Audio.Validate(); err != nil {
		return err
	}
	switch f.Type {
	case Generator1:
		return f.Params1.Validate()
	case Generator2:
		return f.Params2.Validate()
	default:
		return fmt.Errorf("%w %q", ErrUnknownGenerator, f.Type)
	}
}

// Marshal renders f back to YAML in the layout Parse accepts.
func (f File) Marshal() ([]byte, error) {
	var params any = f.Params1
	if f.Type == Generator2 {
		params = f.Params2
	}
	out := struct {
		GeneratorType   GeneratorType `yaml:"generator_type"`
		GeneratorParams any           `yaml:"generator_params"`
		mel.Config      `yaml:",inline"`
	}{f.Type, params, f.Audio}
	return yaml.Marshal(out)
}
