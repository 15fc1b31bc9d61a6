package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MaxMax2016/Multi-Singer/internal/layers"
	"github.com/MaxMax2016/Multi-Singer/internal/mel"
	"github.com/MaxMax2016/Multi-Singer/internal/model"
)

const generator1YAML = `
sampling_rate: 24000
fft_size: 2048
hop_size: 300
win_length: 1200
num_mels: 80
fmin: 80
fmax: 7600
generator_type: Generator1
generator_params:
  layers: 24
  stacks: 4
  upsample_params:
    upsample_scales: [3, 5, 5]
`

func TestParseGenerator1KeepsDefaults(t *testing.T) {
	t.Parallel()
	f, err := Parse([]byte(generator1YAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Type != Generator1 {
		t.Fatalf("type %q", f.Type)
	}
	if f.Audio.SamplingRate != 24000 || f.Audio.HopSize != 300 || f.Audio.NumMels != 80 {
		t.Fatalf("audio %+v", f.Audio)
	}
	p := f.Params1
	if p.Layers != 24 || p.Stacks != 4 {
		t.Fatalf("layers/stacks %d/%d", p.Layers, p.Stacks)
	}
	if !slices.Equal(p.UpsampleParams.UpsampleScales, []int{3, 5, 5}) {
		t.Fatalf("scales %v", p.UpsampleParams.UpsampleScales)
	}
	def := model.DefaultConfig1()
	if p.ResidualChannels != def.ResidualChannels || p.Subbands != def.Subbands || p.UpsampleNet != def.UpsampleNet {
		t.Fatalf("defaults lost: %+v", p)
	}
}

func TestParseGenerator2(t *testing.T) {
	t.Parallel()
	f, err := Parse([]byte(`
generator_type: Generator2
generator_params:
  kernel_sizes: [5, 3]
  layers: [8, 6]
  stacks: [2, 3]
  upsample_net: UpsampleNetwork
  upsample_params:
    upsample_scales: [4, 4]
    nonlinear_activation: LeakyReLU
    nonlinear_activation_params: {negative_slope: 0.4}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p := f.Params2
	if !slices.Equal(p.KernelSizes, []int{5, 3}) || !slices.Equal(p.Layers, []int{8, 6}) {
		t.Fatalf("params %+v", p)
	}
	if p.UpsampleNet != layers.UpsampleNetworkKind {
		t.Fatalf("upsample_net %v", p.UpsampleNet)
	}
	if p.UpsampleParams.NonlinearActivationParams["negative_slope"] != 0.4 {
		t.Fatalf("activation params %v", p.UpsampleParams.NonlinearActivationParams)
	}
	if f.Audio != mel.DefaultConfig() {
		t.Fatalf("audio defaults lost: %+v", f.Audio)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"unknown generator", "generator_type: Generator3\n", ErrUnknownGenerator},
		{"indivisible layers", "generator_params: {layers: 10, stacks: 3}\n", model.ErrInvalidConfig},
		{"bad audio", "hop_size: 0\n", mel.ErrInvalidConfig},
		{"bad upsample name", "generator_params: {upsample_net: Nearest}\n", layers.ErrInvalidUpsampler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := Parse([]byte("generator_params: [1, 2")); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	f, err := Parse([]byte(generator1YAML))
	if err != nil {
		t.Fatal(err)
	}
	data, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v\n%s", err, data)
	}
	if back.Audio != f.Audio || back.Params1.Layers != 24 || back.Params1.UpsampleNet != f.Params1.UpsampleNet {
		t.Fatalf("round trip changed config:\n%s", data)
	}
}
