// Package mel computes log-mel filterbank features in the layout the
// generators are conditioned on: one row per frame, one column per mel bin.
package mel

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"github.com/r9y9/gossp/stft"

	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// Eps floors mel energies before the logarithm.
const Eps = 1e-10

var ErrInvalidConfig = errors.New("mel: invalid config")

// Config mirrors the audio section of a vocoder config file.
type Config struct {
	SamplingRate int     `yaml:"sampling_rate" json:"sampling_rate"`
	FFTSize      int     `yaml:"fft_size" json:"fft_size"`
	HopSize      int     `yaml:"hop_size" json:"hop_size"`
	WinLength    int     `yaml:"win_length" json:"win_length"`
	NumMels      int     `yaml:"num_mels" json:"num_mels"`
	FMin         float64 `yaml:"fmin" json:"fmin"`
	FMax         float64 `yaml:"fmax" json:"fmax"`
}

// DefaultConfig returns the 22.05 kHz, 80-bin setup.
func DefaultConfig() Config {
	return Config{
		SamplingRate: 22050,
		FFTSize:      1024,
		HopSize:      256,
		WinLength:    1024,
		NumMels:      80,
		FMin:         80,
		FMax:         7600,
	}
}

func (c Config) winLength() int {
	if c.WinLength == 0 {
		return c.FFTSize
	}
	return c.WinLength
}

func (c Config) fmax() float64 {
	if c.FMax == 0 {
		return float64(c.SamplingRate) / 2
	}
	return c.FMax
}

// Validate checks that the config describes a usable filterbank.
func (c Config) Validate() error {
	switch {
	case c.SamplingRate <= 0:
		return fmt.Errorf("%w: sampling_rate must be positive", ErrInvalidConfig)
	case c.FFTSize <= 0 || c.FFTSize%2 != 0:
		return fmt.Errorf("%w: fft_size must be positive and even, got %d", ErrInvalidConfig, c.FFTSize)
	case c.HopSize <= 0:
		return fmt.Errorf("%w: hop_size must be positive", ErrInvalidConfig)
	case c.winLength() < 0 || c.winLength() > c.FFTSize:
		return fmt.Errorf("%w: win_length %d exceeds fft_size %d", ErrInvalidConfig, c.WinLength, c.FFTSize)
	case c.NumMels <= 0:
		return fmt.Errorf("%w: num_mels must be positive", ErrInvalidConfig)
	case c.FMin < 0 || c.fmax() <= c.FMin || c.fmax() > float64(c.SamplingRate)/2:
		return fmt.Errorf("%w: need 0 <= fmin < fmax <= sr/2, got %g..%g", ErrInvalidConfig, c.FMin, c.fmax())
	}
	return nil
}

// NumFrames is the number of frames Extract returns for n samples.
func (c Config) NumFrames(n int) int { return n/c.HopSize + 1 }

// Extractor turns waveforms into log-mel frames.
type Extractor struct {
	cfg    Config
	basis  [][]float64
	window []float64
}

// NewExtractor precomputes the window and mel basis for cfg.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:    cfg,
		basis:  Filterbank(cfg.SamplingRate, cfg.FFTSize, cfg.NumMels, cfg.FMin, cfg.fmax()),
		window: centeredWindow(cfg.winLength(), cfg.FFTSize),
	}, nil
}

func (e *Extractor) Config() Config { return e.cfg }

// Magnitude returns |STFT| with one row per frame and FFTSize/2+1 columns.
// The signal is reflect padded by FFTSize/2 on both sides so frame i is
// centred on sample i*HopSize.
func (e *Extractor) Magnitude(samples []float32) ([][]float64, error) {
	half := e.cfg.FFTSize / 2
	if len(samples) <= half {
		return nil, fmt.Errorf("mel: need more than %d samples, got %d", half, len(samples))
	}
	padded := make([]float64, len(samples)+2*half)
	for i := range padded {
		padded[i] = float64(samples[reflectIndex(i-half, len(samples))])
	}

	s := stft.New(e.cfg.HopSize, e.cfg.FFTSize)
	s.Window = e.window
	spectrum := s.STFT(padded)
	if n := e.cfg.NumFrames(len(samples)); len(spectrum) > n {
		spectrum = spectrum[:n]
	}

	bins := half + 1
	out := make([][]float64, len(spectrum))
	for i, frame := range spectrum {
		row := make([]float64, bins)
		for k := range row {
			row[k] = cmplx.Abs(frame[k])
		}
		out[i] = row
	}
	return out, nil
}

// Extract returns log10 mel features as a time-major matrix (frames x mels).
func (e *Extractor) Extract(samples []float32) (tensor.Mat, error) {
	mag, err := e.Magnitude(samples)
	if err != nil {
		return tensor.Mat{}, err
	}
	out := tensor.NewMat(len(mag), e.cfg.NumMels)
	for i, frame := range mag {
		row := out.Row(i)
		for m, weights := range e.basis {
			var sum float64
			for k, w := range weights {
				if w != 0 {
					sum += w * frame[k]
				}
			}
			row[m] = float32(math.Log10(math.Max(Eps, sum)))
		}
	}
	return out, nil
}

// Normalize applies (x - mean) / scale per mel bin in place.
func Normalize(feats *tensor.Mat, mean, scale []float32) error {
	if len(mean) != feats.C || len(scale) != feats.C {
		return fmt.Errorf("mel: stats have %d/%d bins, features have %d", len(mean), len(scale), feats.C)
	}
	for i := 0; i < feats.R; i++ {
		row := feats.Row(i)
		for j := range row {
			row[j] = (row[j] - mean[j]) / scale[j]
		}
	}
	return nil
}

// centeredWindow returns a periodic Hann window of length win, zero padded
// on both sides to n.
func centeredWindow(win, n int) []float64 {
	out := make([]float64, n)
	hann := window.Hann(win + 1)[:win]
	copy(out[(n-win)/2:], hann)
	return out
}

func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}
