package layers

import (
	"errors"
	"fmt"
	"math"

	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// Default PQMF prototype design.
const (
	DefaultPQMFTaps   = 62
	DefaultPQMFCutoff = 0.142
	DefaultPQMFBeta   = 9.0
)

var ErrInvalidPQMF = errors.New("layers: invalid pqmf")

// PQMF is a pseudo-quadrature mirror filter bank. Analysis splits a
// single-channel waveform into Subbands critically sampled bands and
// Synthesis reassembles them.
//
// Both filter banks are fixed buffers rather than parameters, so a PQMF
// owns no weights and is untouched by weight normalization.
type PQMF struct {
	nn.Leaf

	Subbands int
	Taps     int
	Cutoff   float64
	Beta     float64

	analysis  *nn.Conv1d          // (S, 1, taps+1), stride S
	synthesis *nn.ConvTranspose1d // (S, 1, taps+1), stride S
}

// NewDefaultPQMF builds a filter bank with the default prototype.
func NewDefaultPQMF(subbands int) (*PQMF, error) {
	return NewPQMF(subbands, DefaultPQMFTaps, DefaultPQMFCutoff, DefaultPQMFBeta)
}

// NewPQMF designs the cosine-modulated analysis and synthesis filters.
func NewPQMF(subbands, taps int, cutoff, beta float64) (*PQMF, error) {
	if subbands <= 0 {
		return nil, fmt.Errorf("%w: subbands=%d", ErrInvalidPQMF, subbands)
	}
	proto, err := PrototypeFilter(taps, cutoff, beta)
	if err != nil {
		return nil, err
	}

	n := taps + 1
	half := taps / 2
	// Analysis is a strided correlation; synthesis is a transposed
	// convolution whose output padding restores exactly L*S samples.
	analysis := nn.NewConv1d(1, subbands, n, nn.WithStride(subbands), nn.WithPadding(half), nn.WithBias(false))
	synthesis := nn.NewConvTranspose1d(subbands, 1, n, subbands, half, subbands-1, false)

	for k := 0; k < subbands; k++ {
		phase := math.Pi / 4
		if k%2 == 1 {
			phase = -phase
		}
		w := (2*float64(k) + 1) * math.Pi / (2 * float64(subbands))
		ha := analysis.Weight.Row(k)
		hs := synthesis.Weight.Row(k)
		for i := 0; i < n; i++ {
			arg := w * (float64(i) - float64(taps)/2)
			ha[i] = float32(2 * proto[i] * math.Cos(arg+phase))
			// The transposed convolution flips the kernel; the zero-insert
			// gain of S is folded in here.
			hs[n-1-i] = float32(float64(subbands) * 2 * proto[i] * math.Cos(arg-phase))
		}
	}

	return &PQMF{
		Subbands:  subbands,
		Taps:      taps,
		Cutoff:    cutoff,
		Beta:      beta,
		analysis:  analysis,
		synthesis: synthesis,
	}, nil
}

// PrototypeFilter designs the Kaiser-windowed low-pass prototype with
// taps+1 coefficients.
func PrototypeFilter(taps int, cutoff, beta float64) ([]float64, error) {
	switch {
	case taps <= 0 || taps%2 != 0:
		return nil, fmt.Errorf("%w: taps must be positive and even, got %d", ErrInvalidPQMF, taps)
	case cutoff <= 0 || cutoff >= 1:
		return nil, fmt.Errorf("%w: cutoff must lie in (0, 1), got %g", ErrInvalidPQMF, cutoff)
	case beta < 0:
		return nil, fmt.Errorf("%w: beta=%g", ErrInvalidPQMF, beta)
	}
	wc := math.Pi * cutoff
	h := make([]float64, taps+1)
	window := kaiser(taps+1, beta)
	for i := range h {
		m := float64(i) - 0.5*float64(taps)
		if m == 0 {
			h[i] = cutoff
		} else {
			h[i] = math.Sin(wc*m) / (math.Pi * m)
		}
		h[i] *= window[i]
	}
	return h, nil
}

func kaiser(n int, beta float64) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	den := besselI0(beta)
	for i := range w {
		r := 2*float64(i)/float64(n-1) - 1
		w[i] = besselI0(beta*math.Sqrt(1-r*r)) / den
	}
	return w
}

// besselI0 evaluates the zeroth-order modified Bessel function of the
// first kind from its power series.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	q := x * x / 4
	for k := 1; k < 200; k++ {
		term *= q / float64(k*k)
		sum += term
		if term < sum*1e-17 {
			break
		}
	}
	return sum
}

func (p *PQMF) String() string {
	return fmt.Sprintf("PQMF(subbands=%d, taps=%d, cutoff=%g, beta=%g)", p.Subbands, p.Taps, p.Cutoff, p.Beta)
}

// Analysis maps a (B, 1, T) waveform to (B, S, T/S) subband signals.
func (p *PQMF) Analysis(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.C != 1 {
		return nil, fmt.Errorf("%w: analysis expects 1 channel, got %d", ErrInvalidPQMF, x.C)
	}
	if x.T < p.Subbands {
		return nil, fmt.Errorf("%w: analysis needs at least %d samples, got %d", ErrInvalidPQMF, p.Subbands, x.T)
	}
	return p.analysis.Forward(x), nil
}

// Synthesis maps (B, S, L) subband signals back to a (B, 1, L*S) waveform.
func (p *PQMF) Synthesis(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.C != p.Subbands {
		return nil, fmt.Errorf("%w: synthesis expects %d channels, got %d", ErrInvalidPQMF, p.Subbands, x.C)
	}
	return p.synthesis.Forward(x), nil
}
