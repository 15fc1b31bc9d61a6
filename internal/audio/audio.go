// Package audio reads and writes mono PCM clips. WAV goes through beep,
// FLAC input through mewkiz/flac. Multi-channel input is mixed down.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/mewkiz/flac"
)

var (
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
	ErrEmpty             = errors.New("audio: no samples")
)

// resampleQuality is passed to beep.Resample.
const resampleQuality = 4

// Clip is a mono signal with samples in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// ReadFile decodes a .wav or .flac file by extension.
func ReadFile(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer func() { _ = f.Close() }()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		return DecodeWAV(f)
	case ".flac":
		return DecodeFLAC(f)
	default:
		return Clip{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// DecodeWAV reads a whole WAV stream.
func DecodeWAV(r io.Reader) (Clip, error) {
	stream, format, err := wav.Decode(r)
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	defer func() { _ = stream.Close() }()

	samples, err := drain(stream)
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if len(samples) == 0 {
		return Clip{}, ErrEmpty
	}
	return Clip{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

// DecodeFLAC reads a whole FLAC stream and mixes every channel down.
func DecodeFLAC(r io.Reader) (Clip, error) {
	stream, err := flac.New(r)
	if err != nil {
		return Clip{}, fmt.Errorf("decode flac: %w", err)
	}
	defer func() { _ = stream.Close() }()

	bps := int(stream.Info.BitsPerSample)
	if bps <= 0 || bps > 32 {
		return Clip{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, bps)
	}
	scale := 1 / float64(int64(1)<<(bps-1))

	var out []float32
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Clip{}, fmt.Errorf("decode flac: %w", err)
		}
		if len(frame.Subframes) == 0 {
			continue
		}
		n := len(frame.Subframes[0].Samples)
		inv := 1 / float64(len(frame.Subframes))
		for i := 0; i < n; i++ {
			var sum float64
			for _, sub := range frame.Subframes {
				sum += float64(sub.Samples[i])
			}
			out = append(out, float32(sum*inv*scale))
		}
	}
	if len(out) == 0 {
		return Clip{}, ErrEmpty
	}
	return Clip{Samples: out, SampleRate: int(stream.Info.SampleRate)}, nil
}

// Resample converts c to rate. The input clip is not modified.
func Resample(c Clip, rate int) (Clip, error) {
	if rate <= 0 || c.SampleRate <= 0 {
		return Clip{}, fmt.Errorf("audio: invalid sample rate %d -> %d", c.SampleRate, rate)
	}
	if rate == c.SampleRate {
		return Clip{Samples: append([]float32(nil), c.Samples...), SampleRate: rate}, nil
	}
	rs := beep.Resample(resampleQuality, beep.SampleRate(c.SampleRate), beep.SampleRate(rate), newClipStreamer(c.Samples))
	samples, err := drain(rs)
	if err != nil {
		return Clip{}, fmt.Errorf("resample: %w", err)
	}
	return Clip{Samples: samples, SampleRate: rate}, nil
}

// EncodeWAV writes c as 16-bit mono PCM. Samples outside [-1, 1] are clipped.
func EncodeWAV(w io.WriteSeeker, c Clip) error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", c.SampleRate)
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(c.SampleRate),
		NumChannels: 1,
		Precision:   2,
	}
	return wav.Encode(w, newClipStreamer(c.Samples), format)
}

// WAVBytes encodes c into an in-memory WAV file.
func WAVBytes(c Clip) ([]byte, error) {
	var buf seekBuffer
	if err := EncodeWAV(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes c to path as WAV.
func WriteFile(path string, c Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, c); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func drain(s beep.Streamer) ([]float32, error) {
	var out []float32
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out = append(out, float32((frame[0]+frame[1])/2))
		}
		if !ok {
			break
		}
	}
	return out, s.Err()
}
