package audio

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sine(n, rate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()
	in := Clip{Samples: sine(1000, 16000, 440), SampleRate: 16000}
	data, err := WAVBytes(in)
	if err != nil {
		t.Fatalf("WAVBytes: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("missing RIFF header: %q", data[:4])
	}
	out, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.SampleRate != in.SampleRate || len(out.Samples) != len(in.Samples) {
		t.Fatalf("got rate %d len %d", out.SampleRate, len(out.Samples))
	}
	for i := range in.Samples {
		if d := math.Abs(float64(out.Samples[i] - in.Samples[i])); d > 1e-3 {
			t.Fatalf("sample %d: got %f want %f", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestEncodeClipsOutOfRange(t *testing.T) {
	t.Parallel()
	data, err := WAVBytes(Clip{Samples: []float32{3, -3, 0}, SampleRate: 8000})
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if out.Samples[0] < 0.99 || out.Samples[1] > -0.99 || out.Samples[2] != 0 {
		t.Fatalf("got %v", out.Samples)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "x.wav")
	in := Clip{Samples: sine(256, 8000, 100), SampleRate: 8000}
	if err := WriteFile(path, in); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	out, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(out.Samples) != 256 || out.Duration() != 256.0/8000 {
		t.Fatalf("got %d samples, %fs", len(out.Samples), out.Duration())
	}
}

func TestReadFileRejectsUnknownExtension(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "x.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); err == nil {
		t.Fatal("expected wav error")
	}
	if _, err := DecodeFLAC(bytes.NewReader([]byte("not a flac file"))); err == nil {
		t.Fatal("expected flac error")
	}
}

func TestResampleScalesLength(t *testing.T) {
	t.Parallel()
	in := Clip{Samples: sine(8000, 8000, 200), SampleRate: 8000}
	out, err := Resample(in, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Fatalf("rate %d", out.SampleRate)
	}
	if n := len(out.Samples); n < 15900 || n > 16100 {
		t.Fatalf("resampled length %d, want about 16000", n)
	}
	same, err := Resample(in, 8000)
	if err != nil {
		t.Fatal(err)
	}
	same.Samples[0] = 42
	if in.Samples[0] == 42 {
		t.Fatal("identity resample aliases input")
	}
	if _, err := Resample(in, 0); err == nil {
		t.Fatal("expected error for zero rate")
	}
}

func TestSeekBuffer(t *testing.T) {
	t.Parallel()
	var b seekBuffer
	if _, err := b.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Write([]byte("J")); err != nil {
		t.Fatal(err)
	}
	if pos, _ := b.Seek(0, io.SeekEnd); pos != 11 {
		t.Fatalf("end at %d", pos)
	}
	if _, err := b.Write([]byte("!")); err != nil {
		t.Fatal(err)
	}
	if got := string(b.Bytes()); got != "Jello world!" {
		t.Fatalf("got %q", got)
	}
	if _, err := b.Seek(-100, io.SeekCurrent); err == nil {
		t.Fatal("expected negative seek error")
	}
}
