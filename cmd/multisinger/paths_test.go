package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveExportOut(t *testing.T) {
	t.Run("explicit output", func(t *testing.T) {
		tmp := t.TempDir()
		out := filepath.Join(tmp, "nested", "g.safetensors")
		got, defaulted, err := resolveExportOut("/ckpt/g.safetensors", out)
		if err != nil {
			t.Fatalf("resolveExportOut returned error: %v", err)
		}
		if defaulted {
			t.Fatalf("expected explicit output to not be defaulted")
		}
		if got != filepath.Clean(out) {
			t.Fatalf("unexpected output path: got %q want %q", got, out)
		}
		if _, err := os.Stat(filepath.Dir(out)); err != nil {
			t.Fatalf("expected parent dir to exist: %v", err)
		}
	})

	t.Run("env output dir", func(t *testing.T) {
		tmp := t.TempDir()
		t.Setenv(envExportDir, filepath.Join(tmp, "exports"))
		got, defaulted, err := resolveExportOut("/ckpt/checkpoint-400000steps.safetensors", "")
		if err != nil {
			t.Fatalf("resolveExportOut returned error: %v", err)
		}
		if !defaulted {
			t.Fatalf("expected output to be defaulted")
		}
		want := filepath.Join(tmp, "exports", "checkpoint-400000steps.export.safetensors")
		if got != want {
			t.Fatalf("unexpected output path: got %q want %q", got, want)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Setenv(envExportDir, t.TempDir())
		if _, _, err := resolveExportOut("/", ""); err == nil {
			t.Fatalf("expected error for root input")
		}
	})
}

func TestDiscoverWeightsSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.safetensors", "a.SAFETENSORS", "config.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write file %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "dir.safetensors"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := discoverWeights(dir)
	if err != nil {
		t.Fatalf("discoverWeights returned error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.SAFETENSORS"),
		filepath.Join(dir, "b.safetensors"),
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected checkpoint count: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected ordering at %d: got %q want %q", i, got[i], want[i])
		}
	}

	if _, err := discoverWeights(filepath.Join(dir, "config.yaml")); err == nil {
		t.Fatalf("expected error for file path")
	}
}

func TestResolveWeightsPath(t *testing.T) {
	t.Run("weights flag bypasses env", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		got, err := resolveWeightsPath("/tmp/g.safetensors", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveWeightsPath returned error: %v", err)
		}
		if got != filepath.Clean("/tmp/g.safetensors") {
			t.Fatalf("unexpected path: got %q", got)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		if _, err := resolveWeightsPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error without weights or models dir")
		}
	})

	t.Run("single checkpoint selects automatically", func(t *testing.T) {
		dir := t.TempDir()
		only := filepath.Join(dir, "only.safetensors")
		if err := os.WriteFile(only, []byte("x"), 0o644); err != nil {
			t.Fatalf("write checkpoint: %v", err)
		}
		t.Setenv(envModelsDir, dir)

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return false }
		defer func() { stdinIsTTY = prevTTY }()

		got, err := resolveWeightsPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveWeightsPath returned error: %v", err)
		}
		if got != only {
			t.Fatalf("unexpected path: got %q want %q", got, only)
		}
	})

	t.Run("multiple checkpoints require tty", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"a.safetensors", "b.safetensors"} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
				t.Fatalf("write checkpoint %s: %v", name, err)
			}
		}
		t.Setenv(envModelsDir, dir)

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return false }
		defer func() { stdinIsTTY = prevTTY }()

		if _, err := resolveWeightsPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error when multiple checkpoints and stdin is not a tty")
		}
	})

	t.Run("interactive selection chooses sorted index", func(t *testing.T) {
		dir := t.TempDir()
		a := filepath.Join(dir, "a.safetensors")
		b := filepath.Join(dir, "b.safetensors")
		for _, p := range []string{b, a} {
			if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
				t.Fatalf("write checkpoint: %v", err)
			}
		}

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return true }
		defer func() { stdinIsTTY = prevTTY }()

		got, err := resolveWeightsPath("", dir, bytes.NewBufferString("9\n2\n"), io.Discard)
		if err != nil {
			t.Fatalf("resolveWeightsPath returned error: %v", err)
		}
		if got != b {
			t.Fatalf("unexpected selection: got %q want %q", got, b)
		}
	})
}
