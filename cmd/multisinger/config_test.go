package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "models_dir: /srv/vocoders\nseed: 42\nserver_address: 0.0.0.0:9000\nmax_frames: 128\nlog_format: json\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := loadConfigFile(path)
	if cfg.ModelsDir != "/srv/vocoders" || cfg.ServerAddress != "0.0.0.0:9000" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 || cfg.MaxFrames == nil || *cfg.MaxFrames != 128 {
		t.Fatalf("pointer fields not set: %+v", cfg)
	}

	if got := loadConfigFile(filepath.Join(dir, "missing.yaml")); got.ModelsDir != "" || got.Seed != nil {
		t.Fatalf("missing file should give zero config, got %+v", got)
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("seed: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := loadConfigFile(bad); got.Seed != nil {
		t.Fatalf("malformed file should give zero config, got %+v", got)
	}
}

func TestApplyServeConfigRespectsFlags(t *testing.T) {
	seedCfg, framesCfg := int64(9), int64(64)
	cfg := Config{ServerAddress: "0.0.0.0:9000", Seed: &seedCfg, MaxFrames: &framesCfg}

	tests := []struct {
		name       string
		args       []string
		wantAddr   string
		wantSeed   int64
		wantFrames int64
	}{
		{"config fills unset flags", nil, "0.0.0.0:9000", 9, 64},
		{"explicit flags win", []string{"--addr", "127.0.0.1:1", "--seed", "0", "--max-frames", "7"}, "127.0.0.1:1", 0, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				addr      string
				seed      int64
				maxFrames int64
			)
			cmd := &cli.Command{
				Name: "serve",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: "127.0.0.1:8080", Destination: &addr},
					&cli.Int64Flag{Name: "seed", Destination: &seed},
					&cli.Int64Flag{Name: "max-frames", Value: 4096, Destination: &maxFrames},
					&cli.StringFlag{Name: "models-path", Destination: &modelsPath},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					applyServeConfig(c, cfg, &addr, &maxFrames, &seed)
					return nil
				},
			}
			if err := cmd.Run(context.Background(), append([]string{"serve"}, tt.args...)); err != nil {
				t.Fatal(err)
			}
			if addr != tt.wantAddr || seed != tt.wantSeed || maxFrames != tt.wantFrames {
				t.Fatalf("got addr=%q seed=%d frames=%d", addr, seed, maxFrames)
			}
		})
	}
}

func TestParseDType(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"f32", "F16", "half", ""} {
		if _, err := parseDType(in); err != nil {
			t.Fatalf("parseDType(%q): %v", in, err)
		}
	}
	if _, err := parseDType("bf16"); err == nil {
		t.Fatal("expected error for bf16")
	}
}
