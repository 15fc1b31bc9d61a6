package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/MaxMax2016/Multi-Singer/internal/config"
	"github.com/MaxMax2016/Multi-Singer/internal/logger"
	"github.com/MaxMax2016/Multi-Singer/internal/safetensors"
	"github.com/MaxMax2016/Multi-Singer/internal/vocoder"
)

func exportCmd() *cli.Command {
	var (
		outputPath string
		dtype      string
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Fold weight norm into plain weights and write a deployment checkpoint",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output .safetensors path (default: $" + envExportDir + " or ./out)",
				Destination: &outputPath,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "element type of the written tensors (f32, f16)",
				Value:       "f32",
				Destination: &dtype,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyExportConfig(cmd, userCfg, &dtype)

			dt, err := parseDType(dtype)
			if err != nil {
				return err
			}
			weights, err := resolveWeightsPath(weightsPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return err
			}
			out, defaulted, err := resolveExportOut(weights, outputPath)
			if err != nil {
				return err
			}
			if defaulted {
				log.Info("export: output not set, using default", "output", out)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gen, err := vocoder.LoadGenerator(cfg, weights, log)
			if err != nil {
				return err
			}
			removed, err := vocoder.Export(cfg, gen, out, dt)
			if err != nil {
				return err
			}
			log.Info("exported", "output", out, "dtype", string(dt), "weight_norm_removed", removed)
			return nil
		},
	}
}

func parseDType(s string) (safetensors.DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32", "float32":
		return safetensors.F32, nil
	case "f16", "float16", "half":
		return safetensors.F16, nil
	default:
		return "", fmt.Errorf("unsupported dtype %q (want f32 or f16)", s)
	}
}
