package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/MaxMax2016/Multi-Singer/internal/config"
	"github.com/MaxMax2016/Multi-Singer/internal/logger"
	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/vocoder"
)

func inspectCmd() *cli.Command {
	var (
		cfgPath    string
		showTree   bool
		showParams bool
		asJSON     bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Show receptive fields, hop size and the module tree of a generator config",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to the generator YAML config",
				Required:    true,
				Destination: &cfgPath,
			},
			&cli.BoolFlag{
				Name:        "tree",
				Usage:       "print the module tree",
				Destination: &showTree,
			},
			&cli.BoolFlag{
				Name:        "params",
				Usage:       "print every parameter with its shape",
				Destination: &showParams,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the summary as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			gen, err := vocoder.Build(cfg, configWeightNorm(cfg), logger.FromContext(ctx))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(vocoder.Describe(cfg, gen))
			}
			return writeInspect(os.Stdout, cfg, gen, showTree, showParams)
		},
	}
}

func configWeightNorm(cfg config.File) bool {
	if cfg.Type == config.Generator2 {
		return cfg.Params2.UseWeightNorm
	}
	return cfg.Params1.UseWeightNorm
}

func writeInspect(w io.Writer, cfg config.File, gen vocoder.Generator, showTree, showParams bool) error {
	s := vocoder.Describe(cfg, gen)
	_, _ = fmt.Fprintf(w, "generator:        %s\n", s.GeneratorType)
	_, _ = fmt.Fprintf(w, "sample rate:      %d\n", s.SampleRate)
	_, _ = fmt.Fprintf(w, "hop size:         %d\n", s.HopSize)
	_, _ = fmt.Fprintf(w, "upsample factor:  %d\n", s.UpsampleFactor)
	_, _ = fmt.Fprintf(w, "aux channels:     %d\n", s.AuxChannels)
	rf := make([]string, len(s.ReceptiveFields))
	for i, v := range s.ReceptiveFields {
		rf[i] = fmt.Sprint(v)
	}
	_, _ = fmt.Fprintf(w, "receptive field:  %s\n", strings.Join(rf, ", "))
	_, _ = fmt.Fprintf(w, "parameters:       %d\n", s.Params)
	_, _ = fmt.Fprintf(w, "weight norm:      %t\n", s.WeightNorm)

	if showTree {
		_, _ = fmt.Fprintln(w, "\nmodules:")
		err := nn.Walk(gen, func(path string, m nn.Module) error {
			if path == "" {
				path = "(root)"
			}
			_, err := fmt.Fprintf(w, "  %-40s %T\n", path, m)
			return err
		})
		if err != nil {
			return err
		}
	}
	if showParams {
		_, _ = fmt.Fprintln(w, "\nparameters:")
		for _, p := range nn.NamedParams(gen) {
			if _, err := fmt.Fprintf(w, "  %-48s %v\n", p.Name, p.Shape); err != nil {
				return err
			}
		}
	}
	return nil
}
