package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/MaxMax2016/Multi-Singer/internal/audio"
	"github.com/MaxMax2016/Multi-Singer/internal/config"
	"github.com/MaxMax2016/Multi-Singer/internal/logger"
	"github.com/MaxMax2016/Multi-Singer/internal/mel"
	"github.com/MaxMax2016/Multi-Singer/internal/vocoder"
)

func vocodeCmd() *cli.Command {
	var (
		inputPath  string
		outputPath string
		statsPath  string
		seed       int64
	)

	return &cli.Command{
		Name:  "vocode",
		Usage: "Copy-synthesise an audio file through the generator",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "input .wav or .flac file",
				Required:    true,
				Destination: &inputPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output .wav file",
				Required:    true,
				Destination: &outputPath,
			},
			&cli.StringFlag{
				Name:        "stats",
				Usage:       "safetensors file with feature mean and scale",
				Destination: &statsPath,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "noise seed",
				Destination: &seed,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyVocodeConfig(cmd, userCfg, &seed, &statsPath)

			weights, err := resolveWeightsPath(weightsPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			voc, err := vocoder.Load(configPath, weights, log)
			if err != nil {
				return err
			}
			return vocodeFile(log, cfg, voc, vocodeJob{
				Input:  inputPath,
				Output: outputPath,
				Stats:  statsPath,
				Seed:   seed,
			})
		},
	}
}

type vocodeJob struct {
	Input  string
	Output string
	Stats  string
	Seed   int64
}

// vocodeFile runs wav -> log-mel -> generator -> wav.
func vocodeFile(log logger.Logger, cfg config.File, voc vocoder.Vocoder, job vocodeJob) error {
	clip, err := audio.ReadFile(job.Input)
	if err != nil {
		return fmt.Errorf("read %s: %w", job.Input, err)
	}
	if clip.SampleRate != voc.SampleRate() {
		log.Debug("resampling input", "from", clip.SampleRate, "to", voc.SampleRate())
		if clip, err = audio.Resample(clip, voc.SampleRate()); err != nil {
			return err
		}
	}

	ext, err := mel.NewExtractor(cfg.Audio)
	if err != nil {
		return err
	}
	feats, err := ext.Extract(clip.Samples)
	if err != nil {
		return fmt.Errorf("extract features: %w", err)
	}
	if job.Stats != "" {
		mean, scale, err := vocoder.LoadStats(job.Stats)
		if err != nil {
			return err
		}
		if err := mel.Normalize(&feats, mean, scale); err != nil {
			return err
		}
	}

	start := time.Now()
	wave, err := voc.Synthesize(&feats, job.Seed)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	if len(wave) == 0 {
		return errors.New("generator produced no samples")
	}

	out := audio.Clip{Samples: wave, SampleRate: voc.SampleRate()}
	if err := audio.WriteFile(job.Output, out); err != nil {
		return err
	}
	rtf := 0.0
	if d := out.Duration(); d > 0 {
		rtf = elapsed.Seconds() / d
	}
	log.Info("vocoded",
		"input", job.Input,
		"output", job.Output,
		"frames", feats.R,
		"samples", len(wave),
		"elapsed", elapsed.Round(time.Millisecond),
		"rtf", fmt.Sprintf("%.3f", rtf),
	)
	return nil
}
