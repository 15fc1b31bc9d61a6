package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/MaxMax2016/Multi-Singer/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "multisinger",
		Usage: "Multi-band WaveNet vocoder CLI",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			userCfg = LoadConfig()
			applyLoggingConfig(cmd, userCfg)
			level := logLevel
			if debug {
				level = "debug"
			}
			log := logger.FromFlags(os.Stderr, logFormat, level)
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			vocodeCmd(),
			exportCmd(),
			inspectCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
