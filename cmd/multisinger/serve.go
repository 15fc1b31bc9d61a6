package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/MaxMax2016/Multi-Singer/internal/api"
	"github.com/MaxMax2016/Multi-Singer/internal/logger"
	"github.com/MaxMax2016/Multi-Singer/internal/vocoder"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxFrames   int64
		seed        int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the vocoder over HTTP",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-frames",
				Usage:       "maximum feature frames per request",
				Value:       4096,
				Destination: &maxFrames,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "noise seed used when a request carries none",
				Destination: &seed,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, userCfg, &addr, &maxFrames, &seed)

			weights, err := resolveWeightsPath(weightsPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return err
			}
			voc, err := vocoder.Load(configPath, weights, log)
			if err != nil {
				return err
			}

			server := api.NewServer(voc, api.Config{
				MaxFrames:   int(maxFrames),
				DefaultSeed: seed,
			}, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "sample_rate", voc.SampleRate(), "hop_size", voc.HopSize())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
