package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/MaxMax2016/Multi-Singer/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version and host CPU information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			host := version.DetectHost()
			fmt.Printf("go:         %s %s\n", host.GoVersion, host.Arch)
			fmt.Printf("cpu:        %s (%d cores, %d threads)\n", host.CPU, host.Cores, host.Threads)
			if len(host.Features) > 0 {
				fmt.Printf("features:   %s\n", strings.Join(host.Features, " "))
			}
			return nil
		},
	}
}
