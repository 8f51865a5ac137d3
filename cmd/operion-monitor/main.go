// Package main provides the operion-monitor command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/operion-monitor/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9092

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newApp().Run(ctx, os.Args)
	if err != nil {
		log.WithModule("operion-monitor").ErrorContext(ctx, "Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "operion-monitor",
		Usage:                 "Monitor workflow runs and materialize their results",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			replayCommand(),
			serveCommand(),
			inspectCommand(),
		},
	}
}
