package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/operion-monitor/pkg/channels/gochannel"
	"github.com/dukex/operion-monitor/pkg/channels/kafka"
	"github.com/dukex/operion-monitor/pkg/cmd"
	"github.com/dukex/operion-monitor/pkg/log"
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/dukex/operion-monitor/pkg/web"
	cli "github.com/urfave/cli/v3"
)

// replayTransport blocks each publish until the tracker has handled it.
var replayTransport = gochannel.Options{Buffer: 1000, Synchronous: true}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "document",
			Aliases:  []string{"d"},
			Usage:    "Run document (JSON or YAML) with the workflow, profile and inputs",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "log",
			Aliases:  []string{"l"},
			Usage:    "Recorded JSON-lines event log to replay",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "run-id",
			Usage:   "Run ID (auto-generated if not provided)",
			Sources: cli.EnvVars("RUN_ID"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Content store URL (memory://, file://, postgres://, sqlite://)",
			Value:   "memory://",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the shared materialization cache",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringSliceFlag{
			Name:    "activity-type",
			Usage:   "Extra activity type to accept; suffix with +workflow for sub-workflow types",
			Sources: cli.EnvVars("ACTIVITY_TYPES"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.DurationFlag{
			Name:  "settle",
			Usage: "Time to wait after the replay for asynchronous event delivery",
		},
	}
}

func optionsFrom(command *cli.Command) runOptions {
	bus := cmd.EventBusConfig{
		Provider: command.String("event-bus"),
		Kafka: kafka.Config{
			Brokers:     kafka.ParseBrokers(command.String("kafka-brokers")),
			OTELEnabled: command.Bool("otel-enabled"),
		},
	}

	settle := command.Duration("settle")

	switch bus.Provider {
	case "", "gochannel", "memory":
		bus.GoChannel = replayTransport
	default:
		if settle == 0 {
			settle = 2 * time.Second
		}
	}

	return runOptions{
		RunID:         command.String("run-id"),
		DocumentPath:  command.String("document"),
		LogPath:       command.String("log"),
		DatabaseURL:   command.String("database-url"),
		RedisURL:      command.String("redis-url"),
		EventBus:      bus,
		ActivityTypes: command.StringSlice("activity-type"),
		OTELEnabled:   command.Bool("otel-enabled"),
		Settle:        settle,
	}
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Replay a recorded run and print its reports and outputs",
		Flags: runFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("operion-monitor")

			run, err := openRun(ctx, optionsFrom(command), logger)
			if err != nil {
				return err
			}

			defer func() {
				err := run.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to release run", "error", err)
				}
			}()

			runErr := run.Execute(ctx)

			summary, err := summarize(ctx, run, runErr)
			if err != nil {
				return err
			}

			err = writeJSON(command.Root().Writer, summary)
			if err != nil {
				return err
			}

			return runErr
		},
	}
}

func serveCommand() *cli.Command {
	flags := append(runFlags(), &cli.IntFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Usage:   "Port to serve the run API on",
		Value:   defaultPort,
		Sources: cli.EnvVars("PORT"),
	})

	return &cli.Command{
		Name:  "serve",
		Usage: "Replay a recorded run and serve its state over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("operion-monitor")

			run, err := openRun(ctx, optionsFrom(command), logger)
			if err != nil {
				return err
			}

			defer func() {
				err := run.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to release run", "error", err)
				}
			}()

			go func() {
				err := run.Execute(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.ErrorContext(ctx, "Replay failed", "error", err)
				}
			}()

			app := web.NewApp(web.NewAPIHandlers(run.controller, logger))

			go func() {
				<-ctx.Done()

				err := app.Shutdown()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shut down API", "error", err)
				}
			}()

			logger.InfoContext(ctx, "Serving run API", "run_id", run.id, "port", command.Int("port"))

			return app.Listen(":" + strconv.Itoa(int(command.Int("port"))))
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the content tree persisted by an earlier run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Content store URL (file://, postgres://, sqlite://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Only print addresses at or below this prefix",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("operion-monitor")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to open content store: %w", err)
			}

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close content store", "error", err)
				}
			}()

			content, err := contentUnder(ctx, persistence.NewContentTree(store), models.Address(command.String("prefix")))
			if err != nil {
				return err
			}

			return writeJSON(command.Root().Writer, content)
		},
	}
}
