package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/operion-monitor/pkg/channels/gochannel"
	"github.com/dukex/operion-monitor/pkg/channels/kafka"
	"github.com/dukex/operion-monitor/pkg/eventbus"
)

// EventBusConfig selects and configures a run's event bus transport.
type EventBusConfig struct {
	Provider  string
	GoChannel gochannel.Options
	Kafka     kafka.Config
}

// NewEventBus creates the event bus for runID. The empty provider selects
// the in-process gochannel transport.
func NewEventBus(cfg EventBusConfig, runID string, logger *slog.Logger) (*eventbus.WatermillEventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch cfg.Provider {
	case "", "gochannel", "memory":
		opts := cfg.GoChannel
		if opts == (gochannel.Options{}) {
			opts = gochannel.DefaultOptions
		}

		pub, sub := gochannel.CreateChannel(wmLogger, opts)

		return eventbus.NewWatermillEventBus(runID, pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(runID, pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", cfg.Provider)
	}
}
