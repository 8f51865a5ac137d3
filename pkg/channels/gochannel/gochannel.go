// Package gochannel provides the in-process transport for a run's event bus.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Options tune the in-process transport.
type Options struct {
	// Buffer is the per-subscriber output channel size.
	Buffer int64
	// Replay keeps published messages so late subscribers receive them.
	Replay bool
	// Synchronous blocks Publish until the subscriber acks.
	Synchronous bool
}

// DefaultOptions suit a single monitored run inside one process.
var DefaultOptions = Options{Buffer: 1000}

// TestOptions deliver in publish order and replay to late subscribers.
var TestOptions = Options{Buffer: 10, Replay: true, Synchronous: true}

// CreateChannel creates a GoChannel publisher and subscriber. Both values are
// the same instance.
func CreateChannel(logger watermill.LoggerAdapter, opts Options) (*gochannel.GoChannel, *gochannel.GoChannel) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            opts.Buffer,
			Persistent:                     opts.Replay,
			BlockPublishUntilSubscriberAck: opts.Synchronous,
		},
		logger,
	)

	return pubSub, pubSub
}
