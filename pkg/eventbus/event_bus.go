// Package eventbus carries one run's lifecycle events over watermill.
//
// A WatermillEventBus is scoped to a single run: it publishes and subscribes on the run's
// topic only, so concurrent runs sharing a transport never see each other's
// events.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/operion-monitor/pkg/events"
)

// ErrClosed indicates use of a bus after Close.
var ErrClosed = errors.New("event bus closed")

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, handler EventHandler) (*Subscription, error)
}

// EventHandler processes one decoded lifecycle event.
type EventHandler func(ctx context.Context, event events.Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Topic() string
	Close() error
}

type WatermillEventBus struct {
	runID      string
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	mu            sync.Mutex
	closed        bool
	subscriptions []*Subscription
}

func NewWatermillEventBus(runID string, pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		runID:      runID,
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "event_bus", "run_id", runID),
	}
}

// Topic returns the run's topic.
func (eb *WatermillEventBus) Topic() string {
	return events.Topic(eb.runID)
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish encodes event and sends it on the run's topic, keyed by its process address.
func (eb *WatermillEventBus) Publish(ctx context.Context, event events.Event) error {
	eb.mu.Lock()
	closed := eb.closed
	eb.mu.Unlock()

	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, strings.Join(event.ProcessAddress(), "/"))
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(eb.Topic(), msg)
}

// Subscribe delivers every event on the run's topic to handler until the
// returned subscription is cancelled or ctx is done.
func (eb *WatermillEventBus) Subscribe(ctx context.Context, handler EventHandler) (*Subscription, error) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)

	messages, err := eb.subscriber.Subscribe(subCtx, eb.Topic())
	if err != nil {
		cancel()

		return nil, fmt.Errorf("failed to subscribe to %s: %w", eb.Topic(), err)
	}

	sub := &Subscription{
		cancel:  cancel,
		done:    make(chan struct{}),
		handler: handler,
		logger:  eb.logger,
	}

	eb.subscriptions = append(eb.subscriptions, sub)

	go sub.run(subCtx, messages)

	return sub, nil
}

// Close stops every subscription and closes the transport.
func (eb *WatermillEventBus) Close() error {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()

		return nil
	}

	eb.closed = true
	subscriptions := eb.subscriptions
	eb.subscriptions = nil
	eb.mu.Unlock()

	for _, sub := range subscriptions {
		sub.Unsubscribe()
	}

	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
