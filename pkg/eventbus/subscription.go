package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/operion-monitor/pkg/events"
)

// Subscription is a live handler registration. Once Unsubscribe returns the
// handler is not running and will not be called again.
type Subscription struct {
	cancel  context.CancelFunc
	done    chan struct{}
	handler EventHandler
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Unsubscribe stops delivery and waits for an in-flight handler to return.
// It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
}

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.closed
}

func (s *Subscription) run(ctx context.Context, messages <-chan *message.Message) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			s.dispatch(ctx, msg)
		}
	}
}

func (s *Subscription) dispatch(ctx context.Context, msg *message.Message) {
	// Acked in every branch: a redelivered event cannot decode or apply any better.
	defer msg.Ack()

	if !s.active() {
		return
	}

	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	event, err := events.Decode(eventType, msg.Payload)
	if err != nil {
		s.logger.WarnContext(ctx, "Dropping undecodable event",
			"message_id", msg.UUID,
			"key", msg.Metadata.Get(events.EventMetadataKey),
			"error", err)

		return
	}

	// In-flight handlers finish even when the subscription is cancelled meanwhile.
	err = s.handler(context.WithoutCancel(ctx), event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Event handler failed",
			"event_type", eventType,
			"key", msg.Metadata.Get(events.EventMetadataKey),
			"error", err)
	}
}
