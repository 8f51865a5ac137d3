package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/operion-monitor/pkg/channels/gochannel"
	"github.com/dukex/operion-monitor/pkg/events"
	"github.com/dukex/operion-monitor/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) handle(_ context.Context, event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, event)

	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events)
}

func (c *collector) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]events.Event(nil), c.events...)
}

func newTestBus(t *testing.T, runID string) *WatermillEventBus {
	t.Helper()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{}, gochannel.TestOptions)
	bus := NewWatermillEventBus(runID, pub, sub, log.Discard())

	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_Topic(t *testing.T) {
	bus := newTestBus(t, "run-1")
	assert.Equal(t, "operion.monitor.run-1", bus.Topic())
	assert.NotEmpty(t, bus.GenerateID())
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	ctx := t.Context()
	bus := newTestBus(t, "run-1")

	received := &collector{}

	sub, err := bus.Subscribe(ctx, received.handle)
	require.NoError(t, err)

	defer sub.Unsubscribe()

	register := &events.Register{
		BaseEvent: events.NewBaseEvent(events.RegisterEvent, "run-1", []string{"main"}),
		Subject:   "main",
	}
	deregister := &events.Deregister{
		BaseEvent: events.NewBaseEvent(events.DeregisterEvent, "run-1", []string{"main"}),
	}

	require.NoError(t, bus.Publish(ctx, register))
	require.NoError(t, bus.Publish(ctx, deregister))

	require.Eventually(t, func() bool { return received.len() == 2 }, 5*time.Second, 10*time.Millisecond)

	got := received.snapshot()

	first, ok := got[0].(*events.Register)
	require.True(t, ok)
	assert.Equal(t, "main", first.Subject)

	_, ok = got[1].(*events.Deregister)
	assert.True(t, ok)
}

func TestWatermillEventBus_RunsAreIsolated(t *testing.T) {
	ctx := t.Context()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{}, gochannel.TestOptions)
	busA := NewWatermillEventBus("a", pub, sub, log.Discard())
	busB := NewWatermillEventBus("b", pub, sub, log.Discard())

	defer func() { _ = busA.Close() }()

	receivedB := &collector{}

	subB, err := busB.Subscribe(ctx, receivedB.handle)
	require.NoError(t, err)

	defer subB.Unsubscribe()

	require.NoError(t, busA.Publish(ctx, &events.Deregister{
		BaseEvent: events.NewBaseEvent(events.DeregisterEvent, "a", []string{"main"}),
	}))
	require.NoError(t, busB.Publish(ctx, &events.Deregister{
		BaseEvent: events.NewBaseEvent(events.DeregisterEvent, "b", []string{"main"}),
	}))

	require.Eventually(t, func() bool { return receivedB.len() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "b", receivedB.snapshot()[0].(*events.Deregister).RunID)
}

func TestSubscription_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := t.Context()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{}, gochannel.DefaultOptions)
	bus := NewWatermillEventBus("run-1", pub, sub, log.Discard())

	t.Cleanup(func() { _ = bus.Close() })

	received := &collector{}

	subscription, err := bus.Subscribe(ctx, received.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, &events.Deregister{
		BaseEvent: events.NewBaseEvent(events.DeregisterEvent, "run-1", []string{"main"}),
	}))
	require.Eventually(t, func() bool { return received.len() == 1 }, 5*time.Second, 10*time.Millisecond)

	subscription.Unsubscribe()
	subscription.Unsubscribe()

	select {
	case <-subscription.Done():
	default:
		t.Fatal("subscription still running after Unsubscribe")
	}

	require.NoError(t, bus.Publish(ctx, &events.Deregister{
		BaseEvent: events.NewBaseEvent(events.DeregisterEvent, "run-1", []string{"main"}),
	}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, received.len())
}

func TestSubscription_DropsUndecodableMessages(t *testing.T) {
	ctx := t.Context()
	bus := newTestBus(t, "run-1")

	received := &collector{}

	sub, err := bus.Subscribe(ctx, received.handle)
	require.NoError(t, err)

	defer sub.Unsubscribe()

	bogus := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	bogus.Metadata.Set(events.EventTypeMetadataKey, "workflow.triggered")
	require.NoError(t, bus.publisher.Publish(bus.Topic(), bogus))

	require.NoError(t, bus.Publish(ctx, &events.Deregister{
		BaseEvent: events.NewBaseEvent(events.DeregisterEvent, "run-1", []string{"main"}),
	}))

	require.Eventually(t, func() bool { return received.len() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatermillEventBus_ClosedBus(t *testing.T) {
	pub, sub := gochannel.CreateChannel(watermill.NopLogger{}, gochannel.DefaultOptions)
	bus := NewWatermillEventBus("run-1", pub, sub, log.Discard())

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.Publish(t.Context(), &events.Deregister{})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = bus.Subscribe(t.Context(), func(context.Context, events.Event) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
