package events_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
)

func newTestBus() *events.Bus {
	var buf bytes.Buffer
	return events.NewBus(events.NewTestLogger(events.ErrorLevel, "json", &buf))
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(events.Event{
		Type: events.ConflictDetected,
		Key:  models.EntityKey{Type: models.EntityDocument, ID: "post-1"},
	})

	select {
	case event := <-ch:
		assert.Equal(t, events.ConflictDetected, event.Type)
		assert.Equal(t, "document/post-1", event.Key.String())
		assert.False(t, event.Timestamp.IsZero(), "publish stamps the event")
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	bus.Publish(events.Event{Type: events.SyncStarted})

	require.Equal(t, events.SyncStarted, (<-first).Type)
	require.Equal(t, events.SyncStarted, (<-second).Type)
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()

	bus.Publish(events.Event{Type: events.SyncCompleted})

	_, open := <-ch
	assert.False(t, open, "cancelled subscription channel closes")
}

func TestBusDropsWhenSubscriberStalls(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	_, cancel := bus.Subscribe()
	defer cancel()

	// The subscriber never reads; publishing must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			bus.Publish(events.Event{Type: events.SyncStarted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := newTestBus()

	ch, _ := bus.Subscribe()
	bus.Close()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after close is a no-op.
	bus.Publish(events.Event{Type: events.SyncFailed})

	late, _ := bus.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscriptions after close are already closed")
}
