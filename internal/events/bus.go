package events

import (
	"sync"
	"time"

	"github.com/pagesmith/pagesync/internal/models"
)

// EventType identifies a sync lifecycle event.
type EventType string

const (
	SyncStarted             EventType = "sync_started"
	SyncCompleted           EventType = "sync_completed"
	SyncFailed              EventType = "sync_failed"
	ConflictDetected        EventType = "conflict_detected"
	ConflictResolved        EventType = "conflict_resolved"
	ConflictRequiresUser    EventType = "conflict_requires_user_resolution"
	IntegrityPassed         EventType = "integrity_validation_passed"
	IntegrityFailed         EventType = "integrity_validation_failed"
)

// Event is a typed sync lifecycle notification.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	Key        models.EntityKey
	Conflict   *models.ConflictRecord
	Checkpoint *models.SyncCheckpoint
	Err        error
}

// Bus fans typed events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the sync
// cycle.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	logger *Logger
}

// NewBus creates an event bus.
func NewBus(logger *Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger.WithField("component", "event_bus"),
	}
}

// Subscribe registers a new consumer. The returned cancel func removes the
// subscription and closes its channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 64)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish sends an event to all subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.WithField("type", string(event.Type)).Debug("Subscriber full, dropping event")
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
