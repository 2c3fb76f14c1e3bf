package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Occurrence lifecycle event types.
const (
	EventOccurrenceScheduled = "occurrence_scheduled"
	EventOccurrenceQueued    = "occurrence_queued"
	EventOccurrencePublished = "occurrence_published"
	EventOccurrenceFailed    = "occurrence_failed"
	EventOccurrenceCancelled = "occurrence_cancelled"
	EventSyncCompleted       = "sync_completed"
)

// OccurrenceEventPayload is the minimal occurrence snapshot for event
// consumers.
type OccurrenceEventPayload struct {
	OccurrenceID int64     `json:"occurrence_id"`
	UserID       int64     `json:"user_id"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	Platforms    []string  `json:"platforms,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// SyncEventPayload describes one completed reconciliation pass.
type SyncEventPayload struct {
	OccurrenceID int64  `json:"occurrence_id"`
	Action       string `json:"action"` // create, update, delete, noop
	RemoteID     string `json:"remote_id,omitempty"`
}

// Event is a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Handler reacts to an event.
type Handler func(event *Event) error

// Bus provides in-process pub/sub for engine events.
type Bus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handlers run
// synchronously; the caller decides the concurrency model.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event. A nil bus
// is a no-op so callers don't have to guard optional wiring.
func (b *Bus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
