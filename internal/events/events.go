package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventSaleEnqueued        = "sale_enqueued"
	EventSaleSynced          = "sale_synced"
	EventSaleFailed          = "sale_failed"
	EventSyncPassCompleted   = "sync_pass_completed"
	EventConnectivityChanged = "connectivity_changed"
	EventQueueCleared        = "queue_cleared"
)

// SaleEventPayload describes the minimal sale snapshot for event consumers.
type SaleEventPayload struct {
	LocalID    int64  `json:"local_id"`
	RemoteID   string `json:"remote_id,omitempty"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PassEventPayload summarizes one completed sync pass.
type PassEventPayload struct {
	Submitted int    `json:"submitted"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Aborted   bool   `json:"aborted"`
	Error     string `json:"error,omitempty"`
}

// ConnectivityEventPayload carries an online/offline transition.
type ConnectivityEventPayload struct {
	Online bool `json:"online"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
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
