package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	BookingCreated       = "booking.created"
	BookingStatusChanged = "booking.status_changed"
	ChatNeedsAttention   = "chat.needs_attention"
)

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// BookingPayload describes a booking in created/status events.
type BookingPayload struct {
	BookingID     int64  `json:"booking_id"`
	ServiceName   string `json:"service_name"`
	PackageName   string `json:"package_name,omitempty"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Status        string `json:"status"`
	PrevStatus    string `json:"prev_status,omitempty"`
	Source        string `json:"source"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Deposit       string `json:"deposit,omitempty"`
}

// AttentionPayload describes a chat escalated to staff.
type AttentionPayload struct {
	UserID    int64  `json:"user_id"`
	Phone     string `json:"phone"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	BookingID int64  `json:"booking_id,omitempty"`
}

// New encodes payload as JSON into an event of the given type.
func New(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: data, CreatedAt: time.Now()}, nil
}

// Decode unmarshals the event payload into dst.
func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handler failures are logged
// and never reach the publisher.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Error().Err(err).Str("event", event.Type).Msg("Event handler failed")
		}
	}
}

// PublishPayload encodes payload and publishes it, logging encode failures.
func (b *EventBus) PublishPayload(eventType string, payload any) {
	event, err := New(eventType, payload)
	if err != nil {
		if b.logger != nil {
			b.logger.Error().Err(err).Str("event", eventType).Msg("Failed to encode event")
		}
		return
	}
	b.Publish(event)
}
