package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated     = "booking_created"
	EventBookingAccepted    = "booking_accepted"
	EventBookingCancelled   = "booking_cancelled"
	EventBookingAutoCancel  = "booking_auto_cancelled"
	EventPaymentReceived    = "payment_received"
	EventJobDone            = "job_done"
	EventBookingCompleted   = "booking_completed"
	EventRescheduleRequired = "reschedule_required"
	EventProposalCreated    = "proposal_created"
	EventProposalAccepted   = "proposal_accepted"
	EventProposalRejected   = "proposal_rejected"
	EventServiceBlocked     = "service_blocked"
	EventServiceUnblocked   = "service_unblocked"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID  int64      `json:"booking_id"`
	ServiceID  int64      `json:"service_id"`
	UserID     int64      `json:"user_id"`
	ProviderID int64      `json:"provider_id"`
	Status     string     `json:"status"`
	StartAt    *time.Time `json:"start_at,omitempty"`
	EndAt      *time.Time `json:"end_at,omitempty"`
	Actor      string     `json:"actor,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// ProposalEventPayload is published when a reschedule proposal changes state.
type ProposalEventPayload struct {
	ProposalID int64      `json:"proposal_id"`
	BookingID  int64      `json:"booking_id"`
	ProposedBy string     `json:"proposed_by"`
	StartAt    time.Time  `json:"start_at"`
	EndAt      *time.Time `json:"end_at,omitempty"`
	Status     string     `json:"status"`
}

// BlockEventPayload is published when a service block is created or lifted.
type BlockEventPayload struct {
	BlockID   int64     `json:"block_id"`
	ServiceID int64     `json:"service_id"`
	Reason    string    `json:"reason,omitempty"`
	UnblockAt time.Time `json:"unblock_at,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
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

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
