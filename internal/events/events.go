// Package events carries booking lifecycle events from the service to
// side-effect subscribers (the webhook notifier). Handlers run
// synchronously; the caller decides the concurrency model.
package events

import (
	"sync"
	"time"

	"okoshko/internal/models"
)

const (
	TypeBookingCreated   = "booking.created"
	TypeBookingCancelled = "booking.cancelled"
)

// Event is one lifecycle notification. Client may be nil when the
// profile could not be loaded.
type Event struct {
	Type    string
	At      time.Time
	Booking models.Booking
	Client  *models.Client
}

// Handler reacts to an event.
type Handler func(event Event)

// Bus provides in-process pub/sub.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[event.Type]...)
	b.mu.RUnlock()

	if event.At.IsZero() {
		event.At = time.Now()
	}

	for _, handler := range handlers {
		handler(event)
	}
}
