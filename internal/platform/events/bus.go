// Package events provides the in-process domain event bus. Publication is
// fire-and-forget: a failing or slow subscriber never rolls back or delays
// the state change that produced the event.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Type identifies a domain event.
type Type string

const (
	PrescriptionCreated  Type = "prescription.created"
	AlertRaised          Type = "alert.raised"
	AlertAcknowledged    Type = "alert.acknowledged"
	PrescriptionVerified Type = "prescription.verified"
	MedicationDispensed  Type = "medication.dispensed"
	InventoryLow         Type = "inventory.low"
	LotExpiringSoon      Type = "lot.expiring_soon"
)

// Event is a single domain notification.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	EntityID   string            `json:"entity_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// Handler receives published events. Handlers run on the publishing
// goroutine's dispatch worker and must not block for long.
type Handler func(Event)

// Publisher is the narrow interface domain services depend on.
type Publisher interface {
	Publish(evtType Type, entityID string, data map[string]string)
}

// Bus is a thread-safe in-process event bus with per-type and wildcard
// subscriptions and asynchronous dispatch.
type Bus struct {
	mu       sync.RWMutex
	subs     map[Type][]Handler
	all      []Handler
	logger   zerolog.Logger
	wg       sync.WaitGroup
	recorded []Event // ring of recent events for inspection
	maxKeep  int
}

// NewBus creates an event bus. The logger is used to record delivery
// panics; delivery failures are never surfaced to publishers.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:    make(map[Type][]Handler),
		logger:  logger,
		maxKeep: 256,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish dispatches the event to subscribers asynchronously and returns
// immediately.
func (b *Bus) Publish(evtType Type, entityID string, data map[string]string) {
	evt := Event{
		ID:         uuid.NewString(),
		Type:       evtType,
		EntityID:   entityID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}

	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[evtType])+len(b.all))
	handlers = append(handlers, b.subs[evtType]...)
	handlers = append(handlers, b.all...)
	b.recorded = append(b.recorded, evt)
	if len(b.recorded) > b.maxKeep {
		b.recorded = b.recorded[len(b.recorded)-b.maxKeep:]
	}
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, h := range handlers {
			b.deliver(h, evt)
		}
	}()
}

func (b *Bus) deliver(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event_id", evt.ID).
				Str("event_type", string(evt.Type)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h(evt)
}

// Recent returns a copy of the most recently published events, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.recorded))
	copy(out, b.recorded)
	return out
}

// Drain blocks until all in-flight deliveries finish. Test helper and
// shutdown hook.
func (b *Bus) Drain() {
	b.wg.Wait()
}

// Nop returns a Publisher that discards everything. Useful in tests that
// do not assert on events.
func Nop() Publisher { return nopPublisher{} }

type nopPublisher struct{}

func (nopPublisher) Publish(Type, string, map[string]string) {}
