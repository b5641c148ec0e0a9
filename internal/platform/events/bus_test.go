package events

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	var got []Event
	bus.Subscribe(PrescriptionCreated, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	bus.Publish(PrescriptionCreated, "rx-1", map[string]string{"patient": "p-1"})
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].EntityID != "rx-1" {
		t.Errorf("expected entity rx-1, got %s", got[0].EntityID)
	}
	if got[0].Data["patient"] != "p-1" {
		t.Errorf("expected patient data, got %v", got[0].Data)
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(AlertRaised, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(PrescriptionCreated, "rx-1", nil)
	bus.Publish(AlertRaised, "alert-1", nil)
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	var types []Type
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})

	bus.Publish(InventoryLow, "drug-1", nil)
	bus.Publish(LotExpiringSoon, "lot-1", nil)
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(types))
	}
}

func TestBus_PanickingHandlerDoesNotAffectPublisher(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	bus.Subscribe(MedicationDispensed, func(Event) {
		panic("boom")
	})

	var mu sync.Mutex
	delivered := false
	bus.Subscribe(MedicationDispensed, func(Event) {
		mu.Lock()
		delivered = true
		mu.Unlock()
	})

	bus.Publish(MedicationDispensed, "disp-1", nil)
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	if !delivered {
		t.Error("expected second handler to run despite first panicking")
	}
}

func TestBus_RecentKeepsOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	bus.Publish(PrescriptionCreated, "rx-1", nil)
	bus.Publish(PrescriptionVerified, "rx-1", nil)
	bus.Drain()

	recent := bus.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(recent))
	}
	if recent[0].Type != PrescriptionCreated || recent[1].Type != PrescriptionVerified {
		t.Errorf("unexpected order: %v, %v", recent[0].Type, recent[1].Type)
	}
}
