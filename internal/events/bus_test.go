package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatalf("no event received")
	}
	return Event{}
}

func TestBusFiltersByType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus(10, zaptest.NewLogger(t))
	bus.Start(ctx)

	relays, cancelRelays := bus.Subscribe(TypeRelayStateChanged)
	defer cancelRelays()
	all, cancelAll := bus.Subscribe()
	defer cancelAll()

	bus.Publish(New(TypeHeaterStatus, "heater", nil))
	bus.Publish(New(TypeRelayStateChanged, "relay", map[string]int{"address": 1}))

	if e := receive(t, all); e.Type != TypeHeaterStatus {
		t.Fatalf("first event = %s", e.Type)
	}
	if e := receive(t, all); e.Type != TypeRelayStateChanged {
		t.Fatalf("second event = %s", e.Type)
	}
	e := receive(t, relays)
	if e.Type != TypeRelayStateChanged || e.Source != "relay" || e.ID == "" {
		t.Fatalf("relay event = %+v", e)
	}
	select {
	case extra := <-relays:
		t.Fatalf("unexpected event %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	bus := NewBus(10, zaptest.NewLogger(t))
	bus.Start(ctx)

	_, unsubscribe := bus.Subscribe(AllTypes)
	if bus.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", bus.Subscribers())
	}
	unsubscribe()
	unsubscribe()
	if bus.Subscribers() != 0 {
		t.Fatalf("subscribers after cancel = %d", bus.Subscribers())
	}

	cancel()
	bus.Wait()
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1, zaptest.NewLogger(t))
	bus.Publish(New(TypeDeviceOnline, "a", nil))
	bus.Publish(New(TypeDeviceOnline, "b", nil))

	if len(bus.events) != 1 {
		t.Fatalf("queued = %d, want 1", len(bus.events))
	}
}
