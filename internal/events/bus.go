// internal/events/bus.go
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types published by the services.
const (
	TypeRelayStateChanged   = "relay_state_changed"
	TypeDeviceOnline        = "device_online"
	TypeDeviceOffline       = "device_offline"
	TypeBMSFault            = "bms_fault"
	TypeHeaterStatus        = "heater_status"
	TypeLinkStatus          = "can_link_status"
	TypeInverterStateChange = "inverter_state_changed"
)

// AllTypes subscribes to every event type.
const AllTypes = "*"

// Event represents a system event
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event stamped with a fresh id and the current time.
func New(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
}

type subscriber struct {
	types map[string]bool
	ch    chan Event
}

// Bus manages event distribution
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	events      chan Event
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// NewBus creates a new event bus. buffer bounds the number of events
// waiting for distribution.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 1000
	}
	return &Bus{
		subscribers: make(map[int]*subscriber),
		events:      make(chan Event, buffer),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes events until ctx is done.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-b.events:
				b.distribute(event)
			}
		}
	}()
}

// Wait blocks until the distribution loop has exited.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Publish queues an event. A full bus drops the event.
func (b *Bus) Publish(event Event) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", event.Type),
			zap.String("source", event.Source),
		)
	}
}

// Subscribe returns a channel receiving events of the given types (all
// types when none or AllTypes is given) and a function removing the
// subscription. Slow subscribers miss events.
func (b *Bus) Subscribe(types ...string) (<-chan Event, func()) {
	sub := &subscriber{types: make(map[string]bool), ch: make(chan Event, 100)}
	for _, t := range types {
		sub.types[t] = true
	}
	if len(types) == 0 {
		sub.types[AllTypes] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Bus) distribute(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.types[event.Type] && !sub.types[AllTypes] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// subscriber is slow, skip
		}
	}
}
