// internal/events/bus.go
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"anova-service/internal/model"
)

// Publisher accepts device events
type Publisher interface {
	Publish(event model.DeviceEvent)
}

// Subscription is a registered event receiver
type Subscription struct {
	ID     string
	Type   model.EventType
	Events <-chan model.DeviceEvent

	ch chan model.DeviceEvent
}

// Bus manages event distribution. Publishing never blocks: a full queue or a
// slow subscriber drops the event.
type Bus struct {
	subscribers map[model.EventType]map[string]*Subscription
	events      chan model.DeviceEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewBus creates a new event bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subscribers: make(map[model.EventType]map[string]*Subscription),
		events:      make(chan model.DeviceEvent, 1000),
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Start distributes events until ctx is done
func (b *Bus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case event := <-b.events:
			b.distribute(event)
		}
	}
}

// Publish publishes an event
func (b *Bus) Publish(event model.DeviceEvent) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("address", event.Address),
		)
	}
}

// Subscribe subscribes to one event type, or to all with model.EventAll
func (b *Bus) Subscribe(eventType model.EventType, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan model.DeviceEvent, buffer)
	sub := &Subscription{
		ID:     uuid.NewString(),
		Type:   eventType,
		Events: ch,
		ch:     ch,
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[string]*Subscription)
	}
	b.subscribers[eventType][sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	subs, ok := b.subscribers[sub.Type]
	if !ok {
		return
	}
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	close(sub.ch)
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	count := 0
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}

// distribute distributes an event to subscribers
func (b *Bus) distribute(event model.DeviceEvent) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, eventType := range []model.EventType{event.Type, model.EventAll} {
		for _, sub := range b.subscribers[eventType] {
			select {
			case sub.ch <- event:
			default:
				b.logger.Debug("Subscriber is slow, skipping event",
					zap.String("subscription", sub.ID),
					zap.String("event_type", string(event.Type)),
				)
			}
		}
	}
}

func (b *Bus) closeAll() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for eventType, subs := range b.subscribers {
		for id, sub := range subs {
			close(sub.ch)
			delete(subs, id)
		}
		delete(b.subscribers, eventType)
	}
}
