package events

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/model"
)

func receive(t *testing.T, ch <-chan model.DeviceEvent) model.DeviceEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.DeviceEvent{}
}

func TestBusDistribution(t *testing.T) {
	bus := NewBus(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Start(ctx)

	removed := bus.Subscribe(model.EventDeviceRemoved, 4)
	all := bus.Subscribe(model.EventAll, 4)

	bus.Publish(model.NewDeviceEvent(model.EventDeviceState, "AA", "test", nil))
	bus.Publish(model.NewDeviceEvent(model.EventDeviceRemoved, "AA", "test", nil))

	if got := receive(t, all.Events); got.Type != model.EventDeviceState {
		t.Fatalf("wildcard got %s first", got.Type)
	}
	if got := receive(t, all.Events); got.Type != model.EventDeviceRemoved {
		t.Fatalf("wildcard got %s second", got.Type)
	}
	if got := receive(t, removed.Events); got.Type != model.EventDeviceRemoved || got.Address != "AA" {
		t.Fatalf("typed subscriber got %+v", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sub := bus.Subscribe(model.EventAll, 1)
	if bus.SubscriberCount() != 1 {
		t.Fatalf("count = %d", bus.SubscriberCount())
	}

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	if _, ok := <-sub.Events; ok {
		t.Fatal("channel should be closed")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("count = %d after unsubscribe", bus.SubscriberCount())
	}
}

func TestBusStopClosesSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sub := bus.Subscribe(model.EventDeviceState, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Start(ctx)
		close(done)
	}()
	cancel()
	<-done

	if _, ok := <-sub.Events; ok {
		t.Fatal("subscriber channel should be closed on stop")
	}
}
