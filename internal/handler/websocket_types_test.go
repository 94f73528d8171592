package handler

import (
	"testing"

	"anova-service/internal/model"
)

func newTestClient(id, clientType string, address *string) *Client {
	return &Client{ID: id, Type: clientType, Address: address, Send: make(chan []byte, 1)}
}

func TestClientWants(t *testing.T) {
	address := testAddress
	events := newTestClient("events", ClientTypeEvents, nil)
	device := newTestClient("device", ClientTypeDevice, &address)

	state := model.NewDeviceEvent(model.EventDeviceState, testAddress, "registry", nil)
	other := model.NewDeviceEvent(model.EventDeviceState, "11:22:33:44:55:66", "registry", nil)

	if !events.Wants(state) || !events.Wants(other) {
		t.Fatal("events client without subscriptions should receive everything")
	}
	if !device.Wants(state) || device.Wants(other) {
		t.Fatal("device client should only receive its own device's events")
	}

	events.Subscribe(model.EventDeviceRemoved)
	if events.Wants(state) {
		t.Fatal("subscription should filter other event types")
	}
	events.Unsubscribe(model.EventDeviceRemoved)
	if !events.Wants(state) {
		t.Fatal("unsubscribing the last type should restore delivery")
	}
}

func TestConnectionManagerBroadcast(t *testing.T) {
	address := testAddress
	cm := NewConnectionManager()
	a := newTestClient("a", ClientTypeEvents, nil)
	b := newTestClient("b", ClientTypeDevice, &address)
	cm.Register(a)
	cm.Register(b)

	event := model.NewDeviceEvent(model.EventDeviceConnected, "elsewhere", "registry", nil)
	delivered, dropped := cm.Broadcast(event, []byte("first"))
	if delivered != 1 || dropped != 0 {
		t.Fatalf("broadcast = %d delivered %d dropped, want 1/0", delivered, dropped)
	}

	// a's buffer of one is now full
	delivered, dropped = cm.Broadcast(event, []byte("second"))
	if delivered != 0 || dropped != 1 {
		t.Fatalf("broadcast to full client = %d/%d, want 0/1", delivered, dropped)
	}

	stats := cm.GetStats()
	if stats.TotalConnections != 2 || stats.ByType[ClientTypeDevice] != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	cm.Unregister(a)
	cm.Unregister(a)
	if _, ok := <-a.Send; !ok {
		t.Fatal("expected the queued message before close")
	}
	if _, ok := <-a.Send; ok {
		t.Fatal("send channel should be closed after unregister")
	}

	cm.CloseAll()
	if cm.GetStats().TotalConnections != 0 {
		t.Fatal("CloseAll should drop every client")
	}
	if _, ok := <-b.Send; ok {
		t.Fatal("CloseAll should close every send channel")
	}
}
