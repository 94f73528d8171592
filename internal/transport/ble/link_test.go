package ble

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/transport"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

func newOpenLink(t *testing.T, adapter *Adapter) (*Link, *transport.Stream) {
	t.Helper()

	link, err := NewLink(adapter, testAddress, LinkConfig{ServiceUUID: "ffe0", CharUUID: "ffe1"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}

	// Stand in for a completed Open and Subscribe
	stream := transport.NewStream(4, nil)
	link.isOpen = true
	link.active = stream
	link.unwatch = adapter.watch(testAddress, link.drop)
	return link, stream
}

func TestDisconnectDropsLink(t *testing.T) {
	adapter, err := NewAdapter(nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	link, stream := newOpenLink(t, adapter)

	adapter.handleConnect("aa:bb:cc:dd:ee:ff", true)
	if !link.IsOpen() {
		t.Fatal("a connect event must not drop the link")
	}

	adapter.handleConnect("aa:bb:cc:dd:ee:ff", false)
	if link.IsOpen() {
		t.Fatal("link still open after the device disconnected")
	}

	select {
	case _, ok := <-stream.Fragments():
		if ok {
			t.Fatal("unexpected fragment on a dropped link")
		}
	case <-time.After(time.Second):
		t.Fatal("active subscription was not closed")
	}

	if _, err := link.Subscribe(context.Background()); err != transport.ErrNotOpen {
		t.Fatalf("Subscribe after drop = %v, want ErrNotOpen", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("Close after drop = %v", err)
	}
	if len(adapter.watchers) != 0 {
		t.Fatalf("watchers left behind: %v", adapter.watchers)
	}
}

func TestDisconnectForOtherDeviceIgnored(t *testing.T) {
	adapter, err := NewAdapter(nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	link, _ := newOpenLink(t, adapter)

	adapter.handleConnect("11:22:33:44:55:66", false)
	if !link.IsOpen() {
		t.Fatal("link dropped by another device's disconnect")
	}
}

func TestStaleUnwatchKeepsNewerLink(t *testing.T) {
	adapter, err := NewAdapter(nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	stale, _ := newOpenLink(t, adapter)
	fresh, _ := newOpenLink(t, adapter)

	stale.unwatch()
	adapter.handleConnect(testAddress, false)

	if fresh.IsOpen() {
		t.Fatal("newer link missed the disconnect after a stale unwatch")
	}
}
