package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/discovery"
	"anova-service/internal/model"
	"anova-service/internal/service"
)

type scriptedScanner struct {
	kind string
	adv  *model.Advertisement
}

func (s *scriptedScanner) Scan(ctx context.Context, timeout time.Duration) (*model.Advertisement, error) {
	return s.adv, nil
}

func (s *scriptedScanner) Type() string      { return s.kind }
func (s *scriptedScanner) IsAvailable() bool { return true }

type eventRecorder struct {
	events []model.DeviceEvent
}

func (r *eventRecorder) Publish(event model.DeviceEvent) {
	r.events = append(r.events, event)
}

func newDiscoveryService(f *fleet, advs ...*model.Advertisement) (*service.DiscoveryService, *service.DeviceService, *eventRecorder) {
	logger := zap.NewNop()
	ds, _ := newDeviceService(nil, f)

	manager := discovery.NewManager(logger)
	for i, adv := range advs {
		manager.Register(&scriptedScanner{kind: string(rune('a' + i)), adv: adv})
	}
	recorder := &eventRecorder{}
	return service.NewDiscoveryService(manager, ds, recorder, time.Second, logger), ds, recorder
}

func TestScanDevicesPublishesDiscoveries(t *testing.T) {
	svc, _, recorder := newDiscoveryService(newFleet(),
		&model.Advertisement{Address: "A", Name: "Anova", RSSI: -50},
		nil,
	)

	found := svc.ScanDevices(context.Background(), 0)
	if len(found) != 1 || found[0].Address != "A" {
		t.Fatalf("found = %+v", found)
	}
	if len(recorder.events) != 1 || recorder.events[0].Type != model.EventDeviceDiscovered {
		t.Fatalf("events = %+v", recorder.events)
	}
}

func TestFindDeviceNone(t *testing.T) {
	svc, _, _ := newDiscoveryService(newFleet(), nil)

	if _, err := svc.FindDevice(context.Background()); !errors.Is(err, service.ErrNoDevice) {
		t.Fatalf("FindDevice = %v, want ErrNoDevice", err)
	}
	if _, err := svc.Acquire(context.Background()); !errors.Is(err, service.ErrNoDevice) {
		t.Fatalf("Acquire = %v, want ErrNoDevice", err)
	}
}

func TestAcquirePrefersTrackedDevice(t *testing.T) {
	f := newFleet("A", "B")
	svc, devices, _ := newDiscoveryService(f, &model.Advertisement{Address: "B", Name: "Anova"})

	ctrl, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ctrl.Identity().Address != "B" {
		t.Fatalf("acquired %s, want discovered B", ctrl.Identity().Address)
	}

	if _, err := devices.Connect(context.Background(), model.Identity{Address: "A"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	connects := f.connects
	ctrl, err = svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ctrl.Identity().Address != "A" || f.connects != connects {
		t.Fatalf("acquired %s with %d connects, want tracked A without connecting", ctrl.Identity().Address, f.connects-connects)
	}
}

func TestDiscoverOnceSkipsTracked(t *testing.T) {
	f := newFleet("A", "B")
	svc, devices, _ := newDiscoveryService(f,
		&model.Advertisement{Address: "A", Name: "Anova"},
		&model.Advertisement{Address: "B", Name: "Anova"},
		&model.Advertisement{Address: "C", Name: "Anova"},
	)

	if n := svc.DiscoverOnce(context.Background()); n != 2 {
		t.Fatalf("first pass connected %d, want 2", n)
	}
	if n := svc.DiscoverOnce(context.Background()); n != 0 {
		t.Fatalf("second pass connected %d, want 0", n)
	}
	if len(devices.ListDevices()) != 2 {
		t.Fatalf("tracked = %d, want 2", len(devices.ListDevices()))
	}
}
