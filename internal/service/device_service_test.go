package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"anova-service/internal/model"
	"anova-service/internal/registry"
	"anova-service/internal/repository"
	"anova-service/internal/service"
	"anova-service/internal/service/servicetest"
)

type memoryRepository struct {
	mu      sync.Mutex
	records map[string]*model.DeviceRecord
}

func newMemoryRepository(records ...*model.DeviceRecord) *memoryRepository {
	repo := &memoryRepository{records: make(map[string]*model.DeviceRecord)}
	for _, record := range records {
		repo.records[record.Address] = record
	}
	return repo
}

func (r *memoryRepository) Upsert(ctx context.Context, record *model.DeviceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *record
	r.records[record.Address] = &copied
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, address string) (*model.DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[address]
	if !ok {
		return nil, repository.ErrDeviceNotFound
	}
	return record, nil
}

func (r *memoryRepository) List(ctx context.Context) ([]*model.DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]*model.DeviceRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	return records, nil
}

func (r *memoryRepository) Delete(ctx context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, address)
	return nil
}

// fleet hands out scripted controllers by address and counts connects
type fleet struct {
	mu       sync.Mutex
	devices  map[string]*servicetest.Controller
	connects int
}

func newFleet(addresses ...string) *fleet {
	f := &fleet{devices: make(map[string]*servicetest.Controller)}
	for _, address := range addresses {
		f.devices[address] = servicetest.NewController(address)
	}
	return f
}

func (f *fleet) connect(ctx context.Context, identity model.Identity) (service.Controller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	ctrl, ok := f.devices[identity.Address]
	if !ok {
		return nil, errors.New("appliance unreachable")
	}
	return ctrl, nil
}

func newDeviceService(repo repository.DeviceRepository, f *fleet) (*service.DeviceService, *registry.Registry) {
	logger := zap.NewNop()
	var store registry.Store
	if repo != nil {
		store = repo
	}
	reg := registry.New(registry.Config{}, store, nil, logger)
	return service.NewDeviceService(reg, repo, f.connect, logger), reg
}

func TestConnectTracksDevice(t *testing.T) {
	f := newFleet("A")
	ds, _ := newDeviceService(nil, f)
	ctx := context.Background()

	record, err := ds.Connect(ctx, model.Identity{Address: "A", Name: "Anova"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if record.Address != "A" || record.Status != string(model.StateConnected) {
		t.Fatalf("record = %+v", record)
	}

	if _, err := ds.Connect(ctx, model.Identity{Address: "A"}); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if f.connects != 1 {
		t.Fatalf("connected device should be reused, connects = %d", f.connects)
	}

	if _, err := ds.Connect(ctx, model.Identity{Address: "B"}); err == nil {
		t.Fatal("expected connect failure for unreachable appliance")
	}
	if len(ds.ListDevices()) != 1 {
		t.Fatalf("failed connect must not be tracked: %v", ds.ListDevices())
	}
}

func TestControllerAndDisconnect(t *testing.T) {
	f := newFleet("A")
	ds, _ := newDeviceService(nil, f)
	ctx := context.Background()

	if _, err := ds.Controller("A"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Controller before connect = %v", err)
	}
	if _, err := ds.Connect(ctx, model.Identity{Address: "A"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctrl, err := ds.Controller("A")
	if err != nil {
		t.Fatalf("Controller: %v", err)
	}
	if first, ok := ds.First(); !ok || first != ctrl {
		t.Fatal("First should return the only tracked controller")
	}

	if err := ds.Disconnect(ctx, "A"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !f.devices["A"].Disconnected() {
		t.Fatal("controller not disconnected")
	}
	if err := ds.Disconnect(ctx, "A"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("second Disconnect = %v", err)
	}
}

func TestRecordReadingCopiesMetadata(t *testing.T) {
	f := newFleet("A")
	ds, _ := newDeviceService(nil, f)
	ctx := context.Background()

	if _, err := ds.Connect(ctx, model.Identity{Address: "A"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ds.RecordReading(ctx, "A", service.ReadingCookerStatus, "running")
	before, _ := ds.GetDevice("A")

	ds.RecordReading(ctx, "A", service.ReadingCookerStatus, "stopped")
	after, _ := ds.GetDevice("A")

	if before.Metadata[service.ReadingCookerStatus] != "running" {
		t.Fatalf("earlier record changed: %v", before.Metadata)
	}
	if after.Metadata[service.ReadingCookerStatus] != "stopped" {
		t.Fatalf("latest record = %v", after.Metadata)
	}

	// unknown addresses are ignored
	ds.RecordReading(ctx, "missing", service.ReadingCookerStatus, "running")
}

func TestReconnectPersisted(t *testing.T) {
	target := 61.5
	repo := newMemoryRepository(
		&model.DeviceRecord{
			Address:           "A",
			Name:              "Anova",
			TargetTemperature: &target,
			Unit:              "c",
			Metadata:          model.JSONObject{service.ReadingIDCard: "anova f56-1"},
		},
		&model.DeviceRecord{Address: "gone", Name: "Anova"},
	)
	f := newFleet("A")
	ds, _ := newDeviceService(repo, f)

	if n := ds.ReconnectPersisted(context.Background()); n != 1 {
		t.Fatalf("reconnected = %d, want 1", n)
	}

	record, err := ds.GetDevice("A")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if record.TargetTemperature == nil || *record.TargetTemperature != target || record.Unit != "c" {
		t.Fatalf("persisted readings not restored: %+v", record)
	}
	if record.Metadata[service.ReadingIDCard] != "anova f56-1" {
		t.Fatalf("persisted metadata not restored: %v", record.Metadata)
	}

	if _, err := repo.Get(context.Background(), "gone"); err != nil {
		t.Fatal("unreachable device should stay persisted")
	}
}

func TestReconnectPersistedWithoutRepository(t *testing.T) {
	ds, _ := newDeviceService(nil, newFleet())
	if n := ds.ReconnectPersisted(context.Background()); n != 0 {
		t.Fatalf("reconnected = %d, want 0", n)
	}
}
