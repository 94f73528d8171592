package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/model"
)

type fakeDevice struct {
	identity model.Identity

	mu           sync.Mutex
	results      []error
	heartbeats   int
	disconnected bool
}

func newFakeDevice(address string, results ...error) *fakeDevice {
	return &fakeDevice{identity: model.Identity{Address: address, Name: "Anova"}, results: results}
}

func (d *fakeDevice) Identity() model.Identity     { return d.identity }
func (d *fakeDevice) Mode() model.TransportMode    { return model.TransportDirect }
func (d *fakeDevice) State() model.ConnectionState { return model.StateConnected }

func (d *fakeDevice) Heartbeat(ctx context.Context) (*float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heartbeats++
	if len(d.results) == 0 {
		temp := 60.0
		return &temp, nil
	}
	err := d.results[0]
	d.results = d.results[1:]
	if err != nil {
		return nil, err
	}
	temp := 60.0
	return &temp, nil
}

func (d *fakeDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = true
	return nil
}

func (d *fakeDevice) Disconnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnected
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]model.DeviceRecord
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]model.DeviceRecord)}
}

func (s *fakeStore) Upsert(ctx context.Context, record *model.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Address] = *record
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, address)
	s.deleted = append(s.deleted, address)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.DeviceEvent
}

func (r *recorder) Publish(event model.DeviceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) count(eventType model.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

var errNoReply = errors.New("no reply")

func TestEvictionAfterThreeFailures(t *testing.T) {
	store := newFakeStore()
	events := &recorder{}
	reg := New(Config{MaxFailures: 3}, store, events, zap.NewNop())

	device := newFakeDevice("AA", errNoReply, errNoReply, errNoReply)
	reg.AddOrUpdate(context.Background(), device)

	for i := 0; i < 2; i++ {
		if err := reg.Probe(context.Background(), "AA"); !errors.Is(err, errNoReply) {
			t.Fatalf("probe %d err = %v", i, err)
		}
		if _, ok := reg.Lookup("AA"); !ok {
			t.Fatalf("evicted after %d failures", i+1)
		}
	}
	reg.Probe(context.Background(), "AA")

	if _, ok := reg.Lookup("AA"); ok {
		t.Fatal("device still tracked after 3 failures")
	}
	if !device.Disconnected() {
		t.Fatal("evicted device was not disconnected")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "AA" {
		t.Fatalf("store deletions = %v", store.deleted)
	}
	if events.count(model.EventDeviceRemoved) != 1 {
		t.Fatal("removal not published")
	}
	if events.count(model.EventHeartbeatFailed) != 3 {
		t.Fatalf("heartbeat_failed events = %d", events.count(model.EventHeartbeatFailed))
	}
	if err := reg.Probe(context.Background(), "AA"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("probe after eviction = %v", err)
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	reg := New(Config{MaxFailures: 3}, nil, nil, zap.NewNop())
	device := newFakeDevice("AA", errNoReply, errNoReply, nil, errNoReply, errNoReply)
	reg.AddOrUpdate(context.Background(), device)

	for i := 0; i < 5; i++ {
		reg.Probe(context.Background(), "AA")
	}

	record, ok := reg.Lookup("AA")
	if !ok {
		t.Fatal("device evicted despite an intervening success")
	}
	if record.Failures != 2 {
		t.Fatalf("failures = %d, want 2", record.Failures)
	}
	if record.TargetTemperature == nil || *record.TargetTemperature != 60.0 {
		t.Fatalf("target temperature = %v", record.TargetTemperature)
	}
	if record.LastSeen == nil {
		t.Fatal("last seen not recorded")
	}
}

func TestMonitorLoopEvicts(t *testing.T) {
	reg := New(Config{HeartbeatInterval: 5 * time.Millisecond, MaxFailures: 3}, nil, nil, zap.NewNop())
	failing := newFakeDevice("AA", errNoReply, errNoReply, errNoReply)
	healthy := newFakeDevice("BB")
	reg.AddOrUpdate(context.Background(), failing)
	reg.AddOrUpdate(context.Background(), healthy)

	reg.Start(context.Background())
	defer reg.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Lookup("AA"); !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := reg.Lookup("AA"); ok {
		t.Fatal("failing device not evicted by monitor")
	}
	if _, ok := reg.Lookup("BB"); !ok {
		t.Fatal("healthy device evicted")
	}
}

func TestAddOrUpdateReplacesDevice(t *testing.T) {
	store := newFakeStore()
	events := &recorder{}
	reg := New(Config{}, store, events, zap.NewNop())

	first := newFakeDevice("AA")
	second := newFakeDevice("AA")
	reg.AddOrUpdate(context.Background(), first)
	reg.AddOrUpdate(context.Background(), second)

	if !first.Disconnected() {
		t.Fatal("replaced device not disconnected")
	}
	if got, _ := reg.Get("AA"); got != second {
		t.Fatal("registry does not hold the newer device")
	}
	if events.count(model.EventDeviceConnected) != 1 {
		t.Fatal("re-registration must not publish a second connect")
	}
	if _, ok := store.records["AA"]; !ok {
		t.Fatal("record not persisted")
	}
	if len(reg.List()) != 1 {
		t.Fatalf("List = %+v", reg.List())
	}
}

func TestRemoveAndUpdate(t *testing.T) {
	reg := New(Config{}, nil, nil, zap.NewNop())
	device := newFakeDevice("AA")
	reg.AddOrUpdate(context.Background(), device)

	record, err := reg.Update(context.Background(), "AA", func(r *model.DeviceRecord) {
		r.Unit = "c"
	})
	if err != nil || record.Unit != "c" {
		t.Fatalf("Update = %+v, %v", record, err)
	}
	if _, err := reg.Update(context.Background(), "ZZ", func(*model.DeviceRecord) {}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update unknown = %v", err)
	}

	if !reg.Remove(context.Background(), "AA") {
		t.Fatal("Remove returned false")
	}
	if reg.Remove(context.Background(), "AA") {
		t.Fatal("second Remove returned true")
	}
	if !device.Disconnected() {
		t.Fatal("removed device not disconnected")
	}
}
