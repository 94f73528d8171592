// Package registry tracks connected appliances and evicts the ones that stop
// answering heartbeats.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/events"
	"anova-service/internal/model"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxFailures       = 3
)

// ErrNotFound is returned for addresses the registry does not track
var ErrNotFound = errors.New("device not found")

// Device is a tracked appliance connection
type Device interface {
	Identity() model.Identity
	Mode() model.TransportMode
	State() model.ConnectionState
	Heartbeat(ctx context.Context) (*float64, error)
	Disconnect() error
}

// Store persists device records
type Store interface {
	Upsert(ctx context.Context, record *model.DeviceRecord) error
	Delete(ctx context.Context, address string) error
}

// Config tunes monitoring
type Config struct {
	HeartbeatInterval time.Duration
	MaxFailures       int
}

type entry struct {
	record model.DeviceRecord
	device Device
	cancel context.CancelFunc
}

// Registry maps appliance addresses to their connection and last readings.
// Each device is monitored by its own goroutine, so a slow heartbeat never
// delays another device.
type Registry struct {
	config    Config
	store     Store
	publisher events.Publisher
	logger    *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a registry. store and publisher may be nil.
func New(config Config, store Store, publisher events.Publisher, logger *zap.Logger) *Registry {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.MaxFailures < 1 {
		config.MaxFailures = DefaultMaxFailures
	}
	return &Registry{
		config:    config,
		store:     store,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "registry")),
		entries:   make(map[string]*entry),
	}
}

// Start begins monitoring every tracked device, and any added later
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	for address, e := range r.entries {
		r.monitorLocked(address, e)
	}
	r.logger.Info("Registry monitoring started",
		zap.Duration("heartbeat_interval", r.config.HeartbeatInterval),
		zap.Int("max_failures", r.config.MaxFailures),
	)
}

// Stop halts all monitors and waits for them to return
func (r *Registry) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.ctx = nil
	for _, e := range r.entries {
		e.cancel = nil
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// AddOrUpdate tracks device under its address, replacing any previous
// connection for the same address.
func (r *Registry) AddOrUpdate(ctx context.Context, device Device) model.DeviceRecord {
	identity := device.Identity()
	now := time.Now().UTC()

	r.mu.Lock()
	e, exists := r.entries[identity.Address]
	var replaced Device
	if exists {
		if e.device != device {
			replaced = e.device
			if e.cancel != nil {
				e.cancel()
				e.cancel = nil
			}
			e.device = device
		}
		e.record.Name = identity.Name
		e.record.Transport = device.Mode()
		e.record.Status = string(device.State())
		e.record.Failures = 0
		e.record.UpdatedAt = now
	} else {
		e = &entry{
			device: device,
			record: model.DeviceRecord{
				Address:   identity.Address,
				Name:      identity.Name,
				Transport: device.Mode(),
				Status:    string(device.State()),
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		r.entries[identity.Address] = e
	}
	if r.ctx != nil && e.cancel == nil {
		r.monitorLocked(identity.Address, e)
	}
	record := e.record
	r.mu.Unlock()

	if replaced != nil {
		if err := replaced.Disconnect(); err != nil {
			r.logger.Warn("Failed to disconnect replaced device", zap.String("address", identity.Address), zap.Error(err))
		}
	}

	r.persist(ctx, &record)
	if !exists {
		r.logger.Info("Device registered", zap.String("address", identity.Address), zap.String("name", identity.Name))
		r.publish(model.EventDeviceConnected, identity.Address, model.JSONObject{
			"name":      identity.Name,
			"transport": string(device.Mode()),
		})
	}
	return record
}

// Remove stops tracking address and disconnects its device
func (r *Registry) Remove(ctx context.Context, address string) bool {
	r.mu.Lock()
	e, ok := r.entries[address]
	if ok {
		delete(r.entries, address)
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.release(ctx, address, e.device, "removed")
	return true
}

// Get returns the device tracked under address
func (r *Registry) Get(address string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[address]
	if !ok {
		return nil, false
	}
	return e.device, true
}

// Lookup returns a copy of the record tracked under address
func (r *Registry) Lookup(address string) (model.DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[address]
	if !ok {
		return model.DeviceRecord{}, false
	}
	return e.record, true
}

// List returns every record ordered by address
func (r *Registry) List() []model.DeviceRecord {
	r.mu.RLock()
	records := make([]model.DeviceRecord, 0, len(r.entries))
	for _, e := range r.entries {
		records = append(records, e.record)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Address < records[j].Address
	})
	return records
}

// Update applies fn to the record under address, persists and publishes it
func (r *Registry) Update(ctx context.Context, address string, fn func(*model.DeviceRecord)) (model.DeviceRecord, error) {
	r.mu.Lock()
	e, ok := r.entries[address]
	if !ok {
		r.mu.Unlock()
		return model.DeviceRecord{}, ErrNotFound
	}
	fn(&e.record)
	e.record.UpdatedAt = time.Now().UTC()
	record := e.record
	r.mu.Unlock()

	r.persist(ctx, &record)
	r.publish(model.EventDeviceState, address, stateData(&record))
	return record, nil
}

// Probe runs one heartbeat against address and applies the outcome
func (r *Registry) Probe(ctx context.Context, address string) error {
	r.mu.RLock()
	e, ok := r.entries[address]
	var device Device
	if ok {
		device = e.device
	}
	r.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	return r.probe(ctx, address, device)
}

func (r *Registry) monitorLocked(address string, e *entry) {
	ctx, cancel := context.WithCancel(r.ctx)
	e.cancel = cancel
	device := e.device

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.monitor(ctx, address, device)
	}()
}

func (r *Registry) monitor(ctx context.Context, address string, device Device) {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.probe(ctx, address, device); err != nil && ctx.Err() != nil {
				return
			}
		}
	}
}

func (r *Registry) probe(ctx context.Context, address string, device Device) error {
	temp, err := device.Heartbeat(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}

	r.mu.Lock()
	e, ok := r.entries[address]
	if !ok || e.device != device {
		r.mu.Unlock()
		return err
	}

	now := time.Now().UTC()
	e.record.Status = string(device.State())
	e.record.UpdatedAt = now

	if err == nil {
		e.record.Failures = 0
		e.record.LastSeen = &now
		if temp != nil {
			value := *temp
			e.record.TargetTemperature = &value
		}
		record := e.record
		r.mu.Unlock()

		r.persist(ctx, &record)
		r.publish(model.EventDeviceState, address, stateData(&record))
		return nil
	}

	e.record.Failures++
	failures := e.record.Failures
	evict := failures >= r.config.MaxFailures
	if evict {
		delete(r.entries, address)
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()

	r.logger.Warn("Heartbeat failed",
		zap.String("address", address),
		zap.Int("consecutive_failures", failures),
		zap.Error(err),
	)
	r.publish(model.EventHeartbeatFailed, address, model.JSONObject{
		"consecutive_failures": failures,
		"error":                err.Error(),
	})

	if evict {
		r.logger.Error("Evicting unresponsive device",
			zap.String("address", address),
			zap.Int("consecutive_failures", failures),
		)
		r.release(context.WithoutCancel(ctx), address, device, "heartbeat")
	}
	return err
}

// release disconnects a device that is no longer tracked
func (r *Registry) release(ctx context.Context, address string, device Device, reason string) {
	if err := device.Disconnect(); err != nil {
		r.logger.Warn("Failed to disconnect device", zap.String("address", address), zap.Error(err))
	}
	if r.store != nil {
		if err := r.store.Delete(ctx, address); err != nil {
			r.logger.Error("Failed to delete device record", zap.String("address", address), zap.Error(err))
		}
	}
	r.publish(model.EventDeviceRemoved, address, model.JSONObject{"reason": reason})
}

func (r *Registry) persist(ctx context.Context, record *model.DeviceRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.Upsert(ctx, record); err != nil {
		r.logger.Error("Failed to persist device record", zap.String("address", record.Address), zap.Error(err))
	}
}

func (r *Registry) publish(eventType model.EventType, address string, data model.JSONObject) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(model.NewDeviceEvent(eventType, address, "registry", data))
}

func stateData(record *model.DeviceRecord) model.JSONObject {
	data := model.JSONObject{
		"status":               record.Status,
		"consecutive_failures": record.Failures,
	}
	if record.TargetTemperature != nil {
		data["target_temperature"] = *record.TargetTemperature
	}
	if record.Unit != "" {
		data["unit"] = record.Unit
	}
	for key, value := range record.Metadata {
		if _, taken := data[key]; !taken {
			data[key] = value
		}
	}
	return data
}
