// internal/service/device_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/command"
	"anova-service/internal/config"
	"anova-service/internal/model"
	"anova-service/internal/protocol"
	"anova-service/internal/registry"
	"anova-service/internal/repository"
	"anova-service/internal/retry"
	"anova-service/internal/transport"
	"anova-service/internal/utils"
)

// Reading keys kept in DeviceRecord.Metadata
const (
	ReadingCookerStatus       = "cooker_status"
	ReadingCurrentTemperature = "current_temperature"
	ReadingTimer              = "timer"
	ReadingTimerRunning       = "timer_running"
	ReadingSpeaker            = "speaker_status"
	ReadingVersion            = "version"
	ReadingIDCard             = "id_card"
)

// Controller is the command surface of a connected appliance
type Controller interface {
	registry.Device
	Status(ctx context.Context) (command.DeviceStatus, error)
	StartCooking(ctx context.Context) error
	StopCooking(ctx context.Context) error
	CurrentTemperature(ctx context.Context) (float64, error)
	TargetTemperature(ctx context.Context) (float64, error)
	SetTargetTemperature(ctx context.Context, value float64, unit command.TemperatureUnit) (float64, error)
	Unit(ctx context.Context) (command.TemperatureUnit, error)
	SetUnit(ctx context.Context, unit command.TemperatureUnit) (command.TemperatureUnit, error)
	Timer(ctx context.Context) (command.TimerStatus, error)
	SetTimer(ctx context.Context, minutes int) (int, error)
	StartTimer(ctx context.Context) error
	StopTimer(ctx context.Context) error
	ClearAlarm(ctx context.Context) error
	IDCard(ctx context.Context) (string, error)
	Version(ctx context.Context) (string, error)
	SpeakerStatus(ctx context.Context) (bool, error)
	ConnectWifi(ctx context.Context, ssid, password string) error
	SetServerInfo(ctx context.Context, host string, port int) error
	RestoreServerInfo(ctx context.Context) error
	SetSecretKey(ctx context.Context, key string) (string, error)
}

var _ Controller = (*protocol.Client)(nil)

// Connector opens a controller for an identity
type Connector func(ctx context.Context, identity model.Identity) (Controller, error)

// DeviceService owns appliance connections and their last readings
type DeviceService struct {
	registry   *registry.Registry
	deviceRepo repository.DeviceRepository
	connect    Connector
	logger     *utils.ServiceLogger
}

// NewDeviceService creates a device service. deviceRepo may be nil.
func NewDeviceService(
	reg *registry.Registry,
	deviceRepo repository.DeviceRepository,
	connect Connector,
	logger *zap.Logger,
) *DeviceService {
	return &DeviceService{
		registry:   reg,
		deviceRepo: deviceRepo,
		connect:    connect,
		logger:     utils.NewServiceLogger(logger, "device-service"),
	}
}

// ProtocolConnector builds protocol clients over the configured transport
func ProtocolConnector(cfg *config.Config, backends protocol.Backends, observer protocol.Observer, logger *zap.Logger) Connector {
	return func(ctx context.Context, identity model.Identity) (Controller, error) {
		t, err := protocol.CreateTransport(cfg, identity, backends, logger)
		if err != nil {
			return nil, err
		}

		opts := []protocol.Option{
			protocol.WithCommandTimeout(cfg.Protocol.CommandTimeout),
			protocol.WithRetryPolicy(retry.Policy{
				Attempts: cfg.Protocol.RetryAttempts,
				Delay:    cfg.Protocol.RetryDelay,
			}),
		}
		if observer != nil {
			opts = append(opts, protocol.WithObserver(observer))
		}

		client := protocol.NewClient(t, logger, opts...)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Connect opens a connection to identity and starts tracking it. An already
// connected device is returned as is.
func (ds *DeviceService) Connect(ctx context.Context, identity model.Identity) (model.DeviceRecord, error) {
	if device, ok := ds.registry.Get(identity.Address); ok && device.State() != model.StateDisconnected {
		record, _ := ds.registry.Lookup(identity.Address)
		return record, nil
	}

	controller, err := ds.connect(ctx, identity)
	if err != nil {
		ds.logger.Warn("Failed to connect device",
			zap.String("address", identity.Address),
			zap.Error(err),
		)
		return model.DeviceRecord{}, err
	}

	record := ds.registry.AddOrUpdate(ctx, controller)
	ds.logger.Info("Device connected",
		zap.String("address", identity.Address),
		zap.String("name", identity.Name),
		zap.String("transport", string(controller.Mode())),
	)
	return record, nil
}

// Disconnect stops tracking address and closes its connection
func (ds *DeviceService) Disconnect(ctx context.Context, address string) error {
	if !ds.registry.Remove(ctx, address) {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, address)
	}
	ds.logger.Info("Device disconnected", zap.String("address", address))
	return nil
}

// Controller returns the connected appliance for address
func (ds *DeviceService) Controller(address string) (Controller, error) {
	device, ok := ds.registry.Get(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, address)
	}
	controller, ok := device.(Controller)
	if !ok {
		return nil, fmt.Errorf("device %s does not accept commands", address)
	}
	return controller, nil
}

// GetDevice returns the record for address
func (ds *DeviceService) GetDevice(address string) (model.DeviceRecord, error) {
	record, ok := ds.registry.Lookup(address)
	if !ok {
		return model.DeviceRecord{}, fmt.Errorf("%w: %s", registry.ErrNotFound, address)
	}
	return record, nil
}

// ListDevices returns every tracked record
func (ds *DeviceService) ListDevices() []model.DeviceRecord {
	return ds.registry.List()
}

// First returns the first tracked appliance, if any
func (ds *DeviceService) First() (Controller, bool) {
	for _, record := range ds.registry.List() {
		if controller, err := ds.Controller(record.Address); err == nil {
			return controller, true
		}
	}
	return nil, false
}

// Record stores a fresh reading for address. Unknown addresses are ignored.
func (ds *DeviceService) Record(ctx context.Context, address string, fn func(*model.DeviceRecord)) {
	if _, err := ds.registry.Update(ctx, address, fn); err != nil && !errors.Is(err, registry.ErrNotFound) {
		ds.logger.Warn("Failed to record reading", zap.String("address", address), zap.Error(err))
	}
}

// RecordReading stores a single metadata reading for address
func (ds *DeviceService) RecordReading(ctx context.Context, address, key string, value interface{}) {
	ds.Record(ctx, address, func(record *model.DeviceRecord) {
		record.Metadata = withReading(record.Metadata, key, value)
	})
}

// ReconnectPersisted reconnects every device remembered by the repository.
// Failures are logged and the device stays persisted for the next attempt.
func (ds *DeviceService) ReconnectPersisted(ctx context.Context) int {
	if ds.deviceRepo == nil {
		return 0
	}

	records, err := ds.deviceRepo.List(ctx)
	if err != nil {
		ds.logger.Error("Failed to load persisted devices", zap.Error(err))
		return 0
	}

	connected := 0
	for _, record := range records {
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := ds.Connect(connectCtx, record.Identity())
		cancel()
		if err != nil {
			continue
		}
		restoreReadings(ctx, ds, record)
		connected++
	}

	ds.logger.Info("Persisted devices reconnected",
		zap.Int("persisted", len(records)),
		zap.Int("connected", connected),
	)
	return connected
}

// restoreReadings carries persisted readings over to a fresh connection
func restoreReadings(ctx context.Context, ds *DeviceService, persisted *model.DeviceRecord) {
	ds.Record(ctx, persisted.Address, func(record *model.DeviceRecord) {
		if record.TargetTemperature == nil && persisted.TargetTemperature != nil {
			value := *persisted.TargetTemperature
			record.TargetTemperature = &value
		}
		if record.Unit == "" {
			record.Unit = persisted.Unit
		}
		for key, value := range persisted.Metadata {
			if _, ok := record.Metadata[key]; !ok {
				record.Metadata = withReading(record.Metadata, key, value)
			}
		}
	})
}

// Stats returns exchange statistics for address when its transport keeps them
func (ds *DeviceService) Stats(address string) (transport.Stats, bool) {
	device, ok := ds.registry.Get(address)
	if !ok {
		return transport.Stats{}, false
	}
	client, ok := device.(*protocol.Client)
	if !ok {
		return transport.Stats{}, false
	}
	return client.Stats()
}

// withReading copies metadata so records handed out earlier stay unchanged
func withReading(metadata model.JSONObject, key string, value interface{}) model.JSONObject {
	next := make(model.JSONObject, len(metadata)+1)
	for k, v := range metadata {
		next[k] = v
	}
	next[key] = value
	return next
}
