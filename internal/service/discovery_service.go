// internal/service/discovery_service.go
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/discovery"
	"anova-service/internal/events"
	"anova-service/internal/model"
	"anova-service/internal/utils"
)

// ErrNoDevice is returned when a scan finds no matching appliance
var ErrNoDevice = errors.New("no appliance found")

// DiscoveryService finds appliances and hands them to the device service
type DiscoveryService struct {
	manager     *discovery.Manager
	devices     *DeviceService
	publisher   events.Publisher
	scanTimeout time.Duration
	logger      *utils.ServiceLogger
}

// NewDiscoveryService creates a discovery service. publisher may be nil.
func NewDiscoveryService(
	manager *discovery.Manager,
	devices *DeviceService,
	publisher events.Publisher,
	scanTimeout time.Duration,
	logger *zap.Logger,
) *DiscoveryService {
	if scanTimeout <= 0 {
		scanTimeout = 5 * time.Second
	}
	return &DiscoveryService{
		manager:     manager,
		devices:     devices,
		publisher:   publisher,
		scanTimeout: scanTimeout,
		logger:      utils.NewServiceLogger(logger, "discovery-service"),
	}
}

// ScanDevices runs every available scanner and returns what they found
func (ds *DiscoveryService) ScanDevices(ctx context.Context, timeout time.Duration) []model.Advertisement {
	if timeout <= 0 {
		timeout = ds.scanTimeout
	}
	found := ds.manager.ScanAll(ctx, timeout)
	for _, adv := range found {
		ds.publish(adv)
	}
	return found
}

// FindDevice returns the first appliance any scanner sees
func (ds *DiscoveryService) FindDevice(ctx context.Context) (*model.Advertisement, error) {
	adv, err := ds.manager.Scan(ctx, ds.scanTimeout)
	if err != nil {
		return nil, err
	}
	if adv == nil {
		return nil, ErrNoDevice
	}
	ds.publish(*adv)
	return adv, nil
}

// Acquire returns a controller for the first appliance available: a tracked
// one when possible, otherwise a freshly discovered and connected one.
func (ds *DiscoveryService) Acquire(ctx context.Context) (Controller, error) {
	if controller, ok := ds.devices.First(); ok {
		return controller, nil
	}

	adv, err := ds.FindDevice(ctx)
	if err != nil {
		return nil, err
	}
	record, err := ds.devices.Connect(ctx, adv.Identity())
	if err != nil {
		return nil, err
	}
	return ds.devices.Controller(record.Address)
}

// DiscoverOnce scans and connects every appliance not yet tracked
func (ds *DiscoveryService) DiscoverOnce(ctx context.Context) int {
	connected := 0
	for _, adv := range ds.ScanDevices(ctx, ds.scanTimeout) {
		if _, err := ds.devices.GetDevice(adv.Address); err == nil {
			continue
		}
		if _, err := ds.devices.Connect(ctx, adv.Identity()); err != nil {
			continue
		}
		connected++
	}
	return connected
}

// Run discovers appliances every interval until ctx is done
func (ds *DiscoveryService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ds.logger.Info("Discovery loop started",
		zap.Duration("interval", interval),
		zap.Strings("scanners", ds.manager.AvailableScanners()),
	)

	ds.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ds.logger.Info("Discovery loop stopped")
			return
		case <-ticker.C:
			ds.runOnce(ctx)
		}
	}
}

func (ds *DiscoveryService) runOnce(ctx context.Context) {
	if n := ds.DiscoverOnce(ctx); n > 0 {
		ds.logger.Info("New devices connected", zap.Int("count", n))
	}
}

func (ds *DiscoveryService) publish(adv model.Advertisement) {
	if ds.publisher == nil {
		return
	}
	ds.publisher.Publish(model.NewDeviceEvent(model.EventDeviceDiscovered, adv.Address, "discovery", model.JSONObject{
		"name": adv.Name,
		"rssi": adv.RSSI,
	}))
}
