// Package ble drives the host Bluetooth LE adapter: scanning for
// advertisements and opening GATT links to the appliance.
package ble

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"anova-service/internal/model"
)

// ParseUUID accepts 16-bit shorthand ("ffe0") or a full 128-bit UUID
func ParseUUID(s string) (bluetooth.UUID, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) == 4 {
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid 16-bit uuid %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	return bluetooth.ParseUUID(s)
}

// Adapter serializes access to the host radio. Scans and connects never
// overlap, and every scanned address is remembered so links can be opened
// by address string later.
type Adapter struct {
	adapter  *bluetooth.Adapter
	services []bluetooth.UUID
	logger   *zap.Logger

	mu      sync.Mutex
	enabled bool

	addrMu    sync.RWMutex
	addresses map[string]bluetooth.Address

	watchMu  sync.Mutex
	watchers map[string]*watcher
}

// NewAdapter wraps the default host adapter. services lists the service
// UUIDs reported in advertisements.
func NewAdapter(services []string, logger *zap.Logger) (*Adapter, error) {
	a := &Adapter{
		adapter:   bluetooth.DefaultAdapter,
		logger:    logger.With(zap.String("component", "ble_adapter")),
		addresses: make(map[string]bluetooth.Address),
		watchers:  make(map[string]*watcher),
	}
	for _, s := range services {
		uuid, err := ParseUUID(s)
		if err != nil {
			return nil, err
		}
		a.services = append(a.services, uuid)
	}
	return a, nil
}

func (a *Adapter) enable() error {
	if a.enabled {
		return nil
	}
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		a.handleConnect(device.Address.String(), connected)
	})
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}
	a.enabled = true
	return nil
}

// Available reports whether the adapter can be enabled
func (a *Adapter) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enable() == nil
}

// Scan reports advertisements to visit until it returns true, the timeout
// elapses or ctx is done.
func (a *Adapter) Scan(ctx context.Context, timeout time.Duration, visit func(model.Advertisement) bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scan(ctx, timeout, visit)
}

func (a *Adapter) scan(ctx context.Context, timeout time.Duration, visit func(model.Advertisement) bool) error {
	if err := a.enable(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			if err := a.adapter.StopScan(); err != nil {
				a.logger.Debug("StopScan failed", zap.Error(err))
			}
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()

	a.logger.Debug("Starting BLE scan", zap.Duration("timeout", timeout))
	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		address := result.Address.String()
		a.remember(address, result.Address)

		adv := model.Advertisement{
			Address: address,
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		}
		for _, service := range a.services {
			if result.HasServiceUUID(service) {
				adv.ServiceUUIDs = append(adv.ServiceUUIDs, service.String())
			}
		}
		if visit(adv) {
			stop()
		}
	})
	if err != nil {
		return fmt.Errorf("ble scan failed: %w", err)
	}
	return nil
}

func (a *Adapter) remember(address string, addr bluetooth.Address) {
	a.addrMu.Lock()
	a.addresses[strings.ToUpper(address)] = addr
	a.addrMu.Unlock()
}

func (a *Adapter) lookup(address string) (bluetooth.Address, bool) {
	a.addrMu.RLock()
	defer a.addrMu.RUnlock()
	addr, ok := a.addresses[strings.ToUpper(address)]
	return addr, ok
}

// Connect resolves address, scanning for it when it has not been seen yet,
// and opens a GATT connection.
func (a *Adapter) Connect(ctx context.Context, address string, scanTimeout, connectTimeout time.Duration) (bluetooth.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.enable(); err != nil {
		return bluetooth.Device{}, err
	}

	addr, ok := a.lookup(address)
	if !ok {
		err := a.scan(ctx, scanTimeout, func(adv model.Advertisement) bool {
			return strings.EqualFold(adv.Address, address)
		})
		if err != nil {
			return bluetooth.Device{}, err
		}
		if addr, ok = a.lookup(address); !ok {
			return bluetooth.Device{}, fmt.Errorf("device %s not found", address)
		}
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{
			ConnectionTimeout: bluetooth.NewDuration(connectTimeout),
		})
		done <- result{device: device, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return bluetooth.Device{}, fmt.Errorf("failed to connect to %s: %w", address, r.err)
		}
		return r.device, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				r.device.Disconnect()
			}
		}()
		return bluetooth.Device{}, ctx.Err()
	}
}

// watcher is a link waiting to hear that its device went away
type watcher struct {
	onDisconnect func()
}

// watch registers onDisconnect for address until the returned func is
// called. A newer link for the same address replaces an older one.
func (a *Adapter) watch(address string, onDisconnect func()) (unwatch func()) {
	key := strings.ToUpper(address)
	w := &watcher{onDisconnect: onDisconnect}

	a.watchMu.Lock()
	a.watchers[key] = w
	a.watchMu.Unlock()

	return func() {
		a.watchMu.Lock()
		defer a.watchMu.Unlock()
		if a.watchers[key] == w {
			delete(a.watchers, key)
		}
	}
}

// handleConnect routes radio connection events to the watching link. It runs
// on the bluetooth stack's goroutine and must not take a.mu, which Connect
// holds while waiting on the stack.
func (a *Adapter) handleConnect(address string, connected bool) {
	if connected {
		return
	}

	key := strings.ToUpper(address)
	a.watchMu.Lock()
	w := a.watchers[key]
	delete(a.watchers, key)
	a.watchMu.Unlock()

	if w == nil {
		return
	}
	a.logger.Warn("Device disconnected", zap.String("address", address))
	w.onDisconnect()
}
