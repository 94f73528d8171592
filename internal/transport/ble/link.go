// internal/transport/ble/link.go
package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"anova-service/internal/transport"
)

// SegmentSize is the ATT payload carried by one GATT write
const SegmentSize = 20

// LinkConfig identifies the GATT service and characteristic used for the
// text protocol
type LinkConfig struct {
	ServiceUUID    string
	CharUUID       string
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Link is a transport.Link over one GATT characteristic that carries both
// writes and notifications.
type Link struct {
	adapter *Adapter
	address string
	config  LinkConfig
	service bluetooth.UUID
	char    bluetooth.UUID
	logger  *zap.Logger

	mu             sync.RWMutex
	isOpen         bool
	device         bluetooth.Device
	characteristic bluetooth.DeviceCharacteristic
	active         *transport.Stream
	unwatch        func()
}

// NewLink creates a link to the appliance at address
func NewLink(adapter *Adapter, address string, config LinkConfig, logger *zap.Logger) (*Link, error) {
	service, err := ParseUUID(config.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service uuid: %w", err)
	}
	char, err := ParseUUID(config.CharUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic uuid: %w", err)
	}
	return &Link{
		adapter: adapter,
		address: address,
		config:  config,
		service: service,
		char:    char,
		logger: logger.With(
			zap.String("link", "ble"),
			zap.String("address", address),
		),
	}, nil
}

// Open connects and resolves the protocol characteristic
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isOpen {
		return nil
	}

	l.logger.Info("Opening BLE link", zap.Duration("connect_timeout", l.config.ConnectTimeout))

	device, err := l.adapter.Connect(ctx, l.address, l.config.ScanTimeout, l.config.ConnectTimeout)
	if err != nil {
		return err
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{l.service})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return fmt.Errorf("service %s not found: %v", l.service.String(), err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{l.char})
	if err != nil || len(chars) == 0 {
		device.Disconnect()
		return fmt.Errorf("characteristic %s not found: %v", l.char.String(), err)
	}

	l.device = device
	l.characteristic = chars[0]
	l.isOpen = true
	l.unwatch = l.adapter.watch(l.address, l.drop)

	l.logger.Info("BLE link opened")
	return nil
}

// Close disconnects and ends any active subscription
func (l *Link) Close() error {
	l.mu.Lock()
	if !l.isOpen {
		l.mu.Unlock()
		return nil
	}
	active := l.active
	device := l.device
	unwatch := l.unwatch
	l.active = nil
	l.unwatch = nil
	l.isOpen = false
	l.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if active != nil {
		active.Close()
	}
	if err := device.Disconnect(); err != nil {
		l.logger.Error("Failed to disconnect", zap.Error(err))
		return fmt.Errorf("failed to disconnect: %w", err)
	}

	l.logger.Info("BLE link closed")
	return nil
}

// drop marks the link closed after the radio reported a disconnect. The
// active subscription is closed so a pending exchange sees the link lost.
func (l *Link) drop() {
	l.mu.Lock()
	if !l.isOpen {
		l.mu.Unlock()
		return
	}
	active := l.active
	l.active = nil
	l.unwatch = nil
	l.isOpen = false
	l.device = bluetooth.Device{}
	l.characteristic = bluetooth.DeviceCharacteristic{}
	l.mu.Unlock()

	if active != nil {
		active.Close()
	}
	l.logger.Warn("BLE link lost")
}

func (l *Link) IsOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isOpen
}

// Subscribe enables notifications on the characteristic until the returned
// subscription is closed.
func (l *Link) Subscribe(ctx context.Context) (transport.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isOpen {
		return nil, transport.ErrNotOpen
	}
	if l.active != nil && !l.active.Closed() {
		return nil, transport.ErrBusy
	}

	char := l.characteristic
	var stream *transport.Stream
	stream = transport.NewStream(32, func() error {
		l.mu.Lock()
		if l.active == stream {
			l.active = nil
		}
		open := l.isOpen
		l.mu.Unlock()

		if !open {
			return nil
		}
		return char.EnableNotifications(nil)
	})

	err := char.EnableNotifications(func(data []byte) {
		if !stream.Push(data) {
			l.logger.Warn("Dropped notification fragment", zap.Int("bytes", len(data)))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enable notifications: %w", err)
	}

	l.active = stream
	return stream, nil
}

// Write sends data in SegmentSize chunks with write-with-response
func (l *Link) Write(ctx context.Context, data []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.isOpen {
		return transport.ErrNotOpen
	}

	for start := 0; start < len(data); start += SegmentSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := start + SegmentSize
		if end > len(data) {
			end = len(data)
		}
		segment := data[start:end]
		n, err := l.characteristic.Write(segment)
		if err != nil {
			return fmt.Errorf("gatt write failed: %w", err)
		}
		if n != len(segment) {
			return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(segment))
		}
	}

	l.logger.Debug("BLE write completed", zap.Int("bytes", len(data)))
	return nil
}
