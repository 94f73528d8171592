// Package serial reaches the appliance through a BLE-to-UART bridge module
// (HM-10 style FFE0/FFE1 transparent bridges) attached to a serial port.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"anova-service/internal/transport"
)

// pollInterval bounds how long a blocked read holds the port
const pollInterval = 100 * time.Millisecond

// Config represents serial port configuration
type Config struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
}

// Opener opens a serial port; replaced in tests
type Opener func(port string, mode *serial.Mode) (serial.Port, error)

// Link implements transport.Link over a serial port
type Link struct {
	config *Config
	open   Opener
	logger *zap.Logger

	mutex  sync.RWMutex
	port   serial.Port
	isOpen bool
	active *transport.Stream
	done   chan struct{}
}

// NewLink creates a new serial link
func NewLink(config *Config, logger *zap.Logger) *Link {
	return NewLinkWithOpener(config, serial.Open, logger)
}

// NewLinkWithOpener creates a serial link that opens ports through open
func NewLinkWithOpener(config *Config, open Opener, logger *zap.Logger) *Link {
	return &Link{
		config: config,
		open:   open,
		logger: logger.With(
			zap.String("link", "serial"),
			zap.String("port", config.Port),
		),
	}
}

func (sl *Link) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: sl.config.BaudRate,
		DataBits: sl.config.DataBits,
		StopBits: serial.OneStopBit,
	}
	if sl.config.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch sl.config.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode
}

// Open opens the serial port and starts the notification reader
func (sl *Link) Open(ctx context.Context) error {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()

	if sl.isOpen {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sl.logger.Info("Opening serial port",
		zap.String("port", sl.config.Port),
		zap.Int("baud_rate", sl.config.BaudRate),
	)

	port, err := sl.open(sl.config.Port, sl.mode())
	if err != nil {
		sl.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		sl.logger.Debug("Failed to reset input buffer", zap.Error(err))
	}

	sl.port = port
	sl.isOpen = true
	sl.done = make(chan struct{})
	go sl.readLoop(port, sl.done)

	sl.logger.Info("Serial port opened successfully")
	return nil
}

// readLoop forwards everything the bridge emits to the active subscription.
// Bytes arriving with no subscriber are stale replies and are discarded.
func (sl *Link) readLoop(port serial.Port, done chan struct{}) {
	buffer := make([]byte, 256)
	for {
		n, err := port.Read(buffer)
		select {
		case <-done:
			return
		default:
		}

		if err != nil && !errors.Is(err, io.EOF) {
			sl.logger.Error("Serial read failed", zap.Error(err))
			sl.drop()
			return
		}
		if n == 0 {
			continue
		}

		sl.mutex.RLock()
		active := sl.active
		sl.mutex.RUnlock()

		if active == nil {
			sl.logger.Debug("Discarding unsolicited bytes", zap.Int("bytes", n))
			continue
		}
		if !active.Push(buffer[:n]) {
			sl.logger.Warn("Dropped serial fragment", zap.Int("bytes", n))
		}
	}
}

// drop marks the link closed after a read failure
func (sl *Link) drop() {
	sl.mutex.Lock()
	active := sl.active
	port := sl.port
	sl.active = nil
	sl.port = nil
	sl.isOpen = false
	sl.mutex.Unlock()

	if active != nil {
		active.Close()
	}
	if port != nil {
		port.Close()
	}
}

// Close closes the serial port
func (sl *Link) Close() error {
	sl.mutex.Lock()
	if !sl.isOpen || sl.port == nil {
		sl.mutex.Unlock()
		return nil
	}
	port := sl.port
	active := sl.active
	close(sl.done)
	sl.port = nil
	sl.active = nil
	sl.isOpen = false
	sl.mutex.Unlock()

	if active != nil {
		active.Close()
	}
	if err := port.Close(); err != nil {
		sl.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sl.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (sl *Link) IsOpen() bool {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()
	return sl.isOpen && sl.port != nil
}

// Subscribe routes incoming bytes to a new subscription
func (sl *Link) Subscribe(ctx context.Context) (transport.Subscription, error) {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()

	if !sl.isOpen {
		return nil, transport.ErrNotOpen
	}
	if sl.active != nil && !sl.active.Closed() {
		return nil, transport.ErrBusy
	}

	var stream *transport.Stream
	stream = transport.NewStream(32, func() error {
		sl.mutex.Lock()
		defer sl.mutex.Unlock()
		if sl.active == stream {
			sl.active = nil
		}
		return nil
	})
	sl.active = stream
	return stream, nil
}

// Write writes data to the serial port
func (sl *Link) Write(ctx context.Context, data []byte) error {
	sl.mutex.RLock()
	defer sl.mutex.RUnlock()

	if !sl.isOpen || sl.port == nil {
		return transport.ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, err := sl.port.Write(data)
	if err != nil {
		sl.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}

	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sl.logger.Debug("Serial write completed", zap.Int("bytes", len(data)))
	return nil
}
