// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"anova-service/internal/config"
	"anova-service/internal/model"
	"anova-service/internal/transport"
	"anova-service/internal/transport/ble"
	"anova-service/internal/transport/relay"
	"anova-service/internal/transport/serial"
)

// Backends holds the shared, process-wide handles transports are built on.
// A nil field means that backend is unavailable.
type Backends struct {
	Adapter *ble.Adapter
	Relay   *relay.Client
}

// CreateTransport resolves the configured mode once and binds a transport to
// the appliance identity.
func CreateTransport(cfg *config.Config, identity model.Identity, backends Backends, logger *zap.Logger) (transport.Transport, error) {
	switch cfg.Transport.Mode {
	case config.ModeRelay:
		return createRelayTransport(identity, backends, logger)
	case config.ModeDirect:
		link, err := createLink(cfg, identity, backends, logger)
		if err != nil {
			return nil, err
		}
		return transport.NewDirect(identity, link, transport.DirectConfig{
			ResponseGrace: cfg.Protocol.ResponseGrace,
			WriteAttempts: cfg.Protocol.WriteAttempts,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport mode: %s", cfg.Transport.Mode)
	}
}

// createRelayTransport creates a relay transport
func createRelayTransport(identity model.Identity, backends Backends, logger *zap.Logger) (transport.Transport, error) {
	if backends.Relay == nil {
		return nil, fmt.Errorf("relay client is not configured")
	}
	logger.Debug("Creating relay transport",
		zap.String("address", identity.Address),
		zap.String("relay", backends.Relay.BaseURL()),
	)
	return relay.NewTransport(backends.Relay, identity), nil
}

// createLink creates the direct link selected by transport.link
func createLink(cfg *config.Config, identity model.Identity, backends Backends, logger *zap.Logger) (transport.Link, error) {
	switch cfg.Transport.Link {
	case config.LinkBLE:
		if backends.Adapter == nil {
			return nil, fmt.Errorf("bluetooth adapter is not available")
		}
		return ble.NewLink(backends.Adapter, identity.Address, ble.LinkConfig{
			ServiceUUID:    cfg.Transport.BLE.ServiceUUID,
			CharUUID:       cfg.Transport.BLE.CharUUID,
			ScanTimeout:    cfg.Transport.BLE.ScanTimeout,
			ConnectTimeout: cfg.Transport.BLE.ConnectTimeout,
		}, logger)
	case config.LinkSerial:
		serialConfig := &serial.Config{
			Port:     cfg.Transport.Serial.Port,
			BaudRate: 9600,
			DataBits: 8,
			StopBits: 1,
			Parity:   "none",
		}
		if cfg.Transport.Serial.BaudRate > 0 {
			serialConfig.BaudRate = cfg.Transport.Serial.BaudRate
		}
		if cfg.Transport.Serial.DataBits > 0 {
			serialConfig.DataBits = cfg.Transport.Serial.DataBits
		}
		if cfg.Transport.Serial.StopBits > 0 {
			serialConfig.StopBits = cfg.Transport.Serial.StopBits
		}
		if cfg.Transport.Serial.Parity != "" {
			serialConfig.Parity = cfg.Transport.Serial.Parity
		}
		if serialConfig.Port == "" {
			serialConfig.Port = identity.Address
		}
		return serial.NewLink(serialConfig, logger), nil
	default:
		return nil, fmt.Errorf("unsupported link type: %s", cfg.Transport.Link)
	}
}
