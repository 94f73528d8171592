package protocol

import (
	"testing"

	"go.uber.org/zap"

	"anova-service/internal/config"
	"anova-service/internal/model"
	"anova-service/internal/transport"
	"anova-service/internal/transport/relay"
)

func TestCreateTransport(t *testing.T) {
	identity := model.Identity{Address: "AA:BB:CC:DD:EE:FF", Name: "Anova"}
	logger := zap.NewNop()
	relayClient := relay.NewClient("http://relay.local:5000", 0, logger)

	tests := []struct {
		name     string
		mode     string
		link     string
		backends Backends
		want     model.TransportMode
		wantErr  bool
	}{
		{name: "relay", mode: config.ModeRelay, backends: Backends{Relay: relayClient}, want: model.TransportRelay},
		{name: "relay without client", mode: config.ModeRelay, wantErr: true},
		{name: "serial", mode: config.ModeDirect, link: config.LinkSerial, want: model.TransportDirect},
		{name: "ble without adapter", mode: config.ModeDirect, link: config.LinkBLE, wantErr: true},
		{name: "unknown link", mode: config.ModeDirect, link: "usb", wantErr: true},
		{name: "unknown mode", mode: "carrier-pigeon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Transport: config.TransportConfig{Mode: tt.mode, Link: tt.link}}
			tr, err := CreateTransport(cfg, identity, tt.backends, logger)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %T", tr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateTransport: %v", err)
			}
			if tr.Mode() != tt.want || tr.Identity() != identity {
				t.Fatalf("transport = %s %v", tr.Mode(), tr.Identity())
			}
		})
	}
}

func TestCreateTransportSerialDefaultsPort(t *testing.T) {
	cfg := &config.Config{Transport: config.TransportConfig{Mode: config.ModeDirect, Link: config.LinkSerial}}

	tr, err := CreateTransport(cfg, model.Identity{Address: "/dev/ttyUSB0"}, Backends{}, zap.NewNop())
	if err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if _, ok := tr.(*transport.Direct); !ok {
		t.Fatalf("transport = %T, want *transport.Direct", tr)
	}
}
