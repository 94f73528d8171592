package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BLE_PROXY_URL", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for explicit missing file, got config %+v", cfg)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RelayURL() != DefaultRelayURL {
		t.Fatalf("relay url = %q, want %q", cfg.RelayURL(), DefaultRelayURL)
	}
	if cfg.Protocol.RetryAttempts != 3 || cfg.Protocol.RetryDelay != 2*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Protocol)
	}
	if cfg.Protocol.ResponseGrace != 5*time.Second {
		t.Fatalf("response grace = %v", cfg.Protocol.ResponseGrace)
	}
	if cfg.Registry.MaxFailures != 3 {
		t.Fatalf("max failures = %d", cfg.Registry.MaxFailures)
	}
	if cfg.Transport.BLE.ServiceUUID != "ffe0" || cfg.Transport.BLE.CharUUID != "ffe1" {
		t.Fatalf("unexpected ble defaults: %+v", cfg.Transport.BLE)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anova.yaml")
	body := []byte("transport:\n  mode: relay\nregistry:\n  heartbeat_interval: 5s\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BLE_PROXY_URL", "http://relay.local:5000/")
	t.Setenv("ANOVA_SERVER_PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Mode != ModeRelay {
		t.Fatalf("mode = %q", cfg.Transport.Mode)
	}
	if cfg.RelayURL() != "http://relay.local:5000" {
		t.Fatalf("relay url = %q", cfg.RelayURL())
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Registry.HeartbeatInterval != 5*time.Second {
		t.Fatalf("heartbeat interval = %v", cfg.Registry.HeartbeatInterval)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: "8080"},
			Transport: TransportConfig{Mode: ModeDirect, Link: LinkBLE},
			Protocol:  ProtocolConfig{RetryAttempts: 3, WriteAttempts: 3},
			Registry:  RegistryConfig{MaxFailures: 3},
			Logging:   LoggingConfig{Level: "info"},
			App:       AppConfig{Environment: "test"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"serial without port", func(c *Config) { c.Transport.Link = LinkSerial }, true},
		{"serial with port", func(c *Config) {
			c.Transport.Link = LinkSerial
			c.Transport.Serial.Port = "/dev/ttyUSB0"
		}, false},
		{"unknown mode", func(c *Config) { c.Transport.Mode = "carrier-pigeon" }, true},
		{"bad relay url", func(c *Config) {
			c.Transport.Mode = ModeRelay
			c.Relay.BaseURL = "::not a url"
		}, true},
		{"zero attempts", func(c *Config) { c.Protocol.RetryAttempts = 0 }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
