// Package servicetest provides an in-memory appliance controller for tests.
package servicetest

import (
	"context"
	"sync"

	"anova-service/internal/command"
	"anova-service/internal/model"
)

// Controller is a scripted appliance. Err, when set, is returned by every
// command.
type Controller struct {
	ID        model.Identity
	Transport model.TransportMode
	Err       error

	StatusValue  command.DeviceStatus
	Current      float64
	Target       float64
	UnitValue    command.TemperatureUnit
	TimerValue   command.TimerStatus
	Speaker      bool
	IDCardValue  string
	VersionValue string

	mu           sync.Mutex
	calls        []string
	disconnected bool
}

// NewController returns a connected controller with plausible readings
func NewController(address string) *Controller {
	return &Controller{
		ID:           model.Identity{Address: address, Name: "Anova"},
		Transport:    model.TransportDirect,
		StatusValue:  command.StatusStopped,
		Current:      21.5,
		Target:       60,
		UnitValue:    command.UnitCelsius,
		TimerValue:   command.TimerStatus{Minutes: 30},
		IDCardValue:  "anova f56-0123456789",
		VersionValue: "ver 1.4.4",
	}
}

// Calls returns the commands received so far
func (c *Controller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Disconnected reports whether Disconnect was called
func (c *Controller) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *Controller) record(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	return c.Err
}

func (c *Controller) Identity() model.Identity { return c.ID }

func (c *Controller) Mode() model.TransportMode { return c.Transport }

func (c *Controller) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return model.StateDisconnected
	}
	return model.StateConnected
}

func (c *Controller) Heartbeat(ctx context.Context) (*float64, error) {
	if err := c.record("heartbeat"); err != nil {
		return nil, err
	}
	value := c.Target
	return &value, nil
}

func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *Controller) Status(ctx context.Context) (command.DeviceStatus, error) {
	return c.StatusValue, c.record("status")
}

func (c *Controller) StartCooking(ctx context.Context) error {
	if err := c.record("start"); err != nil {
		return err
	}
	c.StatusValue = command.StatusRunning
	return nil
}

func (c *Controller) StopCooking(ctx context.Context) error {
	if err := c.record("stop"); err != nil {
		return err
	}
	c.StatusValue = command.StatusStopped
	return nil
}

func (c *Controller) CurrentTemperature(ctx context.Context) (float64, error) {
	return c.Current, c.record("current_temperature")
}

func (c *Controller) TargetTemperature(ctx context.Context) (float64, error) {
	return c.Target, c.record("target_temperature")
}

func (c *Controller) SetTargetTemperature(ctx context.Context, value float64, unit command.TemperatureUnit) (float64, error) {
	if err := command.ValidateTemperature(value, unit); err != nil {
		return 0, err
	}
	if err := c.record("set_target_temperature"); err != nil {
		return 0, err
	}
	c.Target = value
	return value, nil
}

func (c *Controller) Unit(ctx context.Context) (command.TemperatureUnit, error) {
	return c.UnitValue, c.record("unit")
}

func (c *Controller) SetUnit(ctx context.Context, unit command.TemperatureUnit) (command.TemperatureUnit, error) {
	if err := c.record("set_unit"); err != nil {
		return "", err
	}
	c.UnitValue = unit
	return unit, nil
}

func (c *Controller) Timer(ctx context.Context) (command.TimerStatus, error) {
	return c.TimerValue, c.record("timer")
}

func (c *Controller) SetTimer(ctx context.Context, minutes int) (int, error) {
	if err := c.record("set_timer"); err != nil {
		return 0, err
	}
	c.TimerValue.Minutes = minutes
	return minutes, nil
}

func (c *Controller) StartTimer(ctx context.Context) error { return c.record("start_timer") }

func (c *Controller) StopTimer(ctx context.Context) error { return c.record("stop_timer") }

func (c *Controller) ClearAlarm(ctx context.Context) error { return c.record("clear_alarm") }

func (c *Controller) IDCard(ctx context.Context) (string, error) {
	return c.IDCardValue, c.record("id_card")
}

func (c *Controller) Version(ctx context.Context) (string, error) {
	return c.VersionValue, c.record("version")
}

func (c *Controller) SpeakerStatus(ctx context.Context) (bool, error) {
	return c.Speaker, c.record("speaker_status")
}

func (c *Controller) ConnectWifi(ctx context.Context, ssid, password string) error {
	return c.record("connect_wifi " + ssid)
}

func (c *Controller) SetServerInfo(ctx context.Context, host string, port int) error {
	return c.record("set_server_info " + host)
}

func (c *Controller) RestoreServerInfo(ctx context.Context) error {
	return c.record("restore_server_info")
}

func (c *Controller) SetSecretKey(ctx context.Context, key string) (string, error) {
	if key == "" {
		key = command.NewSecretKey()
	}
	return key, c.record("set_secret_key")
}
