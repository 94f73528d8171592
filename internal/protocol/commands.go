package protocol

import (
	"context"
	"fmt"

	"anova-service/internal/command"
)

// send runs cmd with the default timeout and asserts the decoded type
func send[T any](ctx context.Context, c *Client, cmd command.Command) (T, error) {
	var zero T
	value, err := c.SendCommand(ctx, cmd, 0)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected %T result for %s", value, cmd.Kind())
	}
	return typed, nil
}

func sendBuilt[T any](ctx context.Context, c *Client, cmd command.Command, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, &CommandError{Command: string(cmd.Kind()), Reason: "invalid command", Err: err}
	}
	return send[T](ctx, c, cmd)
}

func (c *Client) Status(ctx context.Context) (command.DeviceStatus, error) {
	return send[command.DeviceStatus](ctx, c, command.GetStatus())
}

func (c *Client) StartCooking(ctx context.Context) error {
	_, err := send[bool](ctx, c, command.StartCooking())
	return err
}

func (c *Client) StopCooking(ctx context.Context) error {
	_, err := send[bool](ctx, c, command.StopCooking())
	return err
}

func (c *Client) CurrentTemperature(ctx context.Context) (float64, error) {
	return send[float64](ctx, c, command.GetCurrentTemperature())
}

func (c *Client) TargetTemperature(ctx context.Context) (float64, error) {
	return send[float64](ctx, c, command.GetTargetTemperature())
}

// SetTargetTemperature validates value against unit and returns the set point
// the appliance echoed back.
func (c *Client) SetTargetTemperature(ctx context.Context, value float64, unit command.TemperatureUnit) (float64, error) {
	cmd, err := command.SetTargetTemperature(value, unit)
	return sendBuilt[float64](ctx, c, cmd, err)
}

func (c *Client) Unit(ctx context.Context) (command.TemperatureUnit, error) {
	return send[command.TemperatureUnit](ctx, c, command.GetTemperatureUnit())
}

func (c *Client) SetUnit(ctx context.Context, unit command.TemperatureUnit) (command.TemperatureUnit, error) {
	cmd, err := command.SetTemperatureUnit(unit)
	return sendBuilt[command.TemperatureUnit](ctx, c, cmd, err)
}

func (c *Client) Timer(ctx context.Context) (command.TimerStatus, error) {
	return send[command.TimerStatus](ctx, c, command.GetTimer())
}

func (c *Client) SetTimer(ctx context.Context, minutes int) (int, error) {
	cmd, err := command.SetTimer(minutes)
	return sendBuilt[int](ctx, c, cmd, err)
}

func (c *Client) StartTimer(ctx context.Context) error {
	_, err := send[bool](ctx, c, command.StartTimer())
	return err
}

func (c *Client) StopTimer(ctx context.Context) error {
	_, err := send[bool](ctx, c, command.StopTimer())
	return err
}

func (c *Client) ClearAlarm(ctx context.Context) error {
	_, err := send[bool](ctx, c, command.ClearAlarm())
	return err
}

func (c *Client) IDCard(ctx context.Context) (string, error) {
	return send[string](ctx, c, command.GetIDCard())
}

func (c *Client) Version(ctx context.Context) (string, error) {
	return send[string](ctx, c, command.GetVersion())
}

func (c *Client) SpeakerStatus(ctx context.Context) (bool, error) {
	return send[bool](ctx, c, command.GetSpeakerStatus())
}

// ConnectWifi pushes WPA2 credentials to the appliance
func (c *Client) ConnectWifi(ctx context.Context, ssid, password string) error {
	cmd, err := command.SetWifiCredentials(ssid, password)
	_, err = sendBuilt[bool](ctx, c, cmd, err)
	return err
}

// SetServerInfo points the appliance's Wi-Fi client at host:port
func (c *Client) SetServerInfo(ctx context.Context, host string, port int) error {
	cmd, err := command.SetServerInfo(host, port)
	_, err = sendBuilt[bool](ctx, c, cmd, err)
	return err
}

// RestoreServerInfo points the appliance back at the vendor cloud
func (c *Client) RestoreServerInfo(ctx context.Context) error {
	_, err := send[bool](ctx, c, command.RestoreServerInfo())
	return err
}

// SetSecretKey installs key, or a freshly generated one when key is empty,
// and returns the key in use.
func (c *Client) SetSecretKey(ctx context.Context, key string) (string, error) {
	if key == "" {
		key = command.NewSecretKey()
	}
	cmd, err := command.SetSecretKey(key)
	if _, err := sendBuilt[bool](ctx, c, cmd, err); err != nil {
		return "", err
	}
	return key, nil
}
