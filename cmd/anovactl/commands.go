package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anova-service/internal/command"
	"anova-service/internal/config"
	"anova-service/internal/discovery"
	"anova-service/internal/discovery/mdns"
	"anova-service/internal/model"
	"anova-service/internal/protocol"
	"anova-service/internal/service"
	"anova-service/internal/transport/ble"
	"anova-service/internal/transport/relay"
	"anova-service/internal/utils"
)

var (
	scanTimeout time.Duration
	scanAll     bool
	targetUnit  string
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(relaysCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(tempCmd)
	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(sendCmd)

	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 5*time.Second, "Scan window")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every advertisement, not only cookers")
	relaysCmd.Flags().DurationVar(&scanTimeout, "timeout", mdns.DefaultBrowseTimeout, "Browse window")
	targetCmd.Flags().StringVar(&targetUnit, "unit", "", "Unit of the new set point (c or f); defaults to the cooker's unit")
}

// session is a loaded config plus the backend it selects
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	backends protocol.Backends
}

func newSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if relayURL != "" {
		cfg.Transport.Mode = config.ModeRelay
		cfg.Relay.BaseURL = relayURL
	}

	logger := zap.NewNop()
	if verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
		cfg.Logging.Output = "stderr"
		if logger, err = utils.NewLogger(&cfg.Logging); err != nil {
			return nil, err
		}
	}

	s := &session{cfg: cfg, logger: logger}
	switch cfg.Transport.Mode {
	case config.ModeRelay:
		s.backends.Relay = relay.NewClient(cfg.RelayURL(), cfg.Protocol.ResponseGrace, logger)
	default:
		if cfg.Transport.Link == config.LinkBLE {
			adapter, err := ble.NewAdapter([]string{cfg.Transport.BLE.ServiceUUID}, logger)
			if err != nil {
				return nil, err
			}
			s.backends.Adapter = adapter
		}
	}
	return s, nil
}

func (s *session) signature() discovery.Signature {
	return discovery.Signature{Name: s.cfg.Transport.BLE.DeviceName, ServiceUUID: s.cfg.Transport.BLE.ServiceUUID}
}

func (s *session) scan(ctx context.Context, timeout time.Duration) ([]model.Advertisement, error) {
	switch {
	case s.backends.Relay != nil:
		return s.backends.Relay.Scan(ctx, timeout)
	case s.backends.Adapter != nil:
		var found []model.Advertisement
		seen := make(map[string]bool)
		err := s.backends.Adapter.Scan(ctx, timeout, func(adv model.Advertisement) bool {
			if !seen[adv.Address] {
				seen[adv.Address] = true
				found = append(found, adv)
			}
			return false
		})
		return found, err
	default:
		return nil, errors.New("scanning needs the bluetooth link or a relay")
	}
}

// connect opens a protocol client for address
func (s *session) connect(ctx context.Context, address string) (*protocol.Client, error) {
	connector := service.ProtocolConnector(s.cfg, s.backends, nil, s.logger)
	ctrl, err := connector(ctx, model.Identity{Address: address, Name: s.cfg.Transport.BLE.DeviceName})
	if err != nil {
		return nil, err
	}
	client, ok := ctrl.(*protocol.Client)
	if !ok {
		return nil, fmt.Errorf("unexpected controller %T", ctrl)
	}
	return client, nil
}

// withClient connects to args[0], runs fn and disconnects
func withClient(fn func(ctx context.Context, client *protocol.Client, args []string) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), s.cfg.Protocol.CommandTimeout*time.Duration(s.cfg.Protocol.RetryAttempts+2))
		defer cancel()

		client, err := s.connect(ctx, args[0])
		if err != nil {
			return fmt.Errorf("connect %s: %w", args[0], err)
		}
		defer client.Disconnect()

		result, err := fn(ctx, client, args[1:])
		if err != nil {
			return err
		}
		return output(result)
	}
}

func output(v interface{}) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	switch value := v.(type) {
	case nil:
		fmt.Println("ok")
	case map[string]interface{}:
		for k, item := range value {
			fmt.Printf("%s: %v\n", k, item)
		}
	default:
		fmt.Println(value)
	}
	return nil
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for cookers",
	Example: `  # Five second scan on the local adapter
  anovactl scan

  # Scan through a relay and list everything it sees
  anovactl scan --relay http://kitchen-pi.local:5000 --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}

		found, err := s.scan(cmd.Context(), scanTimeout)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		if !scanAll {
			found = s.signature().Filter(found)
		}

		if jsonOutput {
			return output(found)
		}
		if len(found) == 0 {
			fmt.Println("No cookers found.")
			return nil
		}
		for i, adv := range found {
			fmt.Printf("%d. %s  %s  rssi %d\n", i+1, adv.Address, adv.Name, adv.RSSI)
		}
		return nil
	},
}

var relaysCmd = &cobra.Command{
	Use:   "relays",
	Short: "Find relays advertised on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		relays, err := mdns.Browse(cmd.Context(), scanTimeout)
		if err != nil {
			return err
		}
		if jsonOutput {
			return output(relays)
		}
		if len(relays) == 0 {
			fmt.Println("No relays found.")
			return nil
		}
		for _, r := range relays {
			fmt.Printf("%s  %s  %v\n", r.Instance, r.URL(), r.Text)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status ADDRESS",
	Short: "Print cooker status, temperatures, unit and timer",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, client *protocol.Client, args []string) (interface{}, error) {
		status, err := client.Status(ctx)
		if err != nil {
			return nil, err
		}
		current, err := client.CurrentTemperature(ctx)
		if err != nil {
			return nil, err
		}
		target, err := client.TargetTemperature(ctx)
		if err != nil {
			return nil, err
		}
		unit, err := client.Unit(ctx)
		if err != nil {
			return nil, err
		}
		timer, err := client.Timer(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"status":              status,
			"current_temperature": current,
			"target_temperature":  target,
			"unit":                unit,
			"timer":               timer.Minutes,
			"timer_running":       timer.Running,
		}, nil
	}),
}

var startCmd = &cobra.Command{
	Use:   "start ADDRESS",
	Short: "Start cooking",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, client *protocol.Client, args []string) (interface{}, error) {
		return nil, client.StartCooking(ctx)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop ADDRESS",
	Short: "Stop cooking",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, client *protocol.Client, args []string) (interface{}, error) {
		return nil, client.StopCooking(ctx)
	}),
}

var tempCmd = &cobra.Command{
	Use:   "temp ADDRESS",
	Short: "Print the water temperature",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, client *protocol.Client, args []string) (interface{}, error) {
		return client.CurrentTemperature(ctx)
	}),
}

var targetCmd = &cobra.Command{
	Use:   "target ADDRESS [TEMPERATURE]",
	Short: "Print or change the set point",
	Args:  cobra.RangeArgs(1, 2),
	Example: `  anovactl target 01:02:03:04:05:06
  anovactl target 01:02:03:04:05:06 56.5 --unit c`,
	RunE: withClient(func(ctx context.Context, client *protocol.Client, args []string) (interface{}, error) {
		if len(args) == 0 {
			return client.TargetTemperature(ctx)
		}

		value, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: temperature %q is not a number", command.ErrInvalidPayload, args[0])
		}
		var unit command.TemperatureUnit
		if targetUnit != "" {
			unit, err = command.ParseTemperatureUnit(targetUnit)
		} else {
			unit, err = client.Unit(ctx)
		}
		if err != nil {
			return nil, err
		}
		changed, err := client.SetTargetTemperature(ctx, value, unit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"changed_to": changed, "unit": unit}, nil
	}),
}

var sendCmd = &cobra.Command{
	Use:   "send ADDRESS FRAME",
	Short: "Send a raw command frame and print the reply",
	Args:  cobra.ExactArgs(2),
	Example: `  anovactl send 01:02:03:04:05:06 "read temp"`,
	RunE: withClient(func(ctx context.Context, client *protocol.Client, args []string) (interface{}, error) {
		return client.SendCommand(ctx, command.Raw(args[0]), 0)
	}),
}
