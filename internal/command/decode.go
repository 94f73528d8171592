package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// statusMarker flags replies that embed a reading inside a status line
const statusMarker = "status"

// DecodeError reports a reply that does not fit the command's expected shape
type DecodeError struct {
	Kind Kind
	Raw  string
	Err  error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("could not decode response %q", e.Raw)
	if e.Kind != "" {
		msg = fmt.Sprintf("could not decode %s response %q", e.Kind, e.Raw)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeError(raw string, err error) *DecodeError {
	return &DecodeError{Raw: raw, Err: err}
}

// DeviceStatus is the cooker state reported by "status"
type DeviceStatus string

const (
	StatusRunning        DeviceStatus = "running"
	StatusStopped        DeviceStatus = "stopped"
	StatusLowWater       DeviceStatus = "low water"
	StatusHeaterError    DeviceStatus = "heater error"
	StatusPowerInterrupt DeviceStatus = "power interrupt"
)

var statusVariants = []struct {
	tokens []string
	status DeviceStatus
}{
	{[]string{"running"}, StatusRunning},
	{[]string{"started"}, StatusRunning},
	{[]string{"stopped"}, StatusStopped},
	{[]string{"low", "water"}, StatusLowWater},
	{[]string{"heater", "error"}, StatusHeaterError},
	{[]string{"power", "interrupt"}, StatusPowerInterrupt},
}

// IsRunning reports whether the heater is circulating
func (s DeviceStatus) IsRunning() bool {
	return s == StatusRunning
}

// DecodeStatus reads the state from the start of the reply, case-insensitively.
// A leading "status" or "status:" label and any trailing fields are ignored;
// a reply that does not open with a state is a DecodeError.
func DecodeStatus(raw string) (DeviceStatus, error) {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) > 0 && strings.TrimSuffix(fields[0], ":") == statusMarker {
		fields = fields[1:]
	}
	for _, variant := range statusVariants {
		if hasPrefix(fields, variant.tokens) {
			return variant.status, nil
		}
	}
	return "", decodeError(raw, fmt.Errorf("unknown device status"))
}

func hasPrefix(fields, tokens []string) bool {
	if len(fields) < len(tokens) {
		return false
	}
	for i, token := range tokens {
		if fields[i] != token {
			return false
		}
	}
	return true
}

// DecodeTemperature handles readings that may be wrapped in a status line:
// with the marker present the first float token wins, otherwise the whole
// trimmed text must be a number.
func DecodeTemperature(raw string) (float64, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if !strings.Contains(text, statusMarker) {
		return DecodeFloat(raw)
	}
	for _, token := range strings.Fields(text) {
		if value, ok := parseFloat(token); ok {
			return value, nil
		}
	}
	return 0, decodeError(raw, fmt.Errorf("no numeric token"))
}

// DecodeFloat parses the whole trimmed reply as a number
func DecodeFloat(raw string) (float64, error) {
	value, ok := parseFloat(strings.TrimSpace(raw))
	if !ok {
		return 0, decodeError(raw, fmt.Errorf("not a number"))
	}
	return value, nil
}

func parseFloat(s string) (float64, bool) {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

// DecodeInt parses the whole trimmed reply as an integer
func DecodeInt(raw string) (int, error) {
	text := strings.TrimSpace(raw)
	value, err := strconv.Atoi(text)
	if err != nil {
		// Some firmware echoes "set timer 30"
		fields := strings.Fields(text)
		if len(fields) == 0 {
			return 0, decodeError(raw, err)
		}
		if value, err = strconv.Atoi(fields[len(fields)-1]); err != nil {
			return 0, decodeError(raw, err)
		}
	}
	return value, nil
}

// TemperatureUnit is the display unit of the appliance
type TemperatureUnit string

const (
	UnitCelsius    TemperatureUnit = "c"
	UnitFahrenheit TemperatureUnit = "f"
)

// Valid reports whether the unit is one the appliance understands
func (u TemperatureUnit) Valid() bool {
	return u == UnitCelsius || u == UnitFahrenheit
}

// ParseTemperatureUnit accepts "c", "f" and the spelled-out names
func ParseTemperatureUnit(s string) (TemperatureUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "celsius":
		return UnitCelsius, nil
	case "f", "fahrenheit":
		return UnitFahrenheit, nil
	default:
		return "", fmt.Errorf("%w: unknown unit %q", ErrInvalidPayload, s)
	}
}

// DecodeUnit parses a unit reply
func DecodeUnit(raw string) (TemperatureUnit, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", decodeError(raw, fmt.Errorf("empty unit"))
	}
	unit, err := ParseTemperatureUnit(fields[len(fields)-1])
	if err != nil {
		return "", decodeError(raw, err)
	}
	return unit, nil
}

// Temperature limits per unit
var temperatureRanges = map[TemperatureUnit][2]float64{
	UnitCelsius:    {0, 99.9},
	UnitFahrenheit: {32, 211.8},
}

// ValidateTemperature checks a set point against the unit's range
func ValidateTemperature(value float64, unit TemperatureUnit) error {
	limits, ok := temperatureRanges[unit]
	if !ok {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidPayload, unit)
	}
	if math.IsNaN(value) || value < limits[0] || value > limits[1] {
		return fmt.Errorf("%w: %v%s outside %v..%v", ErrInvalidPayload, value, strings.ToUpper(string(unit)), limits[0], limits[1])
	}
	return nil
}

// FormatTemperature renders a set point with one decimal place
func FormatTemperature(value float64) string {
	return decimal.NewFromFloat(value).Round(1).StringFixed(1)
}

// MaxTimerMinutes is the longest cook timer the appliance accepts
const MaxTimerMinutes = 6000

// TimerStatus is the reply to "read timer"
type TimerStatus struct {
	Minutes int  `json:"minutes"`
	Running bool `json:"running"`
}

// DecodeTimer parses "<minutes> running|stopped"
func DecodeTimer(raw string) (TimerStatus, error) {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 0 {
		return TimerStatus{}, decodeError(raw, fmt.Errorf("empty timer"))
	}
	minutes, err := strconv.Atoi(fields[0])
	if err != nil {
		return TimerStatus{}, decodeError(raw, err)
	}
	status := TimerStatus{Minutes: minutes}
	if len(fields) > 1 {
		switch fields[1] {
		case "running", "started":
			status.Running = true
		case "stopped":
		default:
			return TimerStatus{}, decodeError(raw, fmt.Errorf("unknown timer state %q", fields[1]))
		}
	}
	return status, nil
}

// DecodeAck accepts any non-empty reply that is not a rejection
func DecodeAck(raw string) (bool, error) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return false, decodeError(raw, fmt.Errorf("empty acknowledgement"))
	}
	if strings.Contains(text, "invalid") {
		return false, decodeError(raw, fmt.Errorf("command rejected"))
	}
	return true, nil
}

// DecodeSwitch parses an on/off reply, using its last token
func DecodeSwitch(raw string) (bool, error) {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 0 {
		return false, decodeError(raw, fmt.Errorf("empty switch state"))
	}
	switch fields[len(fields)-1] {
	case "on", "true", "1", "enabled":
		return true, nil
	case "off", "false", "0", "disabled":
		return false, nil
	default:
		return false, decodeError(raw, fmt.Errorf("unknown switch state"))
	}
}

// DecodeText returns the trimmed reply
func DecodeText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", decodeError(raw, fmt.Errorf("empty text"))
	}
	return text, nil
}

// SecretKeyLength is the length of a pairing secret
const SecretKeyLength = 10

// ValidSecretKey reports whether key is SecretKeyLength lowercase alphanumerics
func ValidSecretKey(key string) bool {
	if len(key) != SecretKeyLength {
		return false
	}
	for _, r := range key {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
