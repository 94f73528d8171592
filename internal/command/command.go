// Package command defines the Anova text command set: how each command is
// framed on the wire, whether it may travel over BLE, and how the device's
// reply is turned into a typed value.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxFrameLength is the longest ordinary request frame, excluding the delimiter
	MaxFrameLength = 20
	// MaxProvisioningFrameLength bounds frames that carry user supplied strings
	MaxProvisioningFrameLength = 64

	DefaultServerHost = "pc.anovaculinary.com"
	DefaultServerPort = 8080
)

var (
	ErrFrameTooLong   = errors.New("frame exceeds maximum length")
	ErrInvalidFrame   = errors.New("frame contains a line terminator")
	ErrUnknownKind    = errors.New("unknown command kind")
	ErrInvalidPayload = errors.New("invalid command payload")
)

// Kind tags a Command. KindRaw marks a verbatim frame, every other kind is typed.
type Kind string

const (
	KindRaw                   Kind = "raw"
	KindGetStatus             Kind = "get_status"
	KindStart                 Kind = "start"
	KindStop                  Kind = "stop"
	KindGetCurrentTemperature Kind = "get_current_temperature"
	KindGetTargetTemperature  Kind = "get_target_temperature"
	KindSetTargetTemperature  Kind = "set_target_temperature"
	KindGetTemperatureUnit    Kind = "get_temperature_unit"
	KindSetTemperatureUnit    Kind = "set_temperature_unit"
	KindGetTimer              Kind = "get_timer"
	KindSetTimer              Kind = "set_timer"
	KindStartTimer            Kind = "start_timer"
	KindStopTimer             Kind = "stop_timer"
	KindClearAlarm            Kind = "clear_alarm"
	KindGetIDCard             Kind = "get_id_card"
	KindGetVersion            Kind = "get_version"
	KindGetSpeakerStatus      Kind = "get_speaker_status"
	KindSetWifiCredentials    Kind = "set_wifi_credentials"
	KindSetServerInfo         Kind = "set_server_info"
	KindSetSecretKey          Kind = "set_secret_key"
	KindGetSecretKey          Kind = "get_secret_key"
)

// DecodeFunc maps a stripped device reply to a typed value
type DecodeFunc func(raw string) (any, error)

type definition struct {
	verb   string
	suffix string
	args   int
	ble    bool
	maxLen int
	decode DecodeFunc
}

var definitions = map[Kind]definition{
	KindGetStatus:             {verb: "status", ble: true, decode: wrap(DecodeStatus)},
	KindStart:                 {verb: "start", ble: true, decode: wrap(DecodeAck)},
	KindStop:                  {verb: "stop", ble: true, decode: wrap(DecodeAck)},
	KindGetCurrentTemperature: {verb: "read temp", ble: true, decode: wrap(DecodeTemperature)},
	KindGetTargetTemperature:  {verb: "read set temp", ble: true, decode: wrap(DecodeTemperature)},
	KindSetTargetTemperature:  {verb: "set temp", args: 1, ble: true, decode: wrap(DecodeFloat)},
	KindGetTemperatureUnit:    {verb: "read unit", ble: true, decode: wrap(DecodeUnit)},
	KindSetTemperatureUnit:    {verb: "set unit", args: 1, ble: true, decode: wrap(DecodeUnit)},
	KindGetTimer:              {verb: "read timer", ble: true, decode: wrap(DecodeTimer)},
	KindSetTimer:              {verb: "set timer", args: 1, ble: true, decode: wrap(DecodeInt)},
	KindStartTimer:            {verb: "start time", ble: true, decode: wrap(DecodeAck)},
	KindStopTimer:             {verb: "stop time", ble: true, decode: wrap(DecodeAck)},
	KindClearAlarm:            {verb: "clear alarm", ble: true, decode: wrap(DecodeAck)},
	KindGetIDCard:             {verb: "get id card", ble: true, decode: wrap(DecodeText)},
	KindGetVersion:            {verb: "version", ble: true, decode: wrap(DecodeText)},
	KindGetSpeakerStatus:      {verb: "speaker status", ble: true, decode: wrap(DecodeSwitch)},
	KindSetWifiCredentials: {
		verb: "wifi para 2", suffix: "WPA2PSK AES", args: 2, ble: true,
		maxLen: MaxProvisioningFrameLength, decode: wrap(DecodeAck),
	},
	KindSetServerInfo: {
		verb: "server para", args: 2, ble: true,
		maxLen: MaxProvisioningFrameLength, decode: wrap(DecodeAck),
	},
	KindSetSecretKey: {
		verb: "set number", args: 1, ble: true,
		maxLen: MaxProvisioningFrameLength, decode: wrap(DecodeAck),
	},
	// The secret key is only readable over the authenticated Wi-Fi channel
	KindGetSecretKey: {verb: "get number", ble: false, decode: wrap(DecodeText)},
}

func wrap[T any](fn func(string) (T, error)) DecodeFunc {
	return func(raw string) (any, error) {
		return fn(raw)
	}
}

// Command is an immutable request: either a typed command (kind plus payload)
// or a raw frame sent verbatim.
type Command struct {
	kind Kind
	args []string
}

// Raw builds a verbatim frame command whose reply is returned as text
func Raw(frame string) Command {
	return Command{kind: KindRaw, args: []string{frame}}
}

// New builds a typed command from its kind and string payload
func New(kind Kind, args ...string) (Command, error) {
	if kind == KindRaw {
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: raw takes exactly one frame", ErrInvalidPayload)
		}
		return Raw(args[0]), nil
	}
	def, ok := definitions[kind]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if len(args) != def.args {
		return Command{}, fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrInvalidPayload, kind, def.args, len(args))
	}
	for _, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\r\n") {
			return Command{}, fmt.Errorf("%w: %s argument %q must be a single non-empty word", ErrInvalidPayload, kind, arg)
		}
	}
	return Command{kind: kind, args: append([]string(nil), args...)}, nil
}

func simple(kind Kind) Command {
	return Command{kind: kind}
}

func GetStatus() Command { return simple(KindGetStatus) }
func StartCooking() Command { return simple(KindStart) }
func StopCooking() Command { return simple(KindStop) }
func GetCurrentTemperature() Command { return simple(KindGetCurrentTemperature) }
func GetTargetTemperature() Command { return simple(KindGetTargetTemperature) }
func GetTemperatureUnit() Command { return simple(KindGetTemperatureUnit) }
func GetTimer() Command { return simple(KindGetTimer) }
func StartTimer() Command { return simple(KindStartTimer) }
func StopTimer() Command { return simple(KindStopTimer) }
func ClearAlarm() Command { return simple(KindClearAlarm) }
func GetIDCard() Command { return simple(KindGetIDCard) }
func GetVersion() Command { return simple(KindGetVersion) }
func GetSpeakerStatus() Command { return simple(KindGetSpeakerStatus) }
func GetSecretKey() Command { return simple(KindGetSecretKey) }

// SetTargetTemperature validates the set point against the unit's range
func SetTargetTemperature(value float64, unit TemperatureUnit) (Command, error) {
	if err := ValidateTemperature(value, unit); err != nil {
		return Command{}, err
	}
	return New(KindSetTargetTemperature, FormatTemperature(value))
}

// SetTemperatureUnit switches the display unit
func SetTemperatureUnit(unit TemperatureUnit) (Command, error) {
	if !unit.Valid() {
		return Command{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidPayload, unit)
	}
	return New(KindSetTemperatureUnit, string(unit))
}

// SetTimer sets the cook timer in minutes
func SetTimer(minutes int) (Command, error) {
	if minutes < 0 || minutes > MaxTimerMinutes {
		return Command{}, fmt.Errorf("%w: timer must be between 0 and %d minutes", ErrInvalidPayload, MaxTimerMinutes)
	}
	return New(KindSetTimer, strconv.Itoa(minutes))
}

// SetWifiCredentials pushes WPA2 network credentials to the appliance
func SetWifiCredentials(ssid, password string) (Command, error) {
	return New(KindSetWifiCredentials, ssid, password)
}

// SetServerInfo points the appliance's Wi-Fi client at a server
func SetServerInfo(host string, port int) (Command, error) {
	if port < 1 || port > 65535 {
		return Command{}, fmt.Errorf("%w: port %d out of range", ErrInvalidPayload, port)
	}
	return New(KindSetServerInfo, host, strconv.Itoa(port))
}

// RestoreServerInfo points the appliance back at the vendor cloud
func RestoreServerInfo() Command {
	cmd, _ := SetServerInfo(DefaultServerHost, DefaultServerPort)
	return cmd
}

// SetSecretKey installs a new pairing secret
func SetSecretKey(key string) (Command, error) {
	if !ValidSecretKey(key) {
		return Command{}, fmt.Errorf("%w: secret key must be %d lowercase alphanumerics", ErrInvalidPayload, SecretKeyLength)
	}
	return New(KindSetSecretKey, key)
}

// Kind returns the command's tag
func (c Command) Kind() Kind {
	return c.kind
}

// IsRaw reports whether the command is a verbatim frame
func (c Command) IsRaw() bool {
	return c.kind == KindRaw
}

// SupportsBLE reports whether the command may be sent over the wireless link
func (c Command) SupportsBLE() bool {
	if c.IsRaw() {
		return true
	}
	def, ok := definitions[c.kind]
	return ok && def.ble
}

// Encode renders the frame without its delimiter
func (c Command) Encode() (string, error) {
	var (
		frame  string
		maxLen = MaxFrameLength
	)

	if c.IsRaw() {
		frame = strings.TrimSpace(c.args[0])
		maxLen = MaxProvisioningFrameLength
	} else {
		def, ok := definitions[c.kind]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownKind, c.kind)
		}
		parts := append([]string{def.verb}, c.args...)
		if def.suffix != "" {
			parts = append(parts, def.suffix)
		}
		frame = strings.Join(parts, " ")
		if def.maxLen > 0 {
			maxLen = def.maxLen
		}
	}

	if frame == "" {
		return "", fmt.Errorf("%w: empty frame", ErrInvalidPayload)
	}
	if strings.ContainsAny(frame, "\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFrame, frame)
	}
	if len(frame) > maxLen {
		return "", fmt.Errorf("%w: %q is %d bytes, limit %d", ErrFrameTooLong, frame, len(frame), maxLen)
	}
	return frame, nil
}

// Decode maps a stripped reply to the command's typed result. Raw frames
// return the text unchanged.
func (c Command) Decode(raw string) (any, error) {
	return Decode(c.kind, raw)
}

// Decode dispatches on the kind tag
func Decode(kind Kind, raw string) (any, error) {
	if kind == KindRaw {
		return raw, nil
	}
	def, ok := definitions[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	value, err := def.decode(raw)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) && decodeErr.Kind == "" {
			decodeErr.Kind = kind
		}
		return nil, err
	}
	return value, nil
}

// String renders the frame for logs, falling back to the kind
func (c Command) String() string {
	frame, err := c.Encode()
	if err != nil {
		return string(c.kind)
	}
	return frame
}

// Kinds lists every typed command kind
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(definitions))
	for kind := range definitions {
		kinds = append(kinds, kind)
	}
	return kinds
}
