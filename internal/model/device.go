// internal/model/device.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TransportMode represents how the appliance is reached
type TransportMode string

const (
	TransportDirect TransportMode = "direct"
	TransportRelay  TransportMode = "relay"
)

// ConnectionState represents the lifecycle of a protocol client
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateExchanging   ConnectionState = "exchanging"
)

// Identity is the channel address of an appliance plus its advertised name.
// Address is opaque: a BLE MAC/UUID, a serial port path or a relay-side address.
type Identity struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

func (i Identity) String() string {
	if i.Name == "" {
		return i.Address
	}
	return fmt.Sprintf("%s (%s)", i.Name, i.Address)
}

// Advertisement is what a scan observed for one advertising channel
type Advertisement struct {
	Address      string   `json:"address"`
	Name         string   `json:"name"`
	RSSI         int      `json:"rssi"`
	ServiceUUIDs []string `json:"service_uuids"`
}

// Identity returns the channel identity of the advertisement
func (a Advertisement) Identity() Identity {
	return Identity{Address: a.Address, Name: a.Name}
}

// DeviceRecord is the persisted and API-visible view of a tracked appliance
type DeviceRecord struct {
	Address           string        `json:"address" db:"address"`
	Name              string        `json:"name" db:"name"`
	Transport         TransportMode `json:"transport" db:"transport"`
	Status            string        `json:"status,omitempty" db:"status"`
	TargetTemperature *float64      `json:"target_temperature,omitempty" db:"target_temperature"`
	Unit              string        `json:"unit,omitempty" db:"unit"`
	Failures          int           `json:"consecutive_failures" db:"consecutive_failures"`
	Metadata          JSONObject    `json:"metadata,omitempty" db:"metadata"`
	LastSeen          *time.Time    `json:"last_seen,omitempty" db:"last_seen"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// Identity returns the channel identity of the record
func (r *DeviceRecord) Identity() Identity {
	return Identity{Address: r.Address, Name: r.Name}
}

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported JSONObject source %T", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}
