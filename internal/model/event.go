// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventDeviceDiscovered   EventType = "device_discovered"
	EventDeviceConnected    EventType = "device_connected"
	EventDeviceDisconnected EventType = "device_disconnected"
	EventDeviceState        EventType = "device_state"
	EventHeartbeatFailed    EventType = "heartbeat_failed"
	EventDeviceRemoved      EventType = "device_removed"
	EventCommandCompleted   EventType = "command_completed"
	EventPing               EventType = "ping"

	// EventAll subscribes to every event type
	EventAll EventType = "*"
)

// DeviceEvent represents an event in the system
type DeviceEvent struct {
	ID        uuid.UUID  `json:"id"`
	Type      EventType  `json:"event_type"`
	Address   string     `json:"address,omitempty"`
	Data      JSONObject `json:"data,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Source    string     `json:"source"`
}

// NewDeviceEvent builds an event stamped with a fresh id and the current time
func NewDeviceEvent(eventType EventType, address, source string, data JSONObject) DeviceEvent {
	return DeviceEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Address:   address,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}
