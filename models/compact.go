package models

import (
	"fmt"
	"time"
)

// ValidationError marks malformed wire input or a bad action value. It is
// surfaced to the caller as a structured failure response, never thrown
// past a handler boundary.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// CompactStateOn and CompactStateOff are the state indicators of the
// 2-character compact token understood by ESP peripherals.
const (
	CompactStateOn  = '1'
	CompactStateOff = '0'
)

// EncodeCompactState builds the 2-character token "<order><0|1>" for a
// device order and on/off state. Order must be a single digit; the caller
// enforces the configured roster bound.
func EncodeCompactState(order int, on bool) string {
	state := CompactStateOff
	if on {
		state = CompactStateOn
	}
	return fmt.Sprintf("%d%c", order, state)
}

// DecodeCompactState parses a compact token back into (order, on). The
// token must be exactly 2 characters, the order within [1, maxOrder] and
// the state indicator '0' or '1'. Whatever EncodeCompactState emits must
// decode back to the same pair.
func DecodeCompactState(token string, maxOrder int) (int, bool, error) {
	if len(token) != 2 {
		return 0, false, NewValidationError("compact state must be exactly 2 characters, got %q", token)
	}

	order := int(token[0] - '0')
	if order < 1 || order > maxOrder {
		return 0, false, NewValidationError("device order must be between 1 and %d, got %q", maxOrder, token[0])
	}

	switch token[1] {
	case CompactStateOn:
		return order, true, nil
	case CompactStateOff:
		return order, false, nil
	default:
		return 0, false, NewValidationError("state indicator must be '0' or '1', got %q", token[1])
	}
}

// DeviceStatePayload travels on home-automation/{deviceId}/state.
type DeviceStatePayload struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStatusPayload travels on home-automation/{deviceId}/status.
type DeviceStatusPayload struct {
	Status string `json:"status"` // "online" | "offline"
}

// TaskStatusMessage travels on home-automation/{deviceId}/task.
type TaskStatusMessage struct {
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status"` // "executed" | "failed"
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomDeviceUpdate is one entry of a room-level bulk state message.
type RoomDeviceUpdate struct {
	DeviceID string `json:"deviceId"`
	State    string `json:"state"`
}

// RoomStatePayload travels on home-automation/room/{roomId}/state.
type RoomStatePayload struct {
	Updates   []RoomDeviceUpdate `json:"updates"`
	Timestamp time.Time          `json:"timestamp"`
}

// ESPAuthRequest is the payload an ESP sends to join a room.
type ESPAuthRequest struct {
	RoomID       string `json:"roomId"`
	RoomPassword string `json:"roomPassword,omitempty"`
}

// ESPRosterEntry describes one device slot in an authenticated ESP's roster.
type ESPRosterEntry struct {
	Order        int    `json:"order"`
	DeviceID     string `json:"deviceId"`
	DeviceName   string `json:"deviceName"`
	CurrentState string `json:"currentState"`
}

// ESPAuthResponse travels on home-automation/esp/{espId}/auth/response.
type ESPAuthResponse struct {
	Success          bool             `json:"success"`
	RoomID           string           `json:"roomId,omitempty"`
	RoomName         string           `json:"roomName,omitempty"`
	AvailableDevices []ESPRosterEntry `json:"availableDevices,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// CompactStatePayload is the JSON form of an inbound compact message; the
// raw 2-character token is equally accepted.
type CompactStatePayload struct {
	CompactState string `json:"compactState"`
}

// CompactStateResponse travels on home-automation/esp/{espId}/compact-state/response.
type CompactStateResponse struct {
	Success     bool   `json:"success"`
	DeviceOrder int    `json:"deviceOrder,omitempty"`
	NewState    string `json:"newState,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ESPStateUpdate travels on home-automation/esp/room/{roomId}/state-update.
type ESPStateUpdate struct {
	DeviceID     string    `json:"deviceId"`
	DeviceOrder  int       `json:"deviceOrder"`
	State        string    `json:"state"`
	CompactState string    `json:"compactState"`
	Timestamp    time.Time `json:"timestamp"`
}

// ESPBulkEntry is one device of an ESP bulk update.
type ESPBulkEntry struct {
	DeviceID     string `json:"deviceId"`
	DeviceOrder  int    `json:"deviceOrder"`
	State        string `json:"state"`
	CompactState string `json:"compactState"`
}

// ESPBulkUpdate travels on home-automation/esp/room/{roomId}/bulk-update.
type ESPBulkUpdate struct {
	RoomID    string         `json:"roomId"`
	Updates   []ESPBulkEntry `json:"updates"`
	Timestamp time.Time      `json:"timestamp"`
}

// ESPTaskUpdate travels on home-automation/esp/room/{roomId}/task-update.
type ESPTaskUpdate struct {
	TaskID      string    `json:"taskId"`
	DeviceID    string    `json:"deviceId"`
	DeviceOrder int       `json:"deviceOrder"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NotificationJob is the persistent message enqueued for external
// delivery workers (email/SMS/push/webhook channels).
type NotificationJob struct {
	TaskID     string    `json:"taskId"`
	UserID     string    `json:"userId"`
	Channel    string    `json:"channel"`
	Recipients []string  `json:"recipients,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}
