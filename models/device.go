package models

import "time"

// DeviceType describes what kind of peripheral a device is.
type DeviceType string

const (
	DeviceLight      DeviceType = "light"
	DeviceThermostat DeviceType = "thermostat"
	DeviceSpeaker    DeviceType = "speaker"
	DeviceSensor     DeviceType = "sensor"
	DeviceSwitch     DeviceType = "switch"
	DeviceOther      DeviceType = "other"
)

// Device is one controllable or sensing unit inside a room.
type Device struct {
	ID     string     `json:"id"`
	RoomID string     `json:"roomId"`
	Name   string     `json:"name"`
	Type   DeviceType `json:"type"`
	// Order is the 1-based slot this device occupies in its room's
	// compact-protocol roster.
	Order  int    `json:"order"`
	Status string `json:"status"` // "on", "off", "online", "offline", ...

	// Live readings, populated for sensor-capable devices.
	Temperature float64 `json:"temperature,omitempty"`
	Humidity    float64 `json:"humidity,omitempty"`
	Motion      bool    `json:"motion,omitempty"`
	LightLevel  float64 `json:"lightLevel,omitempty"`

	// Adjustable outputs.
	TargetTemperature float64 `json:"targetTemperature,omitempty"`
	Brightness        int     `json:"brightness,omitempty"`
	Color             string  `json:"color,omitempty"`
	Volume            int     `json:"volume,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// IsOn reports whether the device's status is an "on" state.
func (d *Device) IsOn() bool {
	return d.Status == "on" || d.Status == "online"
}

// Room is a named collection of devices with zero or more connected ESPs.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Password is a shared room secret checked during ESP auth. Empty
	// means any peripheral may join.
	Password     string    `json:"password,omitempty"`
	ESPConnected bool      `json:"espConnected"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// User owns tasks and carries the timezone their schedules run in.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}
