package services

import (
	"testing"
	"time"

	"hestia/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMapping(espID, roomID string) *ESPMapping {
	return &ESPMapping{
		ESPID:           espID,
		RoomID:          roomID,
		RoomName:        "Room " + roomID,
		AuthenticatedAt: time.Now(),
		Roster: []models.ESPRosterEntry{
			{Order: 1, DeviceID: "dev-1", DeviceName: "Lamp", CurrentState: "off"},
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewESPRegistry()
	reg.Register(testMapping("esp-1", "room-1"))

	mapping, ok := reg.Get("esp-1")
	require.True(t, ok)
	assert.Equal(t, "room-1", mapping.RoomID)
	require.Len(t, mapping.Roster, 1)

	// Get hands out a copy: mutating it must not leak into the registry.
	mapping.Roster[0].CurrentState = "on"
	again, ok := reg.Get("esp-1")
	require.True(t, ok)
	assert.Equal(t, "off", again.Roster[0].CurrentState)

	_, ok = reg.Get("esp-unknown")
	assert.False(t, ok)
}

func TestRegistryReauthMovesESPBetweenRooms(t *testing.T) {
	reg := NewESPRegistry()
	reg.Register(testMapping("esp-1", "room-1"))
	reg.Register(testMapping("esp-1", "room-2"))

	mapping, ok := reg.Get("esp-1")
	require.True(t, ok)
	assert.Equal(t, "room-2", mapping.RoomID)

	assert.False(t, reg.RoomHasConnections("room-1"))
	assert.True(t, reg.RoomHasConnections("room-2"))

	stats := reg.Stats()
	assert.Equal(t, 1, stats.ESPCount)
	assert.Equal(t, 1, stats.ConnectedRooms)
	assert.Equal(t, 1, stats.TotalConnections)
}

func TestRegistryRemove(t *testing.T) {
	reg := NewESPRegistry()
	reg.Register(testMapping("esp-1", "room-1"))
	reg.Register(testMapping("esp-2", "room-1"))

	roomID, roomEmpty, existed := reg.Remove("esp-1")
	assert.Equal(t, "room-1", roomID)
	assert.False(t, roomEmpty, "one ESP still connected")
	assert.True(t, existed)

	roomID, roomEmpty, existed = reg.Remove("esp-2")
	assert.Equal(t, "room-1", roomID)
	assert.True(t, roomEmpty, "last ESP left the room")
	assert.True(t, existed)

	// Removing again is a no-op.
	_, roomEmpty, existed = reg.Remove("esp-2")
	assert.False(t, roomEmpty)
	assert.False(t, existed)

	assert.False(t, reg.RoomHasConnections("room-1"))
}

func TestRegistryUpdateRoster(t *testing.T) {
	reg := NewESPRegistry()
	reg.Register(testMapping("esp-1", "room-1"))

	updated := []models.ESPRosterEntry{
		{Order: 1, DeviceID: "dev-1", DeviceName: "Lamp", CurrentState: "on"},
		{Order: 2, DeviceID: "dev-2", DeviceName: "Fan", CurrentState: "off"},
	}
	require.True(t, reg.UpdateRoster("esp-1", updated))

	mapping, ok := reg.Get("esp-1")
	require.True(t, ok)
	require.Len(t, mapping.Roster, 2)
	assert.Equal(t, "on", mapping.Roster[0].CurrentState)

	assert.False(t, reg.UpdateRoster("esp-unknown", updated))
}

func TestRegistryRoomESPs(t *testing.T) {
	reg := NewESPRegistry()
	reg.Register(testMapping("esp-1", "room-1"))
	reg.Register(testMapping("esp-2", "room-1"))
	reg.Register(testMapping("esp-3", "room-2"))

	assert.ElementsMatch(t, []string{"esp-1", "esp-2"}, reg.RoomESPs("room-1"))
	assert.ElementsMatch(t, []string{"esp-3"}, reg.RoomESPs("room-2"))
	assert.Empty(t, reg.RoomESPs("room-3"))

	stats := reg.Stats()
	assert.Equal(t, 3, stats.ESPCount)
	assert.Equal(t, 2, stats.ConnectedRooms)
	assert.Equal(t, 3, stats.TotalConnections)
}
