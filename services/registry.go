package services

import (
	"sync"
	"time"

	"hestia/models"
)

// ESPMapping is the process-local record of one authenticated peripheral.
// It is intentionally non-durable: a restart drops every mapping and ESPs
// re-authenticate.
type ESPMapping struct {
	ESPID           string
	RoomID          string
	RoomName        string
	AuthenticatedAt time.Time
	Roster          []models.ESPRosterEntry
	LastUpdated     time.Time
}

// RegistryStats aggregates the registry for observability.
type RegistryStats struct {
	ESPCount         int
	ConnectedRooms   int
	TotalConnections int
}

// ESPRegistry is the bidirectional in-memory index of ESP identity to
// authenticated room roster, and room to connected-ESP set. The two maps
// are never exposed independently; every accessor keeps them in sync
// under one lock so they cannot drift.
type ESPRegistry struct {
	mu       sync.RWMutex
	mappings map[string]*ESPMapping       // espId -> mapping
	rooms    map[string]map[string]struct{} // roomId -> set of espId
}

func NewESPRegistry() *ESPRegistry {
	return &ESPRegistry{
		mappings: make(map[string]*ESPMapping),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Register records an authenticated ESP and adds it to its room's
// connection set. An ESP holds at most one mapping: re-authenticating to
// a different room moves it.
func (r *ESPRegistry) Register(mapping *ESPMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.mappings[mapping.ESPID]; ok && prev.RoomID != mapping.RoomID {
		r.removeFromRoom(prev.RoomID, mapping.ESPID)
	}

	mapping.LastUpdated = time.Now()
	r.mappings[mapping.ESPID] = mapping

	set, ok := r.rooms[mapping.RoomID]
	if !ok {
		set = make(map[string]struct{})
		r.rooms[mapping.RoomID] = set
	}
	set[mapping.ESPID] = struct{}{}
}

// Get returns a copy of the mapping for an ESP, if present.
func (r *ESPRegistry) Get(espID string) (*ESPMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mapping, ok := r.mappings[espID]
	if !ok {
		return nil, false
	}
	copied := *mapping
	copied.Roster = append([]models.ESPRosterEntry(nil), mapping.Roster...)
	return &copied, true
}

// UpdateRoster replaces the device roster of an authenticated ESP.
func (r *ESPRegistry) UpdateRoster(espID string, roster []models.ESPRosterEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	mapping, ok := r.mappings[espID]
	if !ok {
		return false
	}
	mapping.Roster = append([]models.ESPRosterEntry(nil), roster...)
	mapping.LastUpdated = time.Now()
	return true
}

// Remove drops an ESP's mapping and its room-set membership. It returns
// the room the ESP belonged to and whether that room now has no ESPs
// left, so the caller can flip the room's connected flag exactly once.
// Removing an unknown ESP is a no-op.
func (r *ESPRegistry) Remove(espID string) (roomID string, roomEmpty bool, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mapping, ok := r.mappings[espID]
	if !ok {
		return "", false, false
	}
	delete(r.mappings, espID)
	empty := r.removeFromRoom(mapping.RoomID, espID)
	return mapping.RoomID, empty, true
}

// removeFromRoom must be called with the lock held. Returns true when the
// room's connection set became empty.
func (r *ESPRegistry) removeFromRoom(roomID, espID string) bool {
	set, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	delete(set, espID)
	if len(set) == 0 {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

// RoomHasConnections reports whether a room has at least one ESP.
func (r *ESPRegistry) RoomHasConnections(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID]) > 0
}

// RoomESPs returns the ESP IDs connected to a room.
func (r *ESPRegistry) RoomESPs(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		ids = append(ids, id)
	}
	return ids
}

// Stats aggregates registry counts.
func (r *ESPRegistry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.rooms {
		total += len(set)
	}
	return RegistryStats{
		ESPCount:         len(r.mappings),
		ConnectedRooms:   len(r.rooms),
		TotalConnections: total,
	}
}
