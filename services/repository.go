package services

import (
	"context"
	"errors"
	"fmt"

	"hestia/models"
)

// ErrNotFound is the sentinel wrapped by every repository when an entity
// does not exist. A missing task or device during a timer fire or message
// handle is a recoverable no-op, never fatal.
var ErrNotFound = errors.New("not found")

func notFoundErr(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

// TaskRepository is the narrow surface the core needs from the task store.
type TaskRepository interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	SaveTask(ctx context.Context, task *models.Task) error
	// ListSchedulableTasks returns tasks in the scheduled or active state;
	// callers filter by NextExecution themselves.
	ListSchedulableTasks(ctx context.Context) ([]*models.Task, error)
	ListUserTasks(ctx context.Context, userID string) ([]*models.Task, error)
}

// DeviceRepository reads and mutates device records.
type DeviceRepository interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	SaveDevice(ctx context.Context, device *models.Device) error
	// ListRoomDevices returns a room's devices ordered by their compact
	// roster order.
	ListRoomDevices(ctx context.Context, roomID string) ([]*models.Device, error)
}

// RoomRepository reads room records and flips the ESP-connected flag.
type RoomRepository interface {
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	SetRoomESPConnected(ctx context.Context, roomID string, connected bool) error
}

// UserRepository resolves task owners.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// ClientNotifier pushes state transitions to live human-facing clients.
// The concrete transport (websocket hub, SSE, ...) lives outside the core.
type ClientNotifier interface {
	DeviceStateChanged(device *models.Device)
	RoomESPConnectionChanged(roomID string, connected bool)
	TaskStatusChanged(task *models.Task, status, message string)
}

// PresenceChecker answers user_presence conditions. The concrete
// implementation lives outside the core.
type PresenceChecker interface {
	IsPresent(ctx context.Context, userID string) (bool, error)
}
