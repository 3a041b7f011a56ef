package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"hestia/config"
	"hestia/log"
	"hestia/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirebaseService backs the repository interfaces with the Firebase
// Realtime Database. Entities live under tasks/, devices/, rooms/ and
// users/ keyed by their IDs.
type FirebaseService struct {
	client *db.Client
	config *config.Config
	logger *zap.Logger
}

func NewFirebaseService(cfg *config.Config) (*FirebaseService, error) {
	logger := log.GetInstance()
	ctx := context.Background()

	// Parse the service account JSON from environment variable
	serviceAccountJSON := []byte(cfg.FirebaseServiceAccountJSON)

	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON(serviceAccountJSON)
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %v", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %v", err)
	}

	fs := &FirebaseService{
		client: client,
		config: cfg,
		logger: logger,
	}

	if err := fs.testConnection(); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %v", err)
	}

	return fs, nil
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseService) testConnection() error {
	ctx := context.Background()
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		ref := fs.client.NewRef("/")
		var data interface{}
		err := ref.Get(ctx, &data)

		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second) // Exponential backoff
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// GetTask fetches one task by ID.
func (fs *FirebaseService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := fs.client.NewRef("tasks/"+id).Get(ctx, &task); err != nil {
		return nil, fmt.Errorf("error reading task %s: %v", id, err)
	}
	if task.ID == "" {
		return nil, notFoundErr("task", id)
	}
	return &task, nil
}

// SaveTask creates or overwrites a task. A task without an ID is assigned
// one before writing.
func (fs *FirebaseService) SaveTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = time.Now()

	if err := fs.client.NewRef("tasks/"+task.ID).Set(ctx, task); err != nil {
		return fmt.Errorf("error saving task %s: %v", task.ID, err)
	}

	fs.logger.Debug("Task saved",
		zap.String("task_id", task.ID),
		zap.String("status", string(task.Status)))
	return nil
}

// ListSchedulableTasks returns every task still in a schedulable state.
func (fs *FirebaseService) ListSchedulableTasks(ctx context.Context) ([]*models.Task, error) {
	var all map[string]*models.Task
	if err := fs.client.NewRef("tasks").Get(ctx, &all); err != nil {
		return nil, fmt.Errorf("error reading tasks: %v", err)
	}

	tasks := make([]*models.Task, 0, len(all))
	for _, task := range all {
		if task == nil {
			continue
		}
		if task.Status == models.TaskScheduled || task.Status == models.TaskActive {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// ListUserTasks returns all tasks owned by a user.
func (fs *FirebaseService) ListUserTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	var all map[string]*models.Task
	if err := fs.client.NewRef("tasks").Get(ctx, &all); err != nil {
		return nil, fmt.Errorf("error reading tasks: %v", err)
	}

	tasks := make([]*models.Task, 0)
	for _, task := range all {
		if task != nil && task.UserID == userID {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// GetDevice fetches one device by ID.
func (fs *FirebaseService) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var device models.Device
	if err := fs.client.NewRef("devices/"+id).Get(ctx, &device); err != nil {
		return nil, fmt.Errorf("error reading device %s: %v", id, err)
	}
	if device.ID == "" {
		return nil, notFoundErr("device", id)
	}
	return &device, nil
}

// SaveDevice overwrites a device record.
func (fs *FirebaseService) SaveDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()
	if err := fs.client.NewRef("devices/"+device.ID).Set(ctx, device); err != nil {
		return fmt.Errorf("error saving device %s: %v", device.ID, err)
	}
	return nil
}

// ListRoomDevices returns a room's devices sorted by compact roster order.
func (fs *FirebaseService) ListRoomDevices(ctx context.Context, roomID string) ([]*models.Device, error) {
	var all map[string]*models.Device
	if err := fs.client.NewRef("devices").Get(ctx, &all); err != nil {
		return nil, fmt.Errorf("error reading devices: %v", err)
	}

	devices := make([]*models.Device, 0)
	for _, device := range all {
		if device != nil && device.RoomID == roomID {
			devices = append(devices, device)
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Order < devices[j].Order
	})
	return devices, nil
}

// GetRoom fetches one room by ID.
func (fs *FirebaseService) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := fs.client.NewRef("rooms/"+id).Get(ctx, &room); err != nil {
		return nil, fmt.Errorf("error reading room %s: %v", id, err)
	}
	if room.ID == "" {
		return nil, notFoundErr("room", id)
	}
	return &room, nil
}

// SetRoomESPConnected flips a room's ESP-connected flag.
func (fs *FirebaseService) SetRoomESPConnected(ctx context.Context, roomID string, connected bool) error {
	updates := map[string]interface{}{
		"espConnected": connected,
		"updatedAt":    time.Now(),
	}
	if err := fs.client.NewRef("rooms/"+roomID).Update(ctx, updates); err != nil {
		return fmt.Errorf("error updating room %s: %v", roomID, err)
	}

	fs.logger.Debug("Room ESP flag updated",
		zap.String("room_id", roomID),
		zap.Bool("connected", connected))
	return nil
}

// GetUser fetches one user by ID.
func (fs *FirebaseService) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := fs.client.NewRef("users/"+id).Get(ctx, &user); err != nil {
		return nil, fmt.Errorf("error reading user %s: %v", id, err)
	}
	if user.ID == "" {
		return nil, notFoundErr("user", id)
	}
	return &user, nil
}

// Close closes the Firebase connection
func (fs *FirebaseService) Close() error {
	fs.logger.Info("Closing Firebase service")
	// Firebase client doesn't require explicit closing but we log it
	return nil
}
