package services

import (
	"context"

	"hestia/models"

	"go.uber.org/zap"
)

// LoggingClientNotifier stands in for the live-client transport, which
// is wired in by the embedding application. It records every transition
// so operators can follow fan-out without a client hub attached.
type LoggingClientNotifier struct {
	logger *zap.Logger
}

func NewLoggingClientNotifier(logger *zap.Logger) *LoggingClientNotifier {
	return &LoggingClientNotifier{logger: logger}
}

func (n *LoggingClientNotifier) DeviceStateChanged(device *models.Device) {
	n.logger.Debug("Client notify: device state",
		zap.String("device_id", device.ID),
		zap.String("status", device.Status))
}

func (n *LoggingClientNotifier) RoomESPConnectionChanged(roomID string, connected bool) {
	n.logger.Debug("Client notify: room ESP connection",
		zap.String("room_id", roomID),
		zap.Bool("connected", connected))
}

func (n *LoggingClientNotifier) TaskStatusChanged(task *models.Task, status, message string) {
	n.logger.Debug("Client notify: task status",
		zap.String("task_id", task.ID),
		zap.String("status", status))
}

// StubPresenceChecker reports every user as present. The real presence
// integration lives outside the core.
type StubPresenceChecker struct{}

func (StubPresenceChecker) IsPresent(ctx context.Context, userID string) (bool, error) {
	return true, nil
}
