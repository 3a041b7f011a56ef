package services

import (
	"context"
	"fmt"
	"time"

	"hestia/models"

	"go.uber.org/zap"
)

// Notifier is the surface the scheduler and executor use to announce
// task events to humans.
type Notifier interface {
	NotifyUpcoming(ctx context.Context, task *models.Task)
	NotifyFailure(ctx context.Context, task *models.Task, message string)
}

// NotificationChannel delivers one notification job over a concrete
// channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, job *models.NotificationJob) error
}

// NotificationService fans one task event out to the channels named in
// the task's notification settings. Channels without a direct
// implementation (email, sms, push, webhook) are enqueued for external
// delivery workers through the fallback queue channel. Delivery is
// best-effort: channel errors are logged, never propagated.
type NotificationService struct {
	channels map[string]NotificationChannel
	fallback NotificationChannel
	logger   *zap.Logger
}

func NewNotificationService(fallback NotificationChannel, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		channels: make(map[string]NotificationChannel),
		fallback: fallback,
		logger:   logger,
	}
}

// RegisterChannel installs a directly-implemented channel.
func (ns *NotificationService) RegisterChannel(channel NotificationChannel) {
	ns.channels[channel.Name()] = channel
}

// NotifyUpcoming announces a task firing in the near future.
func (ns *NotificationService) NotifyUpcoming(ctx context.Context, task *models.Task) {
	if !task.Notifications.Enabled || task.NextExecution == nil {
		return
	}
	subject := fmt.Sprintf("Upcoming task: %s", taskLabel(task))
	body := fmt.Sprintf("Task %s runs at %s (in %d minutes).",
		taskLabel(task),
		task.NextExecution.In(task.Location()).Format("2006-01-02 15:04"),
		task.Notifications.BeforeExecutionMinutes)
	ns.dispatch(ctx, task, subject, body)
}

// NotifyFailure announces a failed task run.
func (ns *NotificationService) NotifyFailure(ctx context.Context, task *models.Task, message string) {
	if !task.Notifications.Enabled {
		return
	}
	subject := fmt.Sprintf("Task failed: %s", taskLabel(task))
	body := fmt.Sprintf("Task %s failed: %s", taskLabel(task), message)
	ns.dispatch(ctx, task, subject, body)
}

func (ns *NotificationService) dispatch(ctx context.Context, task *models.Task, subject, body string) {
	channelNames := task.Notifications.Channels
	if len(channelNames) == 0 {
		return
	}

	for _, name := range channelNames {
		job := &models.NotificationJob{
			TaskID:     task.ID,
			UserID:     task.UserID,
			Channel:    name,
			Recipients: task.Notifications.Recipients,
			Subject:    subject,
			Body:       body,
			Timestamp:  time.Now(),
		}

		channel := ns.channels[name]
		if channel == nil {
			channel = ns.fallback
		}
		if channel == nil {
			ns.logger.Warn("No channel available for notification",
				zap.String("task_id", task.ID),
				zap.String("channel", name))
			continue
		}

		if err := channel.Send(ctx, job); err != nil {
			ns.logger.Error("Failed to send notification",
				zap.String("task_id", task.ID),
				zap.String("channel", name),
				zap.Error(err))
		} else {
			ns.logger.Info("Notification sent",
				zap.String("task_id", task.ID),
				zap.String("channel", name))
		}
	}
}

func taskLabel(task *models.Task) string {
	if task.Name != "" {
		return task.Name
	}
	return task.ID
}
