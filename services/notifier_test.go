package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"hestia/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChannel struct {
	name string
	jobs []*models.NotificationJob
	err  error
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(_ context.Context, job *models.NotificationJob) error {
	c.jobs = append(c.jobs, job)
	return c.err
}

func notifiableTask(channels ...string) *models.Task {
	next := time.Now().Add(30 * time.Minute)
	return &models.Task{
		ID:            "t1",
		UserID:        "user-1",
		Name:          "Evening lights",
		NextExecution: &next,
		Notifications: models.NotificationSettings{
			Enabled:                true,
			Recipients:             []string{"alice@example.com"},
			BeforeExecutionMinutes: 30,
			OnFailure:              true,
			Channels:               channels,
		},
	}
}

func TestNotifyUpcomingRoutesToRegisteredChannel(t *testing.T) {
	telegram := &fakeChannel{name: "telegram"}
	queue := &fakeChannel{name: "queue"}
	ns := NewNotificationService(queue, zap.NewNop())
	ns.RegisterChannel(telegram)

	ns.NotifyUpcoming(context.Background(), notifiableTask("telegram"))

	require.Len(t, telegram.jobs, 1)
	assert.Empty(t, queue.jobs)

	job := telegram.jobs[0]
	assert.Equal(t, "t1", job.TaskID)
	assert.Equal(t, "telegram", job.Channel)
	assert.Equal(t, []string{"alice@example.com"}, job.Recipients)
	assert.Contains(t, job.Subject, "Evening lights")
}

func TestNotifyUpcomingFallsBackToQueue(t *testing.T) {
	queue := &fakeChannel{name: "queue"}
	ns := NewNotificationService(queue, zap.NewNop())

	// Email has no direct implementation: it is enqueued for external
	// delivery workers.
	ns.NotifyUpcoming(context.Background(), notifiableTask("email", "sms"))

	require.Len(t, queue.jobs, 2)
	assert.Equal(t, "email", queue.jobs[0].Channel)
	assert.Equal(t, "sms", queue.jobs[1].Channel)
}

func TestNotifyFailure(t *testing.T) {
	telegram := &fakeChannel{name: "telegram"}
	ns := NewNotificationService(nil, zap.NewNop())
	ns.RegisterChannel(telegram)

	ns.NotifyFailure(context.Background(), notifiableTask("telegram"), "device vanished")

	require.Len(t, telegram.jobs, 1)
	assert.Contains(t, telegram.jobs[0].Body, "device vanished")
}

func TestNotifySkipsWhenDisabledOrUnroutable(t *testing.T) {
	telegram := &fakeChannel{name: "telegram"}
	ns := NewNotificationService(nil, zap.NewNop())
	ns.RegisterChannel(telegram)

	task := notifiableTask("telegram")
	task.Notifications.Enabled = false
	ns.NotifyUpcoming(context.Background(), task)
	ns.NotifyFailure(context.Background(), task, "boom")
	assert.Empty(t, telegram.jobs)

	// No channels named: nothing to deliver.
	ns.NotifyFailure(context.Background(), notifiableTask(), "boom")
	assert.Empty(t, telegram.jobs)

	// Unknown channel with no fallback is logged and dropped, not an error.
	ns.NotifyFailure(context.Background(), notifiableTask("pager"), "boom")
	assert.Empty(t, telegram.jobs)
}

func TestNotifyChannelErrorDoesNotStopOthers(t *testing.T) {
	broken := &fakeChannel{name: "telegram", err: errors.New("telegram down")}
	queue := &fakeChannel{name: "queue"}
	ns := NewNotificationService(queue, zap.NewNop())
	ns.RegisterChannel(broken)

	ns.NotifyFailure(context.Background(), notifiableTask("telegram", "email"), "boom")

	assert.Len(t, broken.jobs, 1)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "email", queue.jobs[0].Channel)
}
