package services

import (
	"context"
	"time"

	"hestia/models"

	"go.uber.org/zap"
)

// ExecOutcome classifies one task run.
type ExecOutcome string

const (
	ExecSuccess          ExecOutcome = "success"
	ExecConditionsNotMet ExecOutcome = "conditions_not_met"
	ExecError            ExecOutcome = "execution_error"
)

// TaskExecutor drives one task run end to end: evaluate conditions,
// dispatch the action, record the outcome, recompute the next occurrence
// and emit execution events. It never returns an error to its caller; all
// failure modes land in the execution history and the task status.
type TaskExecutor struct {
	tasks      TaskRepository
	devices    DeviceRepository
	conditions *ConditionEvaluator
	dispatcher *ActionDispatcher
	recurrence *RecurrenceCalculator
	publisher  *Publisher
	notifier   Notifier
	clients    ClientNotifier
	clock      Clock
	logger     *zap.Logger
}

func NewTaskExecutor(
	tasks TaskRepository,
	devices DeviceRepository,
	conditions *ConditionEvaluator,
	dispatcher *ActionDispatcher,
	recurrence *RecurrenceCalculator,
	publisher *Publisher,
	notifier Notifier,
	clients ClientNotifier,
	clock Clock,
	logger *zap.Logger,
) *TaskExecutor {
	return &TaskExecutor{
		tasks:      tasks,
		devices:    devices,
		conditions: conditions,
		dispatcher: dispatcher,
		recurrence: recurrence,
		publisher:  publisher,
		notifier:   notifier,
		clients:    clients,
		clock:      clock,
		logger:     logger,
	}
}

// Execute runs the task once and persists the result. The returned task
// reflects the post-run state; its NextExecution tells the scheduler
// whether to re-arm.
func (te *TaskExecutor) Execute(ctx context.Context, task *models.Task) (*models.Task, ExecOutcome) {
	now := te.clock.Now()

	// The device is resolved up front so events can carry its room and
	// roster order even on the failure paths.
	device, devErr := te.devices.GetDevice(ctx, task.DeviceID)

	if len(task.Conditions) > 0 && !te.conditions.CheckConditions(ctx, task) {
		// Not an execution error: record, reschedule and move on.
		task.AppendHistory(now, models.OutcomeFailure, "conditions not met")
		te.emitTaskEvent(task, device, "failed", "conditions not met")
		te.rescheduleAfterRun(task, now, false)
		te.persist(ctx, task)
		return task, ExecConditionsNotMet
	}

	outcome := ExecSuccess
	if devErr != nil {
		outcome = ExecError
		task.AppendHistory(now, models.OutcomeFailure, devErr.Error())
		te.emitTaskEvent(task, nil, "failed", devErr.Error())
		te.notifyFailure(ctx, task, devErr.Error())
	} else if err := te.dispatcher.PerformAction(ctx, device, task.Action); err != nil {
		outcome = ExecError
		task.AppendHistory(now, models.OutcomeFailure, err.Error())
		te.emitTaskEvent(task, device, "failed", err.Error())
		te.notifyFailure(ctx, task, err.Error())
	} else {
		task.AppendHistory(now, models.OutcomeSuccess, "")
		te.emitTaskEvent(task, device, "executed", "")
	}

	task.LastExecuted = &now
	te.rescheduleAfterRun(task, now, true)
	te.persist(ctx, task)

	te.logger.Info("Task executed",
		zap.String("task_id", task.ID),
		zap.String("outcome", string(outcome)),
		zap.String("status", string(task.Status)))

	return task, outcome
}

// rescheduleAfterRun recomputes NextExecution and finalizes the task when
// no occurrence remains. A one-time task that actually ran completes
// immediately.
func (te *TaskExecutor) rescheduleAfterRun(task *models.Task, now time.Time, ran bool) {
	if ran && task.Schedule.Recurrence.Kind == models.RecurrenceOnce {
		task.Status = models.TaskCompleted
		task.NextExecution = nil
		return
	}

	next, err := te.recurrence.NextExecution(task.Schedule, task.Location(), now)
	if err != nil {
		te.logger.Error("Failed to compute next execution",
			zap.String("task_id", task.ID),
			zap.Error(err))
		next = nil
	}

	task.NextExecution = next
	if next == nil {
		task.Status = models.TaskCompleted
	} else {
		task.Status = models.TaskActive
	}
}

func (te *TaskExecutor) persist(ctx context.Context, task *models.Task) {
	if err := te.tasks.SaveTask(ctx, task); err != nil {
		te.logger.Error("Failed to persist task after execution",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// emitTaskEvent fans the run outcome out to the device task topic, the
// room's ESPs and live clients. All best-effort.
func (te *TaskExecutor) emitTaskEvent(task *models.Task, device *models.Device, status, message string) {
	if err := te.publisher.PublishTaskStatus(task, status, message); err != nil {
		te.logger.Warn("Task status publish failed",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}

	if device != nil && device.RoomID != "" {
		update := models.ESPTaskUpdate{
			TaskID:      task.ID,
			DeviceID:    device.ID,
			DeviceOrder: device.Order,
			Status:      status,
			Message:     message,
		}
		if err := te.publisher.PublishESPTaskUpdate(device.RoomID, update); err != nil {
			te.logger.Warn("ESP task-update publish failed",
				zap.String("task_id", task.ID),
				zap.String("room_id", device.RoomID),
				zap.Error(err))
		}
	}

	if te.clients != nil {
		te.clients.TaskStatusChanged(task, status, message)
	}
}

func (te *TaskExecutor) notifyFailure(ctx context.Context, task *models.Task, message string) {
	if te.notifier == nil || !task.Notifications.Enabled || !task.Notifications.OnFailure {
		return
	}
	te.notifier.NotifyFailure(ctx, task, message)
}
