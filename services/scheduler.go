package services

import (
	"context"
	"sync"
	"time"

	"hestia/models"

	"go.uber.org/zap"
)

// Clock abstracts timer arming so the scheduler is deterministic under
// test with a fake clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is one armed callback. Stop reports whether the timer was
// cancelled before firing.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewRealClock returns the wall clock.
func NewRealClock() Clock { return realClock{} }

type armedTimer struct {
	timer  Timer
	fireAt time.Time
}

// Scheduler owns every pending task timer in the process. Exactly one
// timer exists per active task with a non-nil NextExecution; arming
// cancels any prior timer for the same task first so concurrent
// reschedules can never double-fire.
type Scheduler struct {
	tasks             TaskRepository
	executor          *TaskExecutor
	recurrence        *RecurrenceCalculator
	notifier          Notifier
	clock             Clock
	logger            *zap.Logger
	reconcileInterval time.Duration

	mu        sync.Mutex
	timers    map[string]*armedTimer
	reminders map[string]Timer
}

func NewScheduler(
	tasks TaskRepository,
	executor *TaskExecutor,
	recurrence *RecurrenceCalculator,
	notifier Notifier,
	clock Clock,
	reconcileInterval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		tasks:             tasks,
		executor:          executor,
		recurrence:        recurrence,
		notifier:          notifier,
		clock:             clock,
		logger:            logger,
		reconcileInterval: reconcileInterval,
		timers:            make(map[string]*armedTimer),
		reminders:         make(map[string]Timer),
	}
}

// Start arms all stored tasks due in the future and begins the periodic
// reconciliation loop. Reconciliation is the recovery path after a
// restart and after any external schedule mutation that bypassed this
// scheduler's API.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Scheduler starting",
		zap.Duration("reconcile_interval", s.reconcileInterval))

	s.scheduleUpcomingTasks(ctx)

	go func() {
		ticker := time.NewTicker(s.reconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Scheduler reconciliation loop stopped")
				return
			case <-ticker.C:
				s.scheduleUpcomingTasks(ctx)
			}
		}
	}()
}

// Stop cancels every armed timer. Executions already in flight run to
// completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, armed := range s.timers {
		armed.timer.Stop()
		delete(s.timers, id)
	}
	for id, reminder := range s.reminders {
		reminder.Stop()
		delete(s.reminders, id)
	}
	s.logger.Info("Scheduler stopped, all timers cancelled")
}

// ScheduleTask arms a timer for the task's NextExecution, cancelling any
// prior timer for the same task first. A nil or past NextExecution arms
// nothing. When pre-execution notifications are enabled a reminder timer
// is additionally armed, only if the reminder instant is still ahead.
func (s *Scheduler) ScheduleTask(task *models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(task.ID)

	if task.NextExecution == nil {
		return
	}
	now := s.clock.Now()
	delay := task.NextExecution.Sub(now)
	if delay <= 0 {
		return
	}

	taskID := task.ID
	s.timers[taskID] = &armedTimer{
		fireAt: *task.NextExecution,
		timer: s.clock.AfterFunc(delay, func() {
			s.onTimerFire(taskID)
		}),
	}

	s.logger.Debug("Task timer armed",
		zap.String("task_id", taskID),
		zap.Time("fire_at", *task.NextExecution))

	if n := task.Notifications; s.notifier != nil && n.Enabled && n.BeforeExecutionMinutes > 0 {
		remindAt := task.NextExecution.Add(-time.Duration(n.BeforeExecutionMinutes) * time.Minute)
		if remindDelay := remindAt.Sub(now); remindDelay > 0 {
			s.reminders[taskID] = s.clock.AfterFunc(remindDelay, func() {
				s.onReminderFire(taskID)
			})
		}
	}
}

// UnscheduleTask cancels the task's timers. Idempotent; unknown tasks are
// a no-op.
func (s *Scheduler) UnscheduleTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(taskID)
}

// cancelLocked must be called with the lock held.
func (s *Scheduler) cancelLocked(taskID string) {
	if armed, ok := s.timers[taskID]; ok {
		armed.timer.Stop()
		delete(s.timers, taskID)
	}
	if reminder, ok := s.reminders[taskID]; ok {
		reminder.Stop()
		delete(s.reminders, taskID)
	}
}

// IsArmed reports whether the task currently owns a live timer.
func (s *Scheduler) IsArmed(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[taskID]
	return ok
}

// ArmedCount returns the number of live task timers.
func (s *Scheduler) ArmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// onTimerFire runs one task execution. The armed entry is removed before
// the executor runs so a concurrent ScheduleTask cannot observe a stale
// timer; afterwards the task is re-armed if an occurrence remains.
func (s *Scheduler) onTimerFire(taskID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic during task execution",
				zap.String("task_id", taskID),
				zap.Any("panic", r))
		}
	}()

	s.mu.Lock()
	delete(s.timers, taskID)
	delete(s.reminders, taskID)
	s.mu.Unlock()

	ctx := context.Background()
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		// Deleted between arming and firing: recoverable no-op.
		s.logger.Warn("Task vanished before firing",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	if task.IsTerminal() {
		return
	}

	task, _ = s.executor.Execute(ctx, task)
	if task.NextExecution != nil {
		s.ScheduleTask(task)
	}
}

func (s *Scheduler) onReminderFire(taskID string) {
	s.mu.Lock()
	delete(s.reminders, taskID)
	s.mu.Unlock()

	ctx := context.Background()
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil || task.IsTerminal() || task.NextExecution == nil {
		return
	}
	s.notifier.NotifyUpcoming(ctx, task)
}

// scheduleUpcomingTasks re-queries the store and arms every schedulable
// task that is not already armed. Errors are logged and never stop the
// periodic cycle.
func (s *Scheduler) scheduleUpcomingTasks(ctx context.Context) {
	tasks, err := s.tasks.ListSchedulableTasks(ctx)
	if err != nil {
		s.logger.Error("Reconciliation query failed", zap.Error(err))
		return
	}

	armed := 0
	for _, task := range tasks {
		if task.NextExecution == nil {
			continue
		}
		if !task.NextExecution.After(s.clock.Now()) {
			// Missed while the process was down: recompute from the
			// stored schedule rather than firing immediately.
			s.recomputeOverdue(ctx, task)
		}
		if task.NextExecution == nil || s.IsArmed(task.ID) {
			continue
		}
		s.ScheduleTask(task)
		armed++
	}

	if armed > 0 {
		s.logger.Info("Reconciliation armed tasks", zap.Int("count", armed))
	}
}

func (s *Scheduler) recomputeOverdue(ctx context.Context, task *models.Task) {
	next, err := s.recurrence.NextExecution(task.Schedule, task.Location(), s.clock.Now())
	if err != nil {
		s.logger.Error("Failed to recompute overdue task",
			zap.String("task_id", task.ID),
			zap.Error(err))
		next = nil
	}

	task.NextExecution = next
	if next == nil {
		task.Status = models.TaskCompleted
	}
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		s.logger.Error("Failed to persist overdue recompute",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// RescheduleUserTasks moves every schedulable task of a user to a new
// timezone. Per task the order is unschedule, recompute, persist,
// re-arm, so a stale timer can never fire with the old zone's instant.
func (s *Scheduler) RescheduleUserTasks(ctx context.Context, userID, newTimezone string) {
	tasks, err := s.tasks.ListUserTasks(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to list user tasks for reschedule",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	for _, task := range tasks {
		if task.IsTerminal() {
			continue
		}

		s.UnscheduleTask(task.ID)

		task.Timezone = newTimezone
		next, err := s.recurrence.NextExecution(task.Schedule, task.Location(), s.clock.Now())
		if err != nil {
			s.logger.Error("Failed to recompute task for new timezone",
				zap.String("task_id", task.ID),
				zap.String("timezone", newTimezone),
				zap.Error(err))
			continue
		}

		task.NextExecution = next
		if next == nil {
			task.Status = models.TaskCompleted
		}
		if err := s.tasks.SaveTask(ctx, task); err != nil {
			s.logger.Error("Failed to persist rescheduled task",
				zap.String("task_id", task.ID),
				zap.Error(err))
			continue
		}
		if next != nil {
			s.ScheduleTask(task)
		}
	}

	s.logger.Info("User tasks rescheduled",
		zap.String("user_id", userID),
		zap.String("timezone", newTimezone),
		zap.Int("task_count", len(tasks)))
}
