package models

import (
	"time"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskScheduled TaskStatus = "scheduled"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// ActionKind tags what a task does to its target device.
type ActionKind string

const (
	ActionStatusChange   ActionKind = "status_change"
	ActionTemperatureSet ActionKind = "temperature_set"
	ActionBrightnessSet  ActionKind = "brightness_set"
	ActionColorChange    ActionKind = "color_change"
	ActionVolumeSet      ActionKind = "volume_set"
	ActionOther          ActionKind = "other"
)

// Action is the device mutation a task performs when it fires.
type Action struct {
	Kind  ActionKind `json:"kind"`
	Value string     `json:"value"`
}

// RecurrenceKind selects how a schedule repeats.
type RecurrenceKind string

const (
	RecurrenceOnce    RecurrenceKind = "once"
	RecurrenceDaily   RecurrenceKind = "daily"
	RecurrenceWeekly  RecurrenceKind = "weekly"
	RecurrenceMonthly RecurrenceKind = "monthly"
	RecurrenceCustom  RecurrenceKind = "custom"
)

// Recurrence governs how often and when a task repeats.
type Recurrence struct {
	Kind RecurrenceKind `json:"kind"`
	// DaysOfWeek holds weekdays 0-6 (Sunday=0), weekly only.
	DaysOfWeek []int `json:"daysOfWeek,omitempty"`
	// DayOfMonth is 1-31, monthly only.
	DayOfMonth int `json:"dayOfMonth,omitempty"`
	// Interval is the step in days/weeks/months, minimum 1.
	Interval int `json:"interval,omitempty"`
	// Expression is a cron-like expression, custom only.
	Expression string `json:"expression,omitempty"`
}

// Schedule anchors a recurrence to a start date and a time of day.
type Schedule struct {
	StartDate  time.Time  `json:"startDate"`
	StartTime  string     `json:"startTime"` // "HH:MM"
	EndDate    *time.Time `json:"endDate,omitempty"`
	Recurrence Recurrence `json:"recurrence"`
}

// ConditionKind tags a pre-execution guard.
type ConditionKind string

const (
	ConditionSensorValue  ConditionKind = "sensor_value"
	ConditionTimeWindow   ConditionKind = "time_window"
	ConditionDeviceStatus ConditionKind = "device_status"
	ConditionUserPresence ConditionKind = "user_presence"
)

// ConditionOperator compares a live value against the condition value.
type ConditionOperator string

const (
	OpEquals         ConditionOperator = "equals"
	OpNotEquals      ConditionOperator = "not_equals"
	OpGreaterThan    ConditionOperator = "greater_than"
	OpLessThan       ConditionOperator = "less_than"
	OpGreaterOrEqual ConditionOperator = "greater_or_equal"
	OpLessOrEqual    ConditionOperator = "less_or_equal"
	OpBetween        ConditionOperator = "between"
)

// Condition is one guard evaluated immediately before execution.
// All conditions on a task must hold for the action to run.
type Condition struct {
	Kind            ConditionKind     `json:"kind"`
	DeviceID        string            `json:"deviceId,omitempty"`
	Operator        ConditionOperator `json:"operator"`
	Value           string            `json:"value"`
	AdditionalValue string            `json:"additionalValue,omitempty"`
}

// NotificationSettings controls reminders and failure alerts for a task.
type NotificationSettings struct {
	Enabled                bool     `json:"enabled"`
	Recipients             []string `json:"recipients,omitempty"`
	BeforeExecutionMinutes int      `json:"beforeExecutionMinutes,omitempty"`
	OnFailure              bool     `json:"onFailure"`
	Channels               []string `json:"channels,omitempty"`
}

// ExecutionOutcome labels one entry in a task's execution history.
type ExecutionOutcome string

const (
	OutcomeSuccess ExecutionOutcome = "success"
	OutcomeFailure ExecutionOutcome = "failure"
)

// ExecutionRecord is one append-only history entry.
type ExecutionRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Outcome   ExecutionOutcome `json:"outcome"`
	Message   string           `json:"message,omitempty"`
}

// Task is a scheduled automation against a single device.
//
// NextExecution is nil exactly when the task is terminal (completed,
// cancelled, failed) or its schedule has no further occurrence before
// EndDate.
type Task struct {
	ID            string               `json:"id"`
	UserID        string               `json:"userId"`
	DeviceID      string               `json:"deviceId"`
	Name          string               `json:"name,omitempty"`
	Action        Action               `json:"action"`
	Schedule      Schedule             `json:"schedule"`
	Conditions    []Condition          `json:"conditions,omitempty"`
	Notifications NotificationSettings `json:"notifications"`
	Status        TaskStatus           `json:"status"`
	// Timezone is the IANA zone all of this task's date math runs in.
	Timezone         string            `json:"timezone"`
	NextExecution    *time.Time        `json:"nextExecution,omitempty"`
	LastExecuted     *time.Time        `json:"lastExecuted,omitempty"`
	ExecutionHistory []ExecutionRecord `json:"executionHistory,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// IsTerminal reports whether the task can never fire again.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskCompleted, TaskCancelled, TaskFailed:
		return true
	}
	return false
}

// AppendHistory records one execution outcome. History is append-only;
// bounded growth is an archival concern outside this service.
func (t *Task) AppendHistory(at time.Time, outcome ExecutionOutcome, message string) {
	t.ExecutionHistory = append(t.ExecutionHistory, ExecutionRecord{
		Timestamp: at,
		Outcome:   outcome,
		Message:   message,
	})
}

// Location resolves the task's timezone, falling back to UTC when the
// zone name is empty or unknown.
func (t *Task) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
