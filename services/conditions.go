package services

import (
	"context"
	"strconv"
	"time"

	"hestia/models"

	"go.uber.org/zap"
)

// ConditionEvaluator checks a task's guard conditions against current
// device and time state. Evaluation fails closed: an unknown condition
// kind or an evaluation error counts as a failed condition, never as an
// error that aborts the whole check.
type ConditionEvaluator struct {
	devices  DeviceRepository
	presence PresenceChecker
	logger   *zap.Logger
}

func NewConditionEvaluator(devices DeviceRepository, presence PresenceChecker, logger *zap.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{
		devices:  devices,
		presence: presence,
		logger:   logger,
	}
}

// CheckConditions reports whether every condition on the task holds. An
// empty condition list is vacuously true. Conditions are evaluated left
// to right and the first failure short-circuits.
func (ce *ConditionEvaluator) CheckConditions(ctx context.Context, task *models.Task) bool {
	for i := range task.Conditions {
		cond := &task.Conditions[i]
		ok, err := ce.evaluate(ctx, task, cond)
		if err != nil {
			ce.logger.Warn("Condition evaluation failed, treating as not met",
				zap.String("task_id", task.ID),
				zap.String("kind", string(cond.Kind)),
				zap.Error(err))
			return false
		}
		if !ok {
			ce.logger.Debug("Condition not met",
				zap.String("task_id", task.ID),
				zap.String("kind", string(cond.Kind)),
				zap.String("operator", string(cond.Operator)))
			return false
		}
	}
	return true
}

func (ce *ConditionEvaluator) evaluate(ctx context.Context, task *models.Task, cond *models.Condition) (bool, error) {
	switch cond.Kind {
	case models.ConditionSensorValue:
		return ce.evaluateSensorValue(ctx, cond)
	case models.ConditionTimeWindow:
		return ce.evaluateTimeWindow(cond, time.Now().In(task.Location()))
	case models.ConditionDeviceStatus:
		return ce.evaluateDeviceStatus(ctx, cond)
	case models.ConditionUserPresence:
		if ce.presence == nil {
			return true, nil
		}
		return ce.presence.IsPresent(ctx, task.UserID)
	default:
		return false, models.NewValidationError("unknown condition kind %q", cond.Kind)
	}
}

func (ce *ConditionEvaluator) evaluateSensorValue(ctx context.Context, cond *models.Condition) (bool, error) {
	device, err := ce.devices.GetDevice(ctx, cond.DeviceID)
	if err != nil {
		return false, err
	}
	return compareValues(liveReading(device), cond)
}

// liveReading picks the device field a sensor condition compares against.
// Thermostats expose temperature, lights their measured level, sensors
// whichever reading they carry; everything else degrades to on/off as 1/0.
func liveReading(d *models.Device) float64 {
	switch d.Type {
	case models.DeviceThermostat:
		return d.Temperature
	case models.DeviceLight:
		return d.LightLevel
	case models.DeviceSensor:
		if d.Temperature != 0 {
			return d.Temperature
		}
		if d.Humidity != 0 {
			return d.Humidity
		}
		if d.LightLevel != 0 {
			return d.LightLevel
		}
		if d.Motion {
			return 1
		}
		return 0
	default:
		if d.IsOn() {
			return 1
		}
		return 0
	}
}

func compareValues(current float64, cond *models.Condition) (bool, error) {
	value, err := strconv.ParseFloat(cond.Value, 64)
	if err != nil {
		return false, models.NewValidationError("condition value %q is not numeric", cond.Value)
	}

	switch cond.Operator {
	case models.OpEquals:
		return current == value, nil
	case models.OpNotEquals:
		return current != value, nil
	case models.OpGreaterThan:
		return current > value, nil
	case models.OpLessThan:
		return current < value, nil
	case models.OpGreaterOrEqual:
		return current >= value, nil
	case models.OpLessOrEqual:
		return current <= value, nil
	case models.OpBetween:
		if cond.AdditionalValue == "" {
			return false, models.NewValidationError("between condition requires additionalValue")
		}
		upper, err := strconv.ParseFloat(cond.AdditionalValue, 64)
		if err != nil {
			return false, models.NewValidationError("condition additionalValue %q is not numeric", cond.AdditionalValue)
		}
		return current >= value && current <= upper, nil
	default:
		return false, models.NewValidationError("unknown condition operator %q", cond.Operator)
	}
}

func (ce *ConditionEvaluator) evaluateTimeWindow(cond *models.Condition, now time.Time) (bool, error) {
	current := now.Hour()*60 + now.Minute()

	start, err := minutesOfDay(cond.Value)
	if err != nil {
		return false, err
	}

	if cond.Operator == models.OpBetween && cond.AdditionalValue != "" {
		end, err := minutesOfDay(cond.AdditionalValue)
		if err != nil {
			return false, err
		}
		if start > end {
			// Window wraps midnight.
			return current >= start || current <= end, nil
		}
		return current >= start && current <= end, nil
	}

	// Single instant, ±1 minute tolerance, measured around the clock so
	// 23:59 is one minute from 00:00.
	diff := current - start
	if diff < 0 {
		diff = -diff
	}
	if diff > 720 {
		diff = 1440 - diff
	}
	return diff <= 1, nil
}

func minutesOfDay(s string) (int, error) {
	hour, minute, err := parseStartTime(s)
	if err != nil {
		return 0, err
	}
	return hour*60 + minute, nil
}

func (ce *ConditionEvaluator) evaluateDeviceStatus(ctx context.Context, cond *models.Condition) (bool, error) {
	device, err := ce.devices.GetDevice(ctx, cond.DeviceID)
	if err != nil {
		return false, err
	}
	return device.Status == cond.Value, nil
}
