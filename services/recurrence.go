package services

import (
	"fmt"
	"time"

	"hestia/models"

	"github.com/robfig/cron/v3"
)

// RecurrenceCalculator computes the next execution instant of a schedule.
// All date math runs in the task's timezone so recurrence stays stable
// across daylight-saving transitions and server relocations.
type RecurrenceCalculator struct{}

func NewRecurrenceCalculator() *RecurrenceCalculator {
	return &RecurrenceCalculator{}
}

// NextExecution returns the next instant strictly after now at which the
// schedule fires, or nil when no occurrence remains. A nil result means
// the caller must mark the task terminal.
func (rc *RecurrenceCalculator) NextExecution(sched models.Schedule, loc *time.Location, now time.Time) (*time.Time, error) {
	hour, minute, err := parseStartTime(sched.StartTime)
	if err != nil {
		return nil, err
	}

	now = now.In(loc)
	var candidate time.Time

	switch sched.Recurrence.Kind {
	case models.RecurrenceOnce:
		candidate = atTimeOfDay(sched.StartDate.In(loc), hour, minute, loc)
		if !candidate.After(now) {
			return nil, nil
		}

	case models.RecurrenceDaily:
		interval := normalizeInterval(sched.Recurrence.Interval)
		candidate = atTimeOfDay(now, hour, minute, loc)
		if start := atTimeOfDay(sched.StartDate.In(loc), hour, minute, loc); start.After(candidate) {
			candidate = start
		}
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, interval)
		}

	case models.RecurrenceWeekly:
		interval := normalizeInterval(sched.Recurrence.Interval)
		if len(sched.Recurrence.DaysOfWeek) > 0 {
			// Earliest member strictly after today's weekday, wrapping to
			// next week's earliest member if none remain this week.
			members := make(map[int]bool, len(sched.Recurrence.DaysOfWeek))
			for _, d := range sched.Recurrence.DaysOfWeek {
				members[d] = true
			}
			for offset := 1; offset <= 7; offset++ {
				weekday := (int(now.Weekday()) + offset) % 7
				if members[weekday] {
					candidate = atTimeOfDay(now.AddDate(0, 0, offset), hour, minute, loc)
					break
				}
			}
			if candidate.IsZero() {
				return nil, nil
			}
		} else {
			candidate = atTimeOfDay(now.AddDate(0, 0, 7*interval), hour, minute, loc)
		}

	case models.RecurrenceMonthly:
		interval := normalizeInterval(sched.Recurrence.Interval)
		if day := sched.Recurrence.DayOfMonth; day >= 1 {
			// Jump to the requested day of next month, clamped to that
			// month's last day when the day does not exist.
			year, month, _ := now.Date()
			candidate = monthDayClamped(year, month+1, day, hour, minute, loc)
		} else {
			candidate = addMonthsClamped(atTimeOfDay(now, hour, minute, loc), interval)
		}

	case models.RecurrenceCustom:
		expr, err := cron.ParseStandard(sched.Recurrence.Expression)
		if err != nil {
			return nil, models.NewValidationError("invalid cron expression %q: %v", sched.Recurrence.Expression, err)
		}
		next := expr.Next(now)
		if next.IsZero() {
			return nil, nil
		}
		candidate = next

	default:
		return nil, models.NewValidationError("unknown recurrence kind %q", sched.Recurrence.Kind)
	}

	if sched.EndDate != nil {
		end := sched.EndDate.In(loc)
		limit := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, loc)
		if candidate.After(limit) {
			return nil, nil
		}
	}

	return &candidate, nil
}

func parseStartTime(s string) (int, int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, models.NewValidationError("invalid start time %q, expected HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, models.NewValidationError("start time %q out of range", s)
	}
	return hour, minute, nil
}

func normalizeInterval(interval int) int {
	if interval < 1 {
		return 1
	}
	return interval
}

func atTimeOfDay(day time.Time, hour, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
}

// monthDayClamped builds a date in the given (possibly overflowing) month,
// clamping day to that month's last day. Month overflow normalizes the
// year the way time.Date does.
func monthDayClamped(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	lastDay := firstOfMonth.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfMonth.Year(), firstOfMonth.Month(), day, hour, minute, 0, 0, loc)
}

// addMonthsClamped advances by n months, clamping the day instead of
// letting AddDate roll Jan 31 over into March.
func addMonthsClamped(t time.Time, n int) time.Time {
	return monthDayClamped(t.Year(), t.Month()+time.Month(n), t.Day(), t.Hour(), t.Minute(), t.Location())
}
