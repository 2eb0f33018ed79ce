package scheduler

import "errors"

var (
	// ErrScheduleNotFound is returned when a schedule is not found
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrInvalidExpression is returned for an unparsable cron expression
	ErrInvalidExpression = errors.New("invalid cron expression")

	// ErrDuplicateSchedule is returned when a schedule name is already registered
	ErrDuplicateSchedule = errors.New("duplicate schedule")
)
