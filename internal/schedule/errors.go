package schedule

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDuration        = errors.New("invalid duration")
	ErrInvalidPredecessor     = errors.New("invalid predecessor")
	ErrDuplicateHoliday       = errors.New("duplicate holiday")
	ErrNotFound               = errors.New("not found")
	ErrOutOfRange             = errors.New("progress out of range")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidStartDate       = errors.New("invalid start date")
)

// InvalidDurationError 表示工期不合法（负数，或非根阶段为 0）
type InvalidDurationError struct {
	PhaseID  int64
	Duration int
	Reason   string
}

func (e *InvalidDurationError) Error() string {
	msg := fmt.Sprintf("invalid duration %d", e.Duration)
	if e.PhaseID != 0 {
		msg += fmt.Sprintf(" for phase %d", e.PhaseID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidDurationError) Unwrap() error { return ErrInvalidDuration }

// InvalidPredecessorError 表示前置阶段不存在或属于其他项目
type InvalidPredecessorError struct {
	ProjectID     int64
	PredecessorID int64
	Reason        string
}

func (e *InvalidPredecessorError) Error() string {
	return fmt.Sprintf("invalid predecessor %d for project %d: %s", e.PredecessorID, e.ProjectID, e.Reason)
}

func (e *InvalidPredecessorError) Unwrap() error { return ErrInvalidPredecessor }

type DuplicateHolidayError struct {
	Scope Scope
	Date  Date
}

func (e *DuplicateHolidayError) Error() string {
	return fmt.Sprintf("holiday on %s already exists in %s", e.Date, e.Scope)
}

func (e *DuplicateHolidayError) Unwrap() error { return ErrDuplicateHoliday }

// NotFoundError carries the kind of entity and its id, e.g. "phase" 42.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type OutOfRangeError struct {
	PhaseID int64
	Value   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("progress %v for phase %d must be within [0, 100]", e.Value, e.PhaseID)
}

func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }

// ConcurrentModificationError 表示读取与级联写入之间链已被其他请求修改
type ConcurrentModificationError struct {
	ProjectID       int64
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("phase chain of project %d changed concurrently (expected version %d, found %d)",
		e.ProjectID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrConcurrentModification }

type InvalidStartDateError struct {
	ProjectID int64
	Reason    string
}

func (e *InvalidStartDateError) Error() string {
	return fmt.Sprintf("invalid start date for project %d: %s", e.ProjectID, e.Reason)
}

func (e *InvalidStartDateError) Unwrap() error { return ErrInvalidStartDate }

func phaseNotFound(id int64) error {
	return &NotFoundError{Entity: "phase", ID: id}
}
