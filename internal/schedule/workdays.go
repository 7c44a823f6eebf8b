package schedule

import (
	"fmt"
	"time"
)

// MaxDuration 单个阶段最多 3650 个工作日
const MaxDuration = 3650

// LastDate is the latest date a schedule may reach; later dates no longer
// format as YYYY-MM-DD.
var LastDate = NewDate(9999, time.December, 31)

// WorkingDays answers whether a date counts toward a phase duration.
// Snapshot and the adapter returned by Calendar.For both satisfy it.
type WorkingDays interface {
	IsWorkingDay(d Date) bool
}

// AddWorkingDays returns the date of the n-th working day counted from start.
// start itself is day 1 when it is a working day, otherwise counting begins at
// the next working day. n == 0 returns start unchanged.
func AddWorkingDays(start Date, n int, cal WorkingDays) (Date, error) {
	if n < 0 {
		return Date{}, &InvalidDurationError{Duration: n, Reason: "must not be negative"}
	}
	if n > MaxDuration {
		return Date{}, &InvalidDurationError{Duration: n, Reason: fmt.Sprintf("must not exceed %d working days", MaxDuration)}
	}
	if start.IsZero() {
		return Date{}, &InvalidStartDateError{Reason: "start date is required"}
	}
	if n == 0 {
		return start, nil
	}

	current := start
	count := 0
	for {
		if cal.IsWorkingDay(current) {
			count++
			if count == n {
				return current, nil
			}
		}
		current = current.AddDays(1)
		if current.After(LastDate) {
			return Date{}, &InvalidDurationError{Duration: n, Reason: "schedule would end after " + LastDate.String()}
		}
	}
}

// WorkingDaysBetween counts working days in the inclusive range [a, b].
// It returns 0 when b is before a.
func WorkingDaysBetween(a, b Date, cal WorkingDays) int {
	if b.Before(a) {
		return 0
	}
	n := 0
	for d := a; !d.After(b); d = d.AddDays(1) {
		if cal.IsWorkingDay(d) {
			n++
		}
	}
	return n
}

// NextWorkingDay returns d if it is a working day, otherwise the first working day after it.
func NextWorkingDay(d Date, cal WorkingDays) Date {
	for !cal.IsWorkingDay(d) && d.Before(LastDate) {
		d = d.AddDays(1)
	}
	return d
}

type scopedCalendar struct {
	c     *Calendar
	scope Scope
}

func (s scopedCalendar) IsWorkingDay(d Date) bool { return s.c.IsWorkingDay(d, s.scope) }

// For binds the calendar to a scope without copying. Mutations of the calendar
// are visible through it; use Snapshot when a frozen view is needed.
func (c *Calendar) For(scope Scope) WorkingDays { return scopedCalendar{c: c, scope: scope} }
