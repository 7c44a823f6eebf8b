package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Scope 节假日作用域：0 表示全局，正数为项目 ID
type Scope int64

const GlobalScope Scope = 0

func ProjectScope(projectID int64) Scope { return Scope(projectID) }

func (s Scope) IsGlobal() bool { return s == GlobalScope }

func (s Scope) ProjectID() int64 { return int64(s) }

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global scope"
	}
	return fmt.Sprintf("project %d", int64(s))
}

type Holiday struct {
	ID        int64     `json:"holiday_id"`
	Date      Date      `json:"date"`
	Scope     Scope     `json:"-"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectID returns nil for global holidays so the JSON form can omit it.
func (h Holiday) ProjectID() *int64 {
	if h.Scope.IsGlobal() {
		return nil
	}
	id := h.Scope.ProjectID()
	return &id
}

// WeekendRule is the set of weekdays that are never working days.
type WeekendRule struct {
	days [7]bool
}

func DefaultWeekend() WeekendRule {
	return MustWeekend(time.Saturday, time.Sunday)
}

func NewWeekendRule(days ...time.Weekday) (WeekendRule, error) {
	var w WeekendRule
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return WeekendRule{}, fmt.Errorf("invalid weekday %d", d)
		}
		w.days[d] = true
	}
	for _, off := range w.days {
		if !off {
			return w, nil
		}
	}
	return WeekendRule{}, errors.New("weekend rule leaves no working days")
}

func MustWeekend(days ...time.Weekday) WeekendRule {
	w, err := NewWeekendRule(days...)
	if err != nil {
		panic(err)
	}
	return w
}

// ParseWeekend accepts English weekday names, case-insensitive.
func ParseWeekend(names []string) (WeekendRule, error) {
	days := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.EqualFold(strings.TrimSpace(n), d.String()) {
				days = append(days, d)
				found = true
				break
			}
		}
		if !found {
			return WeekendRule{}, fmt.Errorf("unknown weekday %q", n)
		}
	}
	return NewWeekendRule(days...)
}

func (w WeekendRule) IsWeekend(d time.Weekday) bool { return w.days[d] }

// Calendar holds the weekend rule and every holiday grouped by scope.
// Safe for concurrent use.
type Calendar struct {
	mu      sync.RWMutex
	weekend WeekendRule
	byScope map[Scope]map[Date]Holiday
	byID    map[int64]Holiday
}

func NewCalendar(weekend WeekendRule, holidays ...Holiday) (*Calendar, error) {
	c := &Calendar{
		weekend: weekend,
		byScope: make(map[Scope]map[Date]Holiday),
		byID:    make(map[int64]Holiday),
	}
	for _, h := range holidays {
		if err := c.Add(h); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Calendar) Weekend() WeekendRule { return c.weekend }

// Add 添加节假日，(scope, date) 重复时返回 DuplicateHolidayError
func (c *Calendar) Add(h Holiday) error {
	if h.Date.IsZero() {
		return errors.New("holiday date is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dates, ok := c.byScope[h.Scope]
	if !ok {
		dates = make(map[Date]Holiday)
		c.byScope[h.Scope] = dates
	}
	if _, exists := dates[h.Date]; exists {
		return &DuplicateHolidayError{Scope: h.Scope, Date: h.Date}
	}
	dates[h.Date] = h
	c.byID[h.ID] = h
	return nil
}

func (c *Calendar) Remove(id int64) (Holiday, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.byID[id]
	if !ok {
		return Holiday{}, &NotFoundError{Entity: "holiday", ID: id}
	}
	delete(c.byID, id)
	delete(c.byScope[h.Scope], h.Date)
	if len(c.byScope[h.Scope]) == 0 {
		delete(c.byScope, h.Scope)
	}
	return h, nil
}

func (c *Calendar) Get(id int64) (Holiday, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.byID[id]
	return h, ok
}

// RemoveScope drops every holiday of a project scope. Global scope is left alone.
func (c *Calendar) RemoveScope(scope Scope) {
	if scope.IsGlobal() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.byScope[scope] {
		delete(c.byID, h.ID)
	}
	delete(c.byScope, scope)
}

// Holidays lists holidays that apply to scope (global ones included), sorted by date.
func (c *Calendar) Holidays(scope Scope) []Holiday {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Holiday, 0, len(c.byScope[GlobalScope])+len(c.byScope[scope]))
	for _, h := range c.byScope[GlobalScope] {
		out = append(out, h)
	}
	if !scope.IsGlobal() {
		for _, h := range c.byScope[scope] {
			out = append(out, h)
		}
	}
	SortHolidays(out)
	return out
}

// All lists every holiday of every scope, sorted by date.
func (c *Calendar) All() []Holiday {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Holiday, 0, len(c.byID))
	for _, h := range c.byID {
		out = append(out, h)
	}
	SortHolidays(out)
	return out
}

func (c *Calendar) IsWorkingDay(d Date, scope Scope) bool {
	if c.weekend.IsWeekend(d.Weekday()) {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, off := c.byScope[GlobalScope][d]; off {
		return false
	}
	if !scope.IsGlobal() {
		if _, off := c.byScope[scope][d]; off {
			return false
		}
	}
	return true
}

// Snapshot freezes the holidays applicable to scope so date arithmetic is not
// affected by later mutations of the calendar.
func (c *Calendar) Snapshot(scope Scope) Snapshot {
	return NewSnapshot(c.weekend, c.Holidays(scope))
}

// Snapshot is an immutable view of the non-working days of one scope.
type Snapshot struct {
	weekend WeekendRule
	off     map[Date]struct{}
}

func NewSnapshot(weekend WeekendRule, holidays []Holiday) Snapshot {
	off := make(map[Date]struct{}, len(holidays))
	for _, h := range holidays {
		off[h.Date] = struct{}{}
	}
	return Snapshot{weekend: weekend, off: off}
}

func (s Snapshot) IsWorkingDay(d Date) bool {
	if s.weekend.IsWeekend(d.Weekday()) {
		return false
	}
	_, off := s.off[d]
	return !off
}

func (s Snapshot) IsHoliday(d Date) bool {
	_, off := s.off[d]
	return off
}

func SortHolidays(hs []Holiday) {
	sort.Slice(hs, func(i, j int) bool {
		if !hs[i].Date.Equal(hs[j].Date) {
			return hs[i].Date.Before(hs[j].Date)
		}
		return hs[i].Scope < hs[j].Scope
	})
}
