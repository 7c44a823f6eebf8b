package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_ScopedHolidays(t *testing.T) {
	cal, err := NewCalendar(DefaultWeekend(),
		Holiday{ID: 1, Date: MustParseDate("2024-03-06"), Scope: GlobalScope, Label: "Founders day"},
		Holiday{ID: 2, Date: MustParseDate("2024-03-07"), Scope: ProjectScope(10), Label: "Site inspection"},
	)
	require.NoError(t, err)

	assert.False(t, cal.IsWorkingDay(MustParseDate("2024-03-06"), GlobalScope))
	assert.False(t, cal.IsWorkingDay(MustParseDate("2024-03-06"), ProjectScope(10)))
	assert.False(t, cal.IsWorkingDay(MustParseDate("2024-03-07"), ProjectScope(10)))
	assert.True(t, cal.IsWorkingDay(MustParseDate("2024-03-07"), ProjectScope(11)))
	assert.False(t, cal.IsWorkingDay(MustParseDate("2024-03-09"), ProjectScope(11)))

	assert.Len(t, cal.Holidays(ProjectScope(10)), 2)
	assert.Len(t, cal.Holidays(ProjectScope(11)), 1)
}

func TestCalendar_AddDuplicate(t *testing.T) {
	cal, err := NewCalendar(DefaultWeekend())
	require.NoError(t, err)

	require.NoError(t, cal.Add(Holiday{ID: 1, Date: MustParseDate("2024-12-25"), Scope: ProjectScope(3)}))
	// same date in another scope is fine
	require.NoError(t, cal.Add(Holiday{ID: 2, Date: MustParseDate("2024-12-25"), Scope: GlobalScope}))

	err = cal.Add(Holiday{ID: 3, Date: MustParseDate("2024-12-25"), Scope: ProjectScope(3)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateHoliday)

	var dup *DuplicateHolidayError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, ProjectScope(3), dup.Scope)
	assert.Equal(t, "2024-12-25", dup.Date.String())
}

func TestCalendar_Remove(t *testing.T) {
	cal, err := NewCalendar(DefaultWeekend(), Holiday{ID: 5, Date: MustParseDate("2024-03-06")})
	require.NoError(t, err)

	h, err := cal.Remove(5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.ID)
	assert.True(t, cal.IsWorkingDay(MustParseDate("2024-03-06"), GlobalScope))

	_, err = cal.Remove(5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCalendar_SnapshotIsFrozen(t *testing.T) {
	cal, err := NewCalendar(DefaultWeekend())
	require.NoError(t, err)

	snap := cal.Snapshot(ProjectScope(1))
	live := cal.For(ProjectScope(1))
	require.NoError(t, cal.Add(Holiday{ID: 1, Date: MustParseDate("2024-03-06"), Scope: ProjectScope(1)}))

	assert.True(t, snap.IsWorkingDay(MustParseDate("2024-03-06")))
	assert.False(t, live.IsWorkingDay(MustParseDate("2024-03-06")))
}

func TestCalendar_RemoveScope(t *testing.T) {
	cal, err := NewCalendar(DefaultWeekend(),
		Holiday{ID: 1, Date: MustParseDate("2024-03-06"), Scope: ProjectScope(4)},
		Holiday{ID: 2, Date: MustParseDate("2024-03-07"), Scope: GlobalScope},
	)
	require.NoError(t, err)

	cal.RemoveScope(ProjectScope(4))
	_, ok := cal.Get(1)
	assert.False(t, ok)
	_, ok = cal.Get(2)
	assert.True(t, ok)
}

func TestParseWeekend(t *testing.T) {
	w, err := ParseWeekend([]string{"friday", " Saturday"})
	require.NoError(t, err)
	assert.True(t, w.IsWeekend(time.Friday))
	assert.True(t, w.IsWeekend(time.Saturday))
	assert.False(t, w.IsWeekend(time.Sunday))

	_, err = ParseWeekend([]string{"caturday"})
	assert.Error(t, err)

	_, err = NewWeekendRule(time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)
	assert.Error(t, err)
}

func TestDate_JSON(t *testing.T) {
	var v struct {
		D Date `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"2024-02-29"}`), &v))
	assert.Equal(t, NewDate(2024, time.February, 29), v.D)

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-02-29"}`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`{"d":"29/02/2024"}`), &v))
}
