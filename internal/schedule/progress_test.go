package schedule

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_EqualDurationScenario(t *testing.T) {
	c := Chain{Phases: []Phase{
		{ID: 1, Duration: 3, Progress: 100},
		{ID: 2, Duration: 3, Progress: 50},
	}}
	r := Aggregate(c)
	assert.Equal(t, 75.0, r.Progress)
	assert.Equal(t, ProjectInProgress, r.Status)
	assert.Equal(t, 2, r.PhaseCount)
}

func TestAggregate_WeightsByDuration(t *testing.T) {
	c := Chain{Phases: []Phase{
		{ID: 1, Duration: 9, Progress: 100},
		{ID: 2, Duration: 1, Progress: 0},
	}}
	assert.Equal(t, 90.0, Aggregate(c).Progress)
}

func TestAggregate_EdgeCases(t *testing.T) {
	empty := Aggregate(Chain{})
	assert.Equal(t, 0.0, empty.Progress)
	assert.Equal(t, ProjectPlanning, empty.Status)

	zeroRoot := Aggregate(Chain{Phases: []Phase{{ID: 1, Duration: 0, Progress: 60}}})
	assert.Equal(t, 60.0, zeroRoot.Progress)

	done := Aggregate(Chain{Phases: []Phase{{Duration: 2, Progress: 100}, {Duration: 5, Progress: 100}}})
	assert.Equal(t, ProjectCompleted, done.Status)

	thirds := Aggregate(Chain{Phases: []Phase{{Duration: 1, Progress: 100}, {Duration: 1}, {Duration: 1}}})
	assert.Equal(t, 33.33, thirds.Progress)
}

func TestAggregate_Bounds(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 300; i++ {
		n := r.Intn(8)
		c := Chain{}
		for j := 0; j < n; j++ {
			c.Phases = append(c.Phases, Phase{Duration: r.Intn(20), Progress: float64(r.Intn(101))})
		}
		got := Aggregate(c).Progress
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 100.0)
	}
}

func TestDerivePhaseStatus(t *testing.T) {
	p := Phase{StartDate: MustParseDate("2024-03-04"), EndDate: MustParseDate("2024-03-08")}

	assert.Equal(t, PhasePlanned, DerivePhaseStatus(p, MustParseDate("2024-03-01")))
	assert.Equal(t, PhaseOngoing, DerivePhaseStatus(p, MustParseDate("2024-03-04")))
	assert.Equal(t, PhaseOngoing, DerivePhaseStatus(p, MustParseDate("2024-03-08")))
	assert.Equal(t, PhasePlanned, DerivePhaseStatus(p, MustParseDate("2024-03-09")))

	p.Progress = 10
	assert.Equal(t, PhaseOngoing, DerivePhaseStatus(p, MustParseDate("2024-03-01")))
	p.Progress = 100
	assert.Equal(t, PhaseCompleted, DerivePhaseStatus(p, MustParseDate("2024-03-05")))
}

func TestWithStatuses(t *testing.T) {
	c := buildAB(t, snapshotWith())
	got := WithStatuses(c, FixedClock(MustParseDate("2024-03-11")).Today())
	require.Len(t, got.Phases, 2)
	assert.Equal(t, PhasePlanned, got.Phases[0].Status)
	assert.Equal(t, PhaseOngoing, got.Phases[1].Status)
	assert.Empty(t, c.Phases[0].Status)
}

func TestDeriveHealth(t *testing.T) {
	end := MustParseDate("2024-03-31")
	r := Rollup{Progress: 40, EndDate: MustParseDate("2024-04-02")}

	h := DeriveHealth(end, r, MustParseDate("2024-04-01"))
	assert.True(t, h.Overdue)
	assert.True(t, h.ScheduleOverrun)

	h = DeriveHealth(end, Rollup{Progress: 100, EndDate: MustParseDate("2024-03-20")}, MustParseDate("2024-04-01"))
	assert.False(t, h.Overdue)
	assert.False(t, h.ScheduleOverrun)

	assert.Equal(t, Health{}, DeriveHealth(Date{}, r, MustParseDate("2024-04-01")))
}
