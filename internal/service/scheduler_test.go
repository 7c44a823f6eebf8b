package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	contracts "buildtrack/contracts/mq"
	"buildtrack/internal/repository"
	"buildtrack/internal/schedule"
	"buildtrack/pkg/lock"
	"buildtrack/pkg/outbox"
	"buildtrack/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	s      *Scheduler
	store  *repository.MemoryStore
	events *outbox.MemoryStore
	locker *lock.MemoryLocker
}

func newFixture(t *testing.T, timeout time.Duration) fixture {
	t.Helper()
	events := outbox.NewMemoryStore()
	store := repository.NewMemoryStore(events)
	locker := lock.NewMemoryLocker()
	s := NewScheduler(store, locker, Options{
		Weekend:          schedule.DefaultWeekend(),
		Clock:            schedule.FixedClock(schedule.MustParseDate("2024-03-07")),
		OperationTimeout: timeout,
		Claims:           util.NewMemoryDeduper(time.Hour),
	})
	return fixture{s: s, store: store, events: events, locker: locker}
}

func (f fixture) project(t *testing.T, start string) int64 {
	t.Helper()
	p, err := f.s.CreateProject(context.Background(), ProjectInput{
		Name:      "Riverside Block C",
		StartDate: schedule.MustParseDate(start),
		EndDate:   schedule.MustParseDate("2024-03-29"),
	})
	require.NoError(t, err)
	return p.ID
}

func (f fixture) phase(t *testing.T, in CreatePhaseInput) schedule.Phase {
	t.Helper()
	res, err := f.s.CreatePhase(context.Background(), in)
	require.NoError(t, err)
	return res.Phase
}

func (f fixture) routingKeys() []string {
	var keys []string
	for _, e := range f.events.All() {
		keys = append(keys, e.RoutingKey)
	}
	return keys
}

func date(s string) schedule.Date { return schedule.MustParseDate(s) }

func TestScheduler_ChainAndHolidayCascade(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")

	a := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: 5, StartDate: date("2024-03-04")})
	assert.Equal(t, date("2024-03-08"), a.EndDate)
	assert.Equal(t, 0, a.Sequence)

	b := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Framing", Duration: 3})
	assert.Equal(t, date("2024-03-09"), b.StartDate)
	assert.Equal(t, date("2024-03-13"), b.EndDate)
	assert.Equal(t, 1, b.Sequence)

	res, err := f.s.AddHoliday(ctx, HolidayInput{Date: date("2024-03-06"), Label: "Site closure"})
	require.NoError(t, err)
	assert.Equal(t, []int64{pid}, res.Recomputed)
	assert.Empty(t, res.Failed)

	chain, err := f.s.ListPhases(ctx, pid)
	require.NoError(t, err)
	require.Len(t, chain.Phases, 2)
	assert.Equal(t, date("2024-03-11"), chain.Phases[0].EndDate)
	assert.Equal(t, date("2024-03-12"), chain.Phases[1].StartDate)
	assert.Equal(t, date("2024-03-14"), chain.Phases[1].EndDate)
	assert.Equal(t, date("2024-03-14"), chain.Rollup.EndDate)

	assert.Equal(t, []string{
		contracts.RoutingPhaseCreated,
		contracts.RoutingPhaseCreated,
		contracts.RoutingHolidayCreated,
		contracts.RoutingChainRecomputed,
	}, f.routingKeys())

	all := f.events.All()
	var recomputed contracts.ChainRecomputedPayload
	require.NoError(t, json.Unmarshal(all[3].Payload, &recomputed))
	assert.Equal(t, TriggerHoliday, recomputed.Trigger)
	assert.Len(t, recomputed.Changed, 2)
	assert.NotEmpty(t, recomputed.EventID)
	assert.NotEmpty(t, recomputed.TraceID)

	// 删除假日后恢复原排期
	_, err = f.s.RemoveHoliday(ctx, res.Holiday.ID)
	require.NoError(t, err)
	chain, err = f.s.ListPhases(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-08"), chain.Phases[0].EndDate)
	assert.Equal(t, date("2024-03-13"), chain.Phases[1].EndDate)
}

func TestScheduler_ProgressRollup(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")

	a := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: 5})
	b := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Framing", Duration: 5})

	res, err := f.s.UpdateProgress(ctx, a.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, schedule.PhaseCompleted, res.Phase.Status)
	assert.Equal(t, 50.0, res.Chain.Rollup.Progress)

	res, err = f.s.UpdateProgress(ctx, b.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, 75.0, res.Chain.Rollup.Progress)
	assert.Equal(t, schedule.ProjectInProgress, res.Chain.Rollup.Status)

	view, err := f.s.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 75.0, view.Progress)
	assert.Equal(t, schedule.ProjectInProgress, view.Status)

	_, err = f.s.UpdateProgress(ctx, b.ID, 120)
	assert.ErrorIs(t, err, schedule.ErrOutOfRange)

	_, err = f.s.UpdateProgress(ctx, 999, 10)
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestScheduler_PredecessorInsertion(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")
	other := f.project(t, "2024-03-04")

	a := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: 5})
	c := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Roofing", Duration: 2})
	foreign := f.phase(t, CreatePhaseInput{ProjectID: other, Name: "Survey", Duration: 1})

	res, err := f.s.CreatePhase(ctx, CreatePhaseInput{ProjectID: pid, Name: "Framing", Duration: 3, PredecessorID: &a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Phase.Sequence)
	assert.Contains(t, res.Chain.Changed, c.ID)

	names := []string{}
	for _, p := range res.Chain.Phases {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Foundation", "Framing", "Roofing"}, names)
	assert.Equal(t, date("2024-03-14"), res.Chain.Phases[2].StartDate)

	_, err = f.s.CreatePhase(ctx, CreatePhaseInput{ProjectID: pid, Name: "X", Duration: 1, PredecessorID: &foreign.ID})
	assert.ErrorIs(t, err, schedule.ErrInvalidPredecessor)

	missing := int64(404)
	_, err = f.s.CreatePhase(ctx, CreatePhaseInput{ProjectID: pid, Name: "X", Duration: 1, PredecessorID: &missing})
	assert.ErrorIs(t, err, schedule.ErrInvalidPredecessor)

	_, err = f.s.CreatePhase(ctx, CreatePhaseInput{ProjectID: pid, Name: "X", Duration: 0})
	assert.ErrorIs(t, err, schedule.ErrInvalidDuration)
}

func TestScheduler_EditAndRemove(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")

	a := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: 5})
	b := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Framing", Duration: 3})

	res, err := f.s.EditDuration(ctx, a.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-06"), res.Phase.EndDate)
	moved, ok := res.Chain.Phase(b.ID)
	require.True(t, ok)
	assert.Equal(t, date("2024-03-07"), moved.StartDate)
	assert.Equal(t, date("2024-03-11"), moved.EndDate)

	chain, err := f.s.EditRootStart(ctx, pid, date("2024-03-11"))
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-13"), chain.Phases[0].EndDate)

	chain, err = f.s.RemovePhase(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, chain.Phases, 1)
	assert.Equal(t, b.ID, chain.Phases[0].ID)
	assert.Equal(t, 0, chain.Phases[0].Sequence)
	assert.Equal(t, date("2024-03-11"), chain.Phases[0].StartDate)

	assert.Contains(t, f.routingKeys(), contracts.RoutingPhaseRemoved)
	assert.Contains(t, f.routingKeys(), contracts.RoutingPhaseUpdated)

	_, err = f.s.EditRootStart(ctx, pid, schedule.Date{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestScheduler_RecomputeWithoutChangesKeepsVersion(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")
	f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: 5})

	before := len(f.events.All())
	res, err := f.s.Recompute(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Version)
	assert.Empty(t, res.Changed)
	assert.Len(t, f.events.All(), before)
}

func TestScheduler_IdempotencyKey(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")

	in := CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: -1, IdempotencyKey: "req-1"}
	_, err := f.s.CreatePhase(ctx, in)
	assert.ErrorIs(t, err, schedule.ErrInvalidDuration)

	// 失败后同一个 key 可以重试
	in.Duration = 5
	_, err = f.s.CreatePhase(ctx, in)
	require.NoError(t, err)

	_, err = f.s.CreatePhase(ctx, in)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	chain, err := f.s.ListPhases(ctx, pid)
	require.NoError(t, err)
	assert.Len(t, chain.Phases, 1)
}

func TestScheduler_LockTimeout(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")

	release, err := f.locker.Acquire(ctx, projectLockKey(pid))
	require.NoError(t, err)
	defer release()

	_, err = f.s.CreatePhase(ctx, CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: 5})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Empty(t, f.events.All())
}

// racingStore commits a competing write between load and save.
type racingStore struct {
	*repository.MemoryStore
	raced bool
}

func (r *racingStore) LoadChain(ctx context.Context, projectID int64) (schedule.Chain, error) {
	c, err := r.MemoryStore.LoadChain(ctx, projectID)
	if err != nil || r.raced || c.Len() == 0 {
		return c, err
	}
	r.raced = true
	next, err := c.UpdateProgress(c.Phases[0].ID, 10)
	if err != nil {
		return c, err
	}
	_, err = r.MemoryStore.SaveChain(ctx, repository.ChainUpdate{
		ProjectID:       projectID,
		ExpectedVersion: c.Version,
		Chain:           next,
		Rollup:          schedule.Aggregate(next),
	})
	return c, err
}

func TestScheduler_ConcurrentModification(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")
	a := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: 5})

	racing := &racingStore{MemoryStore: f.store}
	s := NewScheduler(racing, f.locker, Options{Weekend: schedule.DefaultWeekend(), OperationTimeout: time.Second})

	_, err := s.EditDuration(ctx, a.ID, 8)
	assert.ErrorIs(t, err, schedule.ErrConcurrentModification)

	stored, err := f.store.GetPhase(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Duration)
	assert.Equal(t, 10.0, stored.Progress)
}

func TestScheduler_ProjectHealthAndDelete(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	p, err := f.s.CreateProject(ctx, ProjectInput{
		Name:      "Harbour Pavilion",
		StartDate: date("2024-03-04"),
		EndDate:   date("2024-03-06"),
	})
	require.NoError(t, err)
	f.phase(t, CreatePhaseInput{ProjectID: p.ID, Name: "Foundation", Duration: 5})

	view, err := f.s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, view.Health.ScheduleOverrun)
	assert.True(t, view.Health.Overdue)
	assert.Equal(t, int64(1), view.ChainVersion)

	require.NoError(t, f.s.DeleteProject(ctx, p.ID))
	_, err = f.s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, schedule.ErrNotFound)

	_, err = f.s.CreateProject(ctx, ProjectInput{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.s.CreateProject(ctx, ProjectInput{Name: "Bad", StartDate: date("2024-03-04"), EndDate: date("2024-03-01")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestScheduler_WorkingDaysBetween(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")

	_, err := f.s.AddHoliday(ctx, HolidayInput{Date: date("2024-03-06"), Label: "Inspection", ProjectID: &pid})
	require.NoError(t, err)

	n, err := f.s.WorkingDaysBetween(ctx, date("2024-03-04"), date("2024-03-10"), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.s.WorkingDaysBetween(ctx, date("2024-03-04"), date("2024-03-10"), &pid)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = f.s.AddHoliday(ctx, HolidayInput{Date: date("2024-03-06"), ProjectID: &pid})
	assert.ErrorIs(t, err, schedule.ErrDuplicateHoliday)

	missing := int64(77)
	_, err = f.s.AddHoliday(ctx, HolidayInput{Date: date("2024-03-07"), ProjectID: &missing})
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestScheduler_DurationLimit(t *testing.T) {
	f := newFixture(t, 500*time.Millisecond)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")
	root := f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: 5})

	start := time.Now()
	_, err := f.s.CreatePhase(ctx, CreatePhaseInput{ProjectID: pid, Name: "Forever", Duration: 300_000_000})
	assert.ErrorIs(t, err, schedule.ErrInvalidDuration)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	_, err = f.s.EditDuration(ctx, root.ID, schedule.MaxDuration+1)
	assert.ErrorIs(t, err, schedule.ErrInvalidDuration)

	chain, err := f.s.ListPhases(ctx, pid)
	require.NoError(t, err)
	require.Len(t, chain.Phases, 1)
	assert.Equal(t, date("2024-03-08"), chain.Phases[0].EndDate)

	res, err := f.s.EditDuration(ctx, root.ID, schedule.MaxDuration)
	require.NoError(t, err)
	assert.True(t, res.Phase.EndDate.Before(schedule.LastDate))
}

func TestScheduler_CascadePastDeadlineIsNotSaved(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()
	pid := f.project(t, "2024-03-04")
	f.phase(t, CreatePhaseInput{ProjectID: pid, Name: "Foundation", Duration: 5})

	before, err := f.store.LoadChain(ctx, pid)
	require.NoError(t, err)

	slow := func(c schedule.Chain, cal schedule.WorkingDays) (schedule.Chain, error) {
		time.Sleep(100 * time.Millisecond)
		return c.EditDuration(c.Phases[0].ID, 8, cal)
	}
	_, err = f.s.mutate(ctx, pid, TriggerDuration, 0, slow, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	after, err := f.store.LoadChain(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, 5, after.Phases[0].Duration)
}

func TestScheduler_AddHolidayRejectsZeroProject(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	f.project(t, "2024-03-04")
	before := len(f.events.All())

	zero := int64(0)
	_, err := f.s.AddHoliday(ctx, HolidayInput{Date: date("2024-03-06"), ProjectID: &zero})
	assert.ErrorIs(t, err, ErrInvalidInput)

	holidays, err := f.s.ListHolidays(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, holidays)
	assert.Len(t, f.events.All(), before)
}
