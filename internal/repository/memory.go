package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"buildtrack/internal/model"
	"buildtrack/internal/schedule"
	"buildtrack/pkg/outbox"
)

// MemoryStore keeps everything in process. Every write happens under one
// mutex, which makes SaveChain atomic.
type MemoryStore struct {
	mu sync.Mutex

	projects map[int64]model.Project
	phases   map[int64][]schedule.Phase
	holidays *schedule.Calendar
	outbox   *outbox.MemoryStore
	nextIDs  struct{ project, phase, holiday int64 }
	now      func() time.Time
}

func NewMemoryStore(events *outbox.MemoryStore) *MemoryStore {
	// 这里的 Calendar 只用来存储假日，周末规则由 service 决定
	cal, _ := schedule.NewCalendar(schedule.DefaultWeekend())
	return &MemoryStore{
		projects: make(map[int64]model.Project),
		phases:   make(map[int64][]schedule.Phase),
		holidays: cal,
		outbox:   events,
		now:      time.Now,
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) CreateProject(ctx context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextIDs.project++
	p.ID = m.nextIDs.project
	p.CreatedAt = m.now()
	if p.Status == "" {
		p.Status = schedule.ProjectPlanning
	}
	m.projects[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetProject(ctx context.Context, id int64) (model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return model.Project{}, &schedule.NotFoundError{Entity: "project", ID: id}
	}
	return p, nil
}

func (m *MemoryStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteProject(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[id]; !ok {
		return &schedule.NotFoundError{Entity: "project", ID: id}
	}
	delete(m.projects, id)
	delete(m.phases, id)
	m.holidays.RemoveScope(schedule.ProjectScope(id))
	return nil
}

func (m *MemoryStore) LoadChain(ctx context.Context, projectID int64) (schedule.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[projectID]
	if !ok {
		return schedule.Chain{}, &schedule.NotFoundError{Entity: "project", ID: projectID}
	}
	return schedule.Chain{
		ProjectID: projectID,
		Version:   p.ChainVersion,
		Phases:    append([]schedule.Phase(nil), m.phases[projectID]...),
	}, nil
}

func (m *MemoryStore) GetPhase(ctx context.Context, phaseID int64) (schedule.Phase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, phases := range m.phases {
		for _, ph := range phases {
			if ph.ID == phaseID {
				return ph, nil
			}
		}
	}
	return schedule.Phase{}, &schedule.NotFoundError{Entity: "phase", ID: phaseID}
}

func (m *MemoryStore) SaveChain(ctx context.Context, u ChainUpdate) (schedule.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[u.ProjectID]
	if !ok {
		return schedule.Chain{}, &schedule.NotFoundError{Entity: "project", ID: u.ProjectID}
	}
	if p.ChainVersion != u.ExpectedVersion {
		return schedule.Chain{}, &schedule.ConcurrentModificationError{
			ProjectID:       u.ProjectID,
			ExpectedVersion: u.ExpectedVersion,
			ActualVersion:   p.ChainVersion,
		}
	}

	now := m.now()
	saved := u.Chain.Clone()
	saved.ProjectID = u.ProjectID
	saved.Version = p.ChainVersion + 1

	existing := make(map[int64]schedule.Phase, len(m.phases[u.ProjectID]))
	for _, ph := range m.phases[u.ProjectID] {
		existing[ph.ID] = ph
	}
	nextPhase := m.nextIDs.phase
	for i := range saved.Phases {
		ph := &saved.Phases[i]
		ph.ProjectID = u.ProjectID
		if ph.ID == 0 {
			nextPhase++
			ph.ID = nextPhase
			ph.CreatedAt = now
			ph.UpdatedAt = now
			continue
		}
		old, ok := existing[ph.ID]
		if !ok {
			return schedule.Chain{}, &schedule.NotFoundError{Entity: "phase", ID: ph.ID}
		}
		ph.CreatedAt = old.CreatedAt
		ph.UpdatedAt = now
	}

	var events []outbox.Event
	if u.Events != nil {
		var err error
		if events, err = u.Events(saved); err != nil {
			return schedule.Chain{}, err
		}
	}

	// 以下不会失败，统一提交
	m.nextIDs.phase = nextPhase
	m.phases[u.ProjectID] = saved.Phases
	p.ChainVersion = saved.Version
	p.ApplyRollup(u.Rollup)
	m.projects[u.ProjectID] = p
	if len(events) > 0 && m.outbox != nil {
		m.outbox.Append(events)
	}
	return saved.Clone(), nil
}

func (m *MemoryStore) ListHolidays(ctx context.Context, f HolidayFilter) ([]schedule.Holiday, error) {
	if f.ProjectID == nil {
		return m.holidays.All(), nil
	}
	return m.holidays.Holidays(schedule.ProjectScope(*f.ProjectID)), nil
}

func (m *MemoryStore) InsertHoliday(ctx context.Context, h *schedule.Holiday, events HolidayEvents) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !h.Scope.IsGlobal() {
		if _, ok := m.projects[h.Scope.ProjectID()]; !ok {
			return &schedule.NotFoundError{Entity: "project", ID: h.Scope.ProjectID()}
		}
	}

	candidate := *h
	candidate.ID = m.nextIDs.holiday + 1
	candidate.CreatedAt = m.now()

	var evs []outbox.Event
	if events != nil {
		var err error
		if evs, err = events(candidate); err != nil {
			return err
		}
	}
	if err := m.holidays.Add(candidate); err != nil {
		return err
	}
	m.nextIDs.holiday = candidate.ID
	if len(evs) > 0 && m.outbox != nil {
		m.outbox.Append(evs)
	}
	*h = candidate
	return nil
}

func (m *MemoryStore) DeleteHoliday(ctx context.Context, id int64, events HolidayEvents) (schedule.Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holidays.Get(id)
	if !ok {
		return schedule.Holiday{}, &schedule.NotFoundError{Entity: "holiday", ID: id}
	}
	var evs []outbox.Event
	if events != nil {
		var err error
		if evs, err = events(h); err != nil {
			return schedule.Holiday{}, err
		}
	}
	if _, err := m.holidays.Remove(id); err != nil {
		return schedule.Holiday{}, err
	}
	if len(evs) > 0 && m.outbox != nil {
		m.outbox.Append(evs)
	}
	return h, nil
}
