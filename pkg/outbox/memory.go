package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps outbox events in process. It backs the memory storage
// driver and tests.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]*Event
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[int64]*Event),
		now:    time.Now,
	}
}

// Append stores events as pending and assigns their ids in place.
func (m *MemoryStore) Append(events []Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for i := range events {
		m.nextID++
		e := events[i]
		e.ID = m.nextID
		if e.Status == "" {
			e.Status = StatusPending
		}
		e.CreatedAt = now
		e.UpdatedAt = now
		events[i] = e
		m.events[e.ID] = &e
	}
}

func (m *MemoryStore) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	return m.filter(limit, func(e *Event) bool {
		return e.Status == StatusPending && (e.NextRetryAt == nil || !e.NextRetryAt.After(m.now()))
	}), nil
}

func (m *MemoryStore) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	return m.filter(limit, func(e *Event) bool { return e.Status == StatusFailed }), nil
}

// All returns every stored event ordered by id.
func (m *MemoryStore) All() []Event {
	evs := m.filter(0, func(*Event) bool { return true })
	out := make([]Event, len(evs))
	for i, e := range evs {
		out[i] = *e
	}
	return out
}

func (m *MemoryStore) MarkAsSent(ctx context.Context, eventID int64) error {
	return m.update(eventID, func(e *Event) {
		e.Status = StatusSent
	})
}

func (m *MemoryStore) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	return m.update(eventID, func(e *Event) {
		e.RetryCount++
		if e.RetryCount >= maxRetries {
			e.Status = StatusFailed
			e.NextRetryAt = nil
			return
		}
		next := NextRetry(m.now(), e.RetryCount)
		e.NextRetryAt = &next
	})
}

func (m *MemoryStore) ResetEvent(ctx context.Context, eventID int64) error {
	return m.update(eventID, func(e *Event) {
		e.Status = StatusPending
		e.RetryCount = 0
		e.NextRetryAt = nil
	})
}

func (m *MemoryStore) filter(limit int, keep func(*Event) bool) []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Event
	for _, e := range m.events {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) update(eventID int64, fn func(*Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventID]
	if !ok {
		return fmt.Errorf("event not found: %d", eventID)
	}
	fn(e)
	e.UpdatedAt = m.now()
	return nil
}
