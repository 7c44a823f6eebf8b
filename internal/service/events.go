package service

import (
	"time"

	contracts "buildtrack/contracts/mq"
	"buildtrack/internal/schedule"
	"buildtrack/pkg/outbox"
)

const (
	aggregateProject = "project"
	aggregatePhase   = "schedule"
	aggregateHoliday = "holiday"
)

// eventBuilder collects the outbox events of one write. The first marshal
// error sticks and is returned by events().
type eventBuilder struct {
	traceID string
	at      time.Time
	out     []outbox.Event
	err     error
}

func newEventBuilder(traceID string, at time.Time) *eventBuilder {
	return &eventBuilder{traceID: traceID, at: at}
}

func (b *eventBuilder) envelope() contracts.Envelope {
	return contracts.NewEnvelope(b.traceID, b.at)
}

func (b *eventBuilder) add(aggregateType string, aggregateID int64, routingKey string, payload any) {
	if b.err != nil {
		return
	}
	e, err := outbox.NewEvent(aggregateType, aggregateID, routingKey, payload)
	if err != nil {
		b.err = err
		return
	}
	b.out = append(b.out, e)
}

func (b *eventBuilder) events() ([]outbox.Event, error) {
	return b.out, b.err
}

func (b *eventBuilder) phaseCreated(p schedule.Phase, clientEmail string) {
	b.add(aggregatePhase, p.ID, contracts.RoutingPhaseCreated, contracts.PhaseCreatedPayload{
		Envelope:    b.envelope(),
		ProjectID:   p.ProjectID,
		ClientEmail: clientEmail,
		PhaseDates:  phaseDates(p),
	})
}

func (b *eventBuilder) phaseUpdated(change string, p schedule.Phase, r schedule.Rollup) {
	b.add(aggregatePhase, p.ID, contracts.RoutingPhaseUpdated, contracts.PhaseUpdatedPayload{
		Envelope:        b.envelope(),
		ProjectID:       p.ProjectID,
		Change:          change,
		PhaseDates:      phaseDates(p),
		Progress:        p.Progress,
		ProjectProgress: r.Progress,
		ProjectStatus:   string(r.Status),
	})
}

func (b *eventBuilder) phaseRemoved(p schedule.Phase) {
	b.add(aggregatePhase, p.ID, contracts.RoutingPhaseRemoved, contracts.PhaseRemovedPayload{
		Envelope:   b.envelope(),
		ProjectID:  p.ProjectID,
		ScheduleID: p.ID,
		PhaseName:  p.Name,
	})
}

// recomputed 只在有阶段日期变化时发出
func (b *eventBuilder) recomputed(trigger string, saved schedule.Chain, moved []schedule.Phase, r schedule.Rollup) {
	if len(moved) == 0 {
		return
	}
	changed := make([]contracts.PhaseDates, len(moved))
	for i, p := range moved {
		changed[i] = phaseDates(p)
	}
	payload := contracts.ChainRecomputedPayload{
		Envelope:        b.envelope(),
		ProjectID:       saved.ProjectID,
		Trigger:         trigger,
		ChainVersion:    saved.Version,
		Changed:         changed,
		ProjectProgress: r.Progress,
		ProjectStatus:   string(r.Status),
	}
	if !r.EndDate.IsZero() {
		payload.ScheduledEndDate = r.EndDate.String()
	}
	b.add(aggregateProject, saved.ProjectID, contracts.RoutingChainRecomputed, payload)
}

func (b *eventBuilder) holiday(routingKey string, h schedule.Holiday) {
	b.add(aggregateHoliday, h.ID, routingKey, contracts.HolidayPayload{
		Envelope:  b.envelope(),
		HolidayID: h.ID,
		Date:      h.Date.String(),
		Label:     h.Label,
		ProjectID: h.ProjectID(),
	})
}

func phaseDates(p schedule.Phase) contracts.PhaseDates {
	return contracts.PhaseDates{
		ScheduleID:       p.ID,
		PhaseName:        p.Name,
		SequencePosition: p.Sequence,
		StartDate:        p.StartDate.String(),
		EndDate:          p.EndDate.String(),
		Duration:         p.Duration,
	}
}

// rescheduled lists phases present in both chains whose position or dates
// moved, except skip (the phase the main event is about).
func rescheduled(before, saved schedule.Chain, skip int64) []schedule.Phase {
	prev := make(map[int64]schedule.Phase, len(before.Phases))
	for _, p := range before.Phases {
		prev[p.ID] = p
	}
	var out []schedule.Phase
	for _, p := range saved.Phases {
		old, ok := prev[p.ID]
		if !ok || p.ID == skip {
			continue
		}
		if old.Sequence != p.Sequence ||
			!old.StartDate.Equal(p.StartDate) ||
			!old.EndDate.Equal(p.EndDate) ||
			old.Duration != p.Duration {
			out = append(out, p)
		}
	}
	return out
}

// addedPhase returns the phase of saved that did not exist in before.
func addedPhase(before, saved schedule.Chain) (schedule.Phase, bool) {
	for _, p := range saved.Phases {
		if _, ok := before.Phase(p.ID); !ok {
			return p, true
		}
	}
	return schedule.Phase{}, false
}

func phaseIDs(ps []schedule.Phase) []int64 {
	ids := make([]int64, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}
