package schedule

import "time"

type PhaseStatus string

const (
	PhasePlanned   PhaseStatus = "Planned"
	PhaseOngoing   PhaseStatus = "Ongoing"
	PhaseCompleted PhaseStatus = "Completed"
)

type Phase struct {
	ID          int64       `json:"schedule_id"`
	ProjectID   int64       `json:"project_id"`
	Name        string      `json:"phase_name"`
	Description string      `json:"description,omitempty"`
	Sequence    int         `json:"sequence_position"`
	StartDate   Date        `json:"start_date"`
	Duration    int         `json:"duration"`
	EndDate     Date        `json:"end_date"`
	Progress    float64     `json:"progress"`
	Status      PhaseStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (p Phase) IsRoot() bool { return p.Sequence == 0 }

// Contains reports whether d falls within [StartDate, EndDate].
func (p Phase) Contains(d Date) bool {
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// DerivePhaseStatus: Completed at 100%, Ongoing while partially done or while
// today is inside the phase window, Planned otherwise.
func DerivePhaseStatus(p Phase, today Date) PhaseStatus {
	switch {
	case p.Progress >= 100:
		return PhaseCompleted
	case p.Progress > 0:
		return PhaseOngoing
	case p.Contains(today):
		return PhaseOngoing
	default:
		return PhasePlanned
	}
}

// Clock supplies "today" to status derivation.
type Clock interface {
	Today() Date
}

type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Today() Date {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(time.Now().In(loc))
}

type FixedClock Date

func (c FixedClock) Today() Date { return Date(c) }
