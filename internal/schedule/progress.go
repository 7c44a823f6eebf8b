package schedule

import "math"

type ProjectStatus string

const (
	ProjectPlanning   ProjectStatus = "Planning"
	ProjectInProgress ProjectStatus = "In Progress"
	ProjectCompleted  ProjectStatus = "Completed"
)

// Rollup is the project-level aggregate of a phase chain.
type Rollup struct {
	Progress   float64       `json:"progress"`
	Status     ProjectStatus `json:"status"`
	PhaseCount int           `json:"phase_count"`
	EndDate    Date          `json:"scheduled_end_date"`
}

func ValidateProgress(phaseID int64, percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return &OutOfRangeError{PhaseID: phaseID, Value: percent}
	}
	return nil
}

// Aggregate computes the duration-weighted mean of phase progress.
// An empty chain has progress 0. When every phase has zero duration the
// phases are weighted equally.
func Aggregate(c Chain) Rollup {
	r := Rollup{PhaseCount: len(c.Phases), EndDate: c.EndDate()}
	if len(c.Phases) == 0 {
		r.Status = DeriveProjectStatus(0)
		return r
	}

	var weighted, weights float64
	for _, p := range c.Phases {
		weighted += p.Progress * float64(p.Duration)
		weights += float64(p.Duration)
	}
	if weights == 0 {
		for _, p := range c.Phases {
			weighted += p.Progress
		}
		weights = float64(len(c.Phases))
	}

	r.Progress = clampPercent(round2(weighted / weights))
	r.Status = DeriveProjectStatus(r.Progress)
	return r
}

func DeriveProjectStatus(progress float64) ProjectStatus {
	switch {
	case progress >= 100:
		return ProjectCompleted
	case progress > 0:
		return ProjectInProgress
	default:
		return ProjectPlanning
	}
}

// WithStatuses returns a copy of the chain with each phase status derived for today.
func WithStatuses(c Chain, today Date) Chain {
	out := c.Clone()
	for i := range out.Phases {
		out.Phases[i].Status = DerivePhaseStatus(out.Phases[i], today)
	}
	return out
}

// Health flags a project whose dates no longer fit its bounds.
type Health struct {
	Overdue         bool `json:"overdue"`
	ScheduleOverrun bool `json:"schedule_overrun"`
}

func DeriveHealth(projectEnd Date, r Rollup, today Date) Health {
	var h Health
	if projectEnd.IsZero() {
		return h
	}
	h.Overdue = today.After(projectEnd) && r.Progress < 100
	h.ScheduleOverrun = !r.EndDate.IsZero() && r.EndDate.After(projectEnd)
	return h
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
