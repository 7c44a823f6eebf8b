package schedule

import (
	"errors"
	"fmt"
	"strings"
)

// Chain is the ordered phase sequence of one project. Index i holds the phase
// with Sequence == i; the predecessor of phase i is phase i-1.
//
// All mutating operations return a new Chain and leave the receiver untouched,
// so a failed cascade never leaves partially updated dates behind.
type Chain struct {
	ProjectID int64
	Version   int64
	Phases    []Phase
}

// PhaseDraft holds the caller-supplied fields of a phase that is not yet scheduled.
type PhaseDraft struct {
	Name        string
	Description string
	Duration    int
}

func (c Chain) Len() int { return len(c.Phases) }

func (c Chain) Clone() Chain {
	out := c
	out.Phases = append([]Phase(nil), c.Phases...)
	return out
}

func (c Chain) Index(phaseID int64) int {
	for i, p := range c.Phases {
		if p.ID == phaseID {
			return i
		}
	}
	return -1
}

func (c Chain) Phase(phaseID int64) (Phase, bool) {
	i := c.Index(phaseID)
	if i < 0 {
		return Phase{}, false
	}
	return c.Phases[i], true
}

func (c Chain) Root() (Phase, bool) {
	if len(c.Phases) == 0 {
		return Phase{}, false
	}
	return c.Phases[0], true
}

func (c Chain) Tail() (Phase, bool) {
	if len(c.Phases) == 0 {
		return Phase{}, false
	}
	return c.Phases[len(c.Phases)-1], true
}

// EndDate is the end of the last phase, zero for an empty chain.
func (c Chain) EndDate() Date {
	tail, ok := c.Tail()
	if !ok {
		return Date{}
	}
	return tail.EndDate
}

// AppendRoot schedules the first phase of an empty chain at an explicit start date.
// A root phase may have zero duration.
func (c Chain) AppendRoot(d PhaseDraft, start Date, cal WorkingDays) (Chain, error) {
	if len(c.Phases) > 0 {
		return Chain{}, &InvalidPredecessorError{
			ProjectID: c.ProjectID,
			Reason:    "project already has phases, a predecessor is required",
		}
	}
	if start.IsZero() {
		return Chain{}, &InvalidStartDateError{ProjectID: c.ProjectID, Reason: "start_date is required for the first phase"}
	}
	if err := validateDuration(0, d.Duration, true); err != nil {
		return Chain{}, err
	}

	out := c.Clone()
	out.Phases = append(out.Phases, Phase{
		ProjectID:   c.ProjectID,
		Name:        d.Name,
		Description: d.Description,
		StartDate:   start,
		Duration:    d.Duration,
	})
	if err := out.cascadeFrom(0, cal); err != nil {
		return Chain{}, err
	}
	return out, nil
}

// Append chains a new phase after the current tail.
func (c Chain) Append(d PhaseDraft, cal WorkingDays) (Chain, error) {
	tail, ok := c.Tail()
	if !ok {
		return Chain{}, &InvalidPredecessorError{
			ProjectID: c.ProjectID,
			Reason:    "project has no phases, the first phase needs a start date",
		}
	}
	return c.InsertAfter(tail.ID, d, cal)
}

// InsertAfter places a new phase directly after predecessorID. The new phase
// starts the calendar day after the predecessor ends, and every later phase is
// rescheduled behind it.
func (c Chain) InsertAfter(predecessorID int64, d PhaseDraft, cal WorkingDays) (Chain, error) {
	i := c.Index(predecessorID)
	if i < 0 {
		return Chain{}, &InvalidPredecessorError{
			ProjectID:     c.ProjectID,
			PredecessorID: predecessorID,
			Reason:        "predecessor is not part of this project's chain",
		}
	}
	if err := validateDuration(0, d.Duration, false); err != nil {
		return Chain{}, err
	}

	out := c.Clone()
	phase := Phase{
		ProjectID:   c.ProjectID,
		Name:        d.Name,
		Description: d.Description,
		Duration:    d.Duration,
	}
	out.Phases = append(out.Phases, Phase{})
	copy(out.Phases[i+2:], out.Phases[i+1:])
	out.Phases[i+1] = phase

	if err := out.cascadeFrom(i+1, cal); err != nil {
		return Chain{}, err
	}
	return out, nil
}

// EditDuration changes one phase's duration and reschedules it and all later phases.
func (c Chain) EditDuration(phaseID int64, duration int, cal WorkingDays) (Chain, error) {
	i := c.Index(phaseID)
	if i < 0 {
		return Chain{}, phaseNotFound(phaseID)
	}
	if err := validateDuration(phaseID, duration, i == 0); err != nil {
		return Chain{}, err
	}

	out := c.Clone()
	out.Phases[i].Duration = duration
	if err := out.cascadeFrom(i, cal); err != nil {
		return Chain{}, err
	}
	return out, nil
}

// EditRootStart moves the anchor date of the chain and reschedules every phase.
func (c Chain) EditRootStart(start Date, cal WorkingDays) (Chain, error) {
	if len(c.Phases) == 0 {
		return Chain{}, &NotFoundError{Entity: "root phase of project", ID: c.ProjectID}
	}
	if start.IsZero() {
		return Chain{}, &InvalidStartDateError{ProjectID: c.ProjectID, Reason: "start_date is required"}
	}

	out := c.Clone()
	out.Phases[0].StartDate = start
	if err := out.cascadeFrom(0, cal); err != nil {
		return Chain{}, err
	}
	return out, nil
}

// Remove deletes a phase and reschedules the phases after it. When the root is
// removed its successor becomes the new root and keeps the old anchor date.
func (c Chain) Remove(phaseID int64, cal WorkingDays) (Chain, error) {
	i := c.Index(phaseID)
	if i < 0 {
		return Chain{}, phaseNotFound(phaseID)
	}

	out := c.Clone()
	anchor := out.Phases[0].StartDate
	out.Phases = append(out.Phases[:i], out.Phases[i+1:]...)
	if i >= len(out.Phases) {
		return out, nil
	}
	if i == 0 {
		out.Phases[0].StartDate = anchor
	}
	if err := out.cascadeFrom(i, cal); err != nil {
		return Chain{}, err
	}
	return out, nil
}

// Recompute re-derives every date from the root start. With an unchanged
// calendar it is idempotent.
func (c Chain) Recompute(cal WorkingDays) (Chain, error) {
	out := c.Clone()
	if len(out.Phases) == 0 {
		return out, nil
	}
	if err := out.cascadeFrom(0, cal); err != nil {
		return Chain{}, err
	}
	return out, nil
}

// UpdateProgress sets the reported completion of one phase. Dates are untouched.
func (c Chain) UpdateProgress(phaseID int64, percent float64) (Chain, error) {
	i := c.Index(phaseID)
	if i < 0 {
		return Chain{}, phaseNotFound(phaseID)
	}
	if err := ValidateProgress(phaseID, percent); err != nil {
		return Chain{}, err
	}
	out := c.Clone()
	out.Phases[i].Progress = percent
	return out, nil
}

func (c *Chain) cascadeFrom(i int, cal WorkingDays) error {
	for j := i; j < len(c.Phases); j++ {
		p := &c.Phases[j]
		p.Sequence = j
		if j > 0 {
			// 下一个阶段从前一阶段结束后的第二个自然日开始，即使当天是节假日
			p.StartDate = c.Phases[j-1].EndDate.AddDays(1)
		}
		end, err := AddWorkingDays(p.StartDate, p.Duration, cal)
		if err != nil {
			var de *InvalidDurationError
			if errors.As(err, &de) {
				de.PhaseID = p.ID
			}
			return err
		}
		p.EndDate = end
	}
	return nil
}

// Validate checks the ordering invariants of the chain.
func (c Chain) Validate() error {
	var problems []string
	for i, p := range c.Phases {
		if p.Sequence != i {
			problems = append(problems, fmt.Sprintf("phase %d has sequence %d at position %d", p.ID, p.Sequence, i))
		}
		if p.EndDate.Before(p.StartDate) {
			problems = append(problems, fmt.Sprintf("phase %d ends before it starts", p.ID))
		}
		if i > 0 && !p.StartDate.After(c.Phases[i-1].EndDate) {
			problems = append(problems, fmt.Sprintf("phase %d starts on or before predecessor %d ends", p.ID, c.Phases[i-1].ID))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("inconsistent chain for project %d: %s", c.ProjectID, strings.Join(problems, "; "))
	}
	return nil
}

// Changed lists phases of next whose schedule differs from c, plus any phase new to next.
func (c Chain) Changed(next Chain) []Phase {
	before := make(map[int64]Phase, len(c.Phases))
	for _, p := range c.Phases {
		before[p.ID] = p
	}
	var out []Phase
	for _, p := range next.Phases {
		old, ok := before[p.ID]
		if !ok || p.ID == 0 ||
			old.Sequence != p.Sequence ||
			!old.StartDate.Equal(p.StartDate) ||
			!old.EndDate.Equal(p.EndDate) ||
			old.Duration != p.Duration ||
			old.Progress != p.Progress {
			out = append(out, p)
		}
	}
	return out
}

func validateDuration(phaseID int64, n int, root bool) error {
	if n < 0 {
		return &InvalidDurationError{PhaseID: phaseID, Duration: n, Reason: "must not be negative"}
	}
	if n == 0 && !root {
		return &InvalidDurationError{PhaseID: phaseID, Duration: n, Reason: "only the first phase may have zero duration"}
	}
	if n > MaxDuration {
		return &InvalidDurationError{PhaseID: phaseID, Duration: n, Reason: fmt.Sprintf("must not exceed %d working days", MaxDuration)}
	}
	return nil
}
