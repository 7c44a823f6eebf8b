package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"buildtrack/internal/schedule"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/metrics"

	"go.uber.org/zap"
)

const idempotencyScope = "schedule.create"

type CreatePhaseInput struct {
	ProjectID   int64
	Name        string
	Description string
	Duration    int
	// StartDate 只对项目的第一个阶段生效，为空时取项目开始日期
	StartDate schedule.Date
	// PredecessorID 为空时接在当前最后一个阶段之后
	PredecessorID  *int64
	IdempotencyKey string
}

// PhaseResult is a single phase plus the chain it belongs to.
type PhaseResult struct {
	Phase schedule.Phase `json:"schedule"`
	Chain ChainResult    `json:"chain"`
}

func (s *Scheduler) CreatePhase(ctx context.Context, in CreatePhaseInput) (PhaseResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return PhaseResult{}, invalid("phase_name", "is required")
	}

	if in.IdempotencyKey != "" && s.claims != nil {
		key := fmt.Sprintf("%d:%s", in.ProjectID, in.IdempotencyKey)
		if !s.claims.AcquireOnce(ctx, idempotencyScope, key) {
			return PhaseResult{}, fmt.Errorf("%w: idempotency key %q", ErrDuplicateRequest, in.IdempotencyKey)
		}
		res, err := s.createPhase(ctx, in)
		if err != nil {
			// 失败的请求允许用同一个 key 重试
			s.claims.Forget(context.WithoutCancel(ctx), idempotencyScope, key)
		}
		return res, err
	}
	return s.createPhase(ctx, in)
}

func (s *Scheduler) createPhase(ctx context.Context, in CreatePhaseInput) (PhaseResult, error) {
	readCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	project, err := s.store.GetProject(readCtx, in.ProjectID)
	if err != nil {
		return PhaseResult{}, err
	}
	if in.PredecessorID != nil {
		if err := s.checkPredecessor(readCtx, in.ProjectID, *in.PredecessorID); err != nil {
			return PhaseResult{}, err
		}
	}

	draft := schedule.PhaseDraft{Name: in.Name, Description: in.Description, Duration: in.Duration}
	log := logger.WithTrace(ctx, s.logger)
	position := "tail"

	apply := func(c schedule.Chain, cal schedule.WorkingDays) (schedule.Chain, error) {
		if c.Len() == 0 {
			if in.PredecessorID != nil {
				return schedule.Chain{}, &schedule.InvalidPredecessorError{
					ProjectID:     in.ProjectID,
					PredecessorID: *in.PredecessorID,
					Reason:        "project has no phases yet",
				}
			}
			start := in.StartDate
			if start.IsZero() {
				start = project.StartDate
			}
			position = "root"
			return c.AppendRoot(draft, start, cal)
		}

		if !in.StartDate.IsZero() {
			log.Info("start_date ignored for non-root phase",
				zap.Int64("project_id", in.ProjectID),
				zap.String("start_date", in.StartDate.String()),
			)
		}
		if in.PredecessorID == nil {
			position = "tail"
			return c.Append(draft, cal)
		}
		if tail, ok := c.Tail(); ok && tail.ID == *in.PredecessorID {
			position = "tail"
		} else {
			position = "inserted"
		}
		return c.InsertAfter(*in.PredecessorID, draft, cal)
	}

	var created schedule.Phase
	res, err := s.mutate(ctx, in.ProjectID, TriggerCreate, 0, apply,
		func(b *eventBuilder, before, saved schedule.Chain, r schedule.Rollup) {
			p, ok := addedPhase(before, saved)
			if !ok {
				return
			}
			created = p
			b.phaseCreated(p, project.ClientEmail)
		})
	if err != nil {
		return PhaseResult{}, err
	}
	metrics.IncrementPhaseCreated(position)

	// 事件回调里拿到的是未带状态的阶段，从结果里取一次
	if p, ok := res.Phase(created.ID); ok {
		created = p
	}
	return PhaseResult{Phase: created, Chain: res}, nil
}

// checkPredecessor distinguishes a missing predecessor from one that belongs
// to another project.
func (s *Scheduler) checkPredecessor(ctx context.Context, projectID, predecessorID int64) error {
	pred, err := s.store.GetPhase(ctx, predecessorID)
	if errors.Is(err, schedule.ErrNotFound) {
		return &schedule.InvalidPredecessorError{
			ProjectID:     projectID,
			PredecessorID: predecessorID,
			Reason:        "predecessor does not exist",
		}
	}
	if err != nil {
		return err
	}
	if pred.ProjectID != projectID {
		return &schedule.InvalidPredecessorError{
			ProjectID:     projectID,
			PredecessorID: predecessorID,
			Reason:        fmt.Sprintf("predecessor belongs to project %d", pred.ProjectID),
		}
	}
	return nil
}

// ListPhases returns the chain ordered by sequence_position with statuses
// derived for today.
func (s *Scheduler) ListPhases(ctx context.Context, projectID int64) (ChainResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chain, err := s.store.LoadChain(ctx, projectID)
	if err != nil {
		return ChainResult{}, err
	}
	return s.result(chain, nil), nil
}

func (s *Scheduler) UpdateProgress(ctx context.Context, phaseID int64, percent float64) (PhaseResult, error) {
	if err := schedule.ValidateProgress(phaseID, percent); err != nil {
		return PhaseResult{}, err
	}
	return s.editPhase(ctx, phaseID, TriggerProgress, func(c schedule.Chain, _ schedule.WorkingDays) (schedule.Chain, error) {
		return c.UpdateProgress(phaseID, percent)
	})
}

func (s *Scheduler) EditDuration(ctx context.Context, phaseID int64, duration int) (PhaseResult, error) {
	return s.editPhase(ctx, phaseID, TriggerDuration, func(c schedule.Chain, cal schedule.WorkingDays) (schedule.Chain, error) {
		return c.EditDuration(phaseID, duration, cal)
	})
}

// editPhase applies a change to one phase and emits schedule.phase.updated
// for it; successors that moved go into schedule.recomputed.
func (s *Scheduler) editPhase(ctx context.Context, phaseID int64, trigger string, apply applyFunc) (PhaseResult, error) {
	current, err := s.phaseOf(ctx, phaseID)
	if err != nil {
		return PhaseResult{}, err
	}
	res, err := s.mutate(ctx, current.ProjectID, trigger, phaseID, apply,
		func(b *eventBuilder, before, saved schedule.Chain, r schedule.Rollup) {
			if p, ok := saved.Phase(phaseID); ok {
				b.phaseUpdated(trigger, p, r)
			}
		})
	if err != nil {
		return PhaseResult{}, err
	}
	p, ok := res.Phase(phaseID)
	if !ok {
		return PhaseResult{}, &schedule.NotFoundError{Entity: "phase", ID: phaseID}
	}
	return PhaseResult{Phase: p, Chain: res}, nil
}

func (s *Scheduler) EditRootStart(ctx context.Context, projectID int64, start schedule.Date) (ChainResult, error) {
	if start.IsZero() {
		return ChainResult{}, invalid("start_date", "is required")
	}
	return s.mutate(ctx, projectID, TriggerRootStart, 0, func(c schedule.Chain, cal schedule.WorkingDays) (schedule.Chain, error) {
		return c.EditRootStart(start, cal)
	}, nil)
}

func (s *Scheduler) RemovePhase(ctx context.Context, phaseID int64) (ChainResult, error) {
	current, err := s.phaseOf(ctx, phaseID)
	if err != nil {
		return ChainResult{}, err
	}
	return s.mutate(ctx, current.ProjectID, TriggerRemove, 0, func(c schedule.Chain, cal schedule.WorkingDays) (schedule.Chain, error) {
		return c.Remove(phaseID, cal)
	}, func(b *eventBuilder, before, saved schedule.Chain, r schedule.Rollup) {
		if p, ok := before.Phase(phaseID); ok {
			b.phaseRemoved(p)
		}
	})
}

// Recompute reschedules the whole chain against the current calendar.
func (s *Scheduler) Recompute(ctx context.Context, projectID int64) (ChainResult, error) {
	return s.recompute(ctx, projectID, TriggerRecompute)
}

func (s *Scheduler) recompute(ctx context.Context, projectID int64, trigger string) (ChainResult, error) {
	return s.mutate(ctx, projectID, trigger, 0, func(c schedule.Chain, cal schedule.WorkingDays) (schedule.Chain, error) {
		return c.Recompute(cal)
	}, nil)
}

func (s *Scheduler) phaseOf(ctx context.Context, phaseID int64) (schedule.Phase, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.GetPhase(ctx, phaseID)
}
