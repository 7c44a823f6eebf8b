package service

import (
	"context"
	"errors"
	"strings"

	contracts "buildtrack/contracts/mq"
	"buildtrack/internal/repository"
	"buildtrack/internal/schedule"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/outbox"
	"buildtrack/pkg/trace"

	"go.uber.org/zap"
)

type HolidayInput struct {
	Date  schedule.Date
	Label string
	// ProjectID 为空表示全局假日
	ProjectID *int64
}

// HolidayResult reports the holiday and how the fan-out went. A project that
// fails to recompute keeps its old dates and is listed in Failed.
type HolidayResult struct {
	Holiday    schedule.Holiday `json:"holiday"`
	Recomputed []int64          `json:"recomputed_projects"`
	Failed     map[int64]string `json:"failed_projects,omitempty"`
}

// ListHolidays 为空时列出全部；否则列出全局假日和该项目的假日
func (s *Scheduler) ListHolidays(ctx context.Context, projectID *int64) ([]schedule.Holiday, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.ListHolidays(ctx, repository.HolidayFilter{ProjectID: projectID})
}

func (s *Scheduler) AddHoliday(ctx context.Context, in HolidayInput) (HolidayResult, error) {
	if in.Date.IsZero() {
		return HolidayResult{}, invalid("date", "is required")
	}
	// project_id 为 0 会变成全局作用域
	if in.ProjectID != nil && *in.ProjectID <= 0 {
		return HolidayResult{}, invalid("project_id", "must be a positive integer")
	}
	h := schedule.Holiday{
		Date:  in.Date,
		Label: strings.TrimSpace(in.Label),
		Scope: schedule.GlobalScope,
	}
	if in.ProjectID != nil {
		h.Scope = schedule.ProjectScope(*in.ProjectID)
	}

	ctx, traceID := trace.Ensure(ctx)
	wctx, cancel := s.withTimeout(ctx)
	err := s.store.InsertHoliday(wctx, &h, s.holidayEvents(traceID, contracts.RoutingHolidayCreated))
	cancel()
	if err != nil {
		return HolidayResult{}, err
	}

	logger.WithTrace(ctx, s.logger).Info("Holiday added",
		zap.Int64("holiday_id", h.ID),
		zap.String("date", h.Date.String()),
		zap.String("scope", h.Scope.String()),
	)
	return s.fanOut(ctx, h), nil
}

func (s *Scheduler) RemoveHoliday(ctx context.Context, id int64) (HolidayResult, error) {
	ctx, traceID := trace.Ensure(ctx)
	wctx, cancel := s.withTimeout(ctx)
	h, err := s.store.DeleteHoliday(wctx, id, s.holidayEvents(traceID, contracts.RoutingHolidayRemoved))
	cancel()
	if err != nil {
		return HolidayResult{}, err
	}

	logger.WithTrace(ctx, s.logger).Info("Holiday removed",
		zap.Int64("holiday_id", h.ID),
		zap.String("date", h.Date.String()),
		zap.String("scope", h.Scope.String()),
	)
	return s.fanOut(ctx, h), nil
}

func (s *Scheduler) holidayEvents(traceID, routingKey string) repository.HolidayEvents {
	return func(h schedule.Holiday) ([]outbox.Event, error) {
		b := newEventBuilder(traceID, s.now())
		b.holiday(routingKey, h)
		return b.events()
	}
}

// fanOut recomputes every project the holiday applies to, one project lock
// at a time. Each project gets its own operation timeout.
func (s *Scheduler) fanOut(ctx context.Context, h schedule.Holiday) HolidayResult {
	res := HolidayResult{Holiday: h, Recomputed: []int64{}}
	log := logger.WithTrace(ctx, s.logger)

	var targets []int64
	if h.Scope.IsGlobal() {
		lctx, cancel := s.withTimeout(ctx)
		projects, err := s.store.ListProjects(lctx)
		cancel()
		if err != nil {
			log.Error("Failed to list projects for holiday recompute", zap.Error(err))
			res.Failed = map[int64]string{0: err.Error()}
			return res
		}
		for _, p := range projects {
			targets = append(targets, p.ID)
		}
	} else {
		targets = []int64{h.Scope.ProjectID()}
	}

	for _, id := range targets {
		_, err := s.recompute(ctx, id, TriggerHoliday)
		switch {
		case err == nil:
			res.Recomputed = append(res.Recomputed, id)
		case errors.Is(err, schedule.ErrNotFound):
			// 期间被删除的项目直接跳过
		default:
			if res.Failed == nil {
				res.Failed = make(map[int64]string)
			}
			res.Failed[id] = err.Error()
			log.Error("Holiday recompute failed",
				zap.Int64("project_id", id),
				zap.Int64("holiday_id", h.ID),
				zap.Error(err),
			)
		}
	}
	return res
}

// WorkingDaysBetween counts working days in [from, to] using global holidays,
// plus the project's own holidays when projectID is set.
func (s *Scheduler) WorkingDaysBetween(ctx context.Context, from, to schedule.Date, projectID *int64) (int, error) {
	if from.IsZero() {
		return 0, invalid("from", "is required")
	}
	if to.IsZero() {
		return 0, invalid("to", "is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	scope := schedule.GlobalScope
	if projectID != nil {
		if _, err := s.store.GetProject(ctx, *projectID); err != nil {
			return 0, err
		}
		scope = schedule.ProjectScope(*projectID)
	}
	cal, err := s.workingDays(ctx, scope)
	if err != nil {
		return 0, err
	}
	return schedule.WorkingDaysBetween(from, to, cal), nil
}
