package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"buildtrack/internal/repository"
	"buildtrack/internal/schedule"
	"buildtrack/pkg/lock"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/metrics"
	"buildtrack/pkg/otel"
	"buildtrack/pkg/outbox"
	"buildtrack/pkg/trace"
	"buildtrack/pkg/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultOperationTimeout = 10 * time.Second

// 级联触发来源，同时用作 metrics 标签和 schedule.recomputed 事件的 trigger
const (
	TriggerCreate    = "create"
	TriggerProgress  = "progress"
	TriggerDuration  = "duration"
	TriggerRootStart = "root_start"
	TriggerRemove    = "remove"
	TriggerRecompute = "recompute"
	TriggerHoliday   = "holiday"
)

type Options struct {
	Weekend          schedule.WeekendRule
	Clock            schedule.Clock
	OperationTimeout time.Duration
	// Claims 为空时不做幂等检查
	Claims util.OnceClaimer
	Logger *zap.Logger
}

// Scheduler serialises every chain mutation of a project behind the project
// lock and persists the result together with its outbox events.
type Scheduler struct {
	store   repository.Store
	locker  lock.Locker
	weekend schedule.WeekendRule
	clock   schedule.Clock
	timeout time.Duration
	claims  util.OnceClaimer
	logger  *zap.Logger
	now     func() time.Time
}

func NewScheduler(store repository.Store, locker lock.Locker, opts Options) *Scheduler {
	s := &Scheduler{
		store:   store,
		locker:  locker,
		weekend: opts.Weekend,
		clock:   opts.Clock,
		timeout: opts.OperationTimeout,
		claims:  opts.Claims,
		logger:  opts.Logger,
		now:     time.Now,
	}
	if s.clock == nil {
		s.clock = schedule.SystemClock{}
	}
	if s.timeout <= 0 {
		s.timeout = defaultOperationTimeout
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// ChainResult is the state of a chain after an operation.
type ChainResult struct {
	ProjectID int64            `json:"project_id"`
	Version   int64            `json:"chain_version"`
	Phases    []schedule.Phase `json:"schedules"`
	Rollup    schedule.Rollup  `json:"rollup"`
	// Changed 本次写入中新增或排期变化的阶段
	Changed []int64 `json:"changed_schedule_ids"`
}

// Phase returns the phase with id from the result.
func (r ChainResult) Phase(id int64) (schedule.Phase, bool) {
	for _, p := range r.Phases {
		if p.ID == id {
			return p, true
		}
	}
	return schedule.Phase{}, false
}

type applyFunc func(c schedule.Chain, cal schedule.WorkingDays) (schedule.Chain, error)

// eventsFunc adds the operation specific events; moved phases are reported by
// mutate itself as schedule.recomputed.
type eventsFunc func(b *eventBuilder, before, saved schedule.Chain, r schedule.Rollup)

// mutate is the single write path for chains: lock, load, apply, aggregate,
// save with events. skip is excluded from the recomputed event.
func (s *Scheduler) mutate(ctx context.Context, projectID int64, trigger string, skip int64, apply applyFunc, extra eventsFunc) (ChainResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, traceID := trace.Ensure(ctx)
	ctx, span := otel.StartSpan(ctx, "scheduler."+trigger, oteltrace.WithAttributes(
		attribute.Int64("project.id", projectID),
		attribute.String("schedule.trigger", trigger),
	))
	defer span.End()

	log := logger.WithTrace(ctx, s.logger).With(
		zap.Int64("project_id", projectID),
		zap.String("trigger", trigger),
	)

	result, err := s.mutateLocked(ctx, projectID, trigger, traceID, skip, apply, extra)
	metrics.RecordChainRecompute(trigger, outcome(err), len(result.Changed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("Chain update rejected", zap.Error(err))
		return ChainResult{}, err
	}

	span.SetAttributes(attribute.Int("schedule.changed", len(result.Changed)))
	log.Info("Chain updated",
		zap.Int64("chain_version", result.Version),
		zap.Int("changed", len(result.Changed)),
		zap.Float64("progress", result.Rollup.Progress),
	)
	return result, nil
}

func (s *Scheduler) mutateLocked(ctx context.Context, projectID int64, trigger, traceID string, skip int64, apply applyFunc, extra eventsFunc) (ChainResult, error) {
	release, err := s.acquire(ctx, projectID)
	if err != nil {
		return ChainResult{}, err
	}
	defer release()

	before, err := s.store.LoadChain(ctx, projectID)
	if err != nil {
		return ChainResult{}, err
	}
	cal, err := s.workingDays(ctx, schedule.ProjectScope(projectID))
	if err != nil {
		return ChainResult{}, err
	}

	next, err := apply(before, cal)
	if err != nil {
		return ChainResult{}, err
	}
	// 级联超过操作超时就不再保存
	if err := ctx.Err(); err != nil {
		return ChainResult{}, fmt.Errorf("chain cascade exceeded operation timeout: %w", err)
	}
	// 没有任何变化时不写库，也不发事件
	if next.Len() == before.Len() && len(before.Changed(next)) == 0 {
		return s.result(before, nil), nil
	}
	if err := next.Validate(); err != nil {
		return ChainResult{}, fmt.Errorf("refusing to save chain: %w", err)
	}

	rollup := schedule.Aggregate(next)
	saved, err := s.store.SaveChain(ctx, repository.ChainUpdate{
		ProjectID:       projectID,
		ExpectedVersion: before.Version,
		Chain:           next,
		Rollup:          rollup,
		Events: func(saved schedule.Chain) ([]outbox.Event, error) {
			b := newEventBuilder(traceID, s.now())
			if extra != nil {
				extra(b, before, saved, rollup)
			}
			b.recomputed(trigger, saved, rescheduled(before, saved, skip), rollup)
			return b.events()
		},
	})
	if err != nil {
		var conflict *schedule.ConcurrentModificationError
		if errors.As(err, &conflict) {
			metrics.IncrementChainConflict()
		}
		return ChainResult{}, err
	}
	return s.result(saved, before.Changed(saved)), nil
}

// acquire takes the project lock within the operation deadline.
func (s *Scheduler) acquire(ctx context.Context, projectID int64) (func(), error) {
	start := time.Now()
	release, err := s.locker.Acquire(ctx, projectLockKey(projectID))
	if err != nil {
		metrics.RecordLockWait("timeout", time.Since(start))
		return nil, err
	}
	metrics.RecordLockWait("acquired", time.Since(start))
	return release, nil
}

func projectLockKey(projectID int64) string {
	return "project:" + strconv.FormatInt(projectID, 10)
}

// workingDays 构造某个作用域的日历快照：全局作用域只看全局假日
func (s *Scheduler) workingDays(ctx context.Context, scope schedule.Scope) (schedule.Snapshot, error) {
	var f repository.HolidayFilter
	if !scope.IsGlobal() {
		id := scope.ProjectID()
		f.ProjectID = &id
	}
	holidays, err := s.store.ListHolidays(ctx, f)
	if err != nil {
		return schedule.Snapshot{}, fmt.Errorf("failed to load holidays: %w", err)
	}
	if scope.IsGlobal() {
		global := holidays[:0]
		for _, h := range holidays {
			if h.Scope.IsGlobal() {
				global = append(global, h)
			}
		}
		holidays = global
	}
	return schedule.NewSnapshot(s.weekend, holidays), nil
}

func (s *Scheduler) result(c schedule.Chain, changed []schedule.Phase) ChainResult {
	return ChainResult{
		ProjectID: c.ProjectID,
		Version:   c.Version,
		Phases:    schedule.WithStatuses(c, s.clock.Today()).Phases,
		Rollup:    schedule.Aggregate(c),
		Changed:   phaseIDs(changed),
	}
}

// withTimeout bounds the read paths the same way mutate bounds writes.
func (s *Scheduler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func outcome(err error) string {
	var conflict *schedule.ConcurrentModificationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, schedule.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case isRejection(err):
		return "rejected"
	default:
		return "error"
	}
}

// isRejection reports errors caused by the request rather than the system.
func isRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidInput,
		schedule.ErrInvalidDuration,
		schedule.ErrInvalidPredecessor,
		schedule.ErrInvalidStartDate,
		schedule.ErrOutOfRange,
		schedule.ErrDuplicateHoliday,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
