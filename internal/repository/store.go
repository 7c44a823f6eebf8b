package repository

import (
	"context"

	"buildtrack/internal/model"
	"buildtrack/internal/schedule"
	"buildtrack/pkg/outbox"
)

// ChainEvents builds the outbox events of a chain save. It runs inside the
// save, after new phases have their ids, so events can reference them.
type ChainEvents func(saved schedule.Chain) ([]outbox.Event, error)

// HolidayEvents builds the outbox events of a holiday mutation.
type HolidayEvents func(h schedule.Holiday) ([]outbox.Event, error)

// ChainUpdate is one atomic write of a project's chain. Phases of the stored
// chain that are absent from Chain are deleted; phases with ID 0 are inserted.
type ChainUpdate struct {
	ProjectID       int64
	ExpectedVersion int64
	Chain           schedule.Chain
	Rollup          schedule.Rollup
	Events          ChainEvents
}

// HolidayFilter 为空时列出全部假日；否则列出全局假日和该项目的假日
type HolidayFilter struct {
	ProjectID *int64
}

type ProjectStore interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id int64) (model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	// DeleteProject 级联删除阶段和项目假日
	DeleteProject(ctx context.Context, id int64) error
}

type ChainStore interface {
	// LoadChain 返回按 sequence_position 排序的阶段和当前版本号
	LoadChain(ctx context.Context, projectID int64) (schedule.Chain, error)
	GetPhase(ctx context.Context, phaseID int64) (schedule.Phase, error)
	// SaveChain 版本号不一致时返回 *schedule.ConcurrentModificationError
	SaveChain(ctx context.Context, u ChainUpdate) (schedule.Chain, error)
}

type HolidayStore interface {
	ListHolidays(ctx context.Context, f HolidayFilter) ([]schedule.Holiday, error)
	// InsertHoliday 分配 ID；(scope, date) 重复时返回 *schedule.DuplicateHolidayError
	InsertHoliday(ctx context.Context, h *schedule.Holiday, events HolidayEvents) error
	DeleteHoliday(ctx context.Context, id int64, events HolidayEvents) (schedule.Holiday, error)
}

// Store is everything the scheduler persists.
type Store interface {
	ProjectStore
	ChainStore
	HolidayStore
	Ping(ctx context.Context) error
}
