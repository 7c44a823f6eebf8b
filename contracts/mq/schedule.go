package mq

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys on the events exchange.
const (
	RoutingPhaseCreated    = "schedule.phase.created"
	RoutingPhaseUpdated    = "schedule.phase.updated"
	RoutingPhaseRemoved    = "schedule.phase.removed"
	RoutingChainRecomputed = "schedule.recomputed"
	RoutingHolidayCreated  = "holiday.created"
	RoutingHolidayRemoved  = "holiday.removed"
)

// AllRoutingKeys 通知服务订阅的全部事件
var AllRoutingKeys = []string{
	RoutingPhaseCreated,
	RoutingPhaseUpdated,
	RoutingPhaseRemoved,
	RoutingChainRecomputed,
	RoutingHolidayCreated,
	RoutingHolidayRemoved,
}

// Envelope 每个事件都带的公共字段，event_id 用于消费端去重
type Envelope struct {
	EventID    string    `json:"event_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEnvelope(traceID string, at time.Time) Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		TraceID:    traceID,
		OccurredAt: at.UTC(),
	}
}

// PhaseDates 一个阶段的排期结果，日期为 YYYY-MM-DD
type PhaseDates struct {
	ScheduleID       int64  `json:"schedule_id"`
	PhaseName        string `json:"phase_name"`
	SequencePosition int    `json:"sequence_position"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	Duration         int    `json:"duration"`
}

// PhaseCreatedPayload 新阶段加入项目排期
type PhaseCreatedPayload struct {
	Envelope
	ProjectID   int64  `json:"project_id"`
	ClientEmail string `json:"client_email,omitempty"`
	PhaseDates
}

// PhaseUpdatedPayload 阶段进度或工期被修改
type PhaseUpdatedPayload struct {
	Envelope
	ProjectID int64  `json:"project_id"`
	Change    string `json:"change"` // progress / duration
	PhaseDates
	Progress        float64 `json:"progress"`
	ProjectProgress float64 `json:"project_progress"`
	ProjectStatus   string  `json:"project_status"`
}

type PhaseRemovedPayload struct {
	Envelope
	ProjectID  int64  `json:"project_id"`
	ScheduleID int64  `json:"schedule_id"`
	PhaseName  string `json:"phase_name"`
}

// ChainRecomputedPayload 一次级联重算中日期发生变化的阶段
type ChainRecomputedPayload struct {
	Envelope
	ProjectID        int64        `json:"project_id"`
	Trigger          string       `json:"trigger"`
	ChainVersion     int64        `json:"chain_version"`
	Changed          []PhaseDates `json:"changed"`
	ProjectProgress  float64      `json:"project_progress"`
	ProjectStatus    string       `json:"project_status"`
	ScheduledEndDate string       `json:"scheduled_end_date,omitempty"`
}

type HolidayPayload struct {
	Envelope
	HolidayID int64  `json:"holiday_id"`
	Date      string `json:"date"`
	Label     string `json:"label"`
	// 为空表示全局假日
	ProjectID *int64 `json:"project_id,omitempty"`
}
