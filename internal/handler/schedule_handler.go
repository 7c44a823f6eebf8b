package handler

import (
	"net/http"
	"strconv"

	"buildtrack/internal/schedule"
	"buildtrack/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IdempotencyHeader 可选请求头，重复提交同一个值返回 409
const IdempotencyHeader = "Idempotency-Key"

type ScheduleHandler struct {
	svc    *service.Scheduler
	logger *zap.Logger
}

func NewScheduleHandler(svc *service.Scheduler, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{svc: svc, logger: logger}
}

type createScheduleRequest struct {
	ProjectID     int64         `json:"project_id"`
	PhaseName     string        `json:"phase_name"`
	Description   string        `json:"description"`
	Duration      *int          `json:"duration"`
	StartDate     schedule.Date `json:"start_date"`
	PredecessorID *int64        `json:"predecessor_id"`
}

// CreateSchedule POST /schedules
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	log := requestLogger(c, h.logger)
	log.Info("CreateSchedule request received", zap.String("client_ip", c.ClientIP()))

	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, log, "CreateSchedule", "invalid request body", err)
		return
	}
	if req.ProjectID <= 0 {
		badRequest(c, log, "CreateSchedule", "project_id is required", nil)
		return
	}
	if req.Duration == nil {
		badRequest(c, log, "CreateSchedule", "duration is required", nil)
		return
	}

	res, err := h.svc.CreatePhase(c.Request.Context(), service.CreatePhaseInput{
		ProjectID:      req.ProjectID,
		Name:           req.PhaseName,
		Description:    req.Description,
		Duration:       *req.Duration,
		StartDate:      req.StartDate,
		PredecessorID:  req.PredecessorID,
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		respondError(c, log, "CreateSchedule", err)
		return
	}

	log.Info("CreateSchedule: success",
		zap.Int64("project_id", req.ProjectID),
		zap.Int64("schedule_id", res.Phase.ID),
		zap.Int("sequence_position", res.Phase.Sequence),
	)
	c.JSON(http.StatusCreated, res)
}

// ListSchedules GET /projects/:id/schedules
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	log := requestLogger(c, h.logger)
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, log, "ListSchedules", "invalid project id", nil)
		return
	}
	log.Info("ListSchedules request received", zap.Int64("project_id", id))

	res, err := h.svc.ListPhases(c.Request.Context(), id)
	if err != nil {
		respondError(c, log, "ListSchedules", err)
		return
	}

	log.Info("ListSchedules: success",
		zap.Int64("project_id", id),
		zap.Int("schedule_count", len(res.Phases)),
	)
	c.JSON(http.StatusOK, res)
}

type progressRequest struct {
	Progress *float64 `json:"progress"`
}

// UpdateProgress PUT /schedules/:id/progress，body 或 ?progress= 均可
func (h *ScheduleHandler) UpdateProgress(c *gin.Context) {
	log := requestLogger(c, h.logger)
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, log, "UpdateProgress", "invalid schedule id", nil)
		return
	}

	var progress float64
	if raw := c.Query("progress"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, log, "UpdateProgress", "progress must be a number", err)
			return
		}
		progress = v
	} else {
		var req progressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, log, "UpdateProgress", "invalid request body", err)
			return
		}
		if req.Progress == nil {
			badRequest(c, log, "UpdateProgress", "progress is required", nil)
			return
		}
		progress = *req.Progress
	}
	log.Info("UpdateProgress request received",
		zap.Int64("schedule_id", id),
		zap.Float64("progress", progress),
	)

	res, err := h.svc.UpdateProgress(c.Request.Context(), id, progress)
	if err != nil {
		respondError(c, log, "UpdateProgress", err)
		return
	}

	log.Info("UpdateProgress: success",
		zap.Int64("schedule_id", id),
		zap.Float64("project_progress", res.Chain.Rollup.Progress),
	)
	c.JSON(http.StatusOK, gin.H{
		"schedule": res.Phase,
		"project":  res.Chain.Rollup,
	})
}

type durationRequest struct {
	Duration *int `json:"duration"`
}

// UpdateDuration PUT /schedules/:id/duration
func (h *ScheduleHandler) UpdateDuration(c *gin.Context) {
	log := requestLogger(c, h.logger)
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, log, "UpdateDuration", "invalid schedule id", nil)
		return
	}

	var req durationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, log, "UpdateDuration", "invalid request body", err)
		return
	}
	if req.Duration == nil {
		badRequest(c, log, "UpdateDuration", "duration is required", nil)
		return
	}
	log.Info("UpdateDuration request received",
		zap.Int64("schedule_id", id),
		zap.Int("duration", *req.Duration),
	)

	res, err := h.svc.EditDuration(c.Request.Context(), id, *req.Duration)
	if err != nil {
		respondError(c, log, "UpdateDuration", err)
		return
	}

	log.Info("UpdateDuration: success",
		zap.Int64("schedule_id", id),
		zap.Int("changed", len(res.Chain.Changed)),
	)
	c.JSON(http.StatusOK, res)
}

// DeleteSchedule DELETE /schedules/:id
func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	log := requestLogger(c, h.logger)
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, log, "DeleteSchedule", "invalid schedule id", nil)
		return
	}
	log.Info("DeleteSchedule request received", zap.Int64("schedule_id", id))

	res, err := h.svc.RemovePhase(c.Request.Context(), id)
	if err != nil {
		respondError(c, log, "DeleteSchedule", err)
		return
	}

	log.Info("DeleteSchedule: success",
		zap.Int64("schedule_id", id),
		zap.Int("changed", len(res.Changed)),
	)
	c.JSON(http.StatusOK, res)
}
