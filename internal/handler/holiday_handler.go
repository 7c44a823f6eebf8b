package handler

import (
	"net/http"
	"time"

	"buildtrack/internal/schedule"
	"buildtrack/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type HolidayHandler struct {
	svc    *service.Scheduler
	logger *zap.Logger
}

func NewHolidayHandler(svc *service.Scheduler, logger *zap.Logger) *HolidayHandler {
	return &HolidayHandler{svc: svc, logger: logger}
}

// holidayView 对外的假日格式，全局假日不带 project_id
type holidayView struct {
	ID        int64         `json:"holiday_id"`
	Date      schedule.Date `json:"date"`
	Label     string        `json:"label"`
	ProjectID *int64        `json:"project_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func toHolidayView(h schedule.Holiday) holidayView {
	return holidayView{
		ID:        h.ID,
		Date:      h.Date,
		Label:     h.Label,
		ProjectID: h.ProjectID(),
		CreatedAt: h.CreatedAt,
	}
}

type holidayResponse struct {
	Holiday    holidayView      `json:"holiday"`
	Recomputed []int64          `json:"recomputed_projects"`
	Failed     map[int64]string `json:"failed_projects,omitempty"`
}

func toHolidayResponse(res service.HolidayResult) holidayResponse {
	return holidayResponse{
		Holiday:    toHolidayView(res.Holiday),
		Recomputed: res.Recomputed,
		Failed:     res.Failed,
	}
}

// ListHolidays GET /holidays?project_id=
func (h *HolidayHandler) ListHolidays(c *gin.Context) {
	log := requestLogger(c, h.logger)
	projectID, err := optionalID(c, "project_id")
	if err != nil {
		badRequest(c, log, "ListHolidays", err.Error(), nil)
		return
	}
	log.Info("ListHolidays request received", zap.Any("project_id", projectID))

	holidays, err := h.svc.ListHolidays(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, log, "ListHolidays", err)
		return
	}

	views := make([]holidayView, len(holidays))
	for i, hd := range holidays {
		views[i] = toHolidayView(hd)
	}
	log.Info("ListHolidays: success", zap.Int("holiday_count", len(views)))
	c.JSON(http.StatusOK, gin.H{"holidays": views})
}

type createHolidayRequest struct {
	Date      schedule.Date `json:"date"`
	Label     string        `json:"label"`
	ProjectID *int64        `json:"project_id"`
}

// CreateHoliday POST /holidays
func (h *HolidayHandler) CreateHoliday(c *gin.Context) {
	log := requestLogger(c, h.logger)

	var req createHolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, log, "CreateHoliday", "invalid request body", err)
		return
	}
	log.Info("CreateHoliday request received",
		zap.String("date", req.Date.String()),
		zap.Any("project_id", req.ProjectID),
	)

	res, err := h.svc.AddHoliday(c.Request.Context(), service.HolidayInput{
		Date:      req.Date,
		Label:     req.Label,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		respondError(c, log, "CreateHoliday", err)
		return
	}

	log.Info("CreateHoliday: success",
		zap.Int64("holiday_id", res.Holiday.ID),
		zap.Int("recomputed", len(res.Recomputed)),
		zap.Int("failed", len(res.Failed)),
	)
	c.JSON(http.StatusCreated, toHolidayResponse(res))
}

// DeleteHoliday DELETE /holidays/:id
func (h *HolidayHandler) DeleteHoliday(c *gin.Context) {
	log := requestLogger(c, h.logger)
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, log, "DeleteHoliday", "invalid holiday id", nil)
		return
	}
	log.Info("DeleteHoliday request received", zap.Int64("holiday_id", id))

	res, err := h.svc.RemoveHoliday(c.Request.Context(), id)
	if err != nil {
		respondError(c, log, "DeleteHoliday", err)
		return
	}

	log.Info("DeleteHoliday: success",
		zap.Int64("holiday_id", id),
		zap.Int("recomputed", len(res.Recomputed)),
	)
	c.JSON(http.StatusOK, toHolidayResponse(res))
}

// WorkingDays GET /calendar/working-days?from=&to=&project_id=
func (h *HolidayHandler) WorkingDays(c *gin.Context) {
	log := requestLogger(c, h.logger)

	from, err := schedule.ParseDate(c.Query("from"))
	if err != nil {
		badRequest(c, log, "WorkingDays", "from must be YYYY-MM-DD", err)
		return
	}
	to, err := schedule.ParseDate(c.Query("to"))
	if err != nil {
		badRequest(c, log, "WorkingDays", "to must be YYYY-MM-DD", err)
		return
	}
	projectID, err := optionalID(c, "project_id")
	if err != nil {
		badRequest(c, log, "WorkingDays", err.Error(), nil)
		return
	}

	n, err := h.svc.WorkingDaysBetween(c.Request.Context(), from, to, projectID)
	if err != nil {
		respondError(c, log, "WorkingDays", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":         from,
		"to":           to,
		"project_id":   projectID,
		"working_days": n,
	})
}
