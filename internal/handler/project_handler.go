package handler

import (
	"net/http"

	"buildtrack/internal/auth"
	"buildtrack/internal/schedule"
	"buildtrack/internal/service"
	"buildtrack/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ProjectHandler struct {
	svc    *service.Scheduler
	logger *zap.Logger
}

func NewProjectHandler(svc *service.Scheduler, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{svc: svc, logger: logger}
}

type createProjectRequest struct {
	Name        string        `json:"name"`
	Location    string        `json:"location"`
	ClientEmail string        `json:"client_email"`
	StartDate   schedule.Date `json:"start_date"`
	EndDate     schedule.Date `json:"end_date"`
	Budget      float64       `json:"budget"`
}

// requestLogger 带上 trace_id 和调用方 user_id
func requestLogger(c *gin.Context, base *zap.Logger) *zap.Logger {
	l := logger.WithTrace(c.Request.Context(), base)
	if s, ok := auth.FromContext(c); ok {
		l = l.With(zap.Int64("user_id", s.UserID), zap.String("role", s.Role))
	}
	return l
}

func (h *ProjectHandler) CreateProject(c *gin.Context) {
	log := requestLogger(c, h.logger)
	log.Info("CreateProject request received", zap.String("client_ip", c.ClientIP()))

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, log, "CreateProject", "invalid request body", err)
		return
	}

	p, err := h.svc.CreateProject(c.Request.Context(), service.ProjectInput{
		Name:        req.Name,
		Location:    req.Location,
		ClientEmail: req.ClientEmail,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Budget:      req.Budget,
	})
	if err != nil {
		respondError(c, log, "CreateProject", err)
		return
	}

	log.Info("CreateProject: success", zap.Int64("project_id", p.ID))
	c.JSON(http.StatusCreated, gin.H{"project": p})
}

func (h *ProjectHandler) ListProjects(c *gin.Context) {
	log := requestLogger(c, h.logger)
	log.Info("ListProjects request received")

	projects, err := h.svc.ListProjects(c.Request.Context())
	if err != nil {
		respondError(c, log, "ListProjects", err)
		return
	}

	log.Info("ListProjects: success", zap.Int("project_count", len(projects)))
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (h *ProjectHandler) GetProject(c *gin.Context) {
	log := requestLogger(c, h.logger)
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, log, "GetProject", "invalid project id", nil)
		return
	}
	log.Info("GetProject request received", zap.Int64("project_id", id))

	view, err := h.svc.GetProject(c.Request.Context(), id)
	if err != nil {
		respondError(c, log, "GetProject", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": view})
}

func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	log := requestLogger(c, h.logger)
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, log, "DeleteProject", "invalid project id", nil)
		return
	}
	log.Info("DeleteProject request received", zap.Int64("project_id", id))

	if err := h.svc.DeleteProject(c.Request.Context(), id); err != nil {
		respondError(c, log, "DeleteProject", err)
		return
	}

	log.Info("DeleteProject: success", zap.Int64("project_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "project_id": id})
}

type rootStartRequest struct {
	StartDate schedule.Date `json:"start_date"`
}

// UpdateRootStart PUT /projects/:id/start
func (h *ProjectHandler) UpdateRootStart(c *gin.Context) {
	log := requestLogger(c, h.logger)
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, log, "UpdateRootStart", "invalid project id", nil)
		return
	}

	var req rootStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, log, "UpdateRootStart", "invalid request body", err)
		return
	}
	log.Info("UpdateRootStart request received",
		zap.Int64("project_id", id),
		zap.String("start_date", req.StartDate.String()),
	)

	res, err := h.svc.EditRootStart(c.Request.Context(), id, req.StartDate)
	if err != nil {
		respondError(c, log, "UpdateRootStart", err)
		return
	}

	log.Info("UpdateRootStart: success",
		zap.Int64("project_id", id),
		zap.Int("changed", len(res.Changed)),
	)
	c.JSON(http.StatusOK, res)
}

// Recompute POST /projects/:id/recompute
func (h *ProjectHandler) Recompute(c *gin.Context) {
	log := requestLogger(c, h.logger)
	id, ok := paramID(c, "id")
	if !ok {
		badRequest(c, log, "Recompute", "invalid project id", nil)
		return
	}
	log.Info("Recompute request received", zap.Int64("project_id", id))

	res, err := h.svc.Recompute(c.Request.Context(), id)
	if err != nil {
		respondError(c, log, "Recompute", err)
		return
	}

	log.Info("Recompute: success",
		zap.Int64("project_id", id),
		zap.Int("changed", len(res.Changed)),
	)
	c.JSON(http.StatusOK, res)
}
