package handler

import (
	"net/http"
	"strconv"

	"buildtrack/pkg/outbox"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	replayService *outbox.ReplayService
	logger        *zap.Logger
}

func NewAdminHandler(replayService *outbox.ReplayService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		replayService: replayService,
		logger:        logger,
	}
}

// ReplayOutboxEvent 重放指定的 Outbox 事件
// POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	log := requestLogger(c, h.logger)
	idStr := c.Query("id")
	if idStr == "" {
		badRequest(c, log, "ReplayOutboxEvent", "missing id parameter", nil)
		return
	}

	eventID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		badRequest(c, log, "ReplayOutboxEvent", "invalid id parameter", nil)
		return
	}

	if err := h.replayService.ReplayEvent(c.Request.Context(), eventID); err != nil {
		log.Error("Failed to replay event",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "replay_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "replayed",
		"event_id": eventID,
	})
}

// ReplayFailedEvents 重放所有失败的事件
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	log := requestLogger(c, h.logger)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	successCount, err := h.replayService.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		log.Error("Failed to replay failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "replay_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}
