package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"buildtrack/internal/schedule"
	"buildtrack/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
	hint   string
}

// errorTable 按顺序匹配，第一个命中的决定状态码
var errorTable = []errorMapping{
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_input", ""},
	{schedule.ErrInvalidDuration, http.StatusBadRequest, "invalid_duration", "duration is a whole number of working days; only the first phase may be 0"},
	{schedule.ErrInvalidPredecessor, http.StatusBadRequest, "invalid_predecessor", "pick a schedule_id from the same project"},
	{schedule.ErrInvalidStartDate, http.StatusBadRequest, "invalid_start_date", "send start_date as YYYY-MM-DD"},
	{schedule.ErrDuplicateHoliday, http.StatusConflict, "duplicate_holiday", ""},
	{schedule.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{schedule.ErrOutOfRange, http.StatusBadRequest, "progress_out_of_range", ""},
	{schedule.ErrConcurrentModification, http.StatusConflict, "concurrent_modification", "reload the schedule and retry"},
	{service.ErrLockTimeout, http.StatusServiceUnavailable, "lock_timeout", "the project is busy, retry shortly"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout", "retry shortly"},
	{service.ErrDuplicateRequest, http.StatusConflict, "duplicate_request", "this Idempotency-Key was already used"},
}

// respondError writes {"error": code, "message": text} for err and logs it.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	for _, m := range errorTable {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := err.Error()
		if m.hint != "" {
			msg += "; " + m.hint
		}
		logger.Warn(op+": request rejected",
			zap.String("code", m.code),
			zap.Int("status", m.status),
			zap.Error(err),
		)
		c.JSON(m.status, gin.H{"error": m.code, "message": msg})
		return
	}

	logger.Error(op+": failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "unexpected failure, check server logs",
	})
}

func badRequest(c *gin.Context, logger *zap.Logger, op, msg string, err error) {
	fields := []zap.Field{zap.String("reason", msg)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Warn(op+": bad request", fields...)
	body := gin.H{"error": "invalid_input", "message": msg}
	if err != nil {
		body["message"] = msg + ": " + err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// paramID parses a positive int64 path parameter.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// optionalID parses an optional positive int64 query parameter.
func optionalID(c *gin.Context, name string) (*int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.New(name + " must be a positive integer")
	}
	return &id, nil
}
