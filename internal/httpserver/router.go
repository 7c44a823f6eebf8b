package httpserver

import (
	"context"
	"net/http"
	"time"

	"buildtrack/internal/handler"
	"buildtrack/pkg/otel"
	"buildtrack/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger 存储层就绪检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connectivity MQ 连接状态，memory 模式下可以为空
type Connectivity interface {
	IsConnected() bool
}

type Deps struct {
	Projects  *handler.ProjectHandler
	Schedules *handler.ScheduleHandler
	Holidays  *handler.HolidayHandler
	Admin     *handler.AdminHandler

	Store     Pinger
	Publisher Connectivity
	JWTSecret string
	Limiter   *RateLimiter
	Logger    *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otel.GinMiddleware())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(d.Logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		if d.Publisher != nil && !d.Publisher.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	api.Use(AuthMiddleware(d.JWTSecret))

	read := RequirePermission(rbac.PermissionReadSchedule)
	write := d.Limiter.Middleware()
	{
		api.GET("/projects", read, d.Projects.ListProjects)
		api.GET("/projects/:id", read, d.Projects.GetProject)
		api.GET("/projects/:id/schedules", read, d.Schedules.ListSchedules)
		api.GET("/holidays", read, d.Holidays.ListHolidays)
		api.GET("/calendar/working-days", read, d.Holidays.WorkingDays)

		api.POST("/projects", RequirePermission(rbac.PermissionManageProject), write, d.Projects.CreateProject)
		api.DELETE("/projects/:id", RequirePermission(rbac.PermissionManageProject), write, d.Projects.DeleteProject)

		api.POST("/schedules", RequirePermission(rbac.PermissionCreateSchedule), write, d.Schedules.CreateSchedule)
		api.PUT("/schedules/:id/progress", RequirePermission(rbac.PermissionUpdateProgress), write, d.Schedules.UpdateProgress)

		edit := RequirePermission(rbac.PermissionEditSchedule)
		api.PUT("/schedules/:id/duration", edit, write, d.Schedules.UpdateDuration)
		api.DELETE("/schedules/:id", edit, write, d.Schedules.DeleteSchedule)
		api.PUT("/projects/:id/start", edit, write, d.Projects.UpdateRootStart)
		api.POST("/projects/:id/recompute", edit, write, d.Projects.Recompute)

		holidays := RequirePermission(rbac.PermissionManageHoliday)
		api.POST("/holidays", holidays, write, d.Holidays.CreateHoliday)
		api.DELETE("/holidays/:id", holidays, write, d.Holidays.DeleteHoliday)
	}

	if d.Admin != nil {
		admin := api.Group("/admin", RequirePermission(rbac.PermissionReplayOutbox))
		admin.POST("/outbox/replay", d.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", d.Admin.ReplayFailedEvents)
	}

	return r
}
