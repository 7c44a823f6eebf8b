package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"buildtrack/internal/auth"
	"buildtrack/pkg/metrics"
	"buildtrack/pkg/rbac"
	"buildtrack/pkg/trace"
	"buildtrack/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TraceMiddleware 复用请求头里的 X-Trace-ID，没有则生成，并回写到响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(trace.HeaderName()); id != "" {
			ctx = trace.WithContext(ctx, id)
		}
		ctx, id := trace.Ensure(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName(), id)
		c.Next()
	}
}

// RequestLogMiddleware logs every request and records its latency.
func RequestLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), latency)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("trace_id", trace.FromContext(c.Request.Context())),
		}
		if s, ok := auth.FromContext(c); ok {
			fields = append(fields, zap.Int64("user_id", s.UserID))
		}
		logger.Info("HTTP Request", fields...)
	}
}

// AuthMiddleware 校验 Bearer token，把会话放进 gin context
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "missing bearer token",
			})
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid token",
			})
			return
		}
		if !rbac.IsKnownRole(claims.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "unknown role " + claims.Role,
			})
			return
		}

		auth.Set(c, auth.Session{UserID: claims.UserID, Role: claims.Role})
		c.Next()
	}
}

// RequirePermission 中间件：要求用户具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := auth.FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "user not authenticated",
			})
			return
		}

		if err := rbac.CheckPermission(s.Role, permission); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": err.Error(),
			})
			return
		}

		c.Next()
	}
}
