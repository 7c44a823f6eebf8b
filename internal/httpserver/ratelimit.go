package httpserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"buildtrack/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdle    = 10 * time.Minute
	limiterMaxIdle = 1024
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller. Callers are keyed by user id
// when authenticated, by client IP otherwise.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter returns nil when rps is not positive, which disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= limiterMaxIdle {
			l.prune(now)
		}
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *RateLimiter) prune(now time.Time) {
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > limiterIdle {
			delete(l.visitors, k)
		}
	}
}

// Middleware 只挂在写接口上
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if s, ok := auth.FromContext(c); ok {
			key = "user:" + strconv.FormatInt(s.UserID, 10)
		}
		if !l.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests, slow down and retry",
			})
			return
		}
		c.Next()
	}
}
