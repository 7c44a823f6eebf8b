package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"buildtrack/internal/handler"
	"buildtrack/internal/repository"
	"buildtrack/internal/schedule"
	"buildtrack/internal/service"
	"buildtrack/pkg/lock"
	"buildtrack/pkg/outbox"
	"buildtrack/pkg/rbac"
	"buildtrack/pkg/trace"
	"buildtrack/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newRouter(t *testing.T, mutate func(*Deps)) *gin.Engine {
	t.Helper()
	events := outbox.NewMemoryStore()
	store := repository.NewMemoryStore(events)
	svc := service.NewScheduler(store, lock.NewMemoryLocker(), service.Options{
		Weekend:          schedule.DefaultWeekend(),
		Clock:            schedule.FixedClock(schedule.MustParseDate("2024-03-07")),
		OperationTimeout: time.Second,
	})
	logger := zap.NewNop()
	d := Deps{
		Projects:  handler.NewProjectHandler(svc, logger),
		Schedules: handler.NewScheduleHandler(svc, logger),
		Holidays:  handler.NewHolidayHandler(svc, logger),
		Admin:     handler.NewAdminHandler(outbox.NewReplayService(events, logger), logger),
		Store:     store,
		JWTSecret: testSecret,
		Logger:    logger,
	}
	if mutate != nil {
		mutate(&d)
	}
	return NewRouter(d)
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT(userID, role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func call(r http.Handler, method, path, tok string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	r := newRouter(t, nil)

	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodHead, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/metrics", "", nil).Code)

	down := newRouter(t, func(d *Deps) { d.Publisher = fakeConn(false) })
	w := call(down, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "mq_not_ready")

	noDB := newRouter(t, func(d *Deps) { d.Store = failingPinger{} })
	w = call(noDB, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db_not_ready")
}

func TestAuthAndRoles(t *testing.T) {
	r := newRouter(t, nil)
	admin := token(t, 1, rbac.RoleAdmin)
	engineer := token(t, 2, rbac.RoleEngineer)
	client := token(t, 3, rbac.RoleClient)

	assert.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/projects", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/projects", "garbage", nil).Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/projects", token(t, 4, "intern"), nil).Code)

	project := map[string]any{"name": "Harbour Pavilion", "start_date": "2024-03-04"}
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/projects", client, project).Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/projects", engineer, project).Code)
	require.Equal(t, http.StatusCreated, call(r, http.MethodPost, "/projects", admin, project).Code)

	phase := map[string]any{"project_id": 1, "phase_name": "Foundation", "duration": 5}
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/schedules", engineer, phase).Code)
	require.Equal(t, http.StatusCreated, call(r, http.MethodPost, "/schedules", admin, phase).Code)

	progress := map[string]any{"progress": 40}
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPut, "/schedules/1/progress", client, progress).Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodPut, "/schedules/1/progress", engineer, progress).Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodPut, "/schedules/1/progress", admin, progress).Code)

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/holidays", engineer, map[string]any{"date": "2024-03-06"}).Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPut, "/schedules/1/duration", engineer, map[string]any{"duration": 2}).Code)

	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/projects/1/schedules", client, nil).Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/admin/outbox/replay-failed", client, nil).Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodPost, "/admin/outbox/replay-failed", admin, nil).Code)
}

func TestTraceIDPropagation(t *testing.T) {
	r := newRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName(), "abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get(trace.HeaderName()))

	w = call(r, http.MethodGet, "/healthz", "", nil)
	assert.Len(t, w.Header().Get(trace.HeaderName()), 32)
}

func TestRateLimitOnWrites(t *testing.T) {
	r := newRouter(t, func(d *Deps) { d.Limiter = NewRateLimiter(0.001, 1) })
	admin := token(t, 1, rbac.RoleAdmin)

	project := map[string]any{"name": "Harbour Pavilion"}
	assert.Equal(t, http.StatusCreated, call(r, http.MethodPost, "/projects", admin, project).Code)
	w := call(r, http.MethodPost, "/projects", admin, project)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")

	// 读接口不限流
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/projects", admin, nil).Code)
	}

	// 每个用户独立计数
	other := token(t, 2, rbac.RoleAdmin)
	assert.Equal(t, http.StatusCreated, call(r, http.MethodPost, "/projects", other, project).Code)
}

func TestNewRateLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewRateLimiter(0, 5))
}
