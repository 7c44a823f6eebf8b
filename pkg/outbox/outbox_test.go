package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"buildtrack/pkg/circuitbreaker"
	"buildtrack/pkg/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	routingKey string
	traceID    string
}

type fakePublisher struct {
	fail bool
	sent []published
}

func (p *fakePublisher) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	if p.fail {
		return errors.New("channel closed")
	}
	p.sent = append(p.sent, published{routingKey: routingKey, traceID: trace.FromContext(ctx)})
	return nil
}

func newEvents(t *testing.T, keys ...string) []Event {
	t.Helper()
	out := make([]Event, 0, len(keys))
	for i, k := range keys {
		e, err := NewEvent("project", int64(i+1), k, map[string]string{"trace_id": "trace-" + k})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestDispatchOnce_PublishesPendingInOrder(t *testing.T) {
	store := NewMemoryStore()
	store.Append(newEvents(t, "schedule.phase.created", "schedule.recomputed"))
	pub := &fakePublisher{}

	d := NewDispatcher(store, pub, zap.NewNop())
	assert.Equal(t, 2, d.DispatchOnce(context.Background()))
	require.Len(t, pub.sent, 2)
	assert.Equal(t, "schedule.phase.created", pub.sent[0].routingKey)
	assert.Equal(t, "trace-schedule.phase.created", pub.sent[0].traceID)

	for _, e := range store.All() {
		assert.Equal(t, StatusSent, e.Status)
	}
	assert.Zero(t, d.DispatchOnce(context.Background()))
}

func TestDispatchOnce_FailureBacksOffThenFails(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	store.Append(newEvents(t, "holiday.created"))

	pub := &fakePublisher{fail: true}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold: 100, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1,
	})
	d := NewDispatcher(store, pub, zap.NewNop()).WithMaxRetries(2).WithBreaker(breaker)

	assert.Zero(t, d.DispatchOnce(context.Background()))
	ev := store.All()[0]
	assert.Equal(t, StatusPending, ev.Status)
	assert.Equal(t, 1, ev.RetryCount)
	require.NotNil(t, ev.NextRetryAt)

	// 退避期间不会再取到
	assert.Zero(t, d.DispatchOnce(context.Background()))
	assert.Equal(t, 1, store.All()[0].RetryCount)

	now = now.Add(10 * time.Second)
	assert.Zero(t, d.DispatchOnce(context.Background()))
	assert.Equal(t, StatusFailed, store.All()[0].Status)

	// 重放后重新进入 pending
	pub.fail = false
	replayed, err := NewReplayService(store, zap.NewNop()).ReplayFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 1, d.DispatchOnce(context.Background()))
}

func TestDispatchOnce_OpenBreakerDefersBatch(t *testing.T) {
	store := NewMemoryStore()
	store.Append(newEvents(t, "schedule.phase.updated", "schedule.recomputed"))

	pub := &fakePublisher{fail: true}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1,
	})
	d := NewDispatcher(store, pub, zap.NewNop()).WithBreaker(breaker)

	assert.Zero(t, d.DispatchOnce(context.Background()))
	events := store.All()
	assert.Equal(t, 1, events[0].RetryCount)
	// 第二个事件没有被尝试，也不计重试
	assert.Zero(t, events[1].RetryCount)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
}

func TestReplayEvent_UnknownID(t *testing.T) {
	err := NewReplayService(NewMemoryStore(), zap.NewNop()).ReplayEvent(context.Background(), 42)
	assert.Error(t, err)
}
