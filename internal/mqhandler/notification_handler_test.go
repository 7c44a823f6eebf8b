package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	contracts "buildtrack/contracts/mq"
	"buildtrack/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDelivery struct {
	failures []error
	sent     []Notification
}

func (d *fakeDelivery) Deliver(ctx context.Context, n Notification) error {
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		return err
	}
	d.sent = append(d.sent, n)
	return nil
}

type fakeRetries map[string]int64

func (r fakeRetries) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	r[key]++
	return r[key], nil
}

func (r fakeRetries) Reset(ctx context.Context, key string) error {
	delete(r, key)
	return nil
}

type dlqEntry struct {
	routingKey string
	cause      string
}

type fakeDLQ struct{ entries []dlqEntry }

func (q *fakeDLQ) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, failedAt string) error {
	q.entries = append(q.entries, dlqEntry{routingKey: routingKey, cause: originalError})
	return nil
}

func newHandler(d *fakeDelivery) (*NotificationHandler, fakeRetries, *fakeDLQ) {
	retries := fakeRetries{}
	dlq := &fakeDLQ{}
	h := NewNotificationHandler(d, util.NewMemoryDeduper(time.Hour), retries, dlq, zap.NewNop())
	return h, retries, dlq
}

func phaseCreated(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(contracts.PhaseCreatedPayload{
		Envelope:    contracts.NewEnvelope("trace-1", time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)),
		ProjectID:   7,
		ClientEmail: "client@example.com",
		PhaseDates: contracts.PhaseDates{
			ScheduleID: 1, PhaseName: "Foundation", StartDate: "2024-03-04", EndDate: "2024-03-08", Duration: 5,
		},
	})
	require.NoError(t, err)
	return raw
}

func TestNotificationHandler_DeliversOnce(t *testing.T) {
	d := &fakeDelivery{}
	h, _, dlq := newHandler(d)
	ctx := context.Background()
	raw := phaseCreated(t)

	require.NoError(t, h.Handle(ctx, contracts.RoutingPhaseCreated, raw))
	require.NoError(t, h.Handle(ctx, contracts.RoutingPhaseCreated, raw))

	require.Len(t, d.sent, 1)
	assert.Equal(t, "client@example.com", d.sent[0].Recipient)
	assert.Equal(t, "New phase scheduled: Foundation", d.sent[0].Subject)
	assert.Empty(t, dlq.entries)
}

func TestNotificationHandler_MalformedGoesToDLQ(t *testing.T) {
	d := &fakeDelivery{}
	h, _, dlq := newHandler(d)

	require.NoError(t, h.Handle(context.Background(), contracts.RoutingPhaseCreated, json.RawMessage(`{"event_id":`)))
	require.Len(t, dlq.entries, 1)
	assert.Contains(t, dlq.entries[0].cause, "json_unmarshal_error")
	assert.Empty(t, d.sent)
}

func TestNotificationHandler_RetriesThenDeadLetters(t *testing.T) {
	timeouts := make([]error, maxRetries)
	for i := range timeouts {
		timeouts[i] = context.DeadlineExceeded
	}
	d := &fakeDelivery{failures: timeouts}
	h, retries, dlq := newHandler(d)
	ctx := context.Background()
	raw := phaseCreated(t)

	for i := 1; i < maxRetries; i++ {
		err := h.Handle(ctx, contracts.RoutingPhaseCreated, raw)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "attempt %d", i)
	}
	assert.Empty(t, dlq.entries)

	// 第 maxRetries 次失败后进入 DLQ 并 ack
	require.NoError(t, h.Handle(ctx, contracts.RoutingPhaseCreated, raw))
	require.Len(t, dlq.entries, 1)
	assert.Empty(t, retries)
	assert.Empty(t, d.sent)
}

func TestNotificationHandler_RetryThenSuccess(t *testing.T) {
	d := &fakeDelivery{failures: []error{context.DeadlineExceeded}}
	h, retries, _ := newHandler(d)
	ctx := context.Background()
	raw := phaseCreated(t)

	assert.Error(t, h.Handle(ctx, contracts.RoutingPhaseCreated, raw))
	require.NoError(t, h.Handle(ctx, contracts.RoutingPhaseCreated, raw))
	assert.Len(t, d.sent, 1)
	assert.Empty(t, retries)
}

func TestNotificationHandler_NonRetryableGoesToDLQ(t *testing.T) {
	d := &fakeDelivery{failures: []error{errors.New("mailbox rejected")}}
	h, _, dlq := newHandler(d)

	require.NoError(t, h.Handle(context.Background(), contracts.RoutingPhaseCreated, phaseCreated(t)))
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "mailbox rejected", dlq.entries[0].cause)
}

func TestNotificationHandler_UnknownRoutingKeyIgnored(t *testing.T) {
	d := &fakeDelivery{}
	h, _, dlq := newHandler(d)

	require.NoError(t, h.Handle(context.Background(), "project.archived", json.RawMessage(`{"event_id":"e1"}`)))
	assert.Empty(t, d.sent)
	assert.Empty(t, dlq.entries)
}

func TestRender_RecomputedAndHoliday(t *testing.T) {
	raw, err := json.Marshal(contracts.ChainRecomputedPayload{
		Envelope:  contracts.NewEnvelope("", time.Now()),
		ProjectID: 7,
		Trigger:   "holiday",
		Changed: []contracts.PhaseDates{
			{PhaseName: "Foundation", StartDate: "2024-03-04", EndDate: "2024-03-11"},
			{PhaseName: "Framing", StartDate: "2024-03-12", EndDate: "2024-03-14"},
		},
		ScheduledEndDate: "2024-03-14",
	})
	require.NoError(t, err)

	n, ok, err := Render(contracts.RoutingChainRecomputed, raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "project:7", n.Recipient)
	assert.Equal(t, "Schedule recomputed (holiday)", n.Subject)
	assert.Contains(t, n.Body, "2 phase(s) moved")
	assert.Contains(t, n.Body, "2024-03-14")

	pid := int64(7)
	raw, err = json.Marshal(contracts.HolidayPayload{
		Envelope: contracts.NewEnvelope("", time.Now()), HolidayID: 3, Date: "2024-03-06", Label: "Inspection", ProjectID: &pid,
	})
	require.NoError(t, err)
	n, ok, err = Render(contracts.RoutingHolidayRemoved, raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), n.ProjectID)
	assert.Equal(t, "Holiday removed: 2024-03-06", n.Subject)
}
