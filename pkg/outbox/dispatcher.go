package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"buildtrack/pkg/circuitbreaker"
	"buildtrack/pkg/metrics"
	"buildtrack/pkg/trace"

	"go.uber.org/zap"
)

// Store is the part of an outbox the dispatcher needs. Repository and the
// in-memory store both implement it.
type Store interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
}

// Publisher 发布到 MQ 的最小接口（mq.Publisher 实现）
type Publisher interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	store      Store
	publisher  Publisher
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	d.batchSize = batchSize
	return d
}

func (d *Dispatcher) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// Start 阻塞运行，直到 ctx 取消
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce publishes one batch and returns how many events were sent.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	events, err := d.store.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	sent := 0
	for _, event := range events {
		err := d.breaker.Execute(func() error {
			return d.publishEvent(ctx, event)
		})
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			// MQ 不可用，整批延后，不计入重试次数
			d.logger.Warn("Outbox publish skipped, circuit breaker open",
				zap.Int64("event_id", event.ID),
			)
			metrics.IncrementOutboxPublish(event.RoutingKey, "breaker_open")
			return sent
		}
		if err != nil {
			d.logger.Error("Failed to publish event",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
				zap.Error(err),
			)
			metrics.IncrementOutboxPublish(event.RoutingKey, "failed")
			if err := d.store.MarkAsFailed(ctx, event.ID, d.maxRetries); err != nil {
				d.logger.Error("Failed to mark event as failed",
					zap.Int64("event_id", event.ID),
					zap.Error(err),
				)
			}
			continue
		}

		if err := d.store.MarkAsSent(ctx, event.ID); err != nil {
			d.logger.Error("Failed to mark event as sent",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.IncrementOutboxPublish(event.RoutingKey, "sent")
		sent++
		d.logger.Debug("Event published successfully",
			zap.Int64("event_id", event.ID),
			zap.String("routing_key", event.RoutingKey),
		)
	}
	return sent
}

func (d *Dispatcher) publishEvent(ctx context.Context, event *Event) error {
	ctx = withPayloadTrace(ctx, event.Payload)
	return d.publisher.PublishRaw(ctx, event.RoutingKey, event.Payload)
}

// withPayloadTrace 从 payload 中提取 trace_id（如果存在）
func withPayloadTrace(ctx context.Context, payload json.RawMessage) context.Context {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ctx
	}
	if envelope.TraceID != "" {
		ctx = trace.WithContext(ctx, envelope.TraceID)
	}
	return ctx
}
