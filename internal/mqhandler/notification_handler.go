package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	contracts "buildtrack/contracts/mq"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/metrics"
	"buildtrack/pkg/util"

	"go.uber.org/zap"
)

const (
	maxRetries  = 5 // 最大重试次数
	handlerName = "notify"
)

// Notification is one rendered message for a schedule or holiday event.
type Notification struct {
	EventID    string
	RoutingKey string
	ProjectID  int64
	Recipient  string
	Subject    string
	Body       string
}

// Delivery sends a rendered notification. Delivery channels are outside this
// service; LogDelivery only records what would be sent.
type Delivery interface {
	Deliver(ctx context.Context, n Notification) error
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, failedAt string) error
}

type NotificationHandler struct {
	delivery Delivery
	deduper  util.OnceClaimer
	retries  RetryCounter
	dlq      DLQPublisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewNotificationHandler(delivery Delivery, deduper util.OnceClaimer, retries RetryCounter, dlq DLQPublisher, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		delivery: delivery,
		deduper:  deduper,
		retries:  retries,
		dlq:      dlq,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle matches mq.MessageHandler. A nil return acks the message; an error
// nacks it for redelivery.
func (h *NotificationHandler) Handle(ctx context.Context, routingKey string, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger).With(zap.String("routing_key", routingKey))

	var env contracts.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// JSON decode 错误 - 不可重试，发送到 DLQ
		log.Error("Failed to unmarshal event envelope (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		h.deadLetter(ctx, log, routingKey, raw, fmt.Errorf("json_unmarshal_error: %w", err))
		return nil
	}
	log = log.With(zap.String("event_id", env.EventID))

	if env.EventID != "" && h.deduper != nil && !h.deduper.AcquireOnce(ctx, handlerName, env.EventID) {
		log.Info("Skipped duplicated event")
		metrics.IncrementNotification(routingKey, "duplicate")
		return nil
	}

	n, ok, err := Render(routingKey, raw)
	if err != nil {
		log.Error("Failed to decode event payload (non-retryable, sending to DLQ)", zap.Error(err))
		h.deadLetter(ctx, log, routingKey, raw, err)
		return nil
	}
	if !ok {
		log.Warn("No notification template for routing key, ignoring")
		metrics.IncrementNotification(routingKey, "ignored")
		return nil
	}

	if err := h.delivery.Deliver(ctx, n); err != nil {
		return h.onDeliveryError(ctx, log, routingKey, env.EventID, raw, err)
	}

	if env.EventID != "" && h.retries != nil {
		if err := h.retries.Reset(ctx, util.FormatRetryKey(handlerName, env.EventID)); err != nil {
			log.Warn("Failed to reset retry count", zap.Error(err))
		}
	}
	metrics.IncrementNotification(routingKey, "delivered")
	return nil
}

func (h *NotificationHandler) onDeliveryError(ctx context.Context, log *zap.Logger, routingKey, eventID string, raw json.RawMessage, err error) error {
	retryable, errType := util.IsRetryableError(err)
	log.Error("Notification delivery failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)
	if !retryable {
		h.deadLetter(ctx, log, routingKey, raw, err)
		return nil
	}

	var count int64 = 1
	if eventID != "" && h.retries != nil {
		c, cerr := h.retries.IncrementAndGet(ctx, util.FormatRetryKey(handlerName, eventID))
		if cerr != nil {
			// Redis 错误不影响处理，按第一次处理
			log.Warn("Failed to get retry count, continuing anyway", zap.Error(cerr))
		} else {
			count = c
		}
	}
	if count >= maxRetries {
		log.Error("Max retries exceeded, sending to DLQ", zap.Int64("retry_count", count))
		h.deadLetter(ctx, log, routingKey, raw, err)
		if eventID != "" && h.retries != nil {
			_ = h.retries.Reset(ctx, util.FormatRetryKey(handlerName, eventID))
		}
		return nil
	}

	// 释放去重 key，否则重新投递的消息会被当成重复
	if eventID != "" && h.deduper != nil {
		h.deduper.Forget(ctx, handlerName, eventID)
	}
	metrics.IncrementNotification(routingKey, "retry")
	return err
}

func (h *NotificationHandler) deadLetter(ctx context.Context, log *zap.Logger, routingKey string, raw json.RawMessage, cause error) {
	metrics.IncrementNotification(routingKey, "dead_lettered")
	if h.dlq == nil {
		log.Warn("No DLQ configured, dropping message")
		return
	}
	if err := h.dlq.PublishToDLQ(ctx, routingKey, raw, cause.Error(), h.now().UTC().Format(time.RFC3339)); err != nil {
		log.Error("Failed to publish to DLQ", zap.Error(err))
	}
}

// LogDelivery writes the notification to the log instead of sending it.
type LogDelivery struct {
	logger *zap.Logger
}

func NewLogDelivery(logger *zap.Logger) *LogDelivery {
	return &LogDelivery{logger: logger}
}

func (d *LogDelivery) Deliver(ctx context.Context, n Notification) error {
	logger.WithTrace(ctx, d.logger).Info("Notification delivered",
		zap.String("event_id", n.EventID),
		zap.String("routing_key", n.RoutingKey),
		zap.Int64("project_id", n.ProjectID),
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}
