package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"buildtrack/pkg/metrics"
	"buildtrack/pkg/otel"
	"buildtrack/pkg/trace"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// MessageHandler 处理一条消息；返回 error 时消息被 nack 并重新入队
type MessageHandler func(ctx context.Context, routingKey string, data json.RawMessage) error

type Consumer struct {
	channel     *amqp091.Channel
	queue       amqp091.Queue
	routingKeys []string
	handler     MessageHandler
	conn        *amqp091.Connection
	logger      *zap.Logger
}

// NewConsumer creates a durable queue bound to the given routing key
// patterns on exchange.
func NewConsumer(url, exchange, queueName string, routingKeys []string, logger *zap.Logger) (*Consumer, error) {
	if exchange == "" {
		exchange = ExchangeName
	}

	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(format string, err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf(format, err)
	}

	if err := DeclareExchange(ch, exchange); err != nil {
		return fail("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fail("failed to declare dlq exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(ch, queueName); err != nil {
		return fail("failed to declare dlq queue: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fail("failed to declare queue: %w", err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return fail("failed to bind queue: %w", err)
		}
	}

	// 一次只取少量消息，避免 handler 慢时堆积在本地
	if err := ch.Qos(16, 0, false); err != nil {
		return fail("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.Strings("routing_keys", routingKeys),
		zap.String("queue", queueName),
		zap.String("exchange", exchange),
	)

	return &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       q,
		routingKeys: routingKeys,
		logger:      logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// IsConnected checks if the consumer connection is still alive
func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is cancelled or the delivery channel closes.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"notifier",
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.dispatch(ctx, msg)
		}
	}
}

// dispatch 保证每条消息都会被 ack 或 nack
func (c *Consumer) dispatch(ctx context.Context, msg amqp091.Delivery) {
	start := time.Now()
	headers := map[string]interface{}(msg.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, otel.NewMQHeaderCarrier(headers))
	if traceID, ok := headers[TraceIDHeader].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx, span := otel.MQConsumeSpan(ctx, msg.RoutingKey, c.queue.Name)
	defer span.End()

	log := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("queue", c.queue.Name),
	)

	// Panic 恢复：确保即使 handler panic 也能正确处理消息
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			span.SetStatus(codes.Error, "panic")
			if err := msg.Nack(false, true); err != nil {
				log.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	err := c.handler(ctx, msg.RoutingKey, msg.Body)
	metrics.RecordMQConsumeLatency(msg.RoutingKey, c.queue.Name, time.Since(start))
	if err != nil {
		log.Error("Handler error", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// 业务失败 → 拒绝消息并重新入队，让 MQ 重试
		if err := msg.Nack(false, true); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
		return
	}
	log.Debug("Message processed successfully")
}
