package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"buildtrack/pkg/otel"
	"buildtrack/pkg/trace"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
)

// TraceIDHeader 业务 trace_id 在消息头中的名字
const TraceIDHeader = "x-trace-id"

type Publisher struct {
	conn     *amqp091.Connection
	exchange string

	// amqp channel 不支持并发发布
	mu      sync.Mutex
	channel *amqp091.Channel
}

func NewPublisher(url, exchange string) (*Publisher, error) {
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

	if err := DeclareExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare dlq exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
	}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected checks if the publisher connection is still alive
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed()
}

// Publish marshals payload and publishes it with the given routing key.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.PublishRaw(ctx, routingKey, body)
}

// PublishRaw publishes an already encoded JSON body, carrying the trace
// context in the message headers.
func (p *Publisher) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	return p.publish(ctx, p.exchange, routingKey, body, amqp091.Table{})
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp091.Table) error {
	ctx, span := otel.MQPublishSpan(ctx, routingKey, exchange)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, otel.NewMQHeaderCarrier(headers))
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[TraceIDHeader] = traceID
	}

	p.mu.Lock()
	err := p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
	p.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}
