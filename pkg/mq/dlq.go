package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DLQExchangeName = "events.dlq"
)

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		DLQExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DeclareDLQQueue declares the dead letter queue of a consumer queue and
// binds it to every routing key.
func DeclareDLQQueue(ch *amqp091.Channel, queue string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		queue+".dlq",
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "#", DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}

	return q, nil
}

// PublishToDLQ publishes a message to the dead letter exchange.
func (p *Publisher) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, failedAt string) error {
	headers := amqp091.Table{
		"x-original-error": originalError,
		"x-failed-at":      failedAt,
		"x-failed-time":    time.Now().UTC().Format(time.RFC3339),
	}
	return p.publish(ctx, DLQExchangeName, routingKey, payload, headers)
}
