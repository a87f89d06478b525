package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sengine/drip-engine/internal/ports"
)

// Publisher implements ports.MessagePublisher against a shared connection
// and channel, re-declaring topology on connect the way the consumer does.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher dials the broker, declares the full topology, and returns a
// ready Publisher. Nothing reconnects a dropped connection: internal/supervisor
// has no reconnect logic, and DialWithBackoff (reconnect.go) is not called
// by any binary.
func NewPublisher(amqpURL string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, channel: ch}, nil
}

// Publish sends env to exchange, tagging the x-retry-count header so
// consumers can apply the DLX-after-3 policy.
func (p *Publisher) Publish(ctx context.Context, exchange string, env ports.Envelope) error {
	return p.channel.PublishWithContext(
		ctx,
		exchange,
		env.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{"x-retry-count": int32(env.RetryCount)},
			Body:         env.Body,
		},
	)
}

// Inspect returns the current message count for queue, backing the
// supervisor's queue-depth monitor.
func (p *Publisher) Inspect(queue string) (int, error) {
	q, err := p.channel.QueueInspect(queue)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// Close cleanly shuts down the channel and connection.
func (p *Publisher) Close() error {
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}
