package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sengine/drip-engine/internal/ports"
)

// maxRetries is the x-retry-count ceiling past which a failed handler
// sends its delivery to the dead-letter exchange instead of requeuing.
const maxRetries = 3

// Consumer implements ports.MessageConsumer using RabbitMQ.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *slog.Logger
}

// NewConsumer dials RabbitMQ and declares the full topology.
func NewConsumer(amqpURL string, log *slog.Logger) (*Consumer, error) {
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

	return &Consumer{conn: conn, channel: ch, log: log}, nil
}

// Consume registers a consumer on queue with the given prefetch and calls
// handler for each delivery, acking only on a nil return. On handler error
// it consults x-retry-count: below maxRetries it republishes the delivery
// with the header incremented and acks the original (if that publish fails,
// it negative-acks with requeue instead); at the ceiling it rejects without
// requeue, routing the delivery to the bound dead-letter exchange.
func (c *Consumer) Consume(ctx context.Context, queue string, prefetch int, handler func(ctx context.Context, env ports.Envelope) error) error {
	if err := c.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := c.channel.Consume(
		queue,
		"",    // auto-generated consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed for %s", queue)
			}

			retryCount := headerRetryCount(d.Headers)
			env := ports.Envelope{RoutingKey: d.RoutingKey, Body: d.Body, RetryCount: retryCount}

			if err := handler(ctx, env); err != nil {
				c.log.Error("handler error", "queue", queue, "retry_count", retryCount, "err", err)
				if retryCount+1 >= maxRetries {
					d.Nack(false, false) // past ceiling: dead-letter, no requeue
				} else {
					headers := amqp.Table{}
					for k, v := range d.Headers {
						headers[k] = v
					}
					headers["x-retry-count"] = int32(retryCount + 1)
					if err := c.channel.PublishWithContext(ctx, d.Exchange, d.RoutingKey, false, false, amqp.Publishing{
						ContentType:  d.ContentType,
						DeliveryMode: amqp.Persistent,
						Headers:      headers,
						Body:         d.Body,
					}); err != nil {
						c.log.Error("republish for retry", "queue", queue, "err", err)
						d.Nack(false, true) // requeue unchanged
					} else {
						d.Ack(false) // retry copy carries the bumped count
					}
				}
				continue
			}

			d.Ack(false)
		}
	}
}

func headerRetryCount(h amqp.Table) int {
	if h == nil {
		return 0
	}
	switch v := h["x-retry-count"].(type) {
	case int32:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Close cleanly shuts down the channel and connection.
func (c *Consumer) Close() error {
	if err := c.channel.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}
