package ports

import "context"

// Envelope is the generic broker payload: a routing key plus a JSON body,
// used so a single MessagePublisher/MessageConsumer pair can serve both
// the drip pre-queue domain and the inbox/reconciliation domain.
type Envelope struct {
	RoutingKey string
	Body       []byte
	// RetryCount mirrors the x-retry-count header convention; consumers
	// increment it when they republish a failed delivery for retry, and
	// publishers set it to 0 on first publish.
	RetryCount int
}

// MessagePublisher publishes an envelope to a named exchange.
type MessagePublisher interface {
	Publish(ctx context.Context, exchange string, env Envelope) error
	Close() error
}

// MessageConsumer consumes envelopes from a named queue. Consume blocks
// until ctx is cancelled or a fatal channel error occurs; handler errors
// cause a retry and, past the retry ceiling, routing to the dead-letter
// exchange.
type MessageConsumer interface {
	Consume(ctx context.Context, queue string, prefetch int, handler func(ctx context.Context, env Envelope) error) error
	Close() error
}
