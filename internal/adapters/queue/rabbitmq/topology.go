// Package rabbitmq implements the ports queue interfaces against a single
// shared broker connection, mirroring the inbox/drip dual-exchange layout.
package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange names for the two logical domains.
const (
	ExchangeInbox    = "inbox"
	ExchangeInboxDLX = "inbox.dlx"
	ExchangeDrip     = "drip"
	ExchangeDripDLX  = "drip.dlx"
)

// Queue names, one row per the broker topology table.
const (
	QueueInboxSend    = "inbox.send"
	QueueInboxInbound = "inbox.inbound"
	QueueInboxStatus  = "inbox.status"
	QueueInboxNotify  = "inbox.notify"
	QueueInboxWebhook = "inbox.webhook"
	QueueInboxFailed  = "inbox.failed"
	QueueDripMessages = "drip.messages"
	QueueDripDead     = "drip.dead"
)

type binding struct {
	queue      string
	exchange   string
	routingKey string
	ttl        time.Duration // 0 means no TTL
	dlx        string        // "" means no DLX
	dlrk       string        // dead-letter routing key, only when dlx != ""
}

var bindings = []binding{
	{QueueInboxSend, ExchangeInbox, "send", 24 * time.Hour, ExchangeInboxDLX, "failed"},
	{QueueInboxInbound, ExchangeInbox, "inbound", 24 * time.Hour, ExchangeInboxDLX, "failed"},
	{QueueInboxStatus, ExchangeInbox, "status", 24 * time.Hour, ExchangeInboxDLX, "failed"},
	{QueueInboxNotify, ExchangeInbox, "notify", 0, "", ""},
	{QueueInboxWebhook, ExchangeInbox, "webhook", 24 * time.Hour, ExchangeInboxDLX, "failed"},
	{QueueInboxFailed, ExchangeInboxDLX, "failed", 7 * 24 * time.Hour, "", ""},
	{QueueDripMessages, ExchangeDrip, "drip.send", time.Hour, ExchangeDripDLX, "drip.failed"},
	{QueueDripDead, ExchangeDripDLX, "drip.failed", 7 * 24 * time.Hour, "", ""},
}

// declareTopology idempotently declares every exchange, queue, and binding
// in the table above on ch.
func declareTopology(ch *amqp.Channel) error {
	exchanges := map[string]bool{
		ExchangeInbox: true, ExchangeInboxDLX: true,
		ExchangeDrip: true, ExchangeDripDLX: true,
	}
	for ex := range exchanges {
		if err := ch.ExchangeDeclare(ex, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	for _, b := range bindings {
		args := amqp.Table{}
		if b.ttl > 0 {
			args["x-message-ttl"] = int64(b.ttl / time.Millisecond)
		}
		if b.dlx != "" {
			args["x-dead-letter-exchange"] = b.dlx
			args["x-dead-letter-routing-key"] = b.dlrk
		}

		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.routingKey, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", b.queue, err)
		}
	}

	return nil
}
