// Package reconciler implements the delivery reconciler (C7): it consumes
// provider status callbacks and updates the permanent message record.
package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
	"github.com/sengine/drip-engine/internal/ports"
	"github.com/sengine/drip-engine/internal/webhook"
)

// statusCallback is the inbox.status wire payload (§6).
type statusCallback struct {
	Data struct {
		MessageSID   string `json:"messageSid"`
		Status       string `json:"status"`
		BRef         string `json:"bRef"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"data"`
}

// mapping is the provider textual status → (coarse, textual) table.
var mapping = map[string]struct {
	coarse  int
	textual string
}{
	"queued":      {domain.DeliveryCoarseQueued, "queued"},
	"sending":     {domain.DeliveryCoarseSending, "sending"},
	"sent":        {domain.DeliveryCoarseSending, "sent"},
	"delivered":   {domain.DeliveryCoarseDelivered, "delivered"},
	"undelivered": {domain.DeliveryCoarseUndelivered, "undelivered"},
	"failed":      {domain.DeliveryCoarseFailed, "failed"},
	"read":        {domain.DeliveryCoarseDelivered, "read"},
}

// Reconciler updates message rows from provider status callbacks.
type Reconciler struct {
	messages     ports.MessageRepository
	scheduled    ports.ScheduledMessageRepository
	dripContacts ports.DripContactRepository
	consumer     ports.MessageConsumer
	webhooks     *webhook.Producer
	log          *slog.Logger
}

func New(messages ports.MessageRepository, scheduled ports.ScheduledMessageRepository, dripContacts ports.DripContactRepository, consumer ports.MessageConsumer, webhooks *webhook.Producer, log *slog.Logger) *Reconciler {
	return &Reconciler{messages: messages, scheduled: scheduled, dripContacts: dripContacts, consumer: consumer, webhooks: webhooks, log: log}
}

// Run consumes inbox.status at the given prefetch.
func (r *Reconciler) Run(ctx context.Context, prefetch int) error {
	return r.consumer.Consume(ctx, "inbox.status", prefetch, r.handle)
}

// handle always returns nil: a missed callback is not fatal, and the
// provider will resend, so the broker message is acked either way.
func (r *Reconciler) handle(ctx context.Context, env ports.Envelope) error {
	var cb statusCallback
	if err := json.Unmarshal(env.Body, &cb); err != nil {
		r.log.Error("unmarshal status callback", "err", err)
		return nil
	}

	msg, err := r.resolve(ctx, cb.Data.MessageSID, cb.Data.BRef)
	if err != nil {
		r.log.Warn("status callback: message not found", "sid", cb.Data.MessageSID, "b_ref", cb.Data.BRef)
		return nil
	}

	mapped, known := mapping[cb.Data.Status]
	textual := cb.Data.Status
	coarse := msg.Status
	if known {
		coarse = mapped.coarse
		textual = mapped.textual
	}

	if err := r.messages.UpdateDeliveryStatus(ctx, msg.ID, coarse, textual); err != nil {
		r.log.Error("update delivery status", "message_id", msg.ID, "err", err)
		return nil
	}

	switch textual {
	case "delivered", "read":
		r.applyDelivered(ctx, msg.ID)
		if r.webhooks != nil {
			r.webhooks.Fire(ctx, msg.UserID, msg.WorkspaceID, domain.EventMessageDelivered, map[string]any{
				"message_id": msg.ID,
				"status":     textual,
			})
		}
	case "failed", "undelivered":
		r.applyFailed(ctx, msg.ID, cb.Data.ErrorMessage)
		if r.webhooks != nil {
			r.webhooks.Fire(ctx, msg.UserID, msg.WorkspaceID, domain.EventMessageFailed, map[string]any{
				"message_id":    msg.ID,
				"status":        textual,
				"error_code":    cb.Data.ErrorCode,
				"error_message": cb.Data.ErrorMessage,
			})
		}
	}

	return nil
}

// applyDelivered moves the scheduled row and its DripContact from Sent to
// Delivered. A callback for a message the scheduler never tracked (e.g. a
// non-drip send) is not an error — both lookups simply no-op.
func (r *Reconciler) applyDelivered(ctx context.Context, messageID uuid.UUID) {
	sched, err := r.scheduled.GetByMessageID(ctx, messageID)
	if err != nil {
		return
	}
	if err := r.scheduled.MarkDelivered(ctx, sched.ID); err != nil {
		r.log.Error("mark scheduled delivered", "scheduled_id", sched.ID, "err", err)
	}
	if err := r.dripContacts.MarkDelivered(ctx, sched.DripContactID); err != nil {
		r.log.Error("mark drip contact delivered", "drip_contact_id", sched.DripContactID, "err", err)
	}
}

// applyFailed marks the DripContact Failed for a post-send carrier failure.
// The scheduled row itself stays Sent: §3's monotone path has no Sent→Failed
// edge, since the send already happened and credits were already charged.
func (r *Reconciler) applyFailed(ctx context.Context, messageID uuid.UUID, reason string) {
	sched, err := r.scheduled.GetByMessageID(ctx, messageID)
	if err != nil {
		return
	}
	if err := r.dripContacts.MarkFailed(ctx, sched.DripContactID, reason); err != nil {
		r.log.Error("mark drip contact failed", "drip_contact_id", sched.DripContactID, "err", err)
	}
}

func (r *Reconciler) resolve(ctx context.Context, providerMsgID, bRef string) (*domain.Message, error) {
	if providerMsgID != "" {
		if msg, err := r.messages.GetByProviderMessageID(ctx, providerMsgID); err == nil {
			return msg, nil
		}
	}
	if bRef != "" {
		if msg, err := r.messages.GetByBRef(ctx, bRef); err == nil {
			return msg, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}
