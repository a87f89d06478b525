// Package dispatcher implements the outbound dispatcher (the hard
// component): it consumes drip.messages and drives each payload through
// the ordered send pipeline, ending in exactly one terminal state.
package dispatcher

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
	"github.com/sengine/drip-engine/internal/ports"
	"github.com/sengine/drip-engine/internal/webhook"
)

// dripPayload mirrors scheduler.dripPayload on the wire.
type dripPayload struct {
	ScheduledMessageID int64     `json:"scheduledMessageId"`
	DripContactID      string    `json:"dripContactId"`
	UserID             string    `json:"userId"`
	WorkspaceID        string    `json:"workspaceId"`
	ContactID          string    `json:"contactId"`
	DripID             string    `json:"dripId"`
	CampaignID         string    `json:"campaignId"`
	FromNumber         string    `json:"fromNumber"`
	ToNumber           string    `json:"toNumber"`
	Message            string    `json:"message"`
	MediaURL           string    `json:"mediaUrl"`
	ScheduledAt        time.Time `json:"scheduledAt"`
	QueuedAt           time.Time `json:"queuedAt"`
	IsLoadTest         bool      `json:"isLoadTest"`
	CreditCost         int64     `json:"creditCost"`
}

// Config tunes the statusCallback URL and per-send credit cost.
type Config struct {
	StatusCallbackURL string
	CreditCostDefault int64
}

// Dispatcher wires every dependency the 13-step pipeline touches.
type Dispatcher struct {
	scheduled    ports.ScheduledMessageRepository
	dripContacts ports.DripContactRepository
	messages     ports.MessageRepository
	contacts     ports.ContactRepository
	users        ports.UserRepository
	credits      ports.CreditLedger
	gateway      ports.GatewayClient
	limiter      ports.RateLimiter
	consumer     ports.MessageConsumer
	webhooks     *webhook.Producer
	cfg          Config
	log          *slog.Logger
}

func New(
	scheduled ports.ScheduledMessageRepository,
	dripContacts ports.DripContactRepository,
	messages ports.MessageRepository,
	contacts ports.ContactRepository,
	users ports.UserRepository,
	credits ports.CreditLedger,
	gateway ports.GatewayClient,
	limiter ports.RateLimiter,
	consumer ports.MessageConsumer,
	webhooks *webhook.Producer,
	cfg Config,
	log *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		scheduled: scheduled, dripContacts: dripContacts, messages: messages, contacts: contacts, users: users,
		credits: credits, gateway: gateway, limiter: limiter, consumer: consumer,
		webhooks: webhooks, cfg: cfg, log: log,
	}
}

// Run consumes drip.messages at the given prefetch.
func (d *Dispatcher) Run(ctx context.Context, prefetch int) error {
	return d.consumer.Consume(ctx, "drip.messages", prefetch, d.handle)
}

const creditAmount = 1

func (d *Dispatcher) handle(ctx context.Context, env ports.Envelope) error {
	var payload dripPayload
	if err := json.Unmarshal(env.Body, &payload); err != nil {
		d.log.Error("unmarshal drip payload", "err", err)
		return nil // malformed: don't retry
	}

	// Step 1: load-test short-circuit.
	if payload.IsLoadTest {
		n, _ := rand.Int(rand.Reader, big.NewInt(150))
		time.Sleep(50*time.Millisecond + time.Duration(n.Int64())*time.Millisecond)
		return nil
	}

	// Step 2: idempotency check — only meaningful once a prior attempt may
	// have written provider_message_id onto a Message row; the scheduled
	// row's own MessageID field is the hook for that lookup.
	if existing, err := d.scheduled.Get(ctx, payload.ScheduledMessageID); err == nil && existing.MessageID != nil {
		if msg, err := d.messages.Get(ctx, *existing.MessageID); err == nil && msg.ProviderMessageID != "" {
			return nil
		}
	}

	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		d.log.Error("parse user id", "raw", payload.UserID, "err", err)
		return nil
	}
	contactID, err := uuid.Parse(payload.ContactID)
	if err != nil {
		d.log.Error("parse contact id", "raw", payload.ContactID, "err", err)
		return nil
	}

	// Step 3: contact validity.
	contact, err := d.contacts.Get(ctx, contactID)
	if err != nil {
		d.fail(ctx, payload.ScheduledMessageID, payload.DripContactID, "contact not found", nil)
		return nil
	}
	if contact.IsBlock || contact.OptedOut || contact.Archive {
		d.fail(ctx, payload.ScheduledMessageID, payload.DripContactID, "contact blocked or opted out", nil)
		return nil
	}

	// Step 4: user validity.
	user, err := d.users.Get(ctx, userID)
	if err != nil {
		d.fail(ctx, payload.ScheduledMessageID, payload.DripContactID, "user not found", nil)
		return nil
	}
	if user.MessagingStatus != domain.MessagingStatusActive {
		d.fail(ctx, payload.ScheduledMessageID, payload.DripContactID, "user messaging not active", nil)
		return nil
	}

	// Step 5: sender resolution.
	fromNumber := payload.FromNumber
	if fromNumber == "" {
		fromNumber, err = d.users.ActiveSenderNumber(ctx, userID)
		if err != nil {
			d.fail(ctx, payload.ScheduledMessageID, payload.DripContactID, "no active sender number", nil)
			return nil
		}
	}

	// Step 6: credit reservation.
	creditCost := payload.CreditCost
	if creditCost <= 0 {
		creditCost = d.cfg.CreditCostDefault
	}
	if creditCost <= 0 {
		creditCost = creditAmount
	}
	if err := d.credits.Debit(ctx, userID, creditCost, domain.ReferenceTypeDripSMS, payload.DripID); err != nil {
		d.fail(ctx, payload.ScheduledMessageID, payload.DripContactID, "insufficient credits", nil)
		return nil
	}

	// Step 13: every failure return from here until the gateway accepts the
	// message calls refund, which returns the credit once and marks the row
	// Failed. A panic is not recovered and refunds nothing.
	refunded := false
	refund := func(reason string) {
		if refunded {
			return
		}
		refunded = true
		if err := d.credits.Refund(ctx, userID, creditCost, domain.ReferenceTypeDripSMS, payload.DripID); err != nil {
			d.log.Error("refund credit", "user_id", userID, "err", err)
		}
		d.fail(ctx, payload.ScheduledMessageID, payload.DripContactID, reason, nil)
	}

	// Step 7: token-bucket pacing.
	if err := d.limiter.Acquire(ctx); err != nil {
		refund("rate limiter acquire cancelled: " + err.Error())
		return nil
	}

	// Step 8: body personalization. The enrollment payload carries no
	// contact-name field in this schema, so [first]/[name]/[email] resolve
	// empty unless upstream already inlined them; [phone] resolves from the
	// contact record and [campaign] to the payload's campaign id.
	body := Personalize(payload.Message, Variables{
		Phone:    contact.Phone,
		Campaign: payload.CampaignID,
	})

	// Step 9: tracking tokens.
	bRef := fmt.Sprintf("DM-%d-%06d", time.Now().UnixMilli(), randSixDigits())
	uid := uuid.New()

	statusCallback := fmt.Sprintf("%s?bRef=%s", d.cfg.StatusCallbackURL, bRef)

	// Step 10: gateway call.
	result, err := d.gateway.Send(ctx, ports.SendRequest{
		From:              fromNumber,
		To:                payload.ToNumber,
		Body:              body,
		MediaURL:          payload.MediaURL,
		ProviderAccountID: user.ProviderAccountID,
		ProviderAuthToken: user.ProviderAuthToken,
		StatusCallbackURL: statusCallback,
	})
	if err != nil {
		refund("gateway call error: " + err.Error())
		return nil
	}

	if result.ErrorMessage != "" || result.ProviderMessageID == "" {
		// Step 12: gateway failure.
		reason := result.ErrorMessage
		if reason == "" {
			reason = "gateway returned no provider message id"
		}
		refund(fmt.Sprintf("gateway failure: %s", reason))
		return nil
	}

	// Step 11: success.
	msg := domain.Message{
		ID:                uid,
		UID:               uid.String(),
		BRef:              bRef,
		ProviderMessageID: result.ProviderMessageID,
		FromNumber:        fromNumber,
		ToNumber:          payload.ToNumber,
		Body:              body,
		MediaURL:          payload.MediaURL,
		Status:            domain.DeliveryCoarseSending,
		DeliveryStatus:    "sent",
		Direction:         domain.DirectionOutbound,
		IsDrip:            true,
		DripID:            uuidPtr(mustParse(payload.DripID)),
		UserID:            userID,
		WorkspaceID:       mustParse(payload.WorkspaceID),
		ContactID:         contactID,
		IsCharged:         true,
	}
	messageID, err := d.messages.Insert(ctx, msg)
	if err != nil {
		d.log.Error("insert message", "scheduled_id", payload.ScheduledMessageID, "err", err)
		return nil
	}

	if err := d.scheduled.MarkSent(ctx, payload.ScheduledMessageID, messageID, result.ProviderMessageID); err != nil {
		d.log.Error("mark scheduled sent", "scheduled_id", payload.ScheduledMessageID, "err", err)
	}

	if dripContactID, err := uuid.Parse(payload.DripContactID); err == nil {
		if err := d.dripContacts.MarkSent(ctx, dripContactID, messageID, bRef); err != nil {
			d.log.Error("mark drip contact sent", "drip_contact_id", dripContactID, "err", err)
		}
	}

	if err := d.contacts.UpdateLastMessage(ctx, contactID, body, true); err != nil {
		d.log.Error("update contact last message", "contact_id", contactID, "err", err)
	}

	if d.webhooks != nil {
		d.webhooks.Fire(ctx, userID, mustParse(payload.WorkspaceID), domain.EventOutboundMessage, map[string]any{
			"message_id":  messageID,
			"b_ref":       bRef,
			"to":          payload.ToNumber,
			"drip_id":     payload.DripID,
			"campaign_id": payload.CampaignID,
		})
	}

	return nil
}

func (d *Dispatcher) fail(ctx context.Context, scheduledID int64, dripContactID, reason string, extra map[string]any) {
	if err := d.scheduled.MarkFailed(ctx, scheduledID, reason); err != nil {
		d.log.Error("mark scheduled failed", "scheduled_id", scheduledID, "reason", reason, "err", err)
	}
	if id, err := uuid.Parse(dripContactID); err == nil {
		if err := d.dripContacts.MarkFailed(ctx, id, reason); err != nil {
			d.log.Error("mark drip contact failed", "drip_contact_id", id, "err", err)
		}
	}
	d.log.Warn("scheduled message failed", "scheduled_id", scheduledID, "drip_contact_id", dripContactID, "reason", reason)
}

func randSixDigits() int {
	n, _ := rand.Int(rand.Reader, big.NewInt(1000000))
	return int(n.Int64())
}

func mustParse(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
