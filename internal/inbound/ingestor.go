// Package inbound implements the inbound ingestor (C8): resolving an
// inbound carrier event to a contact, classifying it, and applying
// opt-in/opt-out keyword effects.
package inbound

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
	"github.com/sengine/drip-engine/internal/phone"
	"github.com/sengine/drip-engine/internal/ports"
	"github.com/sengine/drip-engine/internal/webhook"
)

// inboundEvent is the inbox.inbound wire payload.
type inboundEvent struct {
	FromNumber  string `json:"fromNumber"`
	ToNumber    string `json:"toNumber"`
	Body        string `json:"body"`
	NumMedia    int    `json:"numMedia"`
	MediaURL    string `json:"mediaUrl"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
}

// MessageType values, matching domain.Message.MessageType.
const (
	MessageTypeSMS = 0
	MessageTypeMMS = 1
)

// Ingestor consumes inbox.inbound events.
type Ingestor struct {
	users    ports.UserRepository
	contacts ports.ContactRepository
	messages ports.MessageRepository
	optouts  ports.OptOutRepository
	consumer ports.MessageConsumer
	notifier ports.MessagePublisher
	webhooks *webhook.Producer
	log      *slog.Logger
}

func New(
	users ports.UserRepository,
	contacts ports.ContactRepository,
	messages ports.MessageRepository,
	optouts ports.OptOutRepository,
	consumer ports.MessageConsumer,
	notifier ports.MessagePublisher,
	webhooks *webhook.Producer,
	log *slog.Logger,
) *Ingestor {
	return &Ingestor{
		users: users, contacts: contacts, messages: messages, optouts: optouts,
		consumer: consumer, notifier: notifier, webhooks: webhooks, log: log,
	}
}

// Run consumes inbox.inbound at the given prefetch.
func (ig *Ingestor) Run(ctx context.Context, prefetch int) error {
	return ig.consumer.Consume(ctx, "inbox.inbound", prefetch, ig.handle)
}

func (ig *Ingestor) handle(ctx context.Context, env ports.Envelope) error {
	var evt inboundEvent
	if err := json.Unmarshal(env.Body, &evt); err != nil {
		ig.log.Error("unmarshal inbound event", "err", err)
		return nil
	}

	// userId is trusted as-is: the gateway resolves the recipient number to
	// a tenant before publishing inbox.inbound, so no fuzzy match against
	// user_numbers happens here.
	userID, err := uuid.Parse(evt.UserID)
	if err != nil {
		ig.log.Warn("inbound event: invalid user id", "raw", evt.UserID)
		return nil
	}
	workspaceID, _ := uuid.Parse(evt.WorkspaceID)

	normalizedFrom := phone.Normalize(evt.FromNumber)

	contact, err := ig.contacts.FindOrCreateByPhone(ctx, userID, workspaceID, normalizedFrom)
	if err != nil {
		ig.log.Warn("inbound event: unknown recipient", "from", evt.FromNumber, "err", err)
		return nil
	}

	keyword := normalizeKeyword(evt.Body)
	switch {
	case isOptOut(evt.Body):
		if err := ig.contacts.SetOptedOut(ctx, contact.ID, true); err != nil {
			ig.log.Error("set opted out", "contact_id", contact.ID, "err", err)
		}
		if err := ig.optouts.Add(ctx, userID, normalizedFrom); err != nil {
			ig.log.Error("add opt out entry", "err", err)
		}
		if ig.webhooks != nil {
			ig.webhooks.Fire(ctx, userID, workspaceID, domain.EventContactOptOut, map[string]any{
				"contact_id": contact.ID, "keyword": keyword,
			})
		}
	case isOptIn(evt.Body):
		if err := ig.contacts.SetOptedOut(ctx, contact.ID, false); err != nil {
			ig.log.Error("clear opted out", "contact_id", contact.ID, "err", err)
		}
		if err := ig.optouts.Remove(ctx, userID, normalizedFrom); err != nil {
			ig.log.Error("remove opt out entry", "err", err)
		}
		if ig.webhooks != nil {
			ig.webhooks.Fire(ctx, userID, workspaceID, domain.EventContactOptIn, map[string]any{
				"contact_id": contact.ID, "keyword": keyword,
			})
		}
	}

	messageType := MessageTypeSMS
	if evt.NumMedia > 0 {
		messageType = MessageTypeMMS
	}

	msg := domain.Message{
		ID:          uuid.New(),
		FromNumber:  evt.FromNumber,
		ToNumber:    evt.ToNumber,
		Body:        evt.Body,
		MediaURL:    evt.MediaURL,
		Direction:   domain.DirectionInbound,
		UserID:      userID,
		WorkspaceID: workspaceID,
		ContactID:   contact.ID,
		MessageType: messageType,
		Unread:      true,
	}
	msg.UID = msg.ID.String()

	messageID, err := ig.messages.Insert(ctx, msg)
	if err != nil {
		ig.log.Error("insert inbound message", "err", err)
		return nil
	}

	if err := ig.contacts.UpdateLastMessage(ctx, contact.ID, evt.Body, true); err != nil {
		ig.log.Error("update contact last message", "contact_id", contact.ID, "err", err)
	}

	unread, err := ig.messages.CountUnread(ctx, contact.ID)
	if err != nil {
		ig.log.Error("count unread", "contact_id", contact.ID, "err", err)
	}

	if ig.webhooks != nil {
		ig.webhooks.Fire(ctx, userID, workspaceID, domain.EventMessageInbound, map[string]any{
			"message_id": messageID,
			"contact_id": contact.ID,
			"body":       evt.Body,
		})
	}

	ig.publishNotification(ctx, contact.ID, messageID, unread)

	return nil
}

type newMessageNotification struct {
	Type        string    `json:"type"`
	ContactID   uuid.UUID `json:"contactId"`
	MessageID   uuid.UUID `json:"messageId"`
	UnreadCount int       `json:"unreadCount"`
}

func (ig *Ingestor) publishNotification(ctx context.Context, contactID, messageID uuid.UUID, unread int) {
	body, err := json.Marshal(newMessageNotification{
		Type: "message:new", ContactID: contactID, MessageID: messageID, UnreadCount: unread,
	})
	if err != nil {
		ig.log.Error("marshal notification", "err", err)
		return
	}
	if err := ig.notifier.Publish(ctx, "inbox", ports.Envelope{RoutingKey: "notify", Body: body}); err != nil {
		ig.log.Error("publish notification", "err", err)
	}
}
