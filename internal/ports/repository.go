package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
)

// ScheduledMessageRepository defines persistence operations for the
// pre-queue work-item table. The adapter's batch claim uses FOR UPDATE SKIP
// LOCKED, but its locks last only for the claim itself: concurrent callers
// can receive the same rows.
type ScheduledMessageRepository interface {
	// Insert persists a new Pending ScheduledMessage and returns its ID.
	Insert(ctx context.Context, m domain.ScheduledMessage) (int64, error)

	// ClaimDue locks and returns up to limit Pending rows whose ScheduledAt
	// is at or before the lead-window cutoff, ordered by ScheduledAt. Status
	// is left Pending; callers must call MarkQueued once a row is actually
	// published.
	ClaimDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.ScheduledMessage, error)

	// MarkQueued transitions the given ids Pending→Queued, gated on the
	// current status so a row that was never published stays Pending.
	MarkQueued(ctx context.Context, ids []int64) error

	// Get retrieves a scheduled message by ID.
	Get(ctx context.Context, id int64) (*domain.ScheduledMessage, error)

	// GetByMessageID finds the scheduled row that produced the given
	// permanent Message, used by the reconciler to apply a delivery
	// callback back onto the pre-queue row and its DripContact.
	GetByMessageID(ctx context.Context, messageID uuid.UUID) (*domain.ScheduledMessage, error)

	// UpdateStatus transitions a scheduled message's status, gated on the
	// expected current status so concurrent workers cannot double-process.
	UpdateStatus(ctx context.Context, id int64, expected, next domain.ScheduledStatus) (bool, error)

	// MarkSent records the resulting Message.ID and provider message ID and
	// transitions the row to Sent.
	MarkSent(ctx context.Context, id int64, messageID uuid.UUID, providerMsgID string) error

	// MarkFailed records an error and transitions the row to Failed,
	// incrementing RetryCount.
	MarkFailed(ctx context.Context, id int64, errMsg string) error

	// MarkDelivered transitions a Sent row to Delivered.
	MarkDelivered(ctx context.Context, id int64) error
}

// DripContactRepository mutates the upstream-owned enrollment-tracking row
// (§3): the dispatcher and reconciler update it after each send attempt and
// delivery callback but never create or delete it.
type DripContactRepository interface {
	// MarkSent records sent_at, the resulting Message ID, and the tracking
	// token, transitioning the row to Sent.
	MarkSent(ctx context.Context, id uuid.UUID, messageID uuid.UUID, bRef string) error

	// MarkFailed records the failure reason and transitions the row to
	// Failed.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// MarkDelivered transitions a Sent row to Delivered.
	MarkDelivered(ctx context.Context, id uuid.UUID) error
}

// MessageRepository defines persistence operations for the permanent
// transmission log.
type MessageRepository interface {
	// Insert persists a new Message and returns its assigned ID.
	Insert(ctx context.Context, msg domain.Message) (uuid.UUID, error)

	// Get retrieves a message by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.Message, error)

	// GetByProviderMessageID retrieves a message by the gateway-assigned ID,
	// used by the reconciler to resolve inbound status callbacks.
	GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Message, error)

	// GetByBRef retrieves a message by its tracking token, the reconciler's
	// fallback lookup when a callback carries no provider message ID.
	GetByBRef(ctx context.Context, bRef string) (*domain.Message, error)

	// UpdateDeliveryStatus applies the coarse/textual status pair from the
	// provider status mapping table.
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, coarse int, textual string) error

	// CountUnread returns the number of unread inbound messages for a
	// contact, used to annotate the inbound notification fan-out.
	CountUnread(ctx context.Context, contactID uuid.UUID) (int, error)
}

// ContactRepository resolves and mutates contact state.
type ContactRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error)

	// FindByFuzzyPhone finds a contact under userID whose normalized phone
	// shares a suffix with the normalized inbound number.
	FindByFuzzyPhone(ctx context.Context, userID uuid.UUID, normalizedPhone string) (*domain.Contact, error)

	// FindOrCreateByPhone returns the existing contact for the phone under
	// userID, or creates one.
	FindOrCreateByPhone(ctx context.Context, userID, workspaceID uuid.UUID, phone string) (*domain.Contact, error)

	SetOptedOut(ctx context.Context, id uuid.UUID, optedOut bool) error
	UpdateLastMessage(ctx context.Context, id uuid.UUID, body string, openChat bool) error
}

// UserRepository resolves tenant state and an active sending number.
type UserRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.User, error)
	ActiveSenderNumber(ctx context.Context, userID uuid.UUID) (string, error)
}

// CreditLedger implements the debit-then-conditional-refund invariant of
// §8: a debit row and, iff the referenced message ends Failed, a matching
// refund row of equal magnitude.
type CreditLedger interface {
	// Debit attempts to reserve amount credits for userID, writing an
	// audit row. Returns domain.ErrInsufficientCredits if balance is
	// insufficient.
	Debit(ctx context.Context, userID uuid.UUID, amount int64, referenceType, referenceID string) error

	// Refund reverses a prior debit for the same reference, writing a
	// matching credit audit row.
	Refund(ctx context.Context, userID uuid.UUID, amount int64, referenceType, referenceID string) error

	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
}

// WebhookRepository resolves subscriptions and records delivery attempts.
type WebhookRepository interface {
	// ActiveForEvent returns active webhooks under userID subscribed to
	// eventType.
	ActiveForEvent(ctx context.Context, userID uuid.UUID, eventType string) ([]domain.Webhook, error)

	InsertDelivery(ctx context.Context, d domain.WebhookDelivery) error
	UpdateDeliveryResult(ctx context.Context, eventID string, status domain.WebhookDeliveryStatus, responseStatus int, responseBody, errMsg string, durationMS int64) error

	RecordFailure(ctx context.Context, webhookID uuid.UUID) error
	RecordSuccess(ctx context.Context, webhookID uuid.UUID) error
}

// OptOutRepository backs the per-user deny list maintained by the inbound
// ingestor. The dispatcher does not use it; it checks Contact.OptedOut.
type OptOutRepository interface {
	IsOptedOut(ctx context.Context, userID uuid.UUID, normalizedPhone string) (bool, error)
	Add(ctx context.Context, userID uuid.UUID, normalizedPhone string) error
	Remove(ctx context.Context, userID uuid.UUID, normalizedPhone string) error
}
