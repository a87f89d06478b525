package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageDirection distinguishes outbound sends from inbound receives.
type MessageDirection string

const (
	DirectionOutbound MessageDirection = "outbound"
	DirectionInbound  MessageDirection = "inbound"
)

// Message is the permanent, append-then-update record of an actual
// transmission (never deleted). ProviderMessageID is non-null iff the send
// reached the gateway at least once.
type Message struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	UID               string    `gorm:"type:text;uniqueIndex"`
	BRef              string    `gorm:"type:text;column:b_ref;index:idx_messages_bref"`
	ProviderMessageID string    `gorm:"type:text;index:idx_messages_provider_id,where:provider_message_id IS NOT NULL"`
	FromNumber        string    `gorm:"type:text"`
	ToNumber          string    `gorm:"type:text;not null"`
	Body              string    `gorm:"type:text"`
	MediaURL          string    `gorm:"type:text"`
	Status            int       `gorm:"not null;default:0"`
	DeliveryStatus    string    `gorm:"type:text"`
	Direction         MessageDirection
	IsDrip            bool
	DripID            *uuid.UUID `gorm:"type:uuid"`
	UserID            uuid.UUID  `gorm:"type:uuid;not null;index:idx_messages_user"`
	WorkspaceID       uuid.UUID  `gorm:"type:uuid;not null"`
	ContactID         uuid.UUID  `gorm:"type:uuid;not null"`
	MessageType       int
	IsCharged         bool
	Unread            bool
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

// Provider delivery coarse/textual status codes, per §4.7's mapping table.
const (
	DeliveryCoarseQueued      = 0
	DeliveryCoarseSending     = 1
	DeliveryCoarseDelivered   = 2
	DeliveryCoarseFailed      = 3
	DeliveryCoarseUndelivered = 4
)

// Contact is shared state mutated only by the Inbound Ingestor and the
// Dispatcher (for LastMessage).
type Contact struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index:idx_contacts_user"`
	Phone       string    `gorm:"type:text;not null;index:idx_contacts_phone"`
	OptedOut    bool
	IsBlock     bool
	LastMessage string `gorm:"type:text"`
	OpenChat    bool
	Archive     bool
	DeletedAt   *time.Time
}

func (Contact) TableName() string { return "contacts" }

// UserNumber is a provisioned sending number; the dispatcher resolves an
// active one per user.
type UserNumber struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index:idx_usernumbers_user"`
	Phone     string    `gorm:"type:text;not null"`
	Status    string    `gorm:"type:text;not null;default:'active'"`
	DeletedAt *time.Time
}

func (UserNumber) TableName() string { return "user_numbers" }

// MessagingStatus values for User.MessagingStatus.
const (
	MessagingStatusActive    = "active"
	MessagingStatusSuspended = "suspended"
)

// User carries the gateway credentials used to override the process
// defaults per-tenant (§4.3).
type User struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	WorkspaceID       uuid.UUID `gorm:"type:uuid;not null"`
	ProviderAccountID string    `gorm:"type:text"`
	ProviderAuthToken string    `gorm:"type:text"`
	MessagingStatus   string    `gorm:"type:text;not null;default:'active'"`
}

func (User) TableName() string { return "users" }

// UserCredits tracks the per-user running balance that CreditTransaction
// rows must sum to at quiescence (§3 invariant).
type UserCredits struct {
	UserID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Balance    int64     `gorm:"not null;default:0"`
	TotalSpent int64     `gorm:"not null;default:0"`
}

func (UserCredits) TableName() string { return "user_credits" }

// CreditTransactionType distinguishes debits from refunds/credits.
type CreditTransactionType string

const (
	CreditTxDebit  CreditTransactionType = "debit"
	CreditTxCredit CreditTransactionType = "credit"
)

// CreditTransaction is an immutable audit row; every debit for a
// drip_sms reference is matched by exactly one refund of equal magnitude
// iff the referenced message ends Failed (§8 invariant).
type CreditTransaction struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	UserID        uuid.UUID
	Type          CreditTransactionType `gorm:"type:text;not null"`
	Amount        int64                 `gorm:"not null"`
	BalanceAfter  int64                 `gorm:"not null"`
	Description   string                `gorm:"type:text"`
	ReferenceType string                `gorm:"type:text"`
	ReferenceID   string                `gorm:"type:text"`
	CreatedAt     time.Time             `gorm:"not null"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// Reference types used in CreditTransaction.ReferenceType.
const ReferenceTypeDripSMS = "drip_sms"

// Webhook is a user-configured subscription fanned out to by C9.
type Webhook struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index:idx_webhooks_user"`
	WorkspaceID     uuid.UUID `gorm:"type:uuid;not null"`
	URL             string    `gorm:"type:text;not null"`
	Secret          string    `gorm:"type:text;not null"`
	Events          []string  `gorm:"-"` // read from the events array column via pq.Array at the adapter layer; GORM ignores this field
	Status          string    `gorm:"type:text;not null;default:'active'"`
	FailureCount    int       `gorm:"not null;default:0"`
	LastTriggeredAt *time.Time
}

func (Webhook) TableName() string { return "webhooks" }

// WebhookDeliveryStatus values.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryPending WebhookDeliveryStatus = "pending"
	WebhookDeliverySuccess WebhookDeliveryStatus = "success"
	WebhookDeliveryFailed  WebhookDeliveryStatus = "failed"
)

// WebhookDelivery is an immutable attempt log.
type WebhookDelivery struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	WebhookID      uuid.UUID `gorm:"type:uuid;not null;index:idx_whd_webhook"`
	EventID        string    `gorm:"type:text;not null;uniqueIndex"`
	EventType      string    `gorm:"type:text;not null"`
	Payload        string    `gorm:"type:text"` // JSON
	Status         WebhookDeliveryStatus
	ResponseStatus int
	ResponseBody   string `gorm:"type:text"`
	ErrorMessage   string `gorm:"type:text"`
	DurationMS     int64
	AttemptedAt    time.Time
}

func (WebhookDelivery) TableName() string { return "webhook_deliveries" }

// Webhook event tags fanned out by C9.
const (
	EventOutboundMessage = "outbound_message"
	EventMessageDelivered = "message.delivered"
	EventMessageFailed    = "message.failed"
	EventMessageInbound   = "message.inbound"
	EventContactOptOut    = "contact.optout"
	EventContactOptIn     = "contact.optin"
)

// OptOutEntry is a per (user, normalized phone) deny-list membership.
type OptOutEntry struct {
	UserID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	NormalizedPhone string    `gorm:"type:text;primaryKey"`
	CreatedAt       time.Time
}

func (OptOutEntry) TableName() string { return "opt_out_entries" }
