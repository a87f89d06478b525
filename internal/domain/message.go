package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduledStatus is the lifecycle state of a ScheduledMessage (the pre-queue
// work item, §3). Monotone along Pending→Queued→(Sending→)Sent→Delivered;
// Failed is reachable from Pending, Queued and Sending (not from Sent),
// Cancelled only from Pending.
type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "pending"
	ScheduledQueued    ScheduledStatus = "queued"
	ScheduledSending   ScheduledStatus = "sending"
	ScheduledSent      ScheduledStatus = "sent"
	ScheduledDelivered ScheduledStatus = "delivered"
	ScheduledFailed    ScheduledStatus = "failed"
	ScheduledCancelled ScheduledStatus = "cancelled"
)

// ScheduledMessage is the durable pre-queue work item that the C5 scheduler
// drains into the broker and the C6 dispatcher consumes and resolves.
type ScheduledMessage struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	UserID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_sched_user"`
	WorkspaceID   uuid.UUID       `gorm:"type:uuid;not null"`
	ContactID     uuid.UUID       `gorm:"type:uuid;not null"`
	DripID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_sched_drip"`
	CampaignID    uuid.UUID       `gorm:"type:uuid;not null"`
	DripContactID uuid.UUID       `gorm:"type:uuid;not null;index:idx_sched_dripcontact"`
	FromNumber    string          `gorm:"type:text"`
	ToNumber      string          `gorm:"type:text;not null"`
	Body          string          `gorm:"type:text;not null"`
	MediaURL      string          `gorm:"type:text"`
	ScheduledAt   time.Time       `gorm:"not null;index:idx_sched_due"`
	Status        ScheduledStatus `gorm:"type:text;not null;default:'pending';index:idx_sched_due"`
	RetryCount    int             `gorm:"not null;default:0"`
	QueuedAt      *time.Time
	SentAt        *time.Time
	ErrorMessage  string     `gorm:"type:text"`
	MessageID     *uuid.UUID `gorm:"type:uuid"`
	ProviderMsgID string     `gorm:"type:text;column:provider_message_id"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

// TableName pins the GORM table name for cmd/migrate.
func (ScheduledMessage) TableName() string { return "scheduled_messages" }

// CanTransitionTo reports whether the monotone path in §3 permits moving
// from s to next.
func (s ScheduledStatus) CanTransitionTo(next ScheduledStatus) bool {
	if next == ScheduledFailed {
		return s != ScheduledSent && s != ScheduledDelivered && s != ScheduledCancelled && s != ScheduledFailed
	}
	if next == ScheduledCancelled {
		return s == ScheduledPending
	}
	order := map[ScheduledStatus]int{
		ScheduledPending:   0,
		ScheduledQueued:    1,
		ScheduledSending:   2,
		ScheduledSent:      3,
		ScheduledDelivered: 4,
	}
	from, ok1 := order[s]
	to, ok2 := order[next]
	return ok1 && ok2 && to == from+1
}

// DripContactStatus mirrors the upstream-owned enrollment-tracking row's
// numeric status codes (§3).
type DripContactStatus int

const (
	DripContactPending   DripContactStatus = 0
	DripContactSent      DripContactStatus = 1
	DripContactDelivered DripContactStatus = 2
	DripContactFailed    DripContactStatus = 3
	DripContactSkipped   DripContactStatus = 4
	DripContactCancelled DripContactStatus = 5
)

// DripContact is the per-enrollment tracking row owned by the upstream API;
// the dispatcher updates it after each send attempt but never creates or
// deletes it.
type DripContact struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status       DripContactStatus
	SentAt       *time.Time
	MessageID    *uuid.UUID `gorm:"type:uuid"`
	BRef         string     `gorm:"column:b_ref"`
	ErrorMessage string
}

func (DripContact) TableName() string { return "drip_contacts" }
