package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
)

// MessageRepo implements ports.MessageRepository.
type MessageRepo struct {
	pools *Pools
}

func NewMessageRepo(pools *Pools) *MessageRepo { return &MessageRepo{pools: pools} }

// Insert persists a new Message row.
func (r *MessageRepo) Insert(ctx context.Context, m domain.Message) (uuid.UUID, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	const q = `
		INSERT INTO messages (
			id, uid, b_ref, provider_message_id, from_number, to_number, body, media_url,
			status, delivery_status, direction, is_drip, drip_id, user_id, workspace_id,
			contact_id, message_type, is_charged, unread, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$20)
	`
	_, err := r.pools.Writer.ExecContext(ctx, q,
		m.ID, m.UID, m.BRef, nullIfEmpty(m.ProviderMessageID), m.FromNumber, m.ToNumber, m.Body, m.MediaURL,
		m.Status, m.DeliveryStatus, m.Direction, m.IsDrip, m.DripID, m.UserID, m.WorkspaceID,
		m.ContactID, m.MessageType, m.IsCharged, m.Unread, now,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert message: %w", err)
	}
	return m.ID, nil
}

// Get retrieves a message by ID.
func (r *MessageRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return r.scanOne(ctx, `WHERE id = $1`, id)
}

// GetByProviderMessageID retrieves a message by the gateway-assigned ID.
func (r *MessageRepo) GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Message, error) {
	return r.scanOne(ctx, `WHERE provider_message_id = $1`, providerMsgID)
}

// GetByBRef retrieves a message by its tracking token.
func (r *MessageRepo) GetByBRef(ctx context.Context, bRef string) (*domain.Message, error) {
	return r.scanOne(ctx, `WHERE b_ref = $1`, bRef)
}

func (r *MessageRepo) scanOne(ctx context.Context, where string, arg any) (*domain.Message, error) {
	q := fmt.Sprintf(`
		SELECT id, uid, b_ref, COALESCE(provider_message_id,''), from_number, to_number, body, media_url,
		       status, delivery_status, direction, is_drip, drip_id, user_id, workspace_id,
		       contact_id, message_type, is_charged, unread, created_at, updated_at
		FROM messages %s
	`, where)

	var m domain.Message
	var direction string
	var dripID sql.NullString
	err := r.pools.Reader.QueryRowContext(ctx, q, arg).Scan(
		&m.ID, &m.UID, &m.BRef, &m.ProviderMessageID, &m.FromNumber, &m.ToNumber, &m.Body, &m.MediaURL,
		&m.Status, &m.DeliveryStatus, &direction, &m.IsDrip, &dripID, &m.UserID, &m.WorkspaceID,
		&m.ContactID, &m.MessageType, &m.IsCharged, &m.Unread, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.Direction = domain.MessageDirection(direction)
	if dripID.Valid {
		if id, err := uuid.Parse(dripID.String); err == nil {
			m.DripID = &id
		}
	}
	return &m, nil
}

// UpdateDeliveryStatus applies the coarse/textual status pair from the
// provider status mapping table.
func (r *MessageRepo) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, coarse int, textual string) error {
	const q = `UPDATE messages SET status = $1, delivery_status = $2, updated_at = $3 WHERE id = $4`
	res, err := r.pools.Writer.ExecContext(ctx, q, coarse, textual, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// CountUnread returns how many unread inbound messages a contact has.
func (r *MessageRepo) CountUnread(ctx context.Context, contactID uuid.UUID) (int, error) {
	const q = `SELECT count(*) FROM messages WHERE contact_id = $1 AND direction = 'inbound' AND unread = true`
	var n int
	if err := r.pools.Reader.QueryRowContext(ctx, q, contactID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
