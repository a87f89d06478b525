package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sengine/drip-engine/internal/domain"
)

// ScheduledRepo implements ports.ScheduledMessageRepository.
type ScheduledRepo struct {
	pools *Pools
}

func NewScheduledRepo(pools *Pools) *ScheduledRepo { return &ScheduledRepo{pools: pools} }

// Insert persists a new Pending ScheduledMessage row.
func (r *ScheduledRepo) Insert(ctx context.Context, m domain.ScheduledMessage) (int64, error) {
	now := time.Now().UTC()
	const q = `
		INSERT INTO scheduled_messages (
			user_id, workspace_id, contact_id, drip_id, campaign_id, drip_contact_id,
			from_number, to_number, body, media_url, scheduled_at, status, retry_count,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,0,$13,$13)
		RETURNING id
	`
	var id int64
	err := r.pools.Writer.QueryRowContext(ctx, q,
		m.UserID, m.WorkspaceID, m.ContactID, m.DripID, m.CampaignID, m.DripContactID,
		m.FromNumber, m.ToNumber, m.Body, m.MediaURL, m.ScheduledAt, domain.ScheduledPending, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert scheduled message: %w", err)
	}
	return id, nil
}

// ClaimDue selects up to limit due Pending rows with FOR UPDATE SKIP LOCKED
// inside its own transaction. The row locks are released when that
// transaction ends, before ClaimDue returns, so a concurrent caller can
// claim the same rows until MarkQueued has moved them out of Pending. It leaves
// status untouched: a row is only Queued once it has actually been
// published (see MarkQueued), so a crash between this call and the publish
// leaves the row Pending for the next cycle to retry.
func (r *ScheduledRepo) ClaimDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.ScheduledMessage, error) {
	tx, err := r.pools.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const selectQ = `
		SELECT id, user_id, workspace_id, contact_id, drip_id, campaign_id, drip_contact_id,
		       from_number, to_number, body, media_url, scheduled_at, status, retry_count,
		       created_at, updated_at
		FROM scheduled_messages
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, selectQ, domain.ScheduledPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select due: %w", err)
	}

	var claimed []domain.ScheduledMessage
	for rows.Next() {
		var m domain.ScheduledMessage
		var status string
		if err := rows.Scan(&m.ID, &m.UserID, &m.WorkspaceID, &m.ContactID, &m.DripID, &m.CampaignID,
			&m.DripContactID, &m.FromNumber, &m.ToNumber, &m.Body, &m.MediaURL, &m.ScheduledAt,
			&status, &m.RetryCount, &m.CreatedAt, &m.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan scheduled message: %w", err)
		}
		m.Status = domain.ScheduledStatus(status)
		claimed = append(claimed, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	return claimed, tx.Commit()
}

// MarkQueued transitions the given ids from Pending to Queued, setting
// queued_at. Callers pass only the ids whose publish actually succeeded,
// so a publish failure leaves its row Pending for the next cycle.
func (r *ScheduledRepo) MarkQueued(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	const q = `
		UPDATE scheduled_messages
		SET status = $1, queued_at = $2, updated_at = $2
		WHERE id = ANY($3) AND status = $4
	`
	if _, err := r.pools.Writer.ExecContext(ctx, q, domain.ScheduledQueued, now, pq.Array(ids), domain.ScheduledPending); err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}
	return nil
}

const scheduledColumns = `
	id, user_id, workspace_id, contact_id, drip_id, campaign_id, drip_contact_id,
	from_number, to_number, body, media_url, scheduled_at, status, retry_count,
	queued_at, sent_at, error_message, message_id, provider_message_id, created_at, updated_at
`

func scanScheduledRow(row *sql.Row) (*domain.ScheduledMessage, error) {
	var m domain.ScheduledMessage
	var status string
	var errMsg sql.NullString
	var messageID sql.NullString
	var providerMsgID sql.NullString
	err := row.Scan(
		&m.ID, &m.UserID, &m.WorkspaceID, &m.ContactID, &m.DripID, &m.CampaignID, &m.DripContactID,
		&m.FromNumber, &m.ToNumber, &m.Body, &m.MediaURL, &m.ScheduledAt, &status, &m.RetryCount,
		&m.QueuedAt, &m.SentAt, &errMsg, &messageID, &providerMsgID, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrScheduledMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduled message: %w", err)
	}
	m.Status = domain.ScheduledStatus(status)
	m.ErrorMessage = errMsg.String
	m.ProviderMsgID = providerMsgID.String
	if messageID.Valid {
		id, err := uuid.Parse(messageID.String)
		if err == nil {
			m.MessageID = &id
		}
	}
	return &m, nil
}

// Get retrieves a scheduled message by ID.
func (r *ScheduledRepo) Get(ctx context.Context, id int64) (*domain.ScheduledMessage, error) {
	q := `SELECT ` + scheduledColumns + ` FROM scheduled_messages WHERE id = $1`
	return scanScheduledRow(r.pools.Reader.QueryRowContext(ctx, q, id))
}

// GetByMessageID finds the scheduled row whose message_id points at the
// given permanent Message row.
func (r *ScheduledRepo) GetByMessageID(ctx context.Context, messageID uuid.UUID) (*domain.ScheduledMessage, error) {
	q := `SELECT ` + scheduledColumns + ` FROM scheduled_messages WHERE message_id = $1`
	return scanScheduledRow(r.pools.Reader.QueryRowContext(ctx, q, messageID))
}

// UpdateStatus transitions a row gated on its current status, so two
// workers racing on the same row cannot both succeed.
func (r *ScheduledRepo) UpdateStatus(ctx context.Context, id int64, expected, next domain.ScheduledStatus) (bool, error) {
	const q = `UPDATE scheduled_messages SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.pools.Writer.ExecContext(ctx, q, next, time.Now().UTC(), id, expected)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkSent transitions a row to Sent and records the resulting message IDs.
func (r *ScheduledRepo) MarkSent(ctx context.Context, id int64, messageID uuid.UUID, providerMsgID string) error {
	now := time.Now().UTC()
	const q = `
		UPDATE scheduled_messages
		SET status = $1, sent_at = $2, updated_at = $2, message_id = $3, provider_message_id = $4
		WHERE id = $5
	`
	_, err := r.pools.Writer.ExecContext(ctx, q, domain.ScheduledSent, now, messageID, providerMsgID, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed transitions a row to Failed, bumping RetryCount.
func (r *ScheduledRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	const q = `
		UPDATE scheduled_messages
		SET status = $1, error_message = $2, retry_count = retry_count + 1, updated_at = $3
		WHERE id = $4
	`
	_, err := r.pools.Writer.ExecContext(ctx, q, domain.ScheduledFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkDelivered transitions a Sent row to Delivered.
func (r *ScheduledRepo) MarkDelivered(ctx context.Context, id int64) error {
	const q = `UPDATE scheduled_messages SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	_, err := r.pools.Writer.ExecContext(ctx, q, domain.ScheduledDelivered, time.Now().UTC(), id, domain.ScheduledSent)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}
