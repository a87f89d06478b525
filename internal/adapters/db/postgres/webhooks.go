package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sengine/drip-engine/internal/domain"
)

// WebhookRepo implements ports.WebhookRepository.
type WebhookRepo struct {
	pools *Pools
}

func NewWebhookRepo(pools *Pools) *WebhookRepo { return &WebhookRepo{pools: pools} }

// ActiveForEvent returns active webhooks under userID whose events array
// contains eventType, matched with `$2 = ANY(events)`.
func (r *WebhookRepo) ActiveForEvent(ctx context.Context, userID uuid.UUID, eventType string) ([]domain.Webhook, error) {
	const q = `
		SELECT id, user_id, workspace_id, url, secret, events, status, failure_count, last_triggered_at
		FROM webhooks
		WHERE user_id = $1 AND status = 'active' AND $2 = ANY(events)
	`
	rows, err := r.pools.Reader.QueryContext(ctx, q, userID, eventType)
	if err != nil {
		return nil, fmt.Errorf("query active webhooks: %w", err)
	}
	defer rows.Close()

	var out []domain.Webhook
	for rows.Next() {
		var w domain.Webhook
		if err := rows.Scan(&w.ID, &w.UserID, &w.WorkspaceID, &w.URL, &w.Secret,
			pq.Array(&w.Events), &w.Status, &w.FailureCount, &w.LastTriggeredAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// InsertDelivery records a new pending delivery attempt row.
func (r *WebhookRepo) InsertDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	const q = `
		INSERT INTO webhook_deliveries (id, webhook_id, event_id, event_type, payload, status, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pools.Writer.ExecContext(ctx, q, d.ID, d.WebhookID, d.EventID, d.EventType, d.Payload,
		domain.WebhookDeliveryPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// UpdateDeliveryResult records the outcome of a dispatch attempt,
// truncating response_body to 5000 chars.
func (r *WebhookRepo) UpdateDeliveryResult(ctx context.Context, eventID string, status domain.WebhookDeliveryStatus, responseStatus int, responseBody, errMsg string, durationMS int64) error {
	if len(responseBody) > 5000 {
		responseBody = responseBody[:5000]
	}
	const q = `
		UPDATE webhook_deliveries
		SET status = $1, response_status = $2, response_body = $3, error_message = $4, duration_ms = $5, attempted_at = $6
		WHERE event_id = $7
	`
	_, err := r.pools.Writer.ExecContext(ctx, q, status, responseStatus, responseBody, errMsg, durationMS, time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	return nil
}

// RecordFailure increments failure_count on a dispatch failure.
func (r *WebhookRepo) RecordFailure(ctx context.Context, webhookID uuid.UUID) error {
	const q = `UPDATE webhooks SET failure_count = failure_count + 1 WHERE id = $1`
	_, err := r.pools.Writer.ExecContext(ctx, q, webhookID)
	if err != nil {
		return fmt.Errorf("record webhook failure: %w", err)
	}
	return nil
}

// RecordSuccess resets failure_count and bumps last_triggered_at.
func (r *WebhookRepo) RecordSuccess(ctx context.Context, webhookID uuid.UUID) error {
	const q = `UPDATE webhooks SET failure_count = 0, last_triggered_at = $1 WHERE id = $2`
	_, err := r.pools.Writer.ExecContext(ctx, q, time.Now().UTC(), webhookID)
	if err != nil {
		return fmt.Errorf("record webhook success: %w", err)
	}
	return nil
}

// OptOutRepo implements ports.OptOutRepository.
type OptOutRepo struct {
	pools *Pools
}

func NewOptOutRepo(pools *Pools) *OptOutRepo { return &OptOutRepo{pools: pools} }

func (r *OptOutRepo) IsOptedOut(ctx context.Context, userID uuid.UUID, normalizedPhone string) (bool, error) {
	const q = `SELECT 1 FROM opt_out_entries WHERE user_id = $1 AND normalized_phone = $2`
	var x int
	err := r.pools.Reader.QueryRowContext(ctx, q, userID, normalizedPhone).Scan(&x)
	if err != nil {
		return false, nil //nolint:nilerr // sql.ErrNoRows just means not opted out
	}
	return true, nil
}

func (r *OptOutRepo) Add(ctx context.Context, userID uuid.UUID, normalizedPhone string) error {
	const q = `
		INSERT INTO opt_out_entries (user_id, normalized_phone, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, normalized_phone) DO NOTHING
	`
	_, err := r.pools.Writer.ExecContext(ctx, q, userID, normalizedPhone, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add opt out: %w", err)
	}
	return nil
}

func (r *OptOutRepo) Remove(ctx context.Context, userID uuid.UUID, normalizedPhone string) error {
	const q = `DELETE FROM opt_out_entries WHERE user_id = $1 AND normalized_phone = $2`
	_, err := r.pools.Writer.ExecContext(ctx, q, userID, normalizedPhone)
	if err != nil {
		return fmt.Errorf("remove opt out: %w", err)
	}
	return nil
}
