package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
)

// DripContactRepo implements ports.DripContactRepository against the
// upstream-owned drip_contacts table: the dispatcher and reconciler update
// these rows after each send attempt and delivery callback, but never
// create or delete them.
type DripContactRepo struct {
	pools *Pools
}

func NewDripContactRepo(pools *Pools) *DripContactRepo { return &DripContactRepo{pools: pools} }

// MarkSent records sent_at, the resulting Message ID, and the tracking
// token, transitioning the row to Sent.
func (r *DripContactRepo) MarkSent(ctx context.Context, id uuid.UUID, messageID uuid.UUID, bRef string) error {
	const q = `UPDATE drip_contacts SET status = $1, sent_at = $2, message_id = $3, b_ref = $4 WHERE id = $5`
	_, err := r.pools.Writer.ExecContext(ctx, q, domain.DripContactSent, time.Now().UTC(), messageID, bRef, id)
	if err != nil {
		return fmt.Errorf("mark drip contact sent: %w", err)
	}
	return nil
}

// MarkFailed records the failure reason and transitions the row to Failed.
func (r *DripContactRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	const q = `UPDATE drip_contacts SET status = $1, error_message = $2 WHERE id = $3`
	_, err := r.pools.Writer.ExecContext(ctx, q, domain.DripContactFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark drip contact failed: %w", err)
	}
	return nil
}

// MarkDelivered transitions a Sent row to Delivered.
func (r *DripContactRepo) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE drip_contacts SET status = $1 WHERE id = $2 AND status = $3`
	_, err := r.pools.Writer.ExecContext(ctx, q, domain.DripContactDelivered, id, domain.DripContactSent)
	if err != nil {
		return fmt.Errorf("mark drip contact delivered: %w", err)
	}
	return nil
}
