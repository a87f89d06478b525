package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
)

// ContactRepo implements ports.ContactRepository.
type ContactRepo struct {
	pools *Pools
}

func NewContactRepo(pools *Pools) *ContactRepo { return &ContactRepo{pools: pools} }

func (r *ContactRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	const q = `
		SELECT id, workspace_id, user_id, phone, opted_out, is_block, COALESCE(last_message,''), open_chat, archive
		FROM contacts WHERE id = $1 AND deleted_at IS NULL
	`
	return r.scan(ctx, q, id)
}

// FindByFuzzyPhone matches on the last 10 digits of phone, mirroring the
// normalization's suffix-comparison behavior so minor formatting
// differences between what the carrier sends and what's on file don't
// produce false misses.
func (r *ContactRepo) FindByFuzzyPhone(ctx context.Context, userID uuid.UUID, normalizedPhone string) (*domain.Contact, error) {
	suffix := normalizedPhone
	if len(suffix) > 10 {
		suffix = suffix[len(suffix)-10:]
	}
	const q = `
		SELECT id, workspace_id, user_id, phone, opted_out, is_block, COALESCE(last_message,''), open_chat, archive
		FROM contacts
		WHERE user_id = $1 AND deleted_at IS NULL AND right(regexp_replace(phone, '\D', '', 'g'), 10) = $2
		LIMIT 1
	`
	return r.scan(ctx, q, userID, suffix)
}

// FindOrCreateByPhone returns the existing contact or inserts a new one.
func (r *ContactRepo) FindOrCreateByPhone(ctx context.Context, userID, workspaceID uuid.UUID, phone string) (*domain.Contact, error) {
	existing, err := r.FindByFuzzyPhone(ctx, userID, phone)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrContactNotFound) {
		return nil, err
	}

	id := uuid.New()
	const insertQ = `
		INSERT INTO contacts (id, workspace_id, user_id, phone, opted_out, is_block, open_chat, archive)
		VALUES ($1, $2, $3, $4, false, false, true, false)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.pools.Writer.ExecContext(ctx, insertQ, id, workspaceID, userID, phone); err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}

	return r.Get(ctx, id)
}

func (r *ContactRepo) SetOptedOut(ctx context.Context, id uuid.UUID, optedOut bool) error {
	const q = `UPDATE contacts SET opted_out = $1 WHERE id = $2`
	_, err := r.pools.Writer.ExecContext(ctx, q, optedOut, id)
	if err != nil {
		return fmt.Errorf("set opted out: %w", err)
	}
	return nil
}

func (r *ContactRepo) UpdateLastMessage(ctx context.Context, id uuid.UUID, body string, openChat bool) error {
	const q = `UPDATE contacts SET last_message = $1, open_chat = $2 WHERE id = $3`
	_, err := r.pools.Writer.ExecContext(ctx, q, body, openChat, id)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	return nil
}

func (r *ContactRepo) scan(ctx context.Context, q string, args ...any) (*domain.Contact, error) {
	var c domain.Contact
	err := r.pools.Reader.QueryRowContext(ctx, q, args...).Scan(
		&c.ID, &c.WorkspaceID, &c.UserID, &c.Phone, &c.OptedOut, &c.IsBlock, &c.LastMessage, &c.OpenChat, &c.Archive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	return &c, nil
}

// UserRepo implements ports.UserRepository.
type UserRepo struct {
	pools *Pools
}

func NewUserRepo(pools *Pools) *UserRepo { return &UserRepo{pools: pools} }

func (r *UserRepo) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const q = `
		SELECT id, workspace_id, COALESCE(provider_account_id,''), COALESCE(provider_auth_token,''), messaging_status
		FROM users WHERE id = $1
	`
	var u domain.User
	err := r.pools.Reader.QueryRowContext(ctx, q, id).Scan(
		&u.ID, &u.WorkspaceID, &u.ProviderAccountID, &u.ProviderAuthToken, &u.MessagingStatus,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ActiveSenderNumber returns an active provisioned number for userID.
func (r *UserRepo) ActiveSenderNumber(ctx context.Context, userID uuid.UUID) (string, error) {
	const q = `
		SELECT phone FROM user_numbers
		WHERE user_id = $1 AND status = 'active' AND deleted_at IS NULL
		ORDER BY id LIMIT 1
	`
	var phone string
	err := r.pools.Reader.QueryRowContext(ctx, q, userID).Scan(&phone)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNoSenderNumber
	}
	if err != nil {
		return "", fmt.Errorf("active sender number: %w", err)
	}
	return phone, nil
}
