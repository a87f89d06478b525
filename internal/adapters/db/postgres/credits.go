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

// CreditRepo implements ports.CreditLedger with row-level locking so
// concurrent debits against the same user serialize without blocking
// other users.
type CreditRepo struct {
	pools *Pools
}

func NewCreditRepo(pools *Pools) *CreditRepo { return &CreditRepo{pools: pools} }

// Debit opens a transaction, locks the user's credit row, fails with
// domain.ErrInsufficientCredits if the balance can't cover amount, then
// writes the new balance and a debit audit row.
func (r *CreditRepo) Debit(ctx context.Context, userID uuid.UUID, amount int64, referenceType, referenceID string) error {
	tx, err := r.pools.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var balance int64
	const lockQ = `SELECT balance FROM user_credits WHERE user_id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQ, userID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrInsufficientCredits
		}
		return fmt.Errorf("lock credit row: %w", err)
	}

	if balance < amount {
		return domain.ErrInsufficientCredits
	}

	newBalance := balance - amount
	const spendQ = `UPDATE user_credits SET balance = $1, total_spent = total_spent + $2 WHERE user_id = $3`
	if _, err := tx.ExecContext(ctx, spendQ, newBalance, amount, userID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if err := r.audit(ctx, tx, userID, -amount, newBalance, domain.CreditTxDebit, referenceType, referenceID); err != nil {
		return err
	}

	return tx.Commit()
}

// Refund reverses a prior debit, writing a matching credit audit row.
// Unlike Debit this never fails on insufficient balance — a refund can
// only increase it.
func (r *CreditRepo) Refund(ctx context.Context, userID uuid.UUID, amount int64, referenceType, referenceID string) error {
	tx, err := r.pools.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var balance int64
	const lockQ = `SELECT balance FROM user_credits WHERE user_id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQ, userID).Scan(&balance); err != nil {
		return fmt.Errorf("lock credit row: %w", err)
	}

	newBalance := balance + amount
	const updateQ = `UPDATE user_credits SET balance = $1 WHERE user_id = $2`
	if _, err := tx.ExecContext(ctx, updateQ, newBalance, userID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if err := r.audit(ctx, tx, userID, amount, newBalance, domain.CreditTxCredit, referenceType, referenceID); err != nil {
		return err
	}

	return tx.Commit()
}

// audit writes an immutable ledger row. amount is signed: negative for a
// debit, positive for a refund, so that sum(amount) per user always equals
// the current balance (§8 invariant).
func (r *CreditRepo) audit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount, newBalance int64, txType domain.CreditTransactionType, referenceType, referenceID string) error {
	const insertQ = `
		INSERT INTO credit_transactions (user_id, type, amount, balance_after, reference_type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, insertQ, userID, txType, amount, newBalance, referenceType, referenceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	return nil
}

// Balance is a non-transactional read of the current balance.
func (r *CreditRepo) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	const q = `SELECT balance FROM user_credits WHERE user_id = $1`
	var balance int64
	err := r.pools.Reader.QueryRowContext(ctx, q, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}
