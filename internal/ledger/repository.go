package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neuroscan/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Balance reads the current balance outside any transaction. Benignly stale
// under concurrent debits; used for display only.
func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var cents int64
	err := r.pool.QueryRow(ctx, `
		SELECT balance_cents FROM users WHERE id = $1
	`, userID).Scan(&cents)
	return cents, err
}

// BalanceTx reads the balance inside the caller's transaction.
func (r *Repository) BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	var cents int64
	err := tx.QueryRow(ctx, `
		SELECT balance_cents FROM users WHERE id = $1
	`, userID).Scan(&cents)
	return cents, err
}

// CompareAndSwapBalance sets the balance to want only if it still equals have.
// Returns false when another writer got there first.
func (r *Repository) CompareAndSwapBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, have, want int64) (bool, error) {
	result, err := tx.Exec(ctx, `
		UPDATE users SET balance_cents = $1 WHERE id = $2 AND balance_cents = $3
	`, want, userID, have)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// AddBalance unconditionally credits the user and returns the new balance.
func (r *Repository) AddBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (int64, error) {
	var newBalance int64
	err := tx.QueryRow(ctx, `
		UPDATE users SET balance_cents = balance_cents + $1 WHERE id = $2
		RETURNING balance_cents
	`, amountCents, userID).Scan(&newBalance)
	return newBalance, err
}

// InsertTransaction appends a ledger entry inside the caller's transaction.
func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, userID uuid.UUID, jobID *uuid.UUID, kind string, amountCents int64) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (user_id, job_id, kind, amount_cents)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, jobID, kind, amountCents).Scan(&id)
	return id, err
}

// DebitAmount returns the amount of the debit transaction for a job, if one
// exists.
func (r *Repository) DebitAmount(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (int64, bool, error) {
	var cents int64
	err := tx.QueryRow(ctx, `
		SELECT amount_cents FROM transactions WHERE job_id = $1 AND kind = 'debit'
	`, jobID).Scan(&cents)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cents, true, nil
}

// RefundID returns the id of the refund transaction for a job, if one exists.
func (r *Repository) RefundID(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM transactions WHERE job_id = $1 AND kind = 'refund'
	`, jobID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// ListByUser returns the user's transactions, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, job_id, kind, amount_cents, created_at
		FROM transactions WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.JobID, &t.Kind, &t.AmountCents, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
