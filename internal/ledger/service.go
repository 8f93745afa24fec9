package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/neuroscan/backend/internal/models"
)

var (
	// ErrInsufficientBalance is returned when a debit would take the balance
	// below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrConcurrentModification is returned when the balance compare-and-set
	// keeps losing to concurrent writers.
	ErrConcurrentModification = errors.New("concurrent balance modification")
	// ErrLedgerInvariant marks a programming-bug class of failure: a second
	// debit for one job, or a refund with no prior debit. Never tolerated
	// silently.
	ErrLedgerInvariant = errors.New("ledger invariant violation")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// casMaxRetries bounds the balance compare-and-set loop.
const casMaxRetries = 5

// Store is the persistence surface the ledger service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	BalanceTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error)
	CompareAndSwapBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, have, want int64) (bool, error)
	AddBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (int64, error)
	InsertTransaction(ctx context.Context, tx pgx.Tx, userID uuid.UUID, jobID *uuid.UUID, kind string, amountCents int64) (uuid.UUID, error)
	DebitAmount(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (int64, bool, error)
	RefundID(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (uuid.UUID, bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error)
}

// Service is the balance ledger. Debit runs inside the caller's transaction
// so it can be atomic with job creation; refund and topup open their own.
type Service interface {
	Debit(ctx context.Context, tx pgx.Tx, userID, jobID uuid.UUID, amountCents int64) (uuid.UUID, error)
	Refund(ctx context.Context, userID, jobID uuid.UUID, amountCents int64) (uuid.UUID, error)
	TopUp(ctx context.Context, userID uuid.UUID, amountCents int64) (int64, error)
	CurrentBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error)
}

type service struct {
	store Store
}

func NewService(store Store) *service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

// Debit decrements the balance and appends a debit transaction, all inside
// the caller's transaction. The balance update is an explicit compare-and-set
// on the observed value, retried a bounded number of times; losing every
// round is ErrConcurrentModification, a short balance is
// ErrInsufficientBalance.
func (s *service) Debit(ctx context.Context, tx pgx.Tx, userID, jobID uuid.UUID, amountCents int64) (uuid.UUID, error) {
	if amountCents <= 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	if _, exists, err := s.store.DebitAmount(ctx, tx, jobID); err != nil {
		return uuid.Nil, fmt.Errorf("check existing debit: %w", err)
	} else if exists {
		return uuid.Nil, fmt.Errorf("%w: job %s already debited", ErrLedgerInvariant, jobID)
	}

	for attempt := 0; attempt < casMaxRetries; attempt++ {
		balance, err := s.store.BalanceTx(ctx, tx, userID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("read balance: %w", err)
		}
		if balance < amountCents {
			return uuid.Nil, ErrInsufficientBalance
		}
		swapped, err := s.store.CompareAndSwapBalance(ctx, tx, userID, balance, balance-amountCents)
		if err != nil {
			return uuid.Nil, fmt.Errorf("swap balance: %w", err)
		}
		if !swapped {
			continue
		}
		id, err := s.store.InsertTransaction(ctx, tx, userID, &jobID, models.TxKindDebit, amountCents)
		if err != nil {
			if isUniqueViolation(err) {
				return uuid.Nil, fmt.Errorf("%w: job %s already debited", ErrLedgerInvariant, jobID)
			}
			return uuid.Nil, fmt.Errorf("insert debit: %w", err)
		}
		return id, nil
	}
	return uuid.Nil, ErrConcurrentModification
}

// Refund reverses the debit for a failed job. Idempotent: if a refund already
// exists for the job, its transaction id is returned and nothing changes.
// A refund for a job that was never debited is an invariant violation.
func (s *service) Refund(ctx context.Context, userID, jobID uuid.UUID, amountCents int64) (uuid.UUID, error) {
	if amountCents <= 0 {
		return uuid.Nil, ErrInvalidAmount
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if existing, ok, err := s.store.RefundID(ctx, tx, jobID); err != nil {
		return uuid.Nil, fmt.Errorf("check existing refund: %w", err)
	} else if ok {
		return existing, nil
	}

	debited, ok, err := s.store.DebitAmount(ctx, tx, jobID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("look up debit: %w", err)
	}
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: refund for job %s with no debit", ErrLedgerInvariant, jobID)
	}
	if debited != amountCents {
		return uuid.Nil, fmt.Errorf("%w: refund amount %d does not match debit %d for job %s",
			ErrLedgerInvariant, amountCents, debited, jobID)
	}

	if _, err := s.store.AddBalance(ctx, tx, userID, amountCents); err != nil {
		return uuid.Nil, fmt.Errorf("credit balance: %w", err)
	}
	id, err := s.store.InsertTransaction(ctx, tx, userID, &jobID, models.TxKindRefund, amountCents)
	if err != nil {
		// Lost a race with a concurrent refund for the same job; the unique
		// index caught it. Treat like the idempotent path.
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			return s.existingRefundID(ctx, jobID)
		}
		return uuid.Nil, fmt.Errorf("insert refund: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit refund: %w", err)
	}
	return id, nil
}

func (s *service) existingRefundID(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)
	id, ok, err := s.store.RefundID(ctx, tx, jobID)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: refund row vanished for job %s", ErrLedgerInvariant, jobID)
	}
	return id, nil
}

// TopUp unconditionally credits the user and returns the new balance.
func (s *service) TopUp(ctx context.Context, userID uuid.UUID, amountCents int64) (int64, error) {
	if amountCents <= 0 {
		return 0, ErrInvalidAmount
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin topup tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.store.AddBalance(ctx, tx, userID, amountCents)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	if _, err := s.store.InsertTransaction(ctx, tx, userID, nil, models.TxKindTopUp, amountCents); err != nil {
		return 0, fmt.Errorf("insert topup: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit topup: %w", err)
	}
	return newBalance, nil
}

func (s *service) CurrentBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.Balance(ctx, userID)
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	return s.store.ListByUser(ctx, userID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
