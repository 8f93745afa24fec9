package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/neuroscan/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mock for Store. Lets us test the real billing logic, including
// the compare-and-set retry loop and the per-job uniqueness rules, without a
// database.
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	txs      []*models.Transaction

	// swapRefusals makes CompareAndSwapBalance report a lost race this many
	// times before behaving normally.
	swapRefusals int
}

func newMockStore() *mockStore {
	return &mockStore{balances: make(map[uuid.UUID]int64)}
}

func (m *mockStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockStore) Balance(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *mockStore) BalanceTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *mockStore) CompareAndSwapBalance(_ context.Context, _ pgx.Tx, userID uuid.UUID, have, want int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.swapRefusals > 0 {
		m.swapRefusals--
		return false, nil
	}
	if m.balances[userID] != have {
		return false, nil
	}
	m.balances[userID] = want
	return true, nil
}

func (m *mockStore) AddBalance(_ context.Context, _ pgx.Tx, userID uuid.UUID, amountCents int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amountCents
	return m.balances[userID], nil
}

func (m *mockStore) InsertTransaction(_ context.Context, _ pgx.Tx, userID uuid.UUID, jobID *uuid.UUID, kind string, amountCents int64) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if jobID != nil {
		for _, t := range m.txs {
			if t.JobID != nil && *t.JobID == *jobID && t.Kind == kind {
				return uuid.Nil, &pgconn.PgError{Code: "23505"}
			}
		}
	}
	t := &models.Transaction{ID: uuid.New(), UserID: userID, JobID: jobID, Kind: kind, AmountCents: amountCents}
	m.txs = append(m.txs, t)
	return t.ID, nil
}

func (m *mockStore) DebitAmount(_ context.Context, _ pgx.Tx, jobID uuid.UUID) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.JobID != nil && *t.JobID == jobID && t.Kind == models.TxKindDebit {
			return t.AmountCents, true, nil
		}
	}
	return 0, false, nil
}

func (m *mockStore) RefundID(_ context.Context, _ pgx.Tx, jobID uuid.UUID) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.JobID != nil && *t.JobID == jobID && t.Kind == models.TxKindRefund {
			return t.ID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (m *mockStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for i := len(m.txs) - 1; i >= 0; i-- {
		if m.txs[i].UserID == userID {
			out = append(out, m.txs[i])
		}
	}
	return out, nil
}

func (m *mockStore) byKind(kind string) []*models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for _, t := range m.txs {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Debit
// ---------------------------------------------------------------------------

func TestDebit(t *testing.T) {
	user := uuid.New()
	job := uuid.New()
	store := newMockStore()
	store.balances[user] = 10000
	svc := NewService(store)

	ctx := context.Background()
	id, err := svc.Debit(ctx, noopTx{}, user, job, 5000)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if id == uuid.Nil {
		t.Error("Debit should return the transaction id")
	}
	if got := store.balances[user]; got != 5000 {
		t.Errorf("balance after debit: got %d, want 5000", got)
	}
	debits := store.byKind(models.TxKindDebit)
	if len(debits) != 1 {
		t.Fatalf("debit entries: got %d, want 1", len(debits))
	}
	if debits[0].JobID == nil || *debits[0].JobID != job {
		t.Error("debit entry should reference the job")
	}
}

func TestDebit_InsufficientBalance(t *testing.T) {
	user := uuid.New()
	store := newMockStore()
	store.balances[user] = 4999
	svc := NewService(store)

	_, err := svc.Debit(context.Background(), noopTx{}, user, uuid.New(), 5000)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}
	if got := store.balances[user]; got != 4999 {
		t.Errorf("balance must be untouched: got %d, want 4999", got)
	}
	if n := len(store.byKind(models.TxKindDebit)); n != 0 {
		t.Errorf("expected 0 debit entries, got %d", n)
	}
}

func TestDebit_SecondDebitForJobRejected(t *testing.T) {
	user := uuid.New()
	job := uuid.New()
	store := newMockStore()
	store.balances[user] = 20000
	svc := NewService(store)

	ctx := context.Background()
	if _, err := svc.Debit(ctx, noopTx{}, user, job, 5000); err != nil {
		t.Fatalf("first Debit: %v", err)
	}
	_, err := svc.Debit(ctx, noopTx{}, user, job, 5000)
	if !errors.Is(err, ErrLedgerInvariant) {
		t.Fatalf("expected ErrLedgerInvariant, got: %v", err)
	}
	if got := store.balances[user]; got != 15000 {
		t.Errorf("balance after rejected duplicate: got %d, want 15000", got)
	}
	if n := len(store.byKind(models.TxKindDebit)); n != 1 {
		t.Errorf("expected exactly 1 debit entry, got %d", n)
	}
}

func TestDebit_RetriesCompareAndSwap(t *testing.T) {
	user := uuid.New()
	store := newMockStore()
	store.balances[user] = 10000
	store.swapRefusals = 2
	svc := NewService(store)

	if _, err := svc.Debit(context.Background(), noopTx{}, user, uuid.New(), 1000); err != nil {
		t.Fatalf("Debit should succeed after losing two rounds: %v", err)
	}
	if got := store.balances[user]; got != 9000 {
		t.Errorf("balance: got %d, want 9000", got)
	}
}

func TestDebit_ConcurrentModification(t *testing.T) {
	user := uuid.New()
	store := newMockStore()
	store.balances[user] = 10000
	store.swapRefusals = casMaxRetries
	svc := NewService(store)

	_, err := svc.Debit(context.Background(), noopTx{}, user, uuid.New(), 1000)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got: %v", err)
	}
	if n := len(store.byKind(models.TxKindDebit)); n != 0 {
		t.Errorf("expected 0 debit entries, got %d", n)
	}
}

func TestDebit_InvalidAmount(t *testing.T) {
	svc := NewService(newMockStore())
	for _, amount := range []int64{0, -100} {
		if _, err := svc.Debit(context.Background(), noopTx{}, uuid.New(), uuid.New(), amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got: %v", amount, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Refund
// ---------------------------------------------------------------------------

func TestRefund(t *testing.T) {
	user := uuid.New()
	job := uuid.New()
	store := newMockStore()
	store.balances[user] = 10000
	svc := NewService(store)

	ctx := context.Background()
	if _, err := svc.Debit(ctx, noopTx{}, user, job, 5000); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	id, err := svc.Refund(ctx, user, job, 5000)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got := store.balances[user]; got != 10000 {
		t.Errorf("balance after refund: got %d, want 10000", got)
	}
	refunds := store.byKind(models.TxKindRefund)
	if len(refunds) != 1 || refunds[0].ID != id {
		t.Fatalf("expected exactly one refund entry with id %s", id)
	}

	// Replaying the refund must be a no-op returning the same entry.
	again, err := svc.Refund(ctx, user, job, 5000)
	if err != nil {
		t.Fatalf("second Refund: %v", err)
	}
	if again != id {
		t.Errorf("duplicate refund id: got %s, want %s", again, id)
	}
	if got := store.balances[user]; got != 10000 {
		t.Errorf("balance must not move on replay: got %d, want 10000", got)
	}
	if n := len(store.byKind(models.TxKindRefund)); n != 1 {
		t.Errorf("expected 1 refund entry after replay, got %d", n)
	}
}

func TestRefund_WithoutDebit(t *testing.T) {
	svc := NewService(newMockStore())
	_, err := svc.Refund(context.Background(), uuid.New(), uuid.New(), 5000)
	if !errors.Is(err, ErrLedgerInvariant) {
		t.Fatalf("expected ErrLedgerInvariant, got: %v", err)
	}
}

func TestRefund_AmountMismatch(t *testing.T) {
	user := uuid.New()
	job := uuid.New()
	store := newMockStore()
	store.balances[user] = 10000
	svc := NewService(store)

	ctx := context.Background()
	if _, err := svc.Debit(ctx, noopTx{}, user, job, 5000); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if _, err := svc.Refund(ctx, user, job, 4000); !errors.Is(err, ErrLedgerInvariant) {
		t.Fatalf("expected ErrLedgerInvariant, got: %v", err)
	}
	if got := store.balances[user]; got != 5000 {
		t.Errorf("balance after rejected refund: got %d, want 5000", got)
	}
}

// ---------------------------------------------------------------------------
// TopUp and conservation
// ---------------------------------------------------------------------------

func TestTopUp(t *testing.T) {
	user := uuid.New()
	store := newMockStore()
	svc := NewService(store)

	newBalance, err := svc.TopUp(context.Background(), user, 2500)
	if err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if newBalance != 2500 {
		t.Errorf("new balance: got %d, want 2500", newBalance)
	}
	topups := store.byKind(models.TxKindTopUp)
	if len(topups) != 1 || topups[0].AmountCents != 2500 {
		t.Fatalf("expected one topup entry of 2500")
	}
	if topups[0].JobID != nil {
		t.Error("topup entry should not reference a job")
	}

	if _, err := svc.TopUp(context.Background(), user, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero topup, got: %v", err)
	}
}

// TestLedgerIntegrity runs a full cycle (topup, debit, refund) and asserts the
// balance equals the signed sum of the transaction log.
func TestLedgerIntegrity(t *testing.T) {
	user := uuid.New()
	job := uuid.New()
	store := newMockStore()
	svc := NewService(store)

	ctx := context.Background()
	if _, err := svc.TopUp(ctx, user, 10000); err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if _, err := svc.Debit(ctx, noopTx{}, user, job, 5000); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if _, err := svc.Refund(ctx, user, job, 5000); err != nil {
		t.Fatalf("Refund: %v", err)
	}

	list, err := svc.ListTransactions(ctx, user)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	var sum int64
	for _, tr := range list {
		if tr.Kind == models.TxKindDebit {
			sum -= tr.AmountCents
		} else {
			sum += tr.AmountCents
		}
	}
	balance, err := svc.CurrentBalance(ctx, user)
	if err != nil {
		t.Fatalf("CurrentBalance: %v", err)
	}
	if balance != sum {
		t.Errorf("ledger sum %d does not match balance %d", sum, balance)
	}
	if balance < 0 {
		t.Errorf("balance must never be negative, got %d", balance)
	}
}
