package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/neuroscan/backend/internal/execution"
	"github.com/neuroscan/backend/internal/ledger"
	"github.com/neuroscan/backend/internal/metrics"
	"github.com/neuroscan/backend/internal/models"
)

// ErrUnknownKind is returned for a prediction kind outside the closed set.
var ErrUnknownKind = errors.New("unknown prediction kind")

// Costs holds the fixed per-kind charge in credit cents.
type Costs struct {
	ImageCents int64
	ScanCents  int64
}

// InsertPredictionTxFunc enqueues a prediction message within the given
// transaction. Provided by main as a closure over river.Client.InsertTx.
type InsertPredictionTxFunc func(ctx context.Context, tx pgx.Tx, args execution.PredictJobArgs) error

// Store is the persistence surface the jobs service needs. Satisfied by
// *Repository.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateQueued(ctx context.Context, tx pgx.Tx, job *models.Job) error
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error)
	Claim(ctx context.Context, jobID uuid.UUID) (bool, error)
	Complete(ctx context.Context, jobID uuid.UUID, resultRefs []string) error
	TransitionFromProcessing(ctx context.Context, jobID uuid.UUID, toStatus, reason string) (bool, error)
	MarkRefunded(ctx context.Context, jobID uuid.UUID) error
	StaleQueued(ctx context.Context, minAge time.Duration) ([]*models.Job, error)
	StuckProcessing(ctx context.Context, timeout time.Duration) ([]*models.Job, error)
}

var _ Store = (*Repository)(nil)

// Service is the gateway surface: submission and reads.
type Service interface {
	SubmitPrediction(ctx context.Context, userID uuid.UUID, kind, inputRef string) (*models.Job, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error)
}

type service struct {
	repo             Store
	ledger           ledger.Service
	insertPrediction InsertPredictionTxFunc
	costs            Costs
	maxAttempts      int
}

// NewService returns the jobs service. The concrete type also implements
// execution.JobStore and execution.SweepStore for the worker side.
func NewService(repo Store, ledgerSvc ledger.Service, insertPrediction InsertPredictionTxFunc, costs Costs, maxAttempts int) *service {
	return &service{repo: repo, ledger: ledgerSvc, insertPrediction: insertPrediction, costs: costs, maxAttempts: maxAttempts}
}

var (
	_ Service              = (*service)(nil)
	_ execution.JobStore   = (*service)(nil)
	_ execution.SweepStore = (*service)(nil)
)

// SubmitPrediction debits the user, creates the queued job, and enqueues the
// message, all in one local transaction. Either every effect commits or none
// does; after commit the message is durably queued, so no user is ever
// charged without a corresponding job attempt.
func (s *service) SubmitPrediction(ctx context.Context, userID uuid.UUID, kind, inputRef string) (*models.Job, error) {
	cost, err := s.costFor(kind)
	if err != nil {
		return nil, err
	}
	job := &models.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		InputRef:  inputRef,
		Status:    models.JobStatusQueued,
		CostCents: cost,
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin submission tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.ledger.Debit(ctx, tx, userID, job.ID, cost); err != nil {
		return nil, err
	}
	if err := s.repo.CreateQueued(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.insertPrediction(ctx, tx, execution.PredictJobArgs{
		JobID:    job.ID,
		UserID:   userID,
		JobKind:  kind,
		InputRef: inputRef,
	}); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submission: %w", err)
	}
	metrics.PredictionsSubmitted.WithLabelValues(kind).Inc()
	return job, nil
}

func (s *service) costFor(kind string) (int64, error) {
	switch kind {
	case models.JobKindImagePredict:
		return s.costs.ImageCents, nil
	case models.JobKindScanPredict:
		return s.costs.ScanCents, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func (s *service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.repo.GetByID(ctx, jobID)
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error) {
	return s.repo.ListByUser(ctx, userID)
}

// --- execution.JobStore ---

func (s *service) GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, execution.ErrJobNotFound
	}
	return job, err
}

func (s *service) Claim(ctx context.Context, jobID uuid.UUID) (bool, error) {
	return s.repo.Claim(ctx, jobID)
}

func (s *service) Complete(ctx context.Context, jobID uuid.UUID, resultRefs []string) error {
	return s.repo.Complete(ctx, jobID, resultRefs)
}

// Fail moves a processing job back to queued while retries remain, otherwise
// to failed. The attempt count was already incremented by the claim.
func (s *service) Fail(ctx context.Context, jobID uuid.UUID, permanent bool, reason string) (string, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	toStatus := models.JobStatusQueued
	if permanent || job.AttemptCount >= s.maxAttempts {
		toStatus = models.JobStatusFailed
	}
	moved, err := s.repo.TransitionFromProcessing(ctx, jobID, toStatus, reason)
	if err != nil {
		return "", err
	}
	if !moved {
		current, err := s.repo.GetByID(ctx, jobID)
		if err != nil {
			return "", err
		}
		if current.Status == toStatus {
			return toStatus, nil
		}
		return "", fmt.Errorf("fail job %s: unexpected status %q", jobID, current.Status)
	}
	return toStatus, nil
}

func (s *service) MarkRefunded(ctx context.Context, jobID uuid.UUID) error {
	return s.repo.MarkRefunded(ctx, jobID)
}

// --- execution.SweepStore ---

func (s *service) StaleQueued(ctx context.Context, minAge time.Duration) ([]*models.Job, error) {
	return s.repo.StaleQueued(ctx, minAge)
}

func (s *service) StuckProcessing(ctx context.Context, timeout time.Duration) ([]*models.Job, error) {
	return s.repo.StuckProcessing(ctx, timeout)
}
