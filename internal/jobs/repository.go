package jobs

import (
	"context"
	"fmt"
	"time"

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

// CreateQueued inserts a job in queued state inside the caller's transaction,
// the same one that carries the debit.
func (r *Repository) CreateQueued(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	return tx.QueryRow(ctx, `
		INSERT INTO jobs (id, user_id, kind, input_ref, status, cost_cents)
		VALUES ($1, $2, $3, $4, 'queued', $5)
		RETURNING created_at, updated_at
	`, job.ID, job.UserID, job.Kind, job.InputRef, job.CostCents).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `
		SELECT id, user_id, kind, input_ref, status, result_refs, attempt_count, cost_cents, last_error, created_at, updated_at
		FROM jobs WHERE id = $1
	`, jobID))
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kind, input_ref, status, result_refs, attempt_count, cost_cents, last_error, created_at, updated_at
		FROM jobs WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// Claim is the compare-and-set from queued to processing. Returns false when
// the job is not currently queued (already claimed, terminal, or unknown);
// this is the sole duplicate-delivery guard.
func (r *Repository) Claim(ctx context.Context, jobID uuid.UUID) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'processing', attempt_count = attempt_count + 1, updated_at = now()
		WHERE id = $1 AND status = 'queued'
	`, jobID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// Complete is the compare-and-set from processing to completed. A job already
// completed is a no-op so re-acknowledgement stays idempotent; any other
// state is an error.
func (r *Repository) Complete(ctx context.Context, jobID uuid.UUID, resultRefs []string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'completed', result_refs = $1, last_error = NULL, updated_at = now()
		WHERE id = $2 AND status = 'processing'
	`, resultRefs, jobID)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	job, err := r.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusCompleted {
		return nil
	}
	return fmt.Errorf("complete job %s: unexpected status %q", jobID, job.Status)
}

// TransitionFromProcessing moves a processing job to queued (transient retry)
// or failed, recording the failure reason. Returns false when the job was not
// processing.
func (r *Repository) TransitionFromProcessing(ctx context.Context, jobID uuid.UUID, toStatus, reason string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, last_error = $2, updated_at = now()
		WHERE id = $3 AND status = 'processing'
	`, toStatus, reason, jobID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// MarkRefunded is the compare-and-set from failed to refunded; a job already
// refunded is a no-op.
func (r *Repository) MarkRefunded(ctx context.Context, jobID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'refunded', updated_at = now()
		WHERE id = $1 AND status = 'failed'
	`, jobID)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	job, err := r.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusRefunded {
		return nil
	}
	return fmt.Errorf("mark refunded job %s: unexpected status %q", jobID, job.Status)
}

// StaleQueued returns queued jobs that have not moved for at least minAge.
// The requeue publisher narrows the set further using per-attempt backoff.
func (r *Repository) StaleQueued(ctx context.Context, minAge time.Duration) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kind, input_ref, status, result_refs, attempt_count, cost_cents, last_error, created_at, updated_at
		FROM jobs WHERE status = 'queued' AND updated_at < now() - make_interval(secs => $1)
		ORDER BY updated_at ASC LIMIT 100
	`, minAge.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// StuckProcessing returns jobs that have sat in processing longer than the
// configured timeout; the watchdog treats them as transient failures.
func (r *Repository) StuckProcessing(ctx context.Context, timeout time.Duration) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kind, input_ref, status, result_refs, attempt_count, cost_cents, last_error, created_at, updated_at
		FROM jobs WHERE status = 'processing' AND updated_at < now() - make_interval(secs => $1)
		ORDER BY updated_at ASC LIMIT 100
	`, timeout.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.Kind, &j.InputRef, &j.Status, &j.ResultRefs,
		&j.AttemptCount, &j.CostCents, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
