package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neuroscan/backend/internal/metrics"
	"github.com/neuroscan/backend/internal/models"
)

// Settler drives the failure half of the job state machine: fail, refund,
// mark refunded. Every step is idempotent or guarded by a compare-and-set,
// so the whole sequence is safe to re-run after a crash.
type Settler struct {
	Jobs   JobStore
	Ledger Ledger
	Log    *slog.Logger
}

// FailAndSettle records the failure and, when the job lands in failed (no
// retries left or permanent), reverses the charge.
func (s *Settler) FailAndSettle(ctx context.Context, job *models.Job, permanent bool, reason string) error {
	status, err := s.Jobs.Fail(ctx, job.ID, permanent, reason)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if status == models.JobStatusQueued {
		s.Log.Info("job requeued for retry", "job_id", job.ID, "attempt", job.AttemptCount, "reason", reason)
		metrics.JobRetries.Inc()
		return nil
	}
	return s.Refund(ctx, job)
}

// Refund issues the compensating credit and moves the job to refunded. Safe
// to call again after a partial run: the ledger returns the existing refund
// transaction and MarkRefunded is a no-op once done.
func (s *Settler) Refund(ctx context.Context, job *models.Job) error {
	if _, err := s.Ledger.Refund(ctx, job.UserID, job.ID, job.CostCents); err != nil {
		return fmt.Errorf("refund job %s: %w", job.ID, err)
	}
	if err := s.Jobs.MarkRefunded(ctx, job.ID); err != nil {
		return fmt.Errorf("mark refunded %s: %w", job.ID, err)
	}
	s.Log.Info("job refunded", "job_id", job.ID, "user_id", job.UserID, "amount_cents", job.CostCents)
	metrics.JobsRefunded.WithLabelValues(job.Kind).Inc()
	return nil
}
