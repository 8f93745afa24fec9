package execution

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/neuroscan/backend/internal/models"
)

// ErrJobNotFound is returned by JobStore when no job exists for the id.
var ErrJobNotFound = errors.New("job not found")

// PredictJobArgs is the message placed on the work queue. job_id doubles as
// the idempotency key and must survive republish unchanged.
type PredictJobArgs struct {
	JobID    uuid.UUID `json:"job_id"`
	UserID   uuid.UUID `json:"user_id"`
	JobKind  string    `json:"kind"`
	InputRef string    `json:"input_ref"`
}

func (PredictJobArgs) Kind() string { return "predict" }

// JobStore is the job state machine surface the worker needs. Implemented by
// the jobs service.
type JobStore interface {
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	Claim(ctx context.Context, jobID uuid.UUID) (bool, error)
	Complete(ctx context.Context, jobID uuid.UUID, resultRefs []string) error
	// Fail moves a processing job to queued (transient, retries remaining) or
	// failed, and returns the resulting status.
	Fail(ctx context.Context, jobID uuid.UUID, permanent bool, reason string) (string, error)
	MarkRefunded(ctx context.Context, jobID uuid.UUID) error
}

// Ledger is the refund surface of the balance ledger.
type Ledger interface {
	Refund(ctx context.Context, userID, jobID uuid.UUID, amountCents int64) (uuid.UUID, error)
}

// ResultStore persists mask artifacts and returns their reference.
type ResultStore interface {
	SaveResult(name string, data []byte) (string, error)
}
