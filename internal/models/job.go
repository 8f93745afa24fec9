package models

import (
	"time"

	"github.com/google/uuid"
)

// Job status enum. completed and refunded are terminal; failed is transient
// until either retried back to queued or refunded.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusRefunded   = "refunded"
)

// Job kinds (closed set; the worker dispatches on these by explicit switch).
const (
	JobKindImagePredict = "image_predict"
	JobKindScanPredict  = "scan_predict"
)

type Job struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Kind         string    `json:"kind"`
	InputRef     string    `json:"input_ref"`
	Status       string    `json:"status"`
	ResultRefs   []string  `json:"result_refs,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	CostCents    int64     `json:"cost_cents"`
	LastError    *string   `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Terminal reports whether the job can no longer change state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusRefunded
}
