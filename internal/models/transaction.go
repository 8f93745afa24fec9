package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction kinds. A job has at most one debit and at most one refund;
// topups carry no job reference.
const (
	TxKindDebit  = "debit"
	TxKindRefund = "refund"
	TxKindTopUp  = "topup"
)

type Transaction struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	JobID       *uuid.UUID `json:"job_id,omitempty"`
	Kind        string     `json:"kind"`
	AmountCents int64      `json:"amount_cents"`
	CreatedAt   time.Time  `json:"created_at"`
}
