package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the application tables if they do not exist. River's
// own tables are handled separately by rivermigrate.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id            UUID PRIMARY KEY,
	user_id       UUID NOT NULL REFERENCES users(id),
	kind          TEXT NOT NULL CHECK (kind IN ('image_predict', 'scan_predict')),
	input_ref     TEXT NOT NULL,
	status        TEXT NOT NULL CHECK (status IN ('queued', 'processing', 'completed', 'failed', 'refunded')),
	result_refs   TEXT[] NOT NULL DEFAULT '{}',
	attempt_count INT NOT NULL DEFAULT 0,
	cost_cents    BIGINT NOT NULL CHECK (cost_cents > 0),
	last_error    TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS jobs_user_id_idx ON jobs (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status, updated_at);

CREATE TABLE IF NOT EXISTS transactions (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id      UUID NOT NULL REFERENCES users(id),
	-- Deferred so the debit row can be written before the job row inside
	-- the single submission transaction.
	job_id       UUID REFERENCES jobs(id) DEFERRABLE INITIALLY DEFERRED,
	kind         TEXT NOT NULL CHECK (kind IN ('debit', 'refund', 'topup')),
	amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS transactions_user_id_idx ON transactions (user_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_one_debit_per_job
	ON transactions (job_id) WHERE kind = 'debit';
CREATE UNIQUE INDEX IF NOT EXISTS transactions_one_refund_per_job
	ON transactions (job_id) WHERE kind = 'refund';
`
