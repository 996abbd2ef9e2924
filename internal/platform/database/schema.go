package database

import (
	"context"
	"database/sql"
)

// Bootstrap creates the engine's tables when they do not exist yet.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id UUID PRIMARY KEY,
		court_id UUID NOT NULL,
		customer_id UUID NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		confirmation_mode TEXT NOT NULL,
		total_cents BIGINT NOT NULL,
		payment_ref TEXT NOT NULL DEFAULT '',
		policy JSONB NOT NULL,
		is_split BOOLEAN NOT NULL DEFAULT FALSE,
		series_id UUID,
		version INT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_court_range
		ON bookings (court_id, start_time, end_time) WHERE status IN ('PENDING_CONFIRMATION','CONFIRMED')`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_series ON bookings (series_id) WHERE series_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		payload_hash TEXT NOT NULL,
		booking_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id UUID PRIMARY KEY,
		job_type TEXT NOT NULL,
		due_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL,
		ref_id UUID NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		claim_owner TEXT,
		claim_expiry TIMESTAMPTZ,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_due ON scheduled_jobs (due_at) WHERE status IN ('PENDING','CLAIMED')`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_ref ON scheduled_jobs (job_type, ref_id)`,

	`CREATE SEQUENCE IF NOT EXISTS waitlist_join_seq`,
	`CREATE TABLE IF NOT EXISTS waitlist_entries (
		id UUID PRIMARY KEY,
		court_id UUID NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		customer_id UUID NOT NULL,
		join_seq BIGINT NOT NULL DEFAULT nextval('waitlist_join_seq'),
		hold_expiry TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_waitlist_slot ON waitlist_entries (court_id, start_time, end_time, join_seq)`,

	`CREATE TABLE IF NOT EXISTS split_settlements (
		booking_id UUID PRIMARY KEY,
		creator_id UUID NOT NULL,
		hold_ref TEXT NOT NULL,
		hold_remaining_cents BIGINT NOT NULL,
		deadline TIMESTAMPTZ NOT NULL,
		settled BOOLEAN NOT NULL DEFAULT FALSE,
		version INT NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS split_shares (
		booking_id UUID NOT NULL,
		participant_id UUID NOT NULL,
		amount_cents BIGINT NOT NULL,
		status TEXT NOT NULL,
		payment_ref TEXT NOT NULL DEFAULT '',
		is_creator BOOLEAN NOT NULL DEFAULT FALSE,
		version INT NOT NULL DEFAULT 1,
		PRIMARY KEY (booking_id, participant_id)
	)`,

	`CREATE TABLE IF NOT EXISTS recurring_series (
		id UUID PRIMARY KEY,
		court_id UUID NOT NULL,
		first_start TIMESTAMPTZ NOT NULL,
		duration_seconds BIGINT NOT NULL,
		occurrences INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS processed_events (
		id TEXT PRIMARY KEY,
		event_key TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func Bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
