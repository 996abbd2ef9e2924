package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Enqueue(ctx context.Context, j *domain.ScheduledJob) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO scheduled_jobs (id, job_type, due_at, payload, ref_id, status, attempts)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.Type, j.DueAt, []byte(j.Payload), j.RefID, j.Status, j.Attempts)
	return err
}

// ClaimDue claims a batch of due jobs for one worker under a lease.
// SKIP LOCKED keeps concurrent workers from fighting over the same rows;
// a job whose previous claim lease lapsed is claimable again, which is
// what makes a crashed worker harmless.
func (r *JobRepository) ClaimDue(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]domain.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, `
	UPDATE scheduled_jobs SET status = 'CLAIMED', claim_owner = $1, claim_expiry = $2
	WHERE id IN (
		SELECT id FROM scheduled_jobs
		WHERE due_at <= $3
		  AND (status = 'PENDING' OR (status = 'CLAIMED' AND claim_expiry < $3))
		ORDER BY due_at
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, job_type, due_at, payload, ref_id, status, claim_owner, claim_expiry, attempts, last_error, created_at`,
		owner, now.Add(lease), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledJob
	for rows.Next() {
		var j domain.ScheduledJob
		var payload []byte
		if err := rows.Scan(&j.ID, &j.Type, &j.DueAt, &payload, &j.RefID, &j.Status,
			&j.ClaimOwner, &j.ClaimExpiry, &j.Attempts, &j.LastError, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Payload = payload
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = 'DONE', claim_owner = NULL, claim_expiry = NULL WHERE id = $1`, id)
	return err
}

func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = 'FAILED', last_error = $2, claim_owner = NULL, claim_expiry = NULL WHERE id = $1`,
		id, lastErr)
	return err
}

func (r *JobRepository) Reschedule(ctx context.Context, id uuid.UUID, dueAt time.Time, attempts int, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE scheduled_jobs SET status = 'PENDING', due_at = $2, attempts = $3, last_error = $4,
		claim_owner = NULL, claim_expiry = NULL
	WHERE id = $1`, id, dueAt, attempts, lastErr)
	return err
}

// CancelByRef cancels still-pending jobs whose purpose another path
// resolved, so a stale job never fires at a since-changed booking.
func (r *JobRepository) CancelByRef(ctx context.Context, t domain.JobType, refID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE scheduled_jobs SET status = 'CANCELLED'
	WHERE job_type = $1 AND ref_id = $2 AND status IN ('PENDING','CLAIMED')`, t, refID)
	return err
}
