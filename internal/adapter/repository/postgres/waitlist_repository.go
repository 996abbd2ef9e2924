package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

const waitlistColumns = `id, court_id, start_time, end_time, customer_id, join_seq, hold_expiry, created_at`

type WaitlistRepository struct {
	db *sql.DB
}

func NewWaitlistRepository(db *sql.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// Append inserts the entry with the next join sequence and returns how
// many entries are ahead of it.
func (r *WaitlistRepository) Append(ctx context.Context, e *domain.WaitlistEntry) (int, error) {
	err := r.db.QueryRowContext(ctx, `
	INSERT INTO waitlist_entries (id, court_id, start_time, end_time, customer_id)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING join_seq, created_at`,
		e.ID, e.CourtID, e.Start, e.End, e.CustomerID).Scan(&e.JoinSeq, &e.CreatedAt)
	if err != nil {
		return 0, err
	}
	var ahead int
	err = r.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM waitlist_entries
	WHERE court_id = $1 AND start_time = $2 AND end_time = $3 AND join_seq < $4`,
		e.CourtID, e.Start, e.End, e.JoinSeq).Scan(&ahead)
	return ahead, err
}

func (r *WaitlistRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WaitlistEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("waitlist entry %s: %w", id, domain.ErrNotFound)
	}
	return e, err
}

func (r *WaitlistRepository) ListBySlot(ctx context.Context, slot domain.TimeSlot) ([]domain.WaitlistEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+waitlistColumns+` FROM waitlist_entries
	WHERE court_id = $1 AND start_time = $2 AND end_time = $3
	ORDER BY join_seq`, slot.CourtID, slot.Start, slot.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *WaitlistRepository) Head(ctx context.Context, slot domain.TimeSlot) (*domain.WaitlistEntry, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+waitlistColumns+` FROM waitlist_entries
	WHERE court_id = $1 AND start_time = $2 AND end_time = $3
	ORDER BY join_seq LIMIT 1`, slot.CourtID, slot.Start, slot.End)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("waitlist for %s empty: %w", slot.Key(), domain.ErrNotFound)
	}
	return e, err
}

func (r *WaitlistRepository) SetHold(ctx context.Context, id uuid.UUID, expiry time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE waitlist_entries SET hold_expiry = $2 WHERE id = $1`, id, expiry)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("waitlist entry %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *WaitlistRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id)
	return err
}

func (r *WaitlistRepository) ActiveHold(ctx context.Context, slot domain.TimeSlot, now time.Time) (*domain.WaitlistEntry, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+waitlistColumns+` FROM waitlist_entries
	WHERE court_id = $1 AND start_time < $3 AND end_time > $2 AND hold_expiry > $4
	ORDER BY join_seq LIMIT 1`, slot.CourtID, slot.Start, slot.End, now)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active hold for %s: %w", slot.Key(), domain.ErrNotFound)
	}
	return e, err
}

// DeleteOverlapping removes the customer's entries overlapping the booked
// time on any court; a customer cannot play two slots at once.
func (r *WaitlistRepository) DeleteOverlapping(ctx context.Context, customerID uuid.UUID, slot domain.TimeSlot) error {
	_, err := r.db.ExecContext(ctx, `
	DELETE FROM waitlist_entries
	WHERE customer_id = $1 AND start_time < $3 AND end_time > $2`,
		customerID, slot.Start, slot.End)
	return err
}

func (r *WaitlistRepository) PurgePast(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE start_time <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntry(row rowScanner) (*domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	err := row.Scan(&e.ID, &e.CourtID, &e.Start, &e.End, &e.CustomerID, &e.JoinSeq, &e.HoldExpiry, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
