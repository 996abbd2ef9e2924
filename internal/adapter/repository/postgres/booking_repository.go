package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/ports"
)

// overlapWhere matches blocking bookings intersecting a half-open range.
const overlapWhere = `court_id = $1 AND status IN ('PENDING_CONFIRMATION','CONFIRMED')
	AND start_time < $3 AND end_time > $2`

const bookingColumns = `id, court_id, customer_id, start_time, end_time, status,
	confirmation_mode, total_cents, payment_ref, policy, is_split, series_id,
	version, created_at, updated_at`

type BookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	policy, err := json.Marshal(b.Policy)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO bookings (id, court_id, customer_id, start_time, end_time, status,
		confirmation_mode, total_cents, payment_ref, policy, is_split, series_id, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.ExecContext(ctx, query, b.ID, b.CourtID, b.CustomerID, b.Start, b.End,
		b.Status, b.ConfirmationMode, b.TotalCents, b.PaymentRef, policy, b.Split, b.SeriesID, b.Version)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return b, err
}

func (r *BookingRepository) HasOverlap(ctx context.Context, slot domain.TimeSlot, exclude uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM bookings WHERE ` + overlapWhere + ` AND id <> $4)`
	var taken bool
	err := r.db.QueryRowContext(ctx, query, slot.CourtID, slot.Start, slot.End, exclude).Scan(&taken)
	return taken, err
}

// lockCourtDays takes one advisory transaction lock per court-day of the
// range. Two bookings still in PENDING_PAYMENT are invisible to each
// other's overlap scan, so the scan alone cannot order racing commits;
// the advisory lock serializes them. Keys come sorted, so concurrent
// transactions take them in the same order.
func lockCourtDays(ctx context.Context, tx *sql.Tx, slot domain.TimeSlot) error {
	for _, key := range slot.LockKeys() {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("advisory lock %s: %w", key, err)
		}
	}
	return nil
}

// CommitStatus promotes a booking into a blocking status. The court-day
// advisory lock, the overlap re-check and the status write share one
// transaction, so two racing commits serialize and exactly one wins.
func (r *BookingRepository) CommitStatus(ctx context.Context, id uuid.UUID, to domain.BookingStatus, paymentRef string, expectedVersion int, idem *ports.IdemRecord) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cur := tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBooking(cur)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if b.Version != expectedVersion {
		return nil, fmt.Errorf("booking %s version moved: %w", id, domain.ErrStateTransition)
	}
	if !b.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("booking %s: %s -> %s: %w", id, b.Status, to, domain.ErrStateTransition)
	}

	if to.IsBlocking() {
		if err := lockCourtDays(ctx, tx, b.Slot()); err != nil {
			return nil, err
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM bookings WHERE `+overlapWhere+` AND id <> $4 FOR UPDATE`,
			b.CourtID, b.Start, b.End, id)
		if err != nil {
			return nil, err
		}
		conflicted := rows.Next()
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if conflicted {
			return nil, fmt.Errorf("slot taken during commit: %w", domain.ErrConflict)
		}
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE bookings SET status = $2, payment_ref = $3, version = version + 1, updated_at = now()
	WHERE id = $1`, id, to, paymentRef)
	if err != nil {
		return nil, err
	}
	if idem != nil {
		_, err = tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, payload_hash, booking_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING`, idem.Key, idem.PayloadHash, id)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	b.Status = to
	b.PaymentRef = paymentRef
	b.Version++
	return b, nil
}

// UpdateStatus applies a non-blocking transition under optimistic
// versioning. Zero rows affected means a concurrent writer got there
// first.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, to domain.BookingStatus, expectedVersion int) (*domain.Booking, error) {
	b, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("booking %s: %s -> %s: %w", id, b.Status, to, domain.ErrStateTransition)
	}
	res, err := r.db.ExecContext(ctx, `
	UPDATE bookings SET status = $2, version = version + 1, updated_at = now()
	WHERE id = $1 AND version = $3`, id, to, expectedVersion)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("booking %s version moved: %w", id, domain.ErrStateTransition)
	}
	b.Status = to
	b.Version = expectedVersion + 1
	return b, nil
}

func (r *BookingRepository) SetPaymentRef(ctx context.Context, id uuid.UUID, ref string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET payment_ref = $2, updated_at = now() WHERE id = $1`, id, ref)
	return err
}

func (r *BookingRepository) MarkSplit(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET is_split = TRUE, updated_at = now() WHERE id = $1`, id)
	return err
}

func (r *BookingRepository) TagSeries(ctx context.Context, id, seriesID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET series_id = $2, updated_at = now() WHERE id = $1`, id, seriesID)
	return err
}

// UpdateSlot moves a booking to a new range with the same locked overlap
// re-check CommitStatus uses.
func (r *BookingRepository) UpdateSlot(ctx context.Context, id uuid.UUID, slot domain.TimeSlot, totalCents int64, expectedVersion int) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := lockCourtDays(ctx, tx, slot); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM bookings WHERE `+overlapWhere+` AND id <> $4 FOR UPDATE`,
		slot.CourtID, slot.Start, slot.End, id)
	if err != nil {
		return nil, err
	}
	conflicted := rows.Next()
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if conflicted {
		return nil, fmt.Errorf("target slot taken: %w", domain.ErrConflict)
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE bookings SET start_time = $2, end_time = $3, total_cents = $4,
		version = version + 1, updated_at = now()
	WHERE id = $1 AND version = $5`, id, slot.Start, slot.End, totalCents, expectedVersion)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("booking %s version moved: %w", id, domain.ErrStateTransition)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *BookingRepository) ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE series_id = $1 ORDER BY start_time`, seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var policy []byte
	err := row.Scan(&b.ID, &b.CourtID, &b.CustomerID, &b.Start, &b.End, &b.Status,
		&b.ConfirmationMode, &b.TotalCents, &b.PaymentRef, &policy, &b.Split, &b.SeriesID,
		&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(policy, &b.Policy); err != nil {
		return nil, fmt.Errorf("decode policy snapshot: %w", err)
	}
	return &b, nil
}
