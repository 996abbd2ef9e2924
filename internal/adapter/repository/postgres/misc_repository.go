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

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (uuid.UUID, string, error) {
	var (
		bookingID uuid.UUID
		hash      string
	)
	err := r.db.QueryRowContext(ctx, `
	SELECT booking_id, payload_hash FROM idempotency_keys WHERE key = $1`, key).
		Scan(&bookingID, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, "", fmt.Errorf("idempotency key %q: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, "", err
	}
	return bookingID, hash, nil
}

func (r *IdempotencyRepository) Put(ctx context.Context, key, payloadHash string, bookingID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO idempotency_keys (key, payload_hash, booking_id)
	VALUES ($1, $2, $3)
	ON CONFLICT (key) DO NOTHING`, key, payloadHash, bookingID)
	return err
}

type SeriesRepository struct {
	db *sql.DB
}

func NewSeriesRepository(db *sql.DB) *SeriesRepository {
	return &SeriesRepository{db: db}
}

func (r *SeriesRepository) Create(ctx context.Context, s *domain.RecurringSeries) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO recurring_series (id, court_id, first_start, duration_seconds, occurrences, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.Pattern.CourtID, s.Pattern.FirstStart,
		int64(s.Pattern.Duration/time.Second), s.Pattern.Occurrences, s.CreatedAt)
	return err
}

func (r *SeriesRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringSeries, error) {
	var (
		s       domain.RecurringSeries
		seconds int64
	)
	err := r.db.QueryRowContext(ctx, `
	SELECT id, court_id, first_start, duration_seconds, occurrences, created_at
	FROM recurring_series WHERE id = $1`, id).
		Scan(&s.ID, &s.Pattern.CourtID, &s.Pattern.FirstStart, &seconds, &s.Pattern.Occurrences, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("series %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	s.Pattern.Duration = time.Duration(seconds) * time.Second
	return &s, nil
}

type ProcessedEventRepository struct {
	db *sql.DB
}

func NewProcessedEventRepository(db *sql.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

func (r *ProcessedEventRepository) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE id = $1)`, eventID).Scan(&seen)
	return seen, err
}

// MarkProcessed records the event id and reports whether this was its
// first delivery.
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, eventID, eventKey string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	INSERT INTO processed_events (id, event_key)
	VALUES ($1, $2)
	ON CONFLICT (id) DO NOTHING`, eventID, eventKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
