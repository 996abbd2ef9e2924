package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

type SplitRepository struct {
	db *sql.DB
}

func NewSplitRepository(db *sql.DB) *SplitRepository {
	return &SplitRepository{db: db}
}

// CreateShares persists the settlement header and every share in one
// transaction; a split booking never exists half-invited.
func (r *SplitRepository) CreateShares(ctx context.Context, settlement *domain.SplitSettlement, shares []domain.SplitShare) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO split_settlements (booking_id, creator_id, hold_ref, hold_remaining_cents, deadline, settled, version)
	VALUES ($1, $2, $3, $4, $5, $6, 1)`,
		settlement.BookingID, settlement.CreatorID, settlement.HoldRef,
		settlement.HoldRemainingCents, settlement.Deadline, settlement.Settled)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO split_shares (booking_id, participant_id, amount_cents, status, payment_ref, is_creator, version)
	VALUES ($1, $2, $3, $4, $5, $6, 1)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range shares {
		if _, err := stmt.ExecContext(ctx, s.BookingID, s.ParticipantID, s.AmountCents, s.Status, s.PaymentRef, s.IsCreator); err != nil {
			return fmt.Errorf("insert share for %s: %w", s.ParticipantID, err)
		}
	}
	return tx.Commit()
}

func (r *SplitRepository) GetSettlement(ctx context.Context, bookingID uuid.UUID) (*domain.SplitSettlement, error) {
	var s domain.SplitSettlement
	err := r.db.QueryRowContext(ctx, `
	SELECT booking_id, creator_id, hold_ref, hold_remaining_cents, deadline, settled, version
	FROM split_settlements WHERE booking_id = $1`, bookingID).
		Scan(&s.BookingID, &s.CreatorID, &s.HoldRef, &s.HoldRemainingCents, &s.Deadline, &s.Settled, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settlement for booking %s: %w", bookingID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SplitRepository) ListShares(ctx context.Context, bookingID uuid.UUID) ([]domain.SplitShare, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT booking_id, participant_id, amount_cents, status, payment_ref, is_creator, version
	FROM split_shares WHERE booking_id = $1 ORDER BY is_creator DESC, participant_id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SplitShare
	for rows.Next() {
		var s domain.SplitShare
		if err := rows.Scan(&s.BookingID, &s.ParticipantID, &s.AmountCents, &s.Status, &s.PaymentRef, &s.IsCreator, &s.Version); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SplitRepository) GetShare(ctx context.Context, bookingID, participantID uuid.UUID) (*domain.SplitShare, error) {
	var s domain.SplitShare
	err := r.db.QueryRowContext(ctx, `
	SELECT booking_id, participant_id, amount_cents, status, payment_ref, is_creator, version
	FROM split_shares WHERE booking_id = $1 AND participant_id = $2`, bookingID, participantID).
		Scan(&s.BookingID, &s.ParticipantID, &s.AmountCents, &s.Status, &s.PaymentRef, &s.IsCreator, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("share %s/%s: %w", bookingID, participantID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SplitRepository) UpdateShare(ctx context.Context, s *domain.SplitShare) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE split_shares SET amount_cents = $3, status = $4, payment_ref = $5, version = version + 1
	WHERE booking_id = $1 AND participant_id = $2 AND version = $6`,
		s.BookingID, s.ParticipantID, s.AmountCents, s.Status, s.PaymentRef, s.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("share %s/%s version moved: %w", s.BookingID, s.ParticipantID, domain.ErrStateTransition)
	}
	s.Version++
	return nil
}

// UpdateShares writes a redistribution batch atomically.
func (r *SplitRepository) UpdateShares(ctx context.Context, shares []domain.SplitShare) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range shares {
		res, err := tx.ExecContext(ctx, `
		UPDATE split_shares SET amount_cents = $3, status = $4, version = version + 1
		WHERE booking_id = $1 AND participant_id = $2 AND version = $5`,
			s.BookingID, s.ParticipantID, s.AmountCents, s.Status, s.Version)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("share %s/%s version moved: %w", s.BookingID, s.ParticipantID, domain.ErrStateTransition)
		}
	}
	return tx.Commit()
}

func (r *SplitRepository) UpdateSettlement(ctx context.Context, s *domain.SplitSettlement) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE split_settlements SET hold_remaining_cents = $2, settled = $3, version = version + 1
	WHERE booking_id = $1 AND version = $4`,
		s.BookingID, s.HoldRemainingCents, s.Settled, s.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("settlement %s version moved: %w", s.BookingID, domain.ErrStateTransition)
	}
	s.Version++
	return nil
}
