package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ShareStatus string

const (
	ShareInvited  ShareStatus = "INVITED"
	SharePending  ShareStatus = "PENDING"
	SharePaid     ShareStatus = "PAID"
	ShareFailed   ShareStatus = "FAILED"
	ShareRefunded ShareStatus = "REFUNDED"
	// ShareCancelled marks a participant who backed out before paying.
	// Their amount has been redistributed over the remaining shares.
	ShareCancelled ShareStatus = "CANCELLED"
)

type SplitShare struct {
	BookingID     uuid.UUID
	ParticipantID uuid.UUID
	AmountCents   int64
	Status        ShareStatus
	PaymentRef    string
	IsCreator     bool
	Version       int
}

// SplitSettlement tracks the guarantee hold placed on the creator. The
// remaining hold only ever shrinks as participants pay.
type SplitSettlement struct {
	BookingID          uuid.UUID
	CreatorID          uuid.UUID
	HoldRef            string
	HoldRemainingCents int64
	Deadline           time.Time
	Settled            bool
	Version            int
}

// EqualSplit divides totalCents evenly over creator + invitees. The
// remainder cents after the floor division land on the creator's share, so
// the shares always sum to the total.
func EqualSplit(bookingID uuid.UUID, totalCents int64, creatorID uuid.UUID, inviteeIDs []uuid.UUID) []SplitShare {
	n := int64(len(inviteeIDs) + 1)
	base := totalCents / n
	shares := make([]SplitShare, 0, n)
	shares = append(shares, SplitShare{
		BookingID:     bookingID,
		ParticipantID: creatorID,
		AmountCents:   base + totalCents%n,
		Status:        SharePending,
		IsCreator:     true,
	})
	for _, id := range inviteeIDs {
		shares = append(shares, SplitShare{
			BookingID:     bookingID,
			ParticipantID: id,
			AmountCents:   base,
			Status:        ShareInvited,
		})
	}
	return shares
}

// ValidateShares checks that a custom split covers the booking total and
// that every share meets the configured minimum.
func ValidateShares(shares []SplitShare, totalCents, minShareCents int64) error {
	var sum int64
	for _, s := range shares {
		if s.AmountCents < minShareCents {
			return fmt.Errorf("share for %s below minimum %d: %w", s.ParticipantID, minShareCents, ErrValidation)
		}
		sum += s.AmountCents
	}
	if sum != totalCents {
		return fmt.Errorf("shares sum %d does not match total %d: %w", sum, totalCents, ErrValidation)
	}
	return nil
}

// Redistribute reassigns a cancelled participant's unpaid amount across the
// other unpaid shares so the shares still sum to the original total. The
// creator absorbs the rounding remainder, or the first unpaid share when
// the creator has already paid. Returns the shares that changed amount.
func Redistribute(shares []SplitShare, cancelledID uuid.UUID) ([]SplitShare, error) {
	var cancelled *SplitShare
	var unpaid []*SplitShare
	for i := range shares {
		s := &shares[i]
		if s.ParticipantID == cancelledID {
			cancelled = s
			continue
		}
		if s.Status == ShareInvited || s.Status == SharePending {
			unpaid = append(unpaid, s)
		}
	}
	if cancelled == nil {
		return nil, fmt.Errorf("participant %s has no share: %w", cancelledID, ErrNotFound)
	}
	if cancelled.Status == SharePaid {
		return nil, fmt.Errorf("paid share cannot be cancelled: %w", ErrStateTransition)
	}
	if len(unpaid) == 0 {
		return nil, fmt.Errorf("no unpaid shares left to absorb %d cents: %w", cancelled.AmountCents, ErrValidation)
	}

	amount := cancelled.AmountCents
	cancelled.AmountCents = 0
	cancelled.Status = ShareCancelled

	per := amount / int64(len(unpaid))
	rem := amount % int64(len(unpaid))
	absorber := unpaid[0]
	for _, s := range unpaid {
		if s.IsCreator {
			absorber = s
		}
	}
	changed := make([]SplitShare, 0, len(unpaid)+1)
	for _, s := range unpaid {
		s.AmountCents += per
		if s == absorber {
			s.AmountCents += rem
		}
		changed = append(changed, *s)
	}
	changed = append(changed, *cancelled)
	return changed, nil
}
