package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	// BookingPendingPayment exists only while the gateway authorization is
	// in flight. It does not block the slot.
	BookingPendingPayment BookingStatus = "PENDING_PAYMENT"
	// BookingPendingConfirmation holds the slot while the owner decides.
	BookingPendingConfirmation BookingStatus = "PENDING_CONFIRMATION"
	BookingConfirmed           BookingStatus = "CONFIRMED"
	BookingRejected            BookingStatus = "REJECTED"
	BookingExpired             BookingStatus = "EXPIRED"
	BookingCancelled           BookingStatus = "CANCELLED"
	BookingCompleted           BookingStatus = "COMPLETED"
)

// transitions is the full legal transition table. Anything absent is
// rejected with ErrStateTransition.
var transitions = map[BookingStatus][]BookingStatus{
	BookingPendingPayment:      {BookingPendingConfirmation, BookingConfirmed, BookingExpired},
	BookingPendingConfirmation: {BookingConfirmed, BookingRejected, BookingExpired},
	BookingConfirmed:           {BookingCancelled, BookingCompleted},
}

func (s BookingStatus) CanTransitionTo(to BookingStatus) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingRejected, BookingExpired, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// IsBlocking reports whether a booking in this status holds its slot
// against other reservations.
func (s BookingStatus) IsBlocking() bool {
	return s == BookingPendingConfirmation || s == BookingConfirmed
}

type ConfirmationMode string

const (
	ConfirmInstant ConfirmationMode = "INSTANT"
	ConfirmManual  ConfirmationMode = "MANUAL"
)

// CancellationTier refunds RefundPercent of the refundable amount when the
// booking is cancelled at least HoursBefore hours ahead of the slot start.
type CancellationTier struct {
	HoursBefore   int `json:"hours_before"`
	RefundPercent int `json:"refund_percent"`
}

// CancellationPolicy is snapshotted onto the booking at creation time so a
// later policy change never alters committed bookings.
type CancellationPolicy struct {
	Tiers            []CancellationTier `json:"tiers"`
	PlatformFeeCents int64              `json:"platform_fee_cents"`
}

// RefundCents computes the refund for a CONFIRMED booking cancelled at
// cancelAt. Owner-initiated cancellations refund the full amount including
// the platform fee; customer cancellations follow the tiers, and the fee
// portion is never refunded.
func (p CancellationPolicy) RefundCents(totalCents int64, cancelAt, slotStart time.Time, ownerInitiated bool) int64 {
	if ownerInitiated {
		return totalCents
	}
	refundable := totalCents - p.PlatformFeeCents
	if refundable < 0 {
		refundable = 0
	}
	hoursAhead := slotStart.Sub(cancelAt).Hours()
	best := 0
	for _, t := range p.Tiers {
		if hoursAhead >= float64(t.HoursBefore) && t.RefundPercent > best {
			best = t.RefundPercent
		}
	}
	return refundable * int64(best) / 100
}

type Booking struct {
	ID               uuid.UUID
	CourtID          uuid.UUID
	CustomerID       uuid.UUID
	Start            time.Time
	End              time.Time
	Status           BookingStatus
	ConfirmationMode ConfirmationMode
	TotalCents       int64
	PaymentRef       string
	Policy           CancellationPolicy
	Split            bool
	SeriesID         *uuid.UUID
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (b *Booking) Slot() TimeSlot {
	return TimeSlot{CourtID: b.CourtID, Start: b.Start, End: b.End}
}

// Transition applies a lifecycle transition in memory. The repository
// enforces the same version optimistically on write.
func (b *Booking) Transition(to BookingStatus) error {
	if !b.Status.CanTransitionTo(to) {
		return fmt.Errorf("booking %s: %s -> %s: %w", b.ID, b.Status, to, ErrStateTransition)
	}
	b.Status = to
	return nil
}
