package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

func TestBookingStatus_Transitions(t *testing.T) {
	assert.True(t, domain.BookingPendingPayment.CanTransitionTo(domain.BookingPendingConfirmation))
	assert.True(t, domain.BookingPendingPayment.CanTransitionTo(domain.BookingConfirmed))
	assert.True(t, domain.BookingPendingConfirmation.CanTransitionTo(domain.BookingConfirmed))
	assert.True(t, domain.BookingPendingConfirmation.CanTransitionTo(domain.BookingRejected))
	assert.True(t, domain.BookingConfirmed.CanTransitionTo(domain.BookingCancelled))
	assert.True(t, domain.BookingConfirmed.CanTransitionTo(domain.BookingCompleted))

	assert.False(t, domain.BookingPendingPayment.CanTransitionTo(domain.BookingRejected))
	assert.False(t, domain.BookingConfirmed.CanTransitionTo(domain.BookingPendingConfirmation))
	assert.False(t, domain.BookingCancelled.CanTransitionTo(domain.BookingConfirmed))
}

func TestBookingStatus_TerminalStatesAcceptNothing(t *testing.T) {
	terminal := []domain.BookingStatus{
		domain.BookingRejected, domain.BookingExpired,
		domain.BookingCancelled, domain.BookingCompleted,
	}
	all := []domain.BookingStatus{
		domain.BookingPendingPayment, domain.BookingPendingConfirmation,
		domain.BookingConfirmed, domain.BookingRejected, domain.BookingExpired,
		domain.BookingCancelled, domain.BookingCompleted,
	}
	for _, from := range terminal {
		assert.True(t, from.IsTerminal())
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s must be illegal", from, to)
		}
	}
}

func TestBookingStatus_IsBlocking(t *testing.T) {
	assert.True(t, domain.BookingPendingConfirmation.IsBlocking())
	assert.True(t, domain.BookingConfirmed.IsBlocking())
	assert.False(t, domain.BookingPendingPayment.IsBlocking())
	assert.False(t, domain.BookingCancelled.IsBlocking())
}

func TestBooking_TransitionRejectsIllegalMove(t *testing.T) {
	b := &domain.Booking{ID: uuid.New(), Status: domain.BookingCompleted}
	err := b.Transition(domain.BookingCancelled)
	assert.ErrorIs(t, err, domain.ErrStateTransition)
	assert.Equal(t, domain.BookingCompleted, b.Status)
}

func TestCancellationPolicy_RefundCents(t *testing.T) {
	policy := domain.CancellationPolicy{
		Tiers: []domain.CancellationTier{
			{HoursBefore: 24, RefundPercent: 100},
			{HoursBefore: 12, RefundPercent: 50},
		},
		PlatformFeeCents: 200,
	}
	slotStart := time.Date(2026, 9, 10, 18, 0, 0, 0, time.UTC)

	// 13h ahead lands in the 12h tier: (2000-200) * 50%.
	refund := policy.RefundCents(2000, slotStart.Add(-13*time.Hour), slotStart, false)
	assert.Equal(t, int64(900), refund)

	// 30h ahead gets the full refundable amount.
	refund = policy.RefundCents(2000, slotStart.Add(-30*time.Hour), slotStart, false)
	assert.Equal(t, int64(1800), refund)

	// Inside every tier: nothing back.
	refund = policy.RefundCents(2000, slotStart.Add(-1*time.Hour), slotStart, false)
	assert.Equal(t, int64(0), refund)

	// Owner cancellations always refund everything, fee included.
	refund = policy.RefundCents(2000, slotStart.Add(-1*time.Hour), slotStart, true)
	assert.Equal(t, int64(2000), refund)
}

func TestCancellationPolicy_RefundNeverNegative(t *testing.T) {
	policy := domain.CancellationPolicy{
		Tiers:            []domain.CancellationTier{{HoursBefore: 0, RefundPercent: 100}},
		PlatformFeeCents: 500,
	}
	slotStart := time.Date(2026, 9, 10, 18, 0, 0, 0, time.UTC)
	refund := policy.RefundCents(300, slotStart.Add(-48*time.Hour), slotStart, false)
	assert.Equal(t, int64(0), refund)
}
