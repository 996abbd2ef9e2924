package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/services"
)

func splitReq(e *env, slot domain.TimeSlot, creator uuid.UUID, invitees []uuid.UUID) services.CreateSplitBookingRequest {
	req := services.CreateSplitBookingRequest{
		CreateBookingRequest: e.createReq(slot, creator, uuid.NewString()),
	}
	for _, id := range invitees {
		req.InviteeIDs = append(req.InviteeIDs, id.String())
	}
	return req
}

func TestCreateSplitBooking_EqualShares(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator := uuid.New()
	invitees := []uuid.UUID{uuid.New(), uuid.New()}
	slot := e.slot(uuid.New(), 24, time.Hour)

	resp, err := e.splitSvc.CreateSplitBooking(ctx, splitReq(e, slot, creator, invitees))
	require.NoError(t, err)
	require.Len(t, resp.Shares, 3)

	var sum int64
	for _, sh := range resp.Shares {
		sum += sh.AmountCents
	}
	assert.Equal(t, int64(2000), sum)

	bookingID := uuid.MustParse(resp.Booking.BookingID)
	b := e.bookings.get(bookingID)
	assert.True(t, b.Split)

	// The creator's authorization guarantees the full amount.
	settlement, err := e.splits.GetSettlement(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), settlement.HoldRemainingCents)
	assert.Equal(t, b.PaymentRef, settlement.HoldRef)
	// Held, not charged: the settlement decides what gets captured.
	assert.Empty(t, e.gateway.captured)

	assert.Len(t, e.jobs.ofType(domain.JobSplitDeadline), 1)
	// Both invitees are told; the creator is not invited to their own split.
	for _, id := range invitees {
		assert.NotEmpty(t, e.notifier.to(id))
	}
}

func TestCreateSplitBooking_CustomSharesValidatedUpFront(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator, invitee := uuid.New(), uuid.New()
	slot := e.slot(uuid.New(), 24, time.Hour)

	req := splitReq(e, slot, creator, []uuid.UUID{invitee})
	req.CustomShares = []services.CustomShare{
		{ParticipantID: creator.String(), AmountCents: 1500},
		{ParticipantID: invitee.String(), AmountCents: 300}, // sums to 1800, not 2000
	}
	_, err := e.splitSvc.CreateSplitBooking(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Nothing was booked or charged for the bad split.
	taken, _ := e.bookings.HasOverlap(ctx, slot, uuid.Nil)
	assert.False(t, taken)
	assert.Empty(t, e.gateway.authorized)

	req.CustomShares[1].AmountCents = 500
	resp, err := e.splitSvc.CreateSplitBooking(ctx, req)
	require.NoError(t, err)
	assert.Len(t, resp.Shares, 2)
}

func TestPayShare_ShrinksCreatorHold(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator, invitee := uuid.New(), uuid.New()
	slot := e.slot(uuid.New(), 24, time.Hour)

	resp, err := e.splitSvc.CreateSplitBooking(ctx, splitReq(e, slot, creator, []uuid.UUID{invitee}))
	require.NoError(t, err)
	bookingID := uuid.MustParse(resp.Booking.BookingID)

	require.NoError(t, e.splitSvc.PayShare(ctx, bookingID, invitee, "card"))

	sh, err := e.splits.GetShare(ctx, bookingID, invitee)
	require.NoError(t, err)
	assert.Equal(t, domain.SharePaid, sh.Status)

	settlement, err := e.splits.GetSettlement(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), settlement.HoldRemainingCents)
	// The invitee's 1000 went back off the creator's hold.
	assert.Equal(t, int64(1000), e.gateway.refundTotal())

	// Paying twice charges nothing extra.
	authsBefore := len(e.gateway.authorized)
	require.NoError(t, e.splitSvc.PayShare(ctx, bookingID, invitee, "card"))
	assert.Len(t, e.gateway.authorized, authsBefore)
}

func TestCancelShare_RedistributesAndRenotifies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator := uuid.New()
	leaver, stayer := uuid.New(), uuid.New()
	slot := e.slot(uuid.New(), 24, time.Hour)

	// Price 2100 splits 700/700/700 with no remainder.
	e.catalog.price = 2100
	resp, err := e.splitSvc.CreateSplitBooking(ctx, splitReq(e, slot, creator, []uuid.UUID{leaver, stayer}))
	require.NoError(t, err)
	bookingID := uuid.MustParse(resp.Booking.BookingID)

	require.NoError(t, e.splitSvc.CancelShare(ctx, bookingID, leaver))

	shares, err := e.splits.ListShares(ctx, bookingID)
	require.NoError(t, err)
	var sum int64
	for _, sh := range shares {
		sum += sh.AmountCents
		switch sh.ParticipantID {
		case leaver:
			assert.Equal(t, domain.ShareCancelled, sh.Status)
		case stayer:
			assert.Equal(t, int64(1050), sh.AmountCents)
		}
	}
	assert.Equal(t, int64(2100), sum, "redistribution conserves the total")

	// The stayer learns their new amount; the leaver does not get a notice.
	notices := e.notifier.to(stayer)
	require.NotEmpty(t, notices)
	last := notices[len(notices)-1]
	assert.Equal(t, "split_share_updated", last.Payload["type"])
}

func TestEnforceDeadline_ChargesCreatorRemainder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator, payer, ghost := uuid.New(), uuid.New(), uuid.New()
	slot := e.slot(uuid.New(), 24, time.Hour)

	e.catalog.price = 3000
	resp, err := e.splitSvc.CreateSplitBooking(ctx, splitReq(e, slot, creator, []uuid.UUID{payer, ghost}))
	require.NoError(t, err)
	bookingID := uuid.MustParse(resp.Booking.BookingID)

	require.NoError(t, e.splitSvc.PayShare(ctx, bookingID, payer, "card"))

	require.NoError(t, e.splitSvc.EnforceDeadline(ctx, bookingID))

	settlement, err := e.splits.GetSettlement(ctx, bookingID)
	require.NoError(t, err)
	assert.True(t, settlement.Settled)
	assert.Equal(t, int64(0), settlement.HoldRemainingCents)
	// The hold capture covers the ghost's share.
	assert.Contains(t, e.gateway.captured, settlement.HoldRef)

	ghostShare, err := e.splits.GetShare(ctx, bookingID, ghost)
	require.NoError(t, err)
	assert.Equal(t, domain.ShareFailed, ghostShare.Status)

	// The creator is told how much they absorbed.
	var charged bool
	for _, n := range e.notifier.to(creator) {
		if n.Payload["type"] == "split_remainder_charged" {
			charged = true
			assert.Equal(t, int64(1000), n.Payload["amount_cents"])
		}
	}
	assert.True(t, charged)

	// Enforcing twice is a no-op once settled.
	capturesBefore := len(e.gateway.captured)
	require.NoError(t, e.splitSvc.EnforceDeadline(ctx, bookingID))
	assert.Len(t, e.gateway.captured, capturesBefore)
}

func TestSplitBooking_HoldChargedOnceAtDeadline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator, ghost := uuid.New(), uuid.New()
	slot := e.slot(uuid.New(), 24, time.Hour)

	resp, err := e.splitSvc.CreateSplitBooking(ctx, splitReq(e, slot, creator, []uuid.UUID{ghost}))
	require.NoError(t, err)
	bookingID := uuid.MustParse(resp.Booking.BookingID)

	// Creation confirms the booking on the hold alone. Nothing is captured
	// until the deadline settles the split, and then exactly once; a
	// second capture of the same authorization would double-charge the
	// creator.
	assert.Empty(t, e.gateway.captured)

	require.NoError(t, e.splitSvc.EnforceDeadline(ctx, bookingID))

	settlement, err := e.splits.GetSettlement(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, []string{settlement.HoldRef}, e.gateway.captured)
}

func TestConfirmBooking_SplitKeepsHoldOpen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	courtID := uuid.New()
	policy := defaultPolicy()
	policy.ConfirmationMode = domain.ConfirmManual
	e.catalog.setPolicy(courtID, policy)
	creator, invitee := uuid.New(), uuid.New()

	resp, err := e.splitSvc.CreateSplitBooking(ctx, splitReq(e, e.slot(courtID, 24, time.Hour), creator, []uuid.UUID{invitee}))
	require.NoError(t, err)
	bookingID := uuid.MustParse(resp.Booking.BookingID)
	require.Equal(t, string(domain.BookingPendingConfirmation), resp.Booking.Status)

	confirmed, err := e.bookingSvc.ConfirmBooking(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.BookingConfirmed), confirmed.Status)
	// The owner's approval does not settle the split; the hold stays open
	// for the shares to draw down.
	assert.Empty(t, e.gateway.captured)

	settlement, err := e.splits.GetSettlement(ctx, bookingID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), settlement.HoldRemainingCents)
}

func TestEnforceDeadline_GatewayErrorRetries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator, ghost := uuid.New(), uuid.New()
	slot := e.slot(uuid.New(), 24, time.Hour)

	resp, err := e.splitSvc.CreateSplitBooking(ctx, splitReq(e, slot, creator, []uuid.UUID{ghost}))
	require.NoError(t, err)
	bookingID := uuid.MustParse(resp.Booking.BookingID)

	e.gateway.captureErr = assert.AnError
	err = e.splitSvc.EnforceDeadline(ctx, bookingID)
	assert.ErrorIs(t, err, domain.ErrPayment, "the job engine must retry the charge")

	settlement, err := e.splits.GetSettlement(ctx, bookingID)
	require.NoError(t, err)
	assert.False(t, settlement.Settled, "the debt is not written off")

	// The creator hears about the grace window.
	var warned bool
	for _, n := range e.notifier.to(creator) {
		if n.Payload["type"] == "split_charge_failed" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestCancelSplitBooking_RefundsEveryParticipant(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creator, payer, unpaid := uuid.New(), uuid.New(), uuid.New()
	slot := e.slot(uuid.New(), 48, time.Hour)

	e.catalog.price = 3000
	resp, err := e.splitSvc.CreateSplitBooking(ctx, splitReq(e, slot, creator, []uuid.UUID{payer, unpaid}))
	require.NoError(t, err)
	bookingID := uuid.MustParse(resp.Booking.BookingID)

	require.NoError(t, e.splitSvc.PayShare(ctx, bookingID, payer, "card"))
	refundsBefore := e.gateway.refundTotal()

	_, err = e.bookingSvc.CancelBooking(ctx, bookingID, false)
	require.NoError(t, err)

	// The payer's 1000 goes back to them and the remaining 2000 of the
	// creator's hold is released.
	assert.Equal(t, refundsBefore+1000+2000, e.gateway.refundTotal())

	payerShare, err := e.splits.GetShare(ctx, bookingID, payer)
	require.NoError(t, err)
	assert.Equal(t, domain.ShareRefunded, payerShare.Status)

	settlement, err := e.splits.GetSettlement(ctx, bookingID)
	require.NoError(t, err)
	assert.True(t, settlement.Settled)
}
