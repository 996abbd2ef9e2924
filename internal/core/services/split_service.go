package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/ports"
)

// SplitService coordinates per-booking payment shares. The full amount is
// held against the creator as a guarantee; the hold only ever shrinks as
// participants pay their part.
type SplitService struct {
	bookingSvc *BookingService
	bookings   ports.BookingRepository
	splits     ports.SplitRepository
	jobs       ports.JobRepository
	catalog    ports.Catalog
	gateway    ports.PaymentGateway
	notifier   ports.Notifier
	publisher  ports.EventPublisher
	deadline   time.Duration
	grace      time.Duration
	log        *slog.Logger

	now func() time.Time
}

func NewSplitService(
	bookingSvc *BookingService,
	bookings ports.BookingRepository,
	splits ports.SplitRepository,
	jobs ports.JobRepository,
	catalog ports.Catalog,
	gateway ports.PaymentGateway,
	notifier ports.Notifier,
	publisher ports.EventPublisher,
	deadline, grace time.Duration,
	log *slog.Logger,
) *SplitService {
	return &SplitService{
		bookingSvc: bookingSvc,
		bookings:   bookings,
		splits:     splits,
		jobs:       jobs,
		catalog:    catalog,
		gateway:    gateway,
		notifier:   notifier,
		publisher:  publisher,
		deadline:   deadline,
		grace:      grace,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type CustomShare struct {
	ParticipantID string `json:"participant_id"`
	AmountCents   int64  `json:"amount_cents"`
}

type CreateSplitBookingRequest struct {
	CreateBookingRequest
	InviteeIDs   []string      `json:"invitee_ids"`
	CustomShares []CustomShare `json:"custom_shares,omitempty"`
}

type SplitBookingResponse struct {
	Booking *BookingResponse    `json:"booking"`
	Shares  []domain.SplitShare `json:"shares"`
}

// CreateSplitBooking reserves the slot through the ordinary create path
// with capture deferred — the creator's authorization stays a hold over
// the full amount — then invites every participant with their share.
func (s *SplitService) CreateSplitBooking(ctx context.Context, req CreateSplitBookingRequest) (*SplitBookingResponse, error) {
	if len(req.InviteeIDs) == 0 {
		return nil, fmt.Errorf("split booking needs at least one invitee: %w", domain.ErrValidation)
	}
	creatorID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("invalid customer id: %w", domain.ErrValidation)
	}
	inviteeIDs := make([]uuid.UUID, 0, len(req.InviteeIDs))
	for _, raw := range req.InviteeIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid invitee id %q: %w", raw, domain.ErrValidation)
		}
		inviteeIDs = append(inviteeIDs, id)
	}

	// Validate a custom split against the quoted price before committing
	// anything, so a bad split never strands a booked slot.
	if len(req.CustomShares) > 0 {
		courtID, err := uuid.Parse(req.CourtID)
		if err != nil {
			return nil, fmt.Errorf("invalid court id: %w", domain.ErrValidation)
		}
		slot, err := domain.NewTimeSlot(courtID, req.Start, req.End)
		if err != nil {
			return nil, err
		}
		price, err := s.catalog.PriceCents(ctx, slot)
		if err != nil {
			return nil, fmt.Errorf("price lookup: %w", err)
		}
		if _, err := s.customShares(ctx, courtID, uuid.Nil, price, creatorID, req.CustomShares); err != nil {
			return nil, err
		}
	}

	resp, err := s.bookingSvc.createBooking(ctx, req.CreateBookingRequest, true)
	if err != nil {
		return nil, err
	}
	bookingID := uuid.MustParse(resp.BookingID)
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var shares []domain.SplitShare
	if len(req.CustomShares) > 0 {
		shares, err = s.customShares(ctx, b.CourtID, bookingID, b.TotalCents, creatorID, req.CustomShares)
		if err != nil {
			return nil, err
		}
	} else {
		shares = domain.EqualSplit(bookingID, b.TotalCents, creatorID, inviteeIDs)
	}

	deadline := b.End.Add(s.deadline)
	settlement := &domain.SplitSettlement{
		BookingID:          bookingID,
		CreatorID:          creatorID,
		HoldRef:            b.PaymentRef,
		HoldRemainingCents: b.TotalCents,
		Deadline:           deadline,
	}
	if err := s.splits.CreateShares(ctx, settlement, shares); err != nil {
		return nil, err
	}
	if err := s.bookings.MarkSplit(ctx, bookingID); err != nil {
		s.log.Warn("split flag update failed", "booking_id", bookingID, "err", err)
	}

	j, err := domain.NewJob(domain.JobSplitDeadline, bookingID, deadline, jobRef{BookingID: bookingID})
	if err == nil {
		if err := s.jobs.Enqueue(ctx, j); err != nil {
			s.log.Error("split deadline job enqueue failed", "booking_id", bookingID, "err", err)
		}
	}

	for _, sh := range shares {
		if sh.IsCreator {
			continue
		}
		s.notifyShare(ctx, sh, "split_invited")
	}
	return &SplitBookingResponse{Booking: resp, Shares: shares}, nil
}

func (s *SplitService) customShares(ctx context.Context, courtID, bookingID uuid.UUID, totalCents int64, creatorID uuid.UUID, raw []CustomShare) ([]domain.SplitShare, error) {
	policy, err := s.catalog.CourtPolicy(ctx, courtID)
	if err != nil {
		return nil, err
	}
	shares := make([]domain.SplitShare, 0, len(raw))
	for _, cs := range raw {
		pid, err := uuid.Parse(cs.ParticipantID)
		if err != nil {
			return nil, fmt.Errorf("invalid participant id %q: %w", cs.ParticipantID, domain.ErrValidation)
		}
		sh := domain.SplitShare{
			BookingID:     bookingID,
			ParticipantID: pid,
			AmountCents:   cs.AmountCents,
			Status:        domain.ShareInvited,
		}
		if pid == creatorID {
			sh.IsCreator = true
			sh.Status = domain.SharePending
		}
		shares = append(shares, sh)
	}
	if err := domain.ValidateShares(shares, totalCents, policy.MinShareCents); err != nil {
		return nil, err
	}
	return shares, nil
}

func (s *SplitService) ListShares(ctx context.Context, bookingID uuid.UUID) ([]domain.SplitShare, error) {
	return s.splits.ListShares(ctx, bookingID)
}

// PayShare charges a participant for their share and releases the same
// portion of the creator's guarantee hold.
func (s *SplitService) PayShare(ctx context.Context, bookingID, participantID uuid.UUID, method string) error {
	sh, err := s.splits.GetShare(ctx, bookingID, participantID)
	if err != nil {
		return err
	}
	switch sh.Status {
	case domain.ShareInvited, domain.SharePending, domain.ShareFailed:
	case domain.SharePaid:
		return nil
	default:
		return fmt.Errorf("share is %s: %w", sh.Status, domain.ErrStateTransition)
	}

	ref, err := s.gateway.Authorize(ctx, sh.AmountCents, method)
	if err != nil {
		sh.Status = domain.ShareFailed
		_ = s.splits.UpdateShare(ctx, sh)
		return fmt.Errorf("share authorization declined: %v: %w", err, domain.ErrPayment)
	}
	if err := s.gateway.Capture(ctx, ref); err != nil {
		sh.Status = domain.ShareFailed
		_ = s.splits.UpdateShare(ctx, sh)
		return fmt.Errorf("share capture failed: %v: %w", err, domain.ErrPayment)
	}
	sh.Status = domain.SharePaid
	sh.PaymentRef = ref
	if err := s.splits.UpdateShare(ctx, sh); err != nil {
		return err
	}

	settlement, err := s.splits.GetSettlement(ctx, bookingID)
	if err != nil {
		return err
	}
	// Shrink the creator hold by the paid portion; never below zero.
	release := sh.AmountCents
	if release > settlement.HoldRemainingCents {
		release = settlement.HoldRemainingCents
	}
	if release > 0 && settlement.HoldRef != "" {
		if err := s.gateway.Refund(ctx, settlement.HoldRef, release); err != nil {
			s.log.Error("hold release failed", "booking_id", bookingID, "amount_cents", release, "err", err)
		} else {
			settlement.HoldRemainingCents -= release
		}
	}
	if err := s.splits.UpdateSettlement(ctx, settlement); err != nil {
		return err
	}

	b, err := s.bookings.GetByID(ctx, bookingID)
	if err == nil {
		if evt, err := domain.NewEvent(domain.RKSharePaid, b.CourtID, map[string]any{
			"booking_id": bookingID.String(), "participant_id": participantID.String(), "amount_cents": sh.AmountCents,
		}); err == nil {
			if err := s.publisher.Publish(ctx, evt); err != nil {
				s.log.Error("event publish failed", "key", domain.RKSharePaid, "err", err)
			}
		}
	}
	return nil
}

// CancelShare backs a participant out before paying. Their amount is
// redistributed over the remaining unpaid shares so the total is conserved,
// and those participants are told their new amount.
func (s *SplitService) CancelShare(ctx context.Context, bookingID, participantID uuid.UUID) error {
	shares, err := s.splits.ListShares(ctx, bookingID)
	if err != nil {
		return err
	}
	changed, err := domain.Redistribute(shares, participantID)
	if err != nil {
		return err
	}
	if err := s.splits.UpdateShares(ctx, changed); err != nil {
		return err
	}
	for _, sh := range changed {
		if sh.ParticipantID == participantID || sh.Status == domain.ShareCancelled {
			continue
		}
		s.notifyShare(ctx, sh, "split_share_updated")
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err == nil {
		if evt, err := domain.NewEvent(domain.RKShareRedistributed, b.CourtID, map[string]any{
			"booking_id": bookingID.String(), "cancelled_participant": participantID.String(),
		}); err == nil {
			if err := s.publisher.Publish(ctx, evt); err != nil {
				s.log.Error("event publish failed", "key", domain.RKShareRedistributed, "err", err)
			}
		}
	}
	return nil
}

// EnforceDeadline is the split-payment-deadline job effect. Unpaid shares
// past the deadline are charged to the creator by capturing the remaining
// hold. Gateway failures bubble up so the job engine retries with backoff;
// once retries are exhausted the customer notice and escalation fire. The
// debt is never silently written off and the booking itself is untouched.
func (s *SplitService) EnforceDeadline(ctx context.Context, bookingID uuid.UUID) error {
	settlement, err := s.splits.GetSettlement(ctx, bookingID)
	if err != nil {
		return err
	}
	if settlement.Settled {
		return nil
	}
	shares, err := s.splits.ListShares(ctx, bookingID)
	if err != nil {
		return err
	}
	var unpaidCents int64
	for i := range shares {
		sh := &shares[i]
		if sh.IsCreator {
			continue
		}
		if sh.Status == domain.ShareInvited || sh.Status == domain.SharePending || sh.Status == domain.ShareFailed {
			unpaidCents += sh.AmountCents
		}
	}

	if settlement.HoldRemainingCents > 0 && settlement.HoldRef != "" {
		if err := s.gateway.Capture(ctx, settlement.HoldRef); err != nil {
			s.notifyUser(ctx, settlement.CreatorID, "high", map[string]any{
				"type": "split_charge_failed", "booking_id": bookingID.String(),
				"amount_cents": settlement.HoldRemainingCents,
				"grace_until":  s.now().Add(s.grace).Format(time.RFC3339),
			})
			return fmt.Errorf("charging creator remainder: %v: %w", err, domain.ErrPayment)
		}
	}

	for i := range shares {
		sh := &shares[i]
		if sh.IsCreator || sh.Status == domain.SharePaid || sh.Status == domain.ShareCancelled {
			continue
		}
		sh.Status = domain.ShareFailed
	}
	if err := s.splits.UpdateShares(ctx, shares); err != nil {
		return err
	}
	settlement.Settled = true
	settlement.HoldRemainingCents = 0
	if err := s.splits.UpdateSettlement(ctx, settlement); err != nil {
		return err
	}
	if unpaidCents > 0 {
		s.notifyUser(ctx, settlement.CreatorID, "normal", map[string]any{
			"type": "split_remainder_charged", "booking_id": bookingID.String(), "amount_cents": unpaidCents,
		})
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err == nil {
		if evt, err := domain.NewEvent(domain.RKSplitSettled, b.CourtID, map[string]any{
			"booking_id": bookingID.String(),
		}); err == nil {
			if err := s.publisher.Publish(ctx, evt); err != nil {
				s.log.Error("event publish failed", "key", domain.RKSplitSettled, "err", err)
			}
		}
	}
	return nil
}

func (s *SplitService) notifyShare(ctx context.Context, sh domain.SplitShare, kind string) {
	s.notifyUser(ctx, sh.ParticipantID, "normal", map[string]any{
		"type": kind, "booking_id": sh.BookingID.String(), "amount_cents": sh.AmountCents,
	})
}

func (s *SplitService) notifyUser(ctx context.Context, userID uuid.UUID, urgency string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, urgency, payload); err != nil {
		s.log.Warn("notify failed", "user_id", userID, "err", err)
	}
}
