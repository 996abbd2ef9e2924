package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/ports"
)

// Config carries the engine-level policy knobs. Per-court policy comes
// from the catalog snapshot at call time.
type Config struct {
	LockTTL             time.Duration
	ConfirmationTimeout time.Duration
	ReminderOffsets     []time.Duration
	WaitlistHoldTTL     time.Duration
	SplitDeadlineAfter  time.Duration
	StaleAuthGrace      time.Duration
}

// promoter is what the command processor needs from the waitlist manager
// when a slot frees up.
type promoter interface {
	PromoteHead(ctx context.Context, slot domain.TimeSlot) error
	ConvertHold(ctx context.Context, customerID uuid.UUID, slot domain.TimeSlot) error
}

// BookingService is the top-level command processor. It is the only writer
// of booking rows; every mutation runs through the lifecycle state machine.
type BookingService struct {
	bookings  ports.BookingRepository
	idem      ports.IdempotencyRepository
	jobs      ports.JobRepository
	waitlists ports.WaitlistRepository
	splits    ports.SplitRepository
	catalog   ports.Catalog
	gateway   ports.PaymentGateway
	notifier  ports.Notifier
	publisher ports.EventPublisher
	broadcast ports.Broadcaster
	locker    ports.SlotLocker
	cache     *redis.Client
	processed ports.ProcessedEventRepository
	promoter  promoter
	cfg       Config
	log       *slog.Logger

	now func() time.Time
}

type BookingDeps struct {
	Bookings    ports.BookingRepository
	Idempotency ports.IdempotencyRepository
	Jobs        ports.JobRepository
	Waitlists   ports.WaitlistRepository
	Splits      ports.SplitRepository
	Catalog     ports.Catalog
	Gateway     ports.PaymentGateway
	Notifier    ports.Notifier
	Publisher   ports.EventPublisher
	Broadcaster ports.Broadcaster
	Locker      ports.SlotLocker
	Cache       *redis.Client
	Processed   ports.ProcessedEventRepository
}

func NewBookingService(d BookingDeps, cfg Config, log *slog.Logger) *BookingService {
	return &BookingService{
		bookings:  d.Bookings,
		idem:      d.Idempotency,
		jobs:      d.Jobs,
		waitlists: d.Waitlists,
		splits:    d.Splits,
		catalog:   d.Catalog,
		gateway:   d.Gateway,
		notifier:  d.Notifier,
		publisher: d.Publisher,
		broadcast: d.Broadcaster,
		locker:    d.Locker,
		cache:     d.Cache,
		processed: d.Processed,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetPromoter wires the waitlist manager in after construction; both live
// in this package and reference each other.
func (s *BookingService) SetPromoter(p promoter) { s.promoter = p }

type CreateBookingRequest struct {
	CourtID        string    `json:"court_id"`
	CustomerID     string    `json:"customer_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	IdempotencyKey string    `json:"idempotency_key"`
	PaymentMethod  string    `json:"payment_method"`
}

type BookingResponse struct {
	BookingID  string `json:"booking_id"`
	Status     string `json:"status"`
	TotalCents int64  `json:"total_cents"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

func toResponse(b *domain.Booking) *BookingResponse {
	return &BookingResponse{
		BookingID:  b.ID.String(),
		Status:     string(b.Status),
		TotalCents: b.TotalCents,
		Start:      b.Start.Format(time.RFC3339),
		End:        b.End.Format(time.RFC3339),
	}
}

func payloadHash(v any) string {
	raw, _ := json.Marshal(v)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// CreateBooking reserves a slot for a customer. The commit sequence is:
// lock, pre-check the ledger, persist a transient PENDING_PAYMENT row,
// authorize payment, then commit to a blocking status with a locked
// overlap re-check. A crash between authorization and commit is cleaned up
// by the stale-authorization job after a short grace period.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*BookingResponse, error) {
	return s.createBooking(ctx, req, false)
}

// createBooking carries the shared create path. With deferCapture the
// authorization stays an open hold after the commit: split bookings keep
// the full amount held and settle it share by share, so capturing here
// would charge the creator a second time at the deadline.
func (s *BookingService) createBooking(ctx context.Context, req CreateBookingRequest, deferCapture bool) (*BookingResponse, error) {
	courtID, err := uuid.Parse(req.CourtID)
	if err != nil {
		return nil, fmt.Errorf("invalid court id: %w", domain.ErrValidation)
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("invalid customer id: %w", domain.ErrValidation)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required: %w", domain.ErrValidation)
	}
	slot, err := domain.NewTimeSlot(courtID, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	hash := payloadHash(req)
	if existingID, storedHash, err := s.idem.Get(ctx, req.IdempotencyKey); err == nil {
		if storedHash != hash {
			return nil, fmt.Errorf("idempotency key reused with different payload: %w", domain.ErrValidation)
		}
		b, err := s.bookings.GetByID(ctx, existingID)
		if err != nil {
			return nil, err
		}
		return toResponse(b), nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	policy, err := s.catalog.CourtPolicy(ctx, courtID)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	if err := policy.CheckWindow(slot, s.now()); err != nil {
		return nil, err
	}
	price, err := s.catalog.PriceCents(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("price lookup: %w", err)
	}

	release, err := s.acquire(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.checkAvailability(ctx, slot, customerID, uuid.Nil); err != nil {
		return nil, err
	}

	b := &domain.Booking{
		ID:               uuid.New(),
		CourtID:          courtID,
		CustomerID:       customerID,
		Start:            slot.Start,
		End:              slot.End,
		Status:           domain.BookingPendingPayment,
		ConfirmationMode: policy.ConfirmationMode,
		TotalCents:       price,
		Policy:           policy.Cancellation,
		Version:          1,
		CreatedAt:        s.now(),
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	s.enqueue(ctx, domain.JobStaleAuthRelease, b.ID, s.now().Add(s.cfg.StaleAuthGrace), jobRef{BookingID: b.ID})

	ref, err := s.gateway.Authorize(ctx, price, req.PaymentMethod)
	if err != nil {
		_, _ = s.bookings.UpdateStatus(ctx, b.ID, domain.BookingExpired, b.Version)
		return nil, fmt.Errorf("authorization declined: %v: %w", err, domain.ErrPayment)
	}
	if err := s.bookings.SetPaymentRef(ctx, b.ID, ref); err != nil {
		s.refund(ctx, ref, price, "orphaned authorization")
		return nil, err
	}

	target := domain.BookingPendingConfirmation
	if policy.ConfirmationMode == domain.ConfirmInstant {
		target = domain.BookingConfirmed
	}
	committed, err := s.bookings.CommitStatus(ctx, b.ID, target, ref, b.Version,
		&ports.IdemRecord{Key: req.IdempotencyKey, PayloadHash: hash})
	if err != nil {
		s.refund(ctx, ref, price, "commit lost the slot")
		_, _ = s.bookings.UpdateStatus(ctx, b.ID, domain.BookingExpired, b.Version)
		return nil, err
	}

	if target == domain.BookingConfirmed && !deferCapture {
		if err := s.gateway.Capture(ctx, ref); err != nil {
			s.compensate(ctx, committed, "capture failed at creation")
			return nil, fmt.Errorf("capture failed: %v: %w", err, domain.ErrPayment)
		}
	}

	_ = s.jobs.CancelByRef(ctx, domain.JobStaleAuthRelease, b.ID)
	s.scheduleLifecycle(ctx, committed)

	if s.promoter != nil {
		if err := s.promoter.ConvertHold(ctx, customerID, slot); err != nil {
			s.log.Warn("waitlist cleanup failed", "booking_id", b.ID, "err", err)
		}
	}

	s.emit(ctx, domain.RKBookingCreated, committed)
	return toResponse(committed), nil
}

// CreateManualBooking is the owner-initiated path with no payment. It is
// still conflict-checked and still lands on the ledger as CONFIRMED.
func (s *BookingService) CreateManualBooking(ctx context.Context, req CreateBookingRequest) (*BookingResponse, error) {
	courtID, err := uuid.Parse(req.CourtID)
	if err != nil {
		return nil, fmt.Errorf("invalid court id: %w", domain.ErrValidation)
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("invalid customer id: %w", domain.ErrValidation)
	}
	slot, err := domain.NewTimeSlot(courtID, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	policy, err := s.catalog.CourtPolicy(ctx, courtID)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}

	release, err := s.acquire(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.checkAvailability(ctx, slot, customerID, uuid.Nil); err != nil {
		return nil, err
	}

	b := &domain.Booking{
		ID:               uuid.New(),
		CourtID:          courtID,
		CustomerID:       customerID,
		Start:            slot.Start,
		End:              slot.End,
		Status:           domain.BookingPendingPayment,
		ConfirmationMode: policy.ConfirmationMode,
		Policy:           policy.Cancellation,
		Version:          1,
		CreatedAt:        s.now(),
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, err
	}
	committed, err := s.bookings.CommitStatus(ctx, b.ID, domain.BookingConfirmed, "", b.Version, nil)
	if err != nil {
		_, _ = s.bookings.UpdateStatus(ctx, b.ID, domain.BookingExpired, b.Version)
		return nil, err
	}
	s.enqueue(ctx, domain.JobBookingComplete, committed.ID, committed.End, jobRef{BookingID: committed.ID})

	s.emit(ctx, domain.RKBookingCreated, committed)
	return toResponse(committed), nil
}

// ConfirmBooking is the owner approving a PENDING_CONFIRMATION booking.
// The held payment is captured; the now-superseded timeout and reminder
// jobs are cancelled rather than left to race.
func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID uuid.UUID) (*BookingResponse, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingPendingConfirmation {
		return nil, fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, domain.ErrStateTransition)
	}
	confirmed, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingConfirmed, b.Version)
	if err != nil {
		return nil, err
	}
	_ = s.jobs.CancelByRef(ctx, domain.JobConfirmationTimeout, b.ID)
	_ = s.jobs.CancelByRef(ctx, domain.JobConfirmationReminder, b.ID)

	// A split booking's authorization is the guarantee hold; the split
	// settlement captures it, not the confirmation.
	if b.PaymentRef != "" && !b.Split {
		if err := s.gateway.Capture(ctx, b.PaymentRef); err != nil {
			s.compensate(ctx, confirmed, "capture failed at confirmation")
			return nil, fmt.Errorf("capture failed: %v: %w", err, domain.ErrPayment)
		}
	}
	s.notify(ctx, b.CustomerID, "normal", map[string]any{
		"type": "booking_confirmed", "booking_id": b.ID.String(),
	})
	s.emit(ctx, domain.RKBookingConfirmed, confirmed)
	return toResponse(confirmed), nil
}

// RejectBooking is the owner declining a pending booking: full refund,
// slot released immediately.
func (s *BookingService) RejectBooking(ctx context.Context, bookingID uuid.UUID) (*BookingResponse, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingPendingConfirmation {
		return nil, fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, domain.ErrStateTransition)
	}
	rejected, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingRejected, b.Version)
	if err != nil {
		return nil, err
	}
	s.cancelLifecycleJobs(ctx, b.ID)
	if b.PaymentRef != "" {
		s.refund(ctx, b.PaymentRef, b.TotalCents, "booking rejected")
	}
	s.notify(ctx, b.CustomerID, "high", map[string]any{
		"type": "booking_rejected", "booking_id": b.ID.String(),
	})
	s.emit(ctx, domain.RKBookingRejected, rejected)
	s.slotFreed(ctx, rejected.Slot())
	return toResponse(rejected), nil
}

// CancelBooking cancels a CONFIRMED booking. The refund follows the policy
// snapshot taken at creation; owner-initiated cancellations always refund
// in full. Split bookings settle every participant.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID uuid.UUID, ownerInitiated bool) (*BookingResponse, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingConfirmed {
		return nil, fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, domain.ErrStateTransition)
	}
	cancelled, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingCancelled, b.Version)
	if err != nil {
		return nil, err
	}
	s.cancelLifecycleJobs(ctx, b.ID)

	if b.Split {
		if err := s.settleSplitOnCancel(ctx, b); err != nil {
			s.log.Error("split settlement on cancel failed", "booking_id", b.ID, "err", err)
		}
	} else if b.PaymentRef != "" {
		refund := b.Policy.RefundCents(b.TotalCents, s.now(), b.Start, ownerInitiated)
		if refund > 0 {
			s.refund(ctx, b.PaymentRef, refund, "booking cancelled")
		}
	}
	s.notify(ctx, b.CustomerID, "normal", map[string]any{
		"type": "booking_cancelled", "booking_id": b.ID.String(),
	})
	s.emit(ctx, domain.RKBookingCancelled, cancelled)
	s.slotFreed(ctx, cancelled.Slot())
	return toResponse(cancelled), nil
}

// ModifyBooking moves a blocking booking to a new range on the same court.
// The new slot is conflict-checked the same way a fresh booking is. A
// cheaper slot refunds the difference; a pricier one is rejected so the
// customer rebooks instead of the engine juggling a second authorization.
func (s *BookingService) ModifyBooking(ctx context.Context, bookingID uuid.UUID, newStart, newEnd time.Time) (*BookingResponse, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.IsBlocking() {
		return nil, fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, domain.ErrStateTransition)
	}
	slot, err := domain.NewTimeSlot(b.CourtID, newStart, newEnd)
	if err != nil {
		return nil, err
	}
	policy, err := s.catalog.CourtPolicy(ctx, b.CourtID)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	if err := policy.CheckWindow(slot, s.now()); err != nil {
		return nil, err
	}
	price, err := s.catalog.PriceCents(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("price lookup: %w", err)
	}
	if price > b.TotalCents {
		return nil, fmt.Errorf("new slot costs more; cancel and rebook: %w", domain.ErrValidation)
	}

	release, err := s.acquire(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.checkAvailability(ctx, slot, b.CustomerID, b.ID); err != nil {
		return nil, err
	}

	oldSlot := b.Slot()
	modified, err := s.bookings.UpdateSlot(ctx, b.ID, slot, price, b.Version)
	if err != nil {
		return nil, err
	}
	if diff := b.TotalCents - price; diff > 0 && b.PaymentRef != "" {
		s.refund(ctx, b.PaymentRef, diff, "modified to cheaper slot")
	}

	_ = s.jobs.CancelByRef(ctx, domain.JobBookingComplete, b.ID)
	s.enqueue(ctx, domain.JobBookingComplete, b.ID, modified.End, jobRef{BookingID: b.ID})

	s.emit(ctx, domain.RKBookingModified, modified)
	s.slotFreed(ctx, oldSlot)
	return toResponse(modified), nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return s.bookings.GetByID(ctx, bookingID)
}

// ExpireBooking is the confirmation-timeout job effect. Idempotent at the
// business level: anything other than PENDING_CONFIRMATION is a no-op, and
// a job firing early leaves the booking pending.
func (s *BookingService) ExpireBooking(ctx context.Context, bookingID uuid.UUID) error {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if b.Status != domain.BookingPendingConfirmation {
		return nil
	}
	if !b.CreatedAt.IsZero() && s.now().Before(b.CreatedAt.Add(s.cfg.ConfirmationTimeout)) {
		return nil
	}
	expired, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingExpired, b.Version)
	if err != nil {
		return err
	}
	if b.PaymentRef != "" {
		s.refund(ctx, b.PaymentRef, b.TotalCents, "confirmation timed out")
	}
	s.notify(ctx, b.CustomerID, "high", map[string]any{
		"type": "booking_expired", "booking_id": b.ID.String(),
	})
	s.emit(ctx, domain.RKBookingExpired, expired)
	s.slotFreed(ctx, expired.Slot())
	return nil
}

// CompleteBooking marks a CONFIRMED booking whose end time passed. Pure
// bookkeeping; no-op in any other state.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID uuid.UUID) error {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if b.Status != domain.BookingConfirmed || s.now().Before(b.End) {
		return nil
	}
	completed, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingCompleted, b.Version)
	if err != nil {
		return err
	}
	s.emit(ctx, domain.RKBookingCompleted, completed)
	return nil
}

// ReleaseStaleAuth cleans up a booking stranded in PENDING_PAYMENT past
// the grace period: the authorization, if one was recorded, is released.
func (s *BookingService) ReleaseStaleAuth(ctx context.Context, bookingID uuid.UUID) error {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if b.Status != domain.BookingPendingPayment {
		return nil
	}
	if b.PaymentRef != "" {
		s.refund(ctx, b.PaymentRef, b.TotalCents, "stale authorization")
	}
	_, err = s.bookings.UpdateStatus(ctx, b.ID, domain.BookingExpired, b.Version)
	return err
}

// RemindConfirmation nudges the customer while the owner decision is
// still outstanding. No-op once the booking left PENDING_CONFIRMATION.
func (s *BookingService) RemindConfirmation(ctx context.Context, bookingID uuid.UUID) error {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if b.Status != domain.BookingPendingConfirmation {
		return nil
	}
	s.notify(ctx, b.CustomerID, "low", map[string]any{
		"type": "confirmation_pending", "booking_id": b.ID.String(),
	})
	return nil
}

// --- internals -------------------------------------------------------------

// acquire takes the slot's lock keys. When the substrate is down the call
// degrades to lock-less operation; the ledger's FOR UPDATE re-check still
// guarantees correctness, just with more commit-time rejections.
func (s *BookingService) acquire(ctx context.Context, slot domain.TimeSlot) (func(), error) {
	release, err := s.locker.Acquire(ctx, slot.LockKeys(), s.cfg.LockTTL)
	if err == nil {
		return release, nil
	}
	if errors.Is(err, domain.ErrLockUnavailable) {
		s.log.Warn("lock substrate unavailable, relying on ledger check", "court_id", slot.CourtID)
		return func() {}, nil
	}
	return nil, err
}

// checkAvailability rejects when the ledger shows an overlap or when a
// waitlisted customer currently holds the slot.
func (s *BookingService) checkAvailability(ctx context.Context, slot domain.TimeSlot, customerID, exclude uuid.UUID) error {
	if hold, err := s.waitlists.ActiveHold(ctx, slot, s.now()); err == nil && hold != nil && hold.CustomerID != customerID {
		return fmt.Errorf("slot is held for a waitlisted customer: %w", domain.ErrConflict)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	taken, err := s.bookings.HasOverlap(ctx, slot, exclude)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("court %s is booked for %s-%s: %w",
			slot.CourtID, slot.Start.Format(time.RFC3339), slot.End.Format(time.RFC3339), domain.ErrConflict)
	}
	return nil
}

type jobRef struct {
	BookingID uuid.UUID `json:"booking_id"`
}

func (s *BookingService) enqueue(ctx context.Context, t domain.JobType, refID uuid.UUID, dueAt time.Time, payload any) {
	j, err := domain.NewJob(t, refID, dueAt, payload)
	if err != nil {
		s.log.Error("job payload marshal failed", "type", t, "err", err)
		return
	}
	if err := s.jobs.Enqueue(ctx, j); err != nil {
		s.log.Error("job enqueue failed", "type", t, "ref_id", refID, "err", err)
	}
}

// scheduleLifecycle enqueues the jobs a fresh blocking booking depends on.
func (s *BookingService) scheduleLifecycle(ctx context.Context, b *domain.Booking) {
	now := s.now()
	if b.Status == domain.BookingPendingConfirmation {
		deadline := now.Add(s.cfg.ConfirmationTimeout)
		s.enqueue(ctx, domain.JobConfirmationTimeout, b.ID, deadline, jobRef{BookingID: b.ID})
		for _, off := range s.cfg.ReminderOffsets {
			at := deadline.Add(-off)
			if at.After(now) {
				s.enqueue(ctx, domain.JobConfirmationReminder, b.ID, at, jobRef{BookingID: b.ID})
			}
		}
	}
	s.enqueue(ctx, domain.JobBookingComplete, b.ID, b.End, jobRef{BookingID: b.ID})
}

func (s *BookingService) cancelLifecycleJobs(ctx context.Context, bookingID uuid.UUID) {
	for _, t := range []domain.JobType{
		domain.JobConfirmationTimeout,
		domain.JobConfirmationReminder,
		domain.JobBookingComplete,
		domain.JobSplitDeadline,
	} {
		if err := s.jobs.CancelByRef(ctx, t, bookingID); err != nil {
			s.log.Warn("job cancel failed", "type", t, "booking_id", bookingID, "err", err)
		}
	}
}

// compensate rolls a just-confirmed booking back after a capture failure:
// cancel, refund the authorization in full, tell the customer.
func (s *BookingService) compensate(ctx context.Context, b *domain.Booking, reason string) {
	cancelled, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingCancelled, b.Version)
	if err != nil {
		s.log.Error("compensating cancel failed", "booking_id", b.ID, "err", err)
		return
	}
	if b.PaymentRef != "" {
		s.refund(ctx, b.PaymentRef, b.TotalCents, reason)
	}
	s.notify(ctx, b.CustomerID, "high", map[string]any{
		"type": "booking_payment_failed", "booking_id": b.ID.String(), "reason": reason,
	})
	s.emit(ctx, domain.RKBookingCancelled, cancelled)
	s.slotFreed(ctx, cancelled.Slot())
}

func (s *BookingService) settleSplitOnCancel(ctx context.Context, b *domain.Booking) error {
	shares, err := s.splits.ListShares(ctx, b.ID)
	if err != nil {
		return err
	}
	for i := range shares {
		sh := &shares[i]
		if sh.Status != domain.SharePaid {
			continue
		}
		// Each paid participant goes back to their own payment method.
		s.refund(ctx, sh.PaymentRef, sh.AmountCents, "split booking cancelled")
		sh.Status = domain.ShareRefunded
		if err := s.splits.UpdateShare(ctx, sh); err != nil {
			s.log.Error("share refund record failed", "booking_id", b.ID, "participant", sh.ParticipantID, "err", err)
		}
	}
	settlement, err := s.splits.GetSettlement(ctx, b.ID)
	if err != nil {
		return err
	}
	if !settlement.Settled && settlement.HoldRemainingCents > 0 {
		s.refund(ctx, settlement.HoldRef, settlement.HoldRemainingCents, "split booking cancelled")
		settlement.HoldRemainingCents = 0
	}
	settlement.Settled = true
	return s.splits.UpdateSettlement(ctx, settlement)
}

func (s *BookingService) refund(ctx context.Context, ref string, amountCents int64, reason string) {
	if err := s.gateway.Refund(ctx, ref, amountCents); err != nil {
		s.log.Error("refund failed", "ref", ref, "amount_cents", amountCents, "reason", reason, "err", err)
	}
}

func (s *BookingService) notify(ctx context.Context, userID uuid.UUID, urgency string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, urgency, payload); err != nil {
		s.log.Warn("notify failed", "user_id", userID, "err", err)
	}
}

// emit publishes the outbound event and fans it out to live observers.
// Neither path may fail the transaction that already committed.
func (s *BookingService) emit(ctx context.Context, key string, b *domain.Booking) {
	evt, err := domain.EventFromBooking(key, b)
	if err != nil {
		s.log.Error("event build failed", "key", key, "err", err)
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Error("event publish failed", "key", key, "booking_id", b.ID, "err", err)
	}
	if s.broadcast != nil {
		s.broadcast.Broadcast(evt)
	}
	s.invalidateCache(ctx, b.CourtID)
}

func (s *BookingService) invalidateCache(ctx context.Context, courtID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, fmt.Sprintf("courts:slots:%s", courtID)).Err(); err != nil {
		s.log.Warn("cache invalidation failed", "court_id", courtID, "err", err)
	}
}

// slotFreed runs the waitlist promotion hook after a freeing transition.
// An owner-cancelled slot defaults to releasing to the waitlist.
func (s *BookingService) slotFreed(ctx context.Context, slot domain.TimeSlot) {
	if s.promoter == nil {
		return
	}
	policy, err := s.catalog.CourtPolicy(ctx, slot.CourtID)
	if err != nil {
		s.log.Warn("catalog lookup for promotion failed", "court_id", slot.CourtID, "err", err)
		return
	}
	if !policy.WaitlistEnabled {
		return
	}
	if err := s.promoter.PromoteHead(ctx, slot); err != nil {
		s.log.Error("waitlist promotion failed", "court_id", slot.CourtID, "err", err)
	}
}
