package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/ports"
)

// WaitlistService queues customers for full slots and serves them strictly
// in join order. It is the only writer of waitlist entries.
type WaitlistService struct {
	entries   ports.WaitlistRepository
	bookings  ports.BookingRepository
	jobs      ports.JobRepository
	notifier  ports.Notifier
	publisher ports.EventPublisher
	broadcast ports.Broadcaster
	holdTTL   time.Duration
	log       *slog.Logger

	now func() time.Time
}

func NewWaitlistService(
	entries ports.WaitlistRepository,
	bookings ports.BookingRepository,
	jobs ports.JobRepository,
	notifier ports.Notifier,
	publisher ports.EventPublisher,
	broadcast ports.Broadcaster,
	holdTTL time.Duration,
	log *slog.Logger,
) *WaitlistService {
	return &WaitlistService{
		entries:   entries,
		bookings:  bookings,
		jobs:      jobs,
		notifier:  notifier,
		publisher: publisher,
		broadcast: broadcast,
		holdTTL:   holdTTL,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type JoinWaitlistRequest struct {
	CourtID    string    `json:"court_id"`
	CustomerID string    `json:"customer_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type JoinWaitlistResponse struct {
	EntryID  string `json:"entry_id"`
	Position int    `json:"position"`
}

// Join appends the customer to the slot's queue. Only full slots accept
// waitlist entries; an open slot should simply be booked.
func (s *WaitlistService) Join(ctx context.Context, req JoinWaitlistRequest) (*JoinWaitlistResponse, error) {
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
	if slot.Start.Before(s.now()) {
		return nil, fmt.Errorf("slot already started: %w", domain.ErrValidation)
	}
	taken, err := s.bookings.HasOverlap(ctx, slot, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if !taken {
		return nil, fmt.Errorf("slot is available, book it directly: %w", domain.ErrValidation)
	}

	e := &domain.WaitlistEntry{
		ID:         uuid.New(),
		CourtID:    courtID,
		Start:      slot.Start,
		End:        slot.End,
		CustomerID: customerID,
	}
	position, err := s.entries.Append(ctx, e)
	if err != nil {
		return nil, err
	}

	if evt, err := domain.NewEvent(domain.RKWaitlistJoined, courtID, map[string]any{
		"entry_id": e.ID.String(), "customer_id": customerID.String(), "position": position,
	}); err == nil {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.log.Error("event publish failed", "key", domain.RKWaitlistJoined, "err", err)
		}
		if s.broadcast != nil {
			s.broadcast.Broadcast(evt)
		}
	}
	return &JoinWaitlistResponse{EntryID: e.ID.String(), Position: position}, nil
}

// Withdraw removes the customer's entry. If the entry was holding the
// freed slot, the hold passes to the next in line.
func (s *WaitlistService) Withdraw(ctx context.Context, entryID, customerID uuid.UUID) error {
	e, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if e.CustomerID != customerID {
		return fmt.Errorf("entry %s does not belong to customer: %w", entryID, domain.ErrNotFound)
	}
	hadHold := e.HoldActive(s.now())
	if err := s.entries.Delete(ctx, entryID); err != nil {
		return err
	}
	_ = s.jobs.CancelByRef(ctx, domain.JobWaitlistHoldExpiry, entryID)

	if evt, err := domain.NewEvent(domain.RKWaitlistWithdrawn, e.CourtID, map[string]any{
		"entry_id": entryID.String(),
	}); err == nil {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.log.Error("event publish failed", "key", domain.RKWaitlistWithdrawn, "err", err)
		}
	}
	if hadHold {
		return s.PromoteHead(ctx, e.Slot())
	}
	return nil
}

func (s *WaitlistService) List(ctx context.Context, slot domain.TimeSlot) ([]domain.WaitlistEntry, error) {
	return s.entries.ListBySlot(ctx, slot)
}

// PromoteHead offers a freed slot to the earliest-joined entry: a
// time-bounded hold plus a notification to that customer only. FIFO, no
// priority overrides.
func (s *WaitlistService) PromoteHead(ctx context.Context, slot domain.TimeSlot) error {
	head, err := s.entries.Head(ctx, slot)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if head.HoldActive(s.now()) {
		return nil
	}
	expiry := s.now().Add(s.holdTTL)
	if err := s.entries.SetHold(ctx, head.ID, expiry); err != nil {
		return err
	}
	j, err := domain.NewJob(domain.JobWaitlistHoldExpiry, head.ID, expiry, map[string]string{"entry_id": head.ID.String()})
	if err == nil {
		if err := s.jobs.Enqueue(ctx, j); err != nil {
			s.log.Error("hold expiry job enqueue failed", "entry_id", head.ID, "err", err)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, head.CustomerID, "high", map[string]any{
			"type": "slot_available", "entry_id": head.ID.String(),
			"court_id": head.CourtID.String(), "hold_expires_at": expiry.Format(time.RFC3339),
		}); err != nil {
			s.log.Warn("hold notification failed", "entry_id", head.ID, "err", err)
		}
	}
	if evt, err := domain.NewEvent(domain.RKWaitlistOffered, head.CourtID, map[string]any{
		"entry_id": head.ID.String(), "customer_id": head.CustomerID.String(),
	}); err == nil {
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.log.Error("event publish failed", "key", domain.RKWaitlistOffered, "err", err)
		}
		if s.broadcast != nil {
			s.broadcast.Broadcast(evt)
		}
	}
	return nil
}

// ExpireHold advances the queue when a hold lapses unconfirmed. Business
// idempotent: a converted or withdrawn entry is simply gone.
func (s *WaitlistService) ExpireHold(ctx context.Context, entryID uuid.UUID) error {
	e, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if e.HoldExpiry == nil || s.now().Before(*e.HoldExpiry) {
		return nil
	}
	if err := s.entries.Delete(ctx, entryID); err != nil {
		return err
	}
	// Only pass the hold on while the slot is actually still free.
	taken, err := s.bookings.HasOverlap(ctx, e.Slot(), uuid.Nil)
	if err != nil {
		return err
	}
	if taken {
		return nil
	}
	return s.PromoteHead(ctx, e.Slot())
}

// ConvertHold is called when a customer books a slot: their entry for that
// slot is consumed and any of their entries overlapping the booked range
// are removed so they cannot double-commit.
func (s *WaitlistService) ConvertHold(ctx context.Context, customerID uuid.UUID, slot domain.TimeSlot) error {
	if err := s.entries.DeleteOverlapping(ctx, customerID, slot); err != nil {
		return err
	}
	return nil
}

// RunPurgeLoop drops entries whose slot start has passed. Runs until the
// context is cancelled.
func (s *WaitlistService) RunPurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("waitlist purge worker started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("waitlist purge worker stopped")
			return
		case <-ticker.C:
			n, err := s.entries.PurgePast(ctx, s.now())
			if err != nil {
				s.log.Error("waitlist purge failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("purged expired waitlist entries", "count", n)
			}
		}
	}
}
