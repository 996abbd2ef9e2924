package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

// GatewayNotice is an asynchronous authorize/capture outcome pushed by the
// payment gateway. Duplicate deliveries are safe no-ops.
type GatewayNotice struct {
	EventID   string `json:"event_id"`
	Kind      string `json:"kind"` // authorize | capture
	Ref       string `json:"ref"`
	BookingID string `json:"booking_id"`
	Succeeded bool   `json:"succeeded"`
	Reason    string `json:"reason,omitempty"`
}

// HandleGatewayNotice processes one gateway confirmation idempotently. A
// late capture failure on a booking already shown as CONFIRMED triggers
// the compensating cancel-and-refund flow plus a customer notice — never a
// silent state mismatch. The event id is recorded only after the effect
// lands; until then a redelivery re-runs the effect, which is a state-
// checked no-op once it has applied.
func (s *BookingService) HandleGatewayNotice(ctx context.Context, n GatewayNotice) error {
	if n.EventID == "" {
		return fmt.Errorf("gateway notice without event id: %w", domain.ErrValidation)
	}
	seen, err := s.processed.Seen(ctx, n.EventID)
	if err != nil {
		return err
	}
	if seen {
		s.log.Debug("duplicate gateway notice ignored", "event_id", n.EventID)
		return nil
	}
	if err := s.applyGatewayNotice(ctx, n); err != nil {
		return err
	}
	if _, err := s.processed.MarkProcessed(ctx, n.EventID, n.Kind); err != nil {
		return err
	}
	return nil
}

func (s *BookingService) applyGatewayNotice(ctx context.Context, n GatewayNotice) error {
	if n.Succeeded {
		return nil
	}

	bookingID, err := uuid.Parse(n.BookingID)
	if err != nil {
		return fmt.Errorf("gateway notice with invalid booking id: %w", domain.ErrValidation)
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("gateway failure for unknown booking", "booking_id", n.BookingID, "event_id", n.EventID)
			return nil
		}
		return err
	}

	switch n.Kind {
	case "capture":
		if b.Status != domain.BookingConfirmed {
			return nil
		}
		s.log.Warn("late capture failure, compensating", "booking_id", b.ID, "reason", n.Reason)
		s.compensate(ctx, b, "gateway reported capture failure")
	case "authorize":
		if b.Status != domain.BookingPendingConfirmation && b.Status != domain.BookingPendingPayment {
			return nil
		}
		expired, err := s.bookings.UpdateStatus(ctx, b.ID, domain.BookingExpired, b.Version)
		if err != nil {
			return err
		}
		s.cancelLifecycleJobs(ctx, b.ID)
		s.notify(ctx, b.CustomerID, "high", map[string]any{
			"type": "booking_payment_failed", "booking_id": b.ID.String(), "reason": n.Reason,
		})
		s.emit(ctx, domain.RKBookingExpired, expired)
		s.slotFreed(ctx, expired.Slot())
	default:
		s.log.Warn("unknown gateway notice kind", "kind", n.Kind, "event_id", n.EventID)
	}
	return nil
}
