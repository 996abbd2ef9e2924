package domain

import (
	"fmt"
	"time"
)

// CourtPolicy is the catalog collaborator's view of one court, fetched as a
// snapshot at call time. Policy changes never retroactively alter bookings
// committed under an earlier snapshot.
type CourtPolicy struct {
	ConfirmationMode ConfirmationMode
	MinNotice        time.Duration
	AdvanceWindow    time.Duration
	Cancellation     CancellationPolicy
	MinShareCents    int64
	WaitlistEnabled  bool
}

// CheckWindow enforces the advance-window and minimum-notice bounds.
func (p CourtPolicy) CheckWindow(slot TimeSlot, now time.Time) error {
	if slot.Start.Before(now.Add(p.MinNotice)) {
		return fmt.Errorf("slot starts inside the %s notice period: %w", p.MinNotice, ErrValidation)
	}
	if p.AdvanceWindow > 0 && slot.Start.After(now.Add(p.AdvanceWindow)) {
		return fmt.Errorf("slot is beyond the %s advance window: %w", p.AdvanceWindow, ErrValidation)
	}
	return nil
}
