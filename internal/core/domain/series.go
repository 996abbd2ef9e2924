package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultOccurrences = 4
	MaxOccurrences     = 12
)

// RecurringPattern describes a weekly repeat: same court, same weekday,
// same time of day, for Occurrences weeks starting at FirstStart.
type RecurringPattern struct {
	CourtID     uuid.UUID
	FirstStart  time.Time
	Duration    time.Duration
	Occurrences int
}

func (p *RecurringPattern) Validate() error {
	if p.CourtID == uuid.Nil {
		return fmt.Errorf("court id is required: %w", ErrValidation)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("duration must be positive: %w", ErrValidation)
	}
	if p.Occurrences == 0 {
		p.Occurrences = DefaultOccurrences
	}
	if p.Occurrences < 1 || p.Occurrences > MaxOccurrences {
		return fmt.Errorf("occurrences must be between 1 and %d: %w", MaxOccurrences, ErrValidation)
	}
	return nil
}

// Slots expands the pattern into one slot per week.
func (p *RecurringPattern) Slots() []TimeSlot {
	slots := make([]TimeSlot, 0, p.Occurrences)
	for i := 0; i < p.Occurrences; i++ {
		start := p.FirstStart.UTC().AddDate(0, 0, 7*i)
		slots = append(slots, TimeSlot{CourtID: p.CourtID, Start: start, End: start.Add(p.Duration)})
	}
	return slots
}

// RecurringSeries groups independently-cancellable member bookings.
// Cancelling one member never cascades to the rest.
type RecurringSeries struct {
	ID        uuid.UUID
	Pattern   RecurringPattern
	MemberIDs []uuid.UUID
	CreatedAt time.Time
}

// OccurrenceResult reports the outcome of one target date of a recurring
// request. Partial success is a first-class outcome.
type OccurrenceResult struct {
	Slot      TimeSlot
	BookingID *uuid.UUID
	Err       error
}
