package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeSlot is a half-open [Start, End) reservation range on one court.
// It is the key space over which conflicts are checked, never persisted
// standalone.
type TimeSlot struct {
	CourtID uuid.UUID
	Start   time.Time
	End     time.Time
}

func NewTimeSlot(courtID uuid.UUID, start, end time.Time) (TimeSlot, error) {
	s := TimeSlot{CourtID: courtID, Start: start.UTC(), End: end.UTC()}
	if err := s.Validate(); err != nil {
		return TimeSlot{}, err
	}
	return s, nil
}

func (s TimeSlot) Validate() error {
	if s.CourtID == uuid.Nil {
		return fmt.Errorf("court id is required: %w", ErrValidation)
	}
	if !s.End.After(s.Start) {
		return fmt.Errorf("slot end must be after start: %w", ErrValidation)
	}
	return nil
}

// Overlaps reports whether the two ranges intersect on the same court.
// Half-open semantics: back-to-back slots do not overlap.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	if s.CourtID != o.CourtID {
		return false
	}
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Key identifies the exact range, used for waitlist grouping.
func (s TimeSlot) Key() string {
	return fmt.Sprintf("%s:%d:%d", s.CourtID, s.Start.Unix(), s.End.Unix())
}

// LockKeys returns one lock key per UTC day the range touches, sorted
// chronologically so concurrent acquirers take them in the same order.
func (s TimeSlot) LockKeys() []string {
	var keys []string
	day := s.Start.UTC().Truncate(24 * time.Hour)
	for day.Before(s.End) {
		keys = append(keys, fmt.Sprintf("slot:%s:%s", s.CourtID, day.Format("2006-01-02")))
		day = day.Add(24 * time.Hour)
	}
	return keys
}
