package domain

import (
	"time"

	"github.com/google/uuid"
)

// WaitlistEntry is one customer queued for a full slot. Entries are served
// strictly by JoinSeq; a non-nil HoldExpiry means this entry currently
// holds the freed slot.
type WaitlistEntry struct {
	ID         uuid.UUID
	CourtID    uuid.UUID
	Start      time.Time
	End        time.Time
	CustomerID uuid.UUID
	JoinSeq    int64
	HoldExpiry *time.Time
	CreatedAt  time.Time
}

func (e *WaitlistEntry) Slot() TimeSlot {
	return TimeSlot{CourtID: e.CourtID, Start: e.Start, End: e.End}
}

// HoldActive reports whether the entry holds the slot at the given instant.
func (e *WaitlistEntry) HoldActive(now time.Time) bool {
	return e.HoldExpiry != nil && now.Before(*e.HoldExpiry)
}
