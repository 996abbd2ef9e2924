package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Routing keys for outbound events. Consumers bind on booking.* etc.
const (
	RKBookingCreated   = "booking.created"
	RKBookingConfirmed = "booking.confirmed"
	RKBookingRejected  = "booking.rejected"
	RKBookingExpired   = "booking.expired"
	RKBookingCancelled = "booking.cancelled"
	RKBookingCompleted = "booking.completed"
	RKBookingModified  = "booking.modified"

	RKWaitlistJoined    = "waitlist.joined"
	RKWaitlistOffered   = "waitlist.offered"
	RKWaitlistWithdrawn = "waitlist.withdrawn"

	RKSharePaid          = "split.share_paid"
	RKShareRedistributed = "split.redistributed"
	RKSplitSettled       = "split.settled"

	RKSeriesCreated = "series.created"
)

// Event is one outbound state change. Delivery is at-least-once; the ID
// lets downstream consumers deduplicate. CourtID is the partition key that
// guarantees per-court ordering at the transport.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Key        string          `json:"key"`
	CourtID    uuid.UUID       `json:"court_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func NewEvent(key string, courtID uuid.UUID, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New(),
		Key:        key,
		CourtID:    courtID,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// BookingEvent is the payload carried by booking.* events.
type BookingEvent struct {
	BookingID  uuid.UUID     `json:"booking_id"`
	CustomerID uuid.UUID     `json:"customer_id"`
	Status     BookingStatus `json:"status"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
}

func EventFromBooking(key string, b *Booking) (Event, error) {
	return NewEvent(key, b.CourtID, BookingEvent{
		BookingID:  b.ID,
		CustomerID: b.CustomerID,
		Status:     b.Status,
		Start:      b.Start,
		End:        b.End,
	})
}
