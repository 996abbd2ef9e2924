package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/court_reserve/internal/core/domain"
)

// BookingRepository is the slot ledger. It is the single source of truth
// for conflict detection; CommitStatus re-verifies the overlap inside its
// own transaction so that lock-manager failures degrade to rejection, not
// double booking.
type BookingRepository interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	// HasOverlap reports whether any blocking booking overlaps the slot,
	// excluding the given booking id (uuid.Nil to exclude nothing).
	HasOverlap(ctx context.Context, slot domain.TimeSlot, exclude uuid.UUID) (bool, error)
	// CommitStatus transitions a booking to a blocking status atomically
	// with an overlap re-check serialized per court-day. Returns
	// domain.ErrConflict when the slot was taken in the meantime. A non-nil
	// idem record is written in the same transaction as the status change,
	// so a retry after a post-commit crash finds the key.
	CommitStatus(ctx context.Context, id uuid.UUID, to domain.BookingStatus, paymentRef string, expectedVersion int, idem *IdemRecord) (*domain.Booking, error)
	// UpdateStatus applies a non-blocking transition with optimistic
	// version checking.
	UpdateStatus(ctx context.Context, id uuid.UUID, to domain.BookingStatus, expectedVersion int) (*domain.Booking, error)
	SetPaymentRef(ctx context.Context, id uuid.UUID, ref string) error
	// MarkSplit flags a booking as split-funded.
	MarkSplit(ctx context.Context, id uuid.UUID) error
	// TagSeries attaches a booking to a recurring series.
	TagSeries(ctx context.Context, id, seriesID uuid.UUID) error
	// UpdateSlot moves a booking to a new range atomically with the same
	// overlap re-check as CommitStatus.
	UpdateSlot(ctx context.Context, id uuid.UUID, slot domain.TimeSlot, totalCents int64, expectedVersion int) (*domain.Booking, error)
	ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]domain.Booking, error)
}

// IdemRecord is an idempotency-key row committed atomically with the
// state change it guards.
type IdemRecord struct {
	Key         string
	PayloadHash string
}

// IdempotencyRepository deduplicates retried commands by caller-supplied key.
type IdempotencyRepository interface {
	// Get returns the booking id and payload hash stored for key, or
	// domain.ErrNotFound.
	Get(ctx context.Context, key string) (uuid.UUID, string, error)
	Put(ctx context.Context, key, payloadHash string, bookingID uuid.UUID) error
}

// JobRepository persists scheduled jobs and hands them to workers under a
// claim lease so each due job executes effectively once across replicas.
type JobRepository interface {
	Enqueue(ctx context.Context, j *domain.ScheduledJob) error
	// ClaimDue atomically claims up to limit due jobs for owner, including
	// jobs whose previous claim lease has expired.
	ClaimDue(ctx context.Context, owner string, limit int, lease time.Duration, now time.Time) ([]domain.ScheduledJob, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastErr string) error
	// Reschedule releases the claim and moves the job's due time for a
	// retry attempt.
	Reschedule(ctx context.Context, id uuid.UUID, dueAt time.Time, attempts int, lastErr string) error
	// CancelByRef cancels pending jobs of one type tied to a booking or
	// entry whose purpose another path already resolved.
	CancelByRef(ctx context.Context, t domain.JobType, refID uuid.UUID) error
}

// WaitlistRepository owns waitlist entries, ordered strictly by the
// monotonic join sequence.
type WaitlistRepository interface {
	Append(ctx context.Context, e *domain.WaitlistEntry) (position int, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WaitlistEntry, error)
	ListBySlot(ctx context.Context, slot domain.TimeSlot) ([]domain.WaitlistEntry, error)
	// Head returns the earliest-joined entry for the slot, or ErrNotFound.
	Head(ctx context.Context, slot domain.TimeSlot) (*domain.WaitlistEntry, error)
	SetHold(ctx context.Context, id uuid.UUID, expiry time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ActiveHold returns the entry currently holding the slot, if any.
	ActiveHold(ctx context.Context, slot domain.TimeSlot, now time.Time) (*domain.WaitlistEntry, error)
	// DeleteOverlapping removes a customer's entries for any slot that
	// overlaps the given range, keeping them from double-committing.
	DeleteOverlapping(ctx context.Context, customerID uuid.UUID, slot domain.TimeSlot) error
	// PurgePast removes entries whose slot start has already passed.
	PurgePast(ctx context.Context, now time.Time) (int64, error)
}

// SplitRepository owns split shares and the creator-hold settlement row.
type SplitRepository interface {
	CreateShares(ctx context.Context, settlement *domain.SplitSettlement, shares []domain.SplitShare) error
	GetSettlement(ctx context.Context, bookingID uuid.UUID) (*domain.SplitSettlement, error)
	ListShares(ctx context.Context, bookingID uuid.UUID) ([]domain.SplitShare, error)
	GetShare(ctx context.Context, bookingID, participantID uuid.UUID) (*domain.SplitShare, error)
	UpdateShare(ctx context.Context, s *domain.SplitShare) error
	// UpdateShares applies a redistribution batch in one transaction.
	UpdateShares(ctx context.Context, shares []domain.SplitShare) error
	UpdateSettlement(ctx context.Context, s *domain.SplitSettlement) error
}

// SeriesRepository stores recurring series headers. Members are the
// bookings tagged with the series id.
type SeriesRepository interface {
	Create(ctx context.Context, s *domain.RecurringSeries) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringSeries, error)
}

// ProcessedEventRepository records consumed gateway confirmations so that
// duplicate webhook deliveries are safe no-ops. Callers check Seen before
// the effect and MarkProcessed only after it lands, so a transient failure
// is retried rather than swallowed as a duplicate.
type ProcessedEventRepository interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed returns false when the event id was already recorded.
	MarkProcessed(ctx context.Context, eventID, eventKey string) (bool, error)
}
