package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/court_reserve/internal/core/domain"
)

// Catalog is the read-only pricing/policy collaborator. The engine fetches
// a snapshot before each commit; it never reaches into the catalog's
// storage directly.
type Catalog interface {
	CourtPolicy(ctx context.Context, courtID uuid.UUID) (domain.CourtPolicy, error)
	// PriceCents quotes the current price for the slot.
	PriceCents(ctx context.Context, slot domain.TimeSlot) (int64, error)
}

// PaymentGateway abstracts the payment vendor. Refund with the remaining
// authorized amount releases a hold; partial refunds shrink it.
type PaymentGateway interface {
	Authorize(ctx context.Context, amountCents int64, method string) (ref string, err error)
	Capture(ctx context.Context, ref string) error
	Refund(ctx context.Context, ref string, amountCents int64) error
}

// Notifier is fire-and-forget; delivery retries are the collaborator's
// responsibility. Callers log failures and move on.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, urgency string, payload map[string]any) error
}

// EventPublisher emits one outbound event per state change, keyed by court
// for per-court ordering. At-least-once delivery.
type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Broadcaster fans out changes to currently-connected observers. Strictly
// best-effort: it never blocks or fails the underlying transaction.
type Broadcaster interface {
	Broadcast(e domain.Event)
	Subscribe(courtID uuid.UUID) (<-chan domain.Event, func())
}

// SlotLocker provides short-lived cross-process mutual exclusion over slot
// lock keys during a commit window.
//
// Acquire blocks up to the configured timeout and returns a release
// function. It returns domain.ErrTimeout when the keys stayed
// contended, and domain.ErrLockUnavailable when the substrate itself is down
// — the caller may then proceed and rely on the ledger's own re-check.
type SlotLocker interface {
	Acquire(ctx context.Context, keys []string, ttl time.Duration) (release func(), err error)
}
