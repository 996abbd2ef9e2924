package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobConfirmationTimeout  JobType = "confirmation_timeout"
	JobConfirmationReminder JobType = "confirmation_reminder"
	JobSplitDeadline        JobType = "split_deadline"
	JobWaitlistHoldExpiry   JobType = "waitlist_hold_expiry"
	JobRecurringGeneration  JobType = "recurring_generation"
	JobBookingComplete      JobType = "booking_complete"
	JobStaleAuthRelease     JobType = "stale_auth_release"
)

type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobClaimed JobStatus = "CLAIMED"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
	// JobCancelled marks a job whose purpose was resolved by another path
	// before it fired.
	JobCancelled JobStatus = "CANCELLED"
)

// ScheduledJob is one durable, time-triggered unit of work. Workers claim
// jobs with a lease (ClaimOwner + ClaimExpiry); an expired lease makes the
// job reclaimable so a crashed worker never strands it.
type ScheduledJob struct {
	ID          uuid.UUID
	Type        JobType
	DueAt       time.Time
	Payload     json.RawMessage
	RefID       uuid.UUID
	Status      JobStatus
	ClaimOwner  *string
	ClaimExpiry *time.Time
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
}

func NewJob(t JobType, refID uuid.UUID, dueAt time.Time, payload any) (*ScheduledJob, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &ScheduledJob{
		ID:      uuid.New(),
		Type:    t,
		DueAt:   dueAt.UTC(),
		Payload: raw,
		RefID:   refID,
		Status:  JobPending,
	}, nil
}

// Backoff returns the delay before retry attempt n (1-based), doubling from
// base and capped at max.
func Backoff(n int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
