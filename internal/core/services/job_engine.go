package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/ports"
)

// JobHandler executes one claimed job. Returning an error schedules a
// retry with backoff; handlers must be idempotent at the business level
// because a reclaimed lease can rerun them.
type JobHandler func(ctx context.Context, job domain.ScheduledJob) error

type JobEngineConfig struct {
	PollInterval time.Duration
	ClaimLease   time.Duration
	BatchSize    int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// JobEngine polls the durable job table and executes due jobs under a
// claim lease, so each job runs effectively once across worker replicas.
type JobEngine struct {
	jobs     ports.JobRepository
	notifier ports.Notifier
	cfg      JobEngineConfig
	owner    string
	handlers map[domain.JobType]JobHandler
	log      *slog.Logger

	now func() time.Time
	wg  sync.WaitGroup
}

func NewJobEngine(jobs ports.JobRepository, notifier ports.Notifier, cfg JobEngineConfig, log *slog.Logger) *JobEngine {
	return &JobEngine{
		jobs:     jobs,
		notifier: notifier,
		cfg:      cfg,
		owner:    uuid.NewString(),
		handlers: make(map[domain.JobType]JobHandler),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *JobEngine) Register(t domain.JobType, h JobHandler) {
	e.handlers[t] = h
}

// Run polls until the context is cancelled, then waits for in-flight jobs.
func (e *JobEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.log.Info("job engine started", "owner", e.owner, "poll_interval", e.cfg.PollInterval)
	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.log.Info("job engine stopped", "owner", e.owner)
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *JobEngine) tick(ctx context.Context) {
	claimed, err := e.jobs.ClaimDue(ctx, e.owner, e.cfg.BatchSize, e.cfg.ClaimLease, e.now())
	if err != nil {
		e.log.Error("due job claim failed", "err", err)
		return
	}
	for _, j := range claimed {
		j := j
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.execute(ctx, j)
		}()
	}
}

func (e *JobEngine) execute(ctx context.Context, j domain.ScheduledJob) {
	h, ok := e.handlers[j.Type]
	if !ok {
		e.log.Error("no handler registered", "type", j.Type, "job_id", j.ID)
		if err := e.jobs.MarkFailed(ctx, j.ID, "no handler registered"); err != nil {
			e.log.Error("job status update failed", "job_id", j.ID, "err", err)
		}
		return
	}

	err := h(ctx, j)
	if err == nil {
		if err := e.jobs.MarkDone(ctx, j.ID); err != nil {
			e.log.Error("job status update failed", "job_id", j.ID, "err", err)
		}
		return
	}

	attempts := j.Attempts + 1
	if attempts >= e.cfg.MaxAttempts {
		e.log.Error("job exhausted retries", "type", j.Type, "job_id", j.ID, "attempts", attempts, "err", err)
		if merr := e.jobs.MarkFailed(ctx, j.ID, err.Error()); merr != nil {
			e.log.Error("job status update failed", "job_id", j.ID, "err", merr)
		}
		e.escalate(ctx, j, err)
		return
	}

	delay := domain.Backoff(attempts, e.cfg.BackoffBase, e.cfg.BackoffMax)
	e.log.Warn("job failed, retrying", "type", j.Type, "job_id", j.ID, "attempt", attempts, "retry_in", delay, "err", err)
	if rerr := e.jobs.Reschedule(ctx, j.ID, e.now().Add(delay), attempts, err.Error()); rerr != nil {
		e.log.Error("job reschedule failed", "job_id", j.ID, "err", rerr)
	}
}

// escalate surfaces an exhausted job to the operational alert path. Never
// a silent drop.
func (e *JobEngine) escalate(ctx context.Context, j domain.ScheduledJob, cause error) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, uuid.Nil, "critical", map[string]any{
		"type": "job_failed", "job_id": j.ID.String(), "job_type": string(j.Type),
		"ref_id": j.RefID.String(), "error": cause.Error(),
	}); err != nil {
		e.log.Error("escalation notify failed", "job_id", j.ID, "err", err)
	}
}

// RegisterEngineHandlers binds every job type to its service effect.
func RegisterEngineHandlers(e *JobEngine, bookings *BookingService, waitlists *WaitlistService, splits *SplitService, recurring *RecurringService) {
	e.Register(domain.JobConfirmationTimeout, func(ctx context.Context, j domain.ScheduledJob) error {
		return bookings.ExpireBooking(ctx, j.RefID)
	})
	e.Register(domain.JobConfirmationReminder, func(ctx context.Context, j domain.ScheduledJob) error {
		return bookings.RemindConfirmation(ctx, j.RefID)
	})
	e.Register(domain.JobBookingComplete, func(ctx context.Context, j domain.ScheduledJob) error {
		return bookings.CompleteBooking(ctx, j.RefID)
	})
	e.Register(domain.JobStaleAuthRelease, func(ctx context.Context, j domain.ScheduledJob) error {
		return bookings.ReleaseStaleAuth(ctx, j.RefID)
	})
	e.Register(domain.JobWaitlistHoldExpiry, func(ctx context.Context, j domain.ScheduledJob) error {
		return waitlists.ExpireHold(ctx, j.RefID)
	})
	e.Register(domain.JobSplitDeadline, func(ctx context.Context, j domain.ScheduledJob) error {
		return splits.EnforceDeadline(ctx, j.RefID)
	})
	e.Register(domain.JobRecurringGeneration, func(ctx context.Context, j domain.ScheduledJob) error {
		return recurring.GenerateInstance(ctx, j.Payload)
	})
}
