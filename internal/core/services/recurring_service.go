package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/ports"
)

// RecurringService expands a weekly-repeat request into independent
// bookings through the same create path single bookings use. A conflicting
// week is skipped and reported; partial success is the normal outcome.
type RecurringService struct {
	bookingSvc *BookingService
	series     ports.SeriesRepository
	bookings   ports.BookingRepository
	jobs       ports.JobRepository
	catalog    ports.Catalog
	notifier   ports.Notifier
	log        *slog.Logger

	now func() time.Time
}

func NewRecurringService(
	bookingSvc *BookingService,
	series ports.SeriesRepository,
	bookings ports.BookingRepository,
	jobs ports.JobRepository,
	catalog ports.Catalog,
	notifier ports.Notifier,
	log *slog.Logger,
) *RecurringService {
	return &RecurringService{
		bookingSvc: bookingSvc,
		series:     series,
		bookings:   bookings,
		jobs:       jobs,
		catalog:    catalog,
		notifier:   notifier,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type CreateRecurringRequest struct {
	CourtID        string    `json:"court_id"`
	CustomerID     string    `json:"customer_id"`
	FirstStart     time.Time `json:"first_start"`
	DurationMin    int       `json:"duration_minutes"`
	Occurrences    int       `json:"occurrences"`
	IdempotencyKey string    `json:"idempotency_key"`
	PaymentMethod  string    `json:"payment_method"`
}

type OccurrenceOutcome struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	BookingID string `json:"booking_id,omitempty"`
	Deferred  bool   `json:"deferred,omitempty"`
	Error     string `json:"error,omitempty"`
}

type CreateRecurringResponse struct {
	SeriesID string              `json:"series_id"`
	Booked   int                 `json:"booked"`
	Outcomes []OccurrenceOutcome `json:"outcomes"`
}

// generationPayload is carried by a recurring_generation job for an
// occurrence beyond the court's advance window at creation time.
type generationPayload struct {
	SeriesID       string    `json:"series_id"`
	CourtID        string    `json:"court_id"`
	CustomerID     string    `json:"customer_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	IdempotencyKey string    `json:"idempotency_key"`
	PaymentMethod  string    `json:"payment_method"`
}

// CreateRecurringSeries evaluates every target date independently. Each
// booked instance is an ordinary booking tagged with the series id;
// pricing is re-quoted per instance, so a later price change only touches
// not-yet-confirmed occurrences.
func (s *RecurringService) CreateRecurringSeries(ctx context.Context, req CreateRecurringRequest) (*CreateRecurringResponse, error) {
	courtID, err := uuid.Parse(req.CourtID)
	if err != nil {
		return nil, fmt.Errorf("invalid court id: %w", domain.ErrValidation)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required: %w", domain.ErrValidation)
	}
	pattern := domain.RecurringPattern{
		CourtID:     courtID,
		FirstStart:  req.FirstStart.UTC(),
		Duration:    time.Duration(req.DurationMin) * time.Minute,
		Occurrences: req.Occurrences,
	}
	if err := pattern.Validate(); err != nil {
		return nil, err
	}
	policy, err := s.catalog.CourtPolicy(ctx, courtID)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}

	series := &domain.RecurringSeries{ID: uuid.New(), Pattern: pattern}
	if err := s.series.Create(ctx, series); err != nil {
		return nil, err
	}

	resp := &CreateRecurringResponse{SeriesID: series.ID.String()}
	for i, slot := range pattern.Slots() {
		outcome := OccurrenceOutcome{
			Start: slot.Start.Format(time.RFC3339),
			End:   slot.End.Format(time.RFC3339),
		}
		idemKey := fmt.Sprintf("%s:occ-%d", req.IdempotencyKey, i)

		// An occurrence beyond the advance window cannot be booked yet;
		// a generation job retries it once the window opens.
		if policy.AdvanceWindow > 0 && slot.Start.After(s.now().Add(policy.AdvanceWindow)) {
			s.deferOccurrence(ctx, series.ID, req, slot, idemKey)
			outcome.Deferred = true
			resp.Outcomes = append(resp.Outcomes, outcome)
			continue
		}

		created, err := s.bookingSvc.CreateBooking(ctx, CreateBookingRequest{
			CourtID:        req.CourtID,
			CustomerID:     req.CustomerID,
			Start:          slot.Start,
			End:            slot.End,
			IdempotencyKey: idemKey,
			PaymentMethod:  req.PaymentMethod,
		})
		if err != nil {
			outcome.Error = err.Error()
			resp.Outcomes = append(resp.Outcomes, outcome)
			continue
		}
		bookingID := uuid.MustParse(created.BookingID)
		if err := s.bookings.TagSeries(ctx, bookingID, series.ID); err != nil {
			s.log.Warn("series tag failed", "booking_id", bookingID, "err", err)
		}
		outcome.BookingID = created.BookingID
		resp.Booked++
		resp.Outcomes = append(resp.Outcomes, outcome)
	}
	return resp, nil
}

func (s *RecurringService) deferOccurrence(ctx context.Context, seriesID uuid.UUID, req CreateRecurringRequest, slot domain.TimeSlot, idemKey string) {
	policy, err := s.catalog.CourtPolicy(ctx, slot.CourtID)
	if err != nil {
		s.log.Error("catalog lookup for deferral failed", "court_id", slot.CourtID, "err", err)
		return
	}
	dueAt := slot.Start.Add(-policy.AdvanceWindow)
	j, err := domain.NewJob(domain.JobRecurringGeneration, seriesID, dueAt, generationPayload{
		SeriesID:       seriesID.String(),
		CourtID:        req.CourtID,
		CustomerID:     req.CustomerID,
		Start:          slot.Start,
		End:            slot.End,
		IdempotencyKey: idemKey,
		PaymentMethod:  req.PaymentMethod,
	})
	if err != nil {
		s.log.Error("generation job build failed", "series_id", seriesID, "err", err)
		return
	}
	if err := s.jobs.Enqueue(ctx, j); err != nil {
		s.log.Error("generation job enqueue failed", "series_id", seriesID, "err", err)
	}
}

// GenerateInstance is the recurring_generation job effect: book the
// deferred occurrence now that its window is open. A conflict is reported
// to the customer, not retried forever.
func (s *RecurringService) GenerateInstance(ctx context.Context, payload json.RawMessage) error {
	var p generationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	created, err := s.bookingSvc.CreateBooking(ctx, CreateBookingRequest{
		CourtID:        p.CourtID,
		CustomerID:     p.CustomerID,
		Start:          p.Start,
		End:            p.End,
		IdempotencyKey: p.IdempotencyKey,
		PaymentMethod:  p.PaymentMethod,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrValidation) {
			if customerID, perr := uuid.Parse(p.CustomerID); perr == nil && s.notifier != nil {
				_ = s.notifier.Notify(ctx, customerID, "normal", map[string]any{
					"type": "recurring_instance_conflict", "series_id": p.SeriesID,
					"start": p.Start.Format(time.RFC3339),
				})
			}
			return nil
		}
		return err
	}
	bookingID := uuid.MustParse(created.BookingID)
	if seriesID, perr := uuid.Parse(p.SeriesID); perr == nil {
		if err := s.bookings.TagSeries(ctx, bookingID, seriesID); err != nil {
			s.log.Warn("series tag failed", "booking_id", bookingID, "err", err)
		}
	}
	return nil
}

// SeriesBookings lists the member bookings of one series.
func (s *RecurringService) SeriesBookings(ctx context.Context, seriesID uuid.UUID) ([]domain.Booking, error) {
	if _, err := s.series.GetByID(ctx, seriesID); err != nil {
		return nil, err
	}
	return s.bookings.ListBySeries(ctx, seriesID)
}
