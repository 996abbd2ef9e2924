package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/services"
)

type BookingHandler struct {
	svc       *services.BookingService
	recurring *services.RecurringService
}

func NewBookingHandler(svc *services.BookingService, recurring *services.RecurringService) *BookingHandler {
	return &BookingHandler{svc: svc, recurring: recurring}
}

func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req services.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	resp, err := h.svc.CreateBooking(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// CreateManualBooking is the facility desk path: no payment gateway, the
// booking lands directly in CONFIRMED.
func (h *BookingHandler) CreateManualBooking(w http.ResponseWriter, r *http.Request) {
	var req services.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	resp, err := h.svc.CreateManualBooking(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	b, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BookingHandler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.ConfirmBooking)
}

func (h *BookingHandler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.RejectBooking)
}

func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ownerInitiated := r.URL.Query().Get("initiator") == "owner"

	resp, err := h.svc.CancelBooking(r.Context(), id, ownerInitiated)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type modifyBookingRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (h *BookingHandler) ModifyBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req modifyBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	resp, err := h.svc.ModifyBooking(r.Context(), id, req.Start, req.End)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req services.CreateRecurringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	resp, err := h.recurring.CreateRecurringSeries(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	// Partial success still creates the series.
	writeJSON(w, http.StatusCreated, resp)
}

func (h *BookingHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	bookings, err := h.recurring.SeriesBookings(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) (*services.BookingResponse, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, domain.ErrValidation)
	}
	return id, nil
}
