package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
	"github.com/srgjo27/court_reserve/internal/core/services"
)

type WaitlistHandler struct {
	svc *services.WaitlistService
}

func NewWaitlistHandler(svc *services.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{svc: svc}
}

func (h *WaitlistHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req services.JoinWaitlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	resp, err := h.svc.Join(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *WaitlistHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	customerID, err := uuid.Parse(r.URL.Query().Get("customer_id"))
	if err != nil {
		writeError(w, fmt.Errorf("invalid customer_id: %w", domain.ErrValidation))
		return
	}

	if err := h.svc.Withdraw(r.Context(), entryID, customerID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List returns the queue for one slot, identified by query parameters.
func (h *WaitlistHandler) List(w http.ResponseWriter, r *http.Request) {
	slot, err := slotFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.svc.List(r.Context(), slot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func slotFromQuery(r *http.Request) (domain.TimeSlot, error) {
	courtID, err := uuid.Parse(r.URL.Query().Get("court_id"))
	if err != nil {
		return domain.TimeSlot{}, fmt.Errorf("invalid court_id: %w", domain.ErrValidation)
	}
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		return domain.TimeSlot{}, fmt.Errorf("invalid start: %w", domain.ErrValidation)
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		return domain.TimeSlot{}, fmt.Errorf("invalid end: %w", domain.ErrValidation)
	}
	return domain.NewTimeSlot(courtID, start, end)
}
