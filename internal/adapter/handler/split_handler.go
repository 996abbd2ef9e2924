package handler

import (
	"encoding/json"
	"net/http"

	"github.com/srgjo27/court_reserve/internal/core/services"
)

type SplitHandler struct {
	svc *services.SplitService
}

func NewSplitHandler(svc *services.SplitService) *SplitHandler {
	return &SplitHandler{svc: svc}
}

func (h *SplitHandler) CreateSplitBooking(w http.ResponseWriter, r *http.Request) {
	var req services.CreateSplitBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	resp, err := h.svc.CreateSplitBooking(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *SplitHandler) ListShares(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	shares, err := h.svc.ListShares(r.Context(), bookingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

type payShareRequest struct {
	PaymentMethod string `json:"payment_method"`
}

func (h *SplitHandler) PayShare(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	participantID, err := pathID(r, "participantID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req payShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	if err := h.svc.PayShare(r.Context(), bookingID, participantID, req.PaymentMethod); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SplitHandler) CancelShare(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	participantID, err := pathID(r, "participantID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.CancelShare(r.Context(), bookingID, participantID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
