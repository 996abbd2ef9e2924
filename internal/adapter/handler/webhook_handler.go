package handler

import (
	"encoding/json"
	"net/http"

	"github.com/srgjo27/court_reserve/internal/core/services"
)

// WebhookHandler receives asynchronous confirmations from the payment
// gateway. The service layer deduplicates by event id, so gateway retries
// are safe.
type WebhookHandler struct {
	svc *services.BookingService
}

func NewWebhookHandler(svc *services.BookingService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

func (h *WebhookHandler) GatewayNotice(w http.ResponseWriter, r *http.Request) {
	var notice services.GatewayNotice
	if err := json.NewDecoder(r.Body).Decode(&notice); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}

	if err := h.svc.HandleGatewayNotice(r.Context(), notice); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
