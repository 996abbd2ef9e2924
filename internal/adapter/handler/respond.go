package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP statuses. Anything not
// wrapped by a sentinel is an internal error and keeps its detail out of
// the response.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrStateTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrPayment):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrLockUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
