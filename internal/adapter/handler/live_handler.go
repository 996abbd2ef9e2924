package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/srgjo27/court_reserve/internal/core/ports"
)

// LiveHandler streams availability changes for one court over
// server-sent events.
type LiveHandler struct {
	broadcaster ports.Broadcaster
}

func NewLiveHandler(b ports.Broadcaster) *LiveHandler {
	return &LiveHandler{broadcaster: b}
}

func (h *LiveHandler) CourtEvents(w http.ResponseWriter, r *http.Request) {
	courtID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	events, cancel := h.broadcaster.Subscribe(courtID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-events:
			if !open {
				return
			}
			raw, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Key, raw)
			flusher.Flush()
		}
	}
}
