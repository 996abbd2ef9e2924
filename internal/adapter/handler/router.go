package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every endpoint. Booking transitions are POSTs on the
// booking resource; live availability is a server-sent event stream per
// court.
func NewRouter(
	log *slog.Logger,
	bookings *BookingHandler,
	waitlists *WaitlistHandler,
	splits *SplitHandler,
	webhooks *WebhookHandler,
	live *LiveHandler,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", bookings.CreateBooking)
		r.Post("/manual", bookings.CreateManualBooking)
		r.Post("/split", splits.CreateSplitBooking)
		r.Post("/recurring", bookings.CreateRecurring)
		r.Get("/{id}", bookings.GetBooking)
		r.Post("/{id}/confirm", bookings.ConfirmBooking)
		r.Post("/{id}/reject", bookings.RejectBooking)
		r.Post("/{id}/cancel", bookings.CancelBooking)
		r.Post("/{id}/modify", bookings.ModifyBooking)
		r.Get("/{id}/shares", splits.ListShares)
		r.Post("/{id}/shares/{participantID}/pay", splits.PayShare)
		r.Post("/{id}/shares/{participantID}/cancel", splits.CancelShare)
	})

	r.Route("/waitlist", func(r chi.Router) {
		r.Post("/", waitlists.Join)
		r.Get("/", waitlists.List)
		r.Post("/{id}/withdraw", waitlists.Withdraw)
	})

	r.Get("/series/{id}", bookings.GetSeries)
	r.Get("/courts/{id}/live", live.CourtEvents)
	r.Post("/webhooks/payment", webhooks.GatewayNotice)

	return r
}

func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
