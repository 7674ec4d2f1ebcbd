package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every HTTP route of the booking engine.
func NewRouter(bookings BookingService, waitlists WaitlistService, health *HealthHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/professionals/{id}/slots", listSlotsHandler(bookings))

		r.Post("/bookings", bookSlotHandler(bookings))

		r.Route("/appointments/{id}", func(r chi.Router) {
			r.Post("/confirm", confirmAppointmentHandler(bookings))
			r.Post("/cancel", cancelAppointmentHandler(bookings))
			r.Post("/reschedule", rescheduleAppointmentHandler(bookings))
			r.Delete("/", deleteAppointmentHandler(bookings))
		})

		r.Post("/waitlist", joinWaitlistHandler(waitlists))
		r.Post("/waitlist/claims/{token}/confirm", confirmWaitlistClaimHandler(waitlists))
		r.Post("/waitlist/claims/{token}/release", releaseWaitlistClaimHandler(waitlists))
	})

	return r
}
