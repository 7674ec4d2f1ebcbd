package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agendly/booking-engine/internal/booking"
	"github.com/agendly/booking-engine/internal/schedule"
	"github.com/agendly/booking-engine/internal/waitlist"
)

// BookingService is the slice of the booking core the HTTP layer consumes.
type BookingService interface {
	AvailableSlots(ctx context.Context, q booking.SlotQuery) (iter.Seq[booking.TimeSlot], error)
	BookSlot(ctx context.Context, req booking.BookingRequest) (*booking.Appointment, error)
	ConfirmAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, actor string) (*booking.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	RescheduleAppointment(ctx context.Context, id uuid.UUID, newSlotID string) (*booking.Appointment, error)
}

// WaitlistService is the slice of the waitlist core the HTTP layer consumes.
type WaitlistService interface {
	Join(ctx context.Context, req waitlist.JoinRequest) (*waitlist.Entry, error)
	ConfirmClaim(ctx context.Context, token string) (*booking.Appointment, error)
	ReleaseClaim(ctx context.Context, token string) error
}

const dateLayout = "2006-01-02"

func listSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "id must be a valid UUID")
			return
		}

		qp := r.URL.Query()

		from := time.Now().UTC().Truncate(24 * time.Hour)
		if v := qp.Get("from"); v != "" {
			from, err = time.Parse(dateLayout, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
				return
			}
		}
		to := from.AddDate(0, 0, 13)
		if v := qp.Get("to"); v != "" {
			to, err = time.Parse(dateLayout, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
				return
			}
		}
		if to.Before(from) {
			writeError(w, http.StatusBadRequest, "invalid_range", "to must not precede from")
			return
		}

		q := booking.SlotQuery{
			ProfessionalID: professionalID,
			From:           from,
			To:             to,
			SkipMinAdvance: qp.Get("skip_min_advance") == "true",
		}
		if v := qp.Get("service_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
				return
			}
			q.ServiceID = &id
		}
		if v := qp.Get("exclude_appointment_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_exclude_appointment_id", "exclude_appointment_id must be a valid UUID")
				return
			}
			q.ExcludeAppointmentID = &id
		}

		slots, err := svc.AvailableSlots(r.Context(), q)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, 32)
		for slot := range slots {
			resp = append(resp, newSlotResponse(slot))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bookSlotHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		breq := booking.BookingRequest{
			SlotID: req.SlotID,
			Draft:  req.Draft,
			Patient: booking.PatientInfo{
				Name:  req.Patient.Name,
				Email: req.Patient.Email,
				Phone: req.Patient.Phone,
			},
		}
		if req.ServiceID != "" {
			id, err := uuid.Parse(req.ServiceID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
				return
			}
			breq.ServiceID = &id
		}

		appt, err := svc.BookSlot(r.Context(), breq)
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.ConfirmAppointment(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		actor := req.Actor
		if actor != booking.ActorClient && actor != booking.ActorProfessional {
			writeError(w, http.StatusBadRequest, "invalid_actor", "actor must be client or professional")
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, actor)
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func deleteAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			handleBookingError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func rescheduleAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.RescheduleAppointment(r.Context(), id, req.NewSlotID)
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func joinWaitlistHandler(svc WaitlistService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinWaitlistRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		professionalID, err := uuid.Parse(req.ProfessionalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}
		preferredDate, err := time.Parse(dateLayout, req.PreferredDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_preferred_date", "preferred_date must be YYYY-MM-DD")
			return
		}

		jreq := waitlist.JoinRequest{
			ProfessionalID: professionalID,
			PreferredDate:  preferredDate,
			PatientName:    req.Patient.Name,
			Email:          req.Patient.Email,
			Phone:          req.Patient.Phone,
		}
		if req.ServiceID != "" {
			id, err := uuid.Parse(req.ServiceID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
				return
			}
			jreq.ServiceID = &id
		}

		entry, err := svc.Join(r.Context(), jreq)
		if err != nil {
			handleWaitlistError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newWaitlistEntryResponse(entry))
	}
}

func confirmWaitlistClaimHandler(svc WaitlistService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		appt, err := svc.ConfirmClaim(r.Context(), token)
		if err != nil {
			handleWaitlistError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func releaseWaitlistClaimHandler(svc WaitlistService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		if err := svc.ReleaseClaim(r.Context(), token); err != nil {
			handleWaitlistError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrMalformedSlotID),
		errors.Is(err, booking.ErrInvalidPatientName),
		errors.Is(err, booking.ErrMissingPatientContact):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, schedule.ErrProfessionalNotFound):
		writeError(w, http.StatusNotFound, "professional_not_found", err.Error())
	case errors.Is(err, schedule.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotInPast),
		errors.Is(err, booking.ErrOutsideWorkingHours),
		errors.Is(err, booking.ErrOverlapsBreak):
		writeError(w, http.StatusUnprocessableEntity, "slot_not_bookable", err.Error())
	case errors.Is(err, booking.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrDraftExpired):
		writeError(w, http.StatusConflict, "draft_expired", err.Error())
	case errors.Is(err, booking.ErrRescheduleCycle):
		writeError(w, http.StatusConflict, "reschedule_cycle", err.Error())
	case errors.Is(err, booking.ErrQuotaExceeded):
		writeError(w, http.StatusForbidden, "quota_exceeded", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleWaitlistError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, waitlist.ErrInvalidName),
		errors.Is(err, waitlist.ErrMissingContact):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, waitlist.ErrInvalidToken):
		writeError(w, http.StatusNotFound, "invalid_waitlist_token", err.Error())
	case errors.Is(err, waitlist.ErrClaimExpired):
		writeError(w, http.StatusGone, "waitlist_claim_expired", err.Error())
	default:
		// Claim confirmation funnels into the booking path; surface those
		// errors with their booking semantics.
		handleBookingError(w, err)
	}
}
