package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/agendly/booking-engine/internal/booking"
	"github.com/agendly/booking-engine/internal/waitlist"
)

type PatientPayload struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type BookSlotRequest struct {
	SlotID    string         `json:"slot_id"`
	ServiceID string         `json:"service_id,omitempty"`
	Draft     bool           `json:"draft,omitempty"`
	Patient   PatientPayload `json:"patient"`
}

type CancelAppointmentRequest struct {
	Actor string `json:"actor"`
}

type RescheduleAppointmentRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type JoinWaitlistRequest struct {
	ProfessionalID string         `json:"professional_id"`
	ServiceID      string         `json:"service_id,omitempty"`
	PreferredDate  string         `json:"preferred_date"`
	Patient        PatientPayload `json:"patient"`
}

type SlotResponse struct {
	ID             string    `json:"id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	Date           string    `json:"date"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
}

func newSlotResponse(s booking.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:             s.ID,
		ProfessionalID: s.ProfessionalID,
		Date:           s.SlotDate.Format("2006-01-02"),
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
	}
}

type AppointmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	ProfessionalID    uuid.UUID  `json:"professional_id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	ServiceID         *uuid.UUID `json:"service_id,omitempty"`
	TimeSlotID        *string    `json:"time_slot_id,omitempty"`
	Date              string     `json:"date"`
	StartTime         string     `json:"start_time"`
	EndTime           string     `json:"end_time"`
	Status            string     `json:"status"`
	RescheduledFromID *uuid.UUID `json:"rescheduled_from_id,omitempty"`
	CancelledBy       *string    `json:"cancelled_by,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
}

func newAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		ProfessionalID:    a.ProfessionalID,
		PatientID:         a.PatientID,
		ServiceID:         a.ServiceID,
		TimeSlotID:        a.TimeSlotID,
		Date:              a.AppointmentDate.Format("2006-01-02"),
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		Status:            string(a.Status),
		RescheduledFromID: a.RescheduledFromID,
		CancelledBy:       a.CancelledBy,
		CancelledAt:       a.CancelledAt,
	}
}

type WaitlistEntryResponse struct {
	ID            uuid.UUID  `json:"id"`
	Status        string     `json:"status"`
	Token         string     `json:"token"`
	PreferredDate string     `json:"preferred_date"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func newWaitlistEntryResponse(e *waitlist.Entry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:            e.ID,
		Status:        string(e.Status),
		Token:         e.Token,
		PreferredDate: e.PreferredDate.Format("2006-01-02"),
		ExpiresAt:     e.ExpiresAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
