package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusDraft       AppointmentStatus = "draft"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// Cancellation actors recorded on cancelled appointments.
const (
	ActorClient       = "client"
	ActorProfessional = "professional"
)

// DefaultSlotMinutes is the slot duration used when no service is given.
const DefaultSlotMinutes = 30

// TimeSlot is a bookable window for one professional. A slot can exist only
// virtually (computed by the generator) until a booking attempt materializes
// the row under its deterministic id.
type TimeSlot struct {
	ID             string
	ProfessionalID uuid.UUID
	SlotDate       time.Time // civil date, midnight
	StartTime      string    // "HH:MM"
	EndTime        string
	IsBooked       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Appointment struct {
	ID                uuid.UUID
	ProfessionalID    uuid.UUID
	PatientID         uuid.UUID
	ServiceID         *uuid.UUID
	TimeSlotID        *string
	AppointmentDate   time.Time
	StartTime         string
	EndTime           string
	Status            AppointmentStatus
	CancelledBy       *string
	CancelledAt       *time.Time
	CancellationToken *string
	RescheduledFromID *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ActiveAt reports whether the appointment blocks its time window at the
// given instant. Cancelled and rescheduled rows never block; a draft stops
// blocking once it outlives draftTTL. This is the single draft-expiry
// predicate; the SQL conflict queries mirror it via a created_at cutoff.
func (a *Appointment) ActiveAt(now time.Time, draftTTL time.Duration) bool {
	switch a.Status {
	case StatusCancelled, StatusRescheduled:
		return false
	case StatusDraft:
		return now.Sub(a.CreatedAt) < draftTTL
	default:
		return true
	}
}

type Patient struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	Name           string
	Email          string
	Phone          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PatientInfo is the contact payload supplied by a booking request.
type PatientInfo struct {
	Name  string
	Email string
	Phone string
}

func (p PatientInfo) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidPatientName
	}
	if p.Email == "" && p.Phone == "" {
		return ErrMissingPatientContact
	}
	return nil
}

const slotDateLayout = "2006-01-02"

// FormatSlotID builds the deterministic virtual slot id:
// "<professional uuid>-YYYY-MM-DD-HH:MM".
func FormatSlotID(professionalID uuid.UUID, date time.Time, startMinutes int) string {
	return fmt.Sprintf("%s-%s-%s", professionalID, date.Format(slotDateLayout), FormatClock(startMinutes))
}

// ParseSlotID is the inverse of FormatSlotID. The professional uuid is a
// fixed 36 characters, the date 10 and the clock 5, so the id is parsed by
// position rather than by splitting on dashes.
func ParseSlotID(id string) (professionalID uuid.UUID, date time.Time, startMinutes int, err error) {
	const want = 36 + 1 + 10 + 1 + 5
	if len(id) != want || id[36] != '-' || id[47] != '-' {
		return uuid.Nil, time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformedSlotID, id)
	}

	professionalID, err = uuid.Parse(id[:36])
	if err != nil {
		return uuid.Nil, time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformedSlotID, id)
	}

	date, err = time.Parse(slotDateLayout, id[37:47])
	if err != nil {
		return uuid.Nil, time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformedSlotID, id)
	}

	startMinutes, err = ParseClock(id[48:])
	if err != nil {
		return uuid.Nil, time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformedSlotID, id)
	}

	return professionalID, date, startMinutes, nil
}

// ParseClock converts "HH:MM" to minutes of day.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock converts minutes of day to "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// overlaps reports whether the half-open windows [aStart,aEnd) and
// [bStart,bEnd) intersect.
func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// dateOf truncates an instant to its civil date in loc, returned as a UTC
// midnight so it compares cleanly with DATE columns.
func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
