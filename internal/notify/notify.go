// Package notify decides which notifications are due after booking and
// waitlist transitions. Actual delivery (email templates, providers) lives
// outside this core; the log dispatcher records the decision and is the
// default wiring.
package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agendly/booking-engine/internal/booking"
	"github.com/agendly/booking-engine/internal/waitlist"
)

// LogDispatcher implements the booking and waitlist notification hooks by
// emitting structured log events.
type LogDispatcher struct {
	logger *zerolog.Logger
}

func NewLogDispatcher(logger *zerolog.Logger) *LogDispatcher {
	if logger == nil {
		logger = &log.Logger
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) AppointmentConfirmed(ctx context.Context, a *booking.Appointment) {
	d.logger.Info().
		Str("notification", "appointment_confirmed").
		Str("appointment_id", a.ID.String()).
		Str("professional_id", a.ProfessionalID.String()).
		Str("date", a.AppointmentDate.Format("2006-01-02")).
		Str("start", a.StartTime).
		Msg("notification due")
}

func (d *LogDispatcher) AppointmentCancelled(ctx context.Context, a *booking.Appointment) {
	d.logger.Info().
		Str("notification", "appointment_cancelled").
		Str("appointment_id", a.ID.String()).
		Str("professional_id", a.ProfessionalID.String()).
		Msg("notification due")
}

func (d *LogDispatcher) SlotOffered(ctx context.Context, e *waitlist.Entry) {
	ev := d.logger.Info().
		Str("notification", "waitlist_slot_offered").
		Str("entry_id", e.ID.String()).
		Str("professional_id", e.ProfessionalID.String())
	if e.ExpiresAt != nil {
		ev = ev.Time("expires_at", *e.ExpiresAt)
	}
	ev.Msg("notification due")
}
