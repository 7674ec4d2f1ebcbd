package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agendly/booking-engine/internal/observability/metrics"
	"github.com/agendly/booking-engine/internal/redisclient"
	"github.com/agendly/booking-engine/internal/schedule"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentDeleted     = "APPOINTMENT_DELETED"
)

// maxLineageDepth bounds the reschedule-chain walk. Anything deeper is
// treated as a broken invariant.
const maxLineageDepth = 100

// Pool is the transactional handle the service needs from pgxpool; pgxmock
// satisfies it in tests.
type Pool interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Dispatcher decides that a notification is due after a state transition.
// Delivery is a collaborator concern.
type Dispatcher interface {
	AppointmentConfirmed(ctx context.Context, a *Appointment)
	AppointmentCancelled(ctx context.Context, a *Appointment)
}

// FreedSlot describes a window released by a cancellation or reschedule,
// handed to the waitlist matcher.
type FreedSlot struct {
	ProfessionalID uuid.UUID
	ServiceID      *uuid.UUID
	Date           time.Time
	StartTime      string
	EndTime        string
}

// SlotFreedHandler receives freed-slot events. The waitlist service
// implements it; it is wired after construction to avoid a dependency loop.
type SlotFreedHandler interface {
	SlotFreed(ctx context.Context, freed FreedSlot)
}

// ServiceConfig carries the tunables of the booking core.
type ServiceConfig struct {
	DraftTTL        time.Duration
	MinAdvance      time.Duration
	DefaultLocation *time.Location
}

// Service is the availability/booking arbitration engine: slot projection,
// the booking transaction, the appointment lifecycle and quota enforcement.
// It holds no in-process locks; correctness comes from row locking, the
// idempotent slot insert and the final overlap re-check inside one
// transaction.
type Service struct {
	pool      Pool
	store     *Store
	directory schedule.Directory
	locker    redisclient.Locker
	cfg       ServiceConfig

	dispatcher Dispatcher
	metrics    *metrics.BookingMetrics
	onFreed    SlotFreedHandler

	logger *zerolog.Logger
	now    func() time.Time
}

func NewService(pool Pool, directory schedule.Directory, locker redisclient.Locker, cfg ServiceConfig) *Service {
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = 15 * time.Minute
	}
	if cfg.MinAdvance <= 0 {
		cfg.MinAdvance = 15 * time.Minute
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	return &Service{
		pool:      pool,
		store:     NewStore(pool),
		directory: directory,
		locker:    locker,
		cfg:       cfg,
		logger:    &log.Logger,
		now:       time.Now,
	}
}

// SetDispatcher wires the notification dispatcher.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// SetMetrics wires prometheus counters.
func (s *Service) SetMetrics(m *metrics.BookingMetrics) { s.metrics = m }

// SetSlotFreedHandler wires the waitlist matcher.
func (s *Service) SetSlotFreedHandler(h SlotFreedHandler) { s.onFreed = h }

// SetNow overrides the clock, for tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// Slot projection

// SlotQuery selects the slot window to project.
type SlotQuery struct {
	ProfessionalID       uuid.UUID
	From, To             time.Time // civil dates, inclusive
	ServiceID            *uuid.UUID
	ExcludeAppointmentID *uuid.UUID // omit one appointment, for reschedule previews
	SkipMinAdvance       bool
}

// AvailableSlots loads a read snapshot and returns the lazy slot sequence.
// The projection performs no writes and needs no locks; bookings re-validate
// against live state.
func (s *Service) AvailableSlots(ctx context.Context, q SlotQuery) (iter.Seq[TimeSlot], error) {
	prof, err := s.directory.Professional(ctx, q.ProfessionalID)
	if err != nil {
		return nil, err
	}

	var svc *schedule.Service
	if q.ServiceID != nil {
		svc, err = s.directory.Service(ctx, *q.ServiceID)
		if err != nil {
			return nil, err
		}
		if svc.ProfessionalID != prof.ID {
			return nil, schedule.ErrServiceNotFound
		}
	}

	blocks, err := s.directory.ScheduleBlocks(ctx, prof.ID)
	if err != nil {
		return nil, fmt.Errorf("load schedule blocks: %w", err)
	}
	breaks, err := s.directory.Breaks(ctx, prof.ID)
	if err != nil {
		return nil, fmt.Errorf("load breaks: %w", err)
	}
	appointments, err := s.store.ListAppointmentsInRange(ctx, prof.ID, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	booked, err := s.store.ListBookedSlotIDs(ctx, prof.ID, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("load booked slots: %w", err)
	}

	return GenerateSlots(GeneratorInput{
		Professional:         prof,
		Service:              svc,
		Blocks:               blocks,
		Breaks:               breaks,
		Appointments:         appointments,
		BookedSlotIDs:        booked,
		From:                 q.From,
		To:                   q.To,
		ExcludeAppointmentID: q.ExcludeAppointmentID,
		SkipMinAdvance:       q.SkipMinAdvance,
		Now:                  s.now(),
		DraftTTL:             s.cfg.DraftTTL,
		MinAdvance:           s.cfg.MinAdvance,
		Location:             prof.Location(s.cfg.DefaultLocation),
	}), nil
}

// Booking

// BookingRequest reserves one slot. PatientID short-circuits contact
// resolution when the caller already holds a patient row (reschedules,
// waitlist confirms).
type BookingRequest struct {
	SlotID          string
	Patient         PatientInfo
	PatientID       *uuid.UUID
	ServiceID       *uuid.UUID
	Draft           bool
	rescheduledFrom *uuid.UUID
}

// BookSlot turns a chosen slot id into an appointment, materializing the
// slot row when it only exists virtually. Exactly one of any set of
// concurrent calls for the same slot succeeds; the rest get ErrSlotConflict
// or ErrSlotBeingBooked and leave no partial state behind.
func (s *Service) BookSlot(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.PatientID == nil {
		if err := req.Patient.Validate(); err != nil {
			return nil, err
		}
	}
	if _, _, _, err := ParseSlotID(req.SlotID); err != nil {
		return nil, err
	}

	var created *Appointment
	err := s.locker.WithSlotLock(ctx, req.SlotID, func(lockCtx context.Context) error {
		return s.inTx(lockCtx, func(txCtx context.Context, store *Store) error {
			appt, err := s.bookInTx(txCtx, store, req)
			if err != nil {
				return err
			}
			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
		s.observeBooking(err)
		return nil, err
	}

	s.observeBooking(nil)
	if created.Status == StatusConfirmed && s.dispatcher != nil {
		s.dispatcher.AppointmentConfirmed(ctx, created)
	}
	return created, nil
}

// bookInTx is the transactional core shared by BookSlot, reschedules and
// waitlist confirms. The caller owns the transaction. Lock order inside the
// transaction is fixed: slot, then patient, then quota counter.
func (s *Service) bookInTx(ctx context.Context, store *Store, req BookingRequest) (*Appointment, error) {
	now := s.now()
	draftCutoff := now.Add(-s.cfg.DraftTTL)

	slot, err := store.GetSlotForUpdate(ctx, req.SlotID)
	if errors.Is(err, ErrSlotNotFound) {
		slot, err = s.materializeSlot(ctx, store, req.SlotID, req.ServiceID, draftCutoff, req.rescheduledFrom)
	}
	if err != nil {
		return nil, err
	}

	if slot.IsBooked {
		return nil, ErrSlotConflict
	}

	patientID, err := s.resolvePatientID(ctx, store, slot.ProfessionalID, req)
	if err != nil {
		return nil, err
	}

	// Final authoritative check; closes the window between slot generation
	// and commit. A reschedule excludes the original appointment, which is
	// still confirmed at this point and retired only after the new booking
	// lands.
	conflict, err := store.HasActiveOverlap(ctx, slot.ProfessionalID, slot.SlotDate, slot.StartTime, slot.EndTime, draftCutoff, req.rescheduledFrom)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrSlotConflict
	}

	status := StatusConfirmed
	if req.Draft {
		status = StatusDraft
	}
	token := uuid.NewString()
	appt := &Appointment{
		ID:                uuid.New(),
		ProfessionalID:    slot.ProfessionalID,
		PatientID:         patientID,
		ServiceID:         req.ServiceID,
		TimeSlotID:        &slot.ID,
		AppointmentDate:   slot.SlotDate,
		StartTime:         slot.StartTime,
		EndTime:           slot.EndTime,
		Status:            status,
		CancellationToken: &token,
		RescheduledFromID: req.rescheduledFrom,
	}
	if err := store.InsertAppointment(ctx, appt); err != nil {
		return nil, err
	}

	if err := store.SetSlotBooked(ctx, slot.ID, true); err != nil {
		return nil, err
	}

	ok, err := store.IncrementQuota(ctx, slot.ProfessionalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}

	s.logEvent(ctx, store, appt.ID, EventAppointmentCreated, map[string]any{
		"slot_id": slot.ID,
		"status":  string(status),
	})

	return appt, nil
}

// materializeSlot re-validates a virtual slot id independently and inserts
// the row with insert-or-fetch semantics. When two requests materialize the
// same id simultaneously one insert no-ops and both proceed to the locked
// re-fetch; the overlap re-check then lets exactly one appointment through.
func (s *Service) materializeSlot(ctx context.Context, store *Store, slotID string, serviceID *uuid.UUID, draftCutoff time.Time, excludeID *uuid.UUID) (*TimeSlot, error) {
	professionalID, date, startMinutes, err := ParseSlotID(slotID)
	if err != nil {
		return nil, err
	}

	prof, err := s.directory.Professional(ctx, professionalID)
	if err != nil {
		return nil, err
	}

	duration := DefaultSlotMinutes
	if serviceID != nil {
		svc, err := s.directory.Service(ctx, *serviceID)
		if err != nil {
			return nil, err
		}
		if svc.ProfessionalID != professionalID {
			return nil, schedule.ErrServiceNotFound
		}
		duration = svc.DurationMinutes
	}
	endMinutes := startMinutes + duration

	loc := prof.Location(s.cfg.DefaultLocation)
	now := s.now()
	today := dateOf(now, loc)
	if date.Before(today) {
		return nil, ErrSlotInPast
	}
	if date.Equal(today) {
		nowAt := now.In(loc)
		if startMinutes < nowAt.Hour()*60+nowAt.Minute() {
			return nil, ErrSlotInPast
		}
	}

	blocks, err := s.directory.ScheduleBlocks(ctx, professionalID)
	if err != nil {
		return nil, fmt.Errorf("load schedule blocks: %w", err)
	}
	if !withinScheduleBlock(blocks, int(date.Weekday()), startMinutes, endMinutes) {
		return nil, ErrOutsideWorkingHours
	}

	breaks, err := s.directory.Breaks(ctx, professionalID)
	if err != nil {
		return nil, fmt.Errorf("load breaks: %w", err)
	}
	if overlapsBreak(breaks, int(date.Weekday()), startMinutes, endMinutes) {
		return nil, ErrOverlapsBreak
	}

	startTime := FormatClock(startMinutes)
	endTime := FormatClock(endMinutes)
	conflict, err := store.HasActiveOverlap(ctx, professionalID, date, startTime, endTime, draftCutoff, excludeID)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, ErrSlotConflict
	}

	slot := &TimeSlot{
		ID:             slotID,
		ProfessionalID: professionalID,
		SlotDate:       date,
		StartTime:      startTime,
		EndTime:        endTime,
	}
	if err := store.InsertSlot(ctx, slot); err != nil {
		return nil, err
	}

	// Fetch after insert-or-conflict; this also takes the row lock.
	return store.GetSlotForUpdate(ctx, slotID)
}

func withinScheduleBlock(blocks []schedule.WeeklyScheduleBlock, weekday, start, end int) bool {
	for _, b := range blocks {
		if b.DayOfWeek != weekday || !b.IsAvailable {
			continue
		}
		bs, err := ParseClock(b.StartTime)
		if err != nil {
			continue
		}
		be, err := ParseClock(b.EndTime)
		if err != nil {
			continue
		}
		if bs <= start && end <= be {
			return true
		}
	}
	return false
}

func overlapsBreak(breaks []schedule.BreakBlock, weekday, start, end int) bool {
	for _, b := range breaks {
		if b.DayOfWeek != weekday {
			continue
		}
		bs, err := ParseClock(b.StartTime)
		if err != nil {
			continue
		}
		be, err := ParseClock(b.EndTime)
		if err != nil {
			continue
		}
		if overlaps(start, end, bs, be) {
			return true
		}
	}
	return false
}

// resolvePatientID applies the duplicate policy: a contact match with the
// same name updates contact info; a contact match under a different name is
// treated as a possible duplicate and a new record is preferred.
func (s *Service) resolvePatientID(ctx context.Context, store *Store, professionalID uuid.UUID, req BookingRequest) (uuid.UUID, error) {
	if req.PatientID != nil {
		return *req.PatientID, nil
	}

	info := req.Patient
	existing, err := store.FindPatientByContact(ctx, professionalID, info.Email, info.Phone)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return uuid.Nil, fmt.Errorf("find patient: %w", err)
	}

	if existing != nil {
		if strings.EqualFold(strings.TrimSpace(existing.Name), strings.TrimSpace(info.Name)) {
			if err := store.UpdatePatientContact(ctx, existing.ID, info.Email, info.Phone); err != nil {
				return uuid.Nil, err
			}
			return existing.ID, nil
		}
		s.logger.Warn().
			Str("professional_id", professionalID.String()).
			Str("existing_patient_id", existing.ID.String()).
			Msg("ambiguous patient contact match, creating new record")
	}

	p := &Patient{
		ID:             uuid.New(),
		ProfessionalID: professionalID,
		Name:           strings.TrimSpace(info.Name),
		Email:          info.Email,
		Phone:          info.Phone,
	}
	if err := store.InsertPatient(ctx, p); err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

// Lifecycle

// ConfirmAppointment moves a draft to confirmed. An expired draft is
// rejected; the row itself is never transitioned to an expired state.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusDraft {
		return nil, ErrInvalidStatusTransition
	}
	if !appt.ActiveAt(s.now(), s.cfg.DraftTTL) {
		return nil, ErrDraftExpired
	}

	updated, err := s.store.UpdateAppointmentStatus(ctx, id, StatusDraft, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, s.store, updated.ID, EventAppointmentConfirmed, nil)
	if s.dispatcher != nil {
		s.dispatcher.AppointmentConfirmed(ctx, updated)
	}
	return updated, nil
}

// CancelAppointment cancels a draft or confirmed appointment, releases the
// slot and hands the freed window to the waitlist matcher.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	var cancelled *Appointment
	err := s.inTx(ctx, func(txCtx context.Context, store *Store) error {
		appt, err := store.GetAppointmentForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if appt.Status != StatusDraft && appt.Status != StatusConfirmed {
			return ErrInvalidStatusTransition
		}

		updated, err := store.MarkCancelled(txCtx, id, actor, s.now())
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		if appt.TimeSlotID != nil {
			if err := store.SetSlotBooked(txCtx, *appt.TimeSlotID, false); err != nil {
				return err
			}
		}

		s.logEvent(txCtx, store, id, EventAppointmentCancelled, map[string]any{"actor": actor})
		cancelled = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveCancellation(actor)
	}
	if s.dispatcher != nil {
		s.dispatcher.AppointmentCancelled(ctx, cancelled)
	}
	s.notifyFreed(ctx, cancelled)
	return cancelled, nil
}

// DeleteAppointment removes a row, re-pointing any successor's lineage at
// the deleted row's own predecessor first. Lineage failures abort; dropped
// historical links are not acceptable.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	var freed *Appointment
	err := s.inTx(ctx, func(txCtx context.Context, store *Store) error {
		appt, err := store.GetAppointmentForUpdate(txCtx, id)
		if err != nil {
			return err
		}

		if err := store.RepointLineage(txCtx, id, appt.RescheduledFromID); err != nil {
			return err
		}

		// Only an appointment that still holds its slot releases it; a
		// cancelled or rescheduled row gave the slot up already.
		if appt.TimeSlotID != nil && appt.ActiveAt(s.now(), s.cfg.DraftTTL) {
			if err := store.SetSlotBooked(txCtx, *appt.TimeSlotID, false); err != nil {
				return err
			}
			freed = appt
		}

		if err := store.DeleteAppointment(txCtx, id); err != nil {
			return err
		}

		s.logEvent(txCtx, store, id, EventAppointmentDeleted, nil)
		return nil
	})
	if err != nil {
		return err
	}

	if freed != nil {
		s.notifyFreed(ctx, freed)
	}
	return nil
}

// RescheduleAppointment books the new slot and retires the original in one
// transaction. The new appointment's lineage points at the original.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, newSlotID string) (*Appointment, error) {
	orig, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusConfirmed {
		return nil, ErrInvalidStatusTransition
	}
	if err := s.checkLineageAcyclic(ctx, orig); err != nil {
		return nil, err
	}
	if _, _, _, err := ParseSlotID(newSlotID); err != nil {
		return nil, err
	}

	var created *Appointment
	err = s.locker.WithSlotLock(ctx, newSlotID, func(lockCtx context.Context) error {
		return s.inTx(lockCtx, func(txCtx context.Context, store *Store) error {
			appt, err := s.bookInTx(txCtx, store, BookingRequest{
				SlotID:          newSlotID,
				PatientID:       &orig.PatientID,
				ServiceID:       orig.ServiceID,
				rescheduledFrom: &orig.ID,
			})
			if err != nil {
				return err
			}

			if _, err := store.UpdateAppointmentStatus(txCtx, orig.ID, StatusConfirmed, StatusRescheduled); err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return ErrInvalidStatusTransition
				}
				return fmt.Errorf("retire original appointment: %w", err)
			}
			if orig.TimeSlotID != nil {
				if err := store.SetSlotBooked(txCtx, *orig.TimeSlotID, false); err != nil {
					return err
				}
			}

			s.logEvent(txCtx, store, appt.ID, EventAppointmentRescheduled, map[string]any{
				"rescheduled_from": orig.ID.String(),
			})
			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
		s.observeBooking(err)
		return nil, err
	}

	s.observeBooking(nil)
	if s.dispatcher != nil {
		s.dispatcher.AppointmentConfirmed(ctx, created)
	}
	s.notifyFreed(ctx, orig)
	return created, nil
}

// checkLineageAcyclic walks the predecessor chain and rejects any revisit.
// The data model alone does not prevent a cycle, so the invariant is
// enforced on write.
func (s *Service) checkLineageAcyclic(ctx context.Context, a *Appointment) error {
	visited := map[uuid.UUID]bool{a.ID: true}
	cur := a.RescheduledFromID
	for depth := 0; cur != nil; depth++ {
		if depth >= maxLineageDepth {
			return ErrRescheduleCycle
		}
		if visited[*cur] {
			return ErrRescheduleCycle
		}
		visited[*cur] = true

		prev, err := s.store.GetAppointment(ctx, *cur)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return nil // chain end was deleted, forest intact
			}
			return err
		}
		cur = prev.RescheduledFromID
	}
	return nil
}

// SweepExpiredDrafts reports stale drafts for observability. Drafts have no
// stored expiry transition; the activity predicate excludes them everywhere.
func (s *Service) SweepExpiredDrafts(ctx context.Context) (int, error) {
	n, err := s.store.CountExpiredDrafts(ctx, s.now().Add(-s.cfg.DraftTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("stale draft appointments excluded from conflict checks")
	}
	return n, nil
}

// helpers

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, store *Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, NewStore(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Service) notifyFreed(ctx context.Context, a *Appointment) {
	if s.onFreed == nil {
		return
	}
	s.onFreed.SlotFreed(ctx, FreedSlot{
		ProfessionalID: a.ProfessionalID,
		ServiceID:      a.ServiceID,
		Date:           a.AppointmentDate,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
	})
}

func (s *Service) observeBooking(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.ObserveBooking("success")
	case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrSlotBeingBooked):
		s.metrics.ObserveBooking("conflict")
	case errors.Is(err, ErrQuotaExceeded):
		s.metrics.ObserveBooking("quota_exceeded")
	default:
		s.metrics.ObserveBooking("error")
	}
}

func (s *Service) logEvent(ctx context.Context, store *Store, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := store.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).Msg("insert event log")
	}
}
