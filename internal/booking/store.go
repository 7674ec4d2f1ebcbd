package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface; both *pgxpool.Pool and pgx.Tx
// satisfy it, as do pgxmock pools in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store holds every booking-core query. Inside a booking transaction it is
// bound to the transaction; for display reads it is bound to the pool.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const appointmentColumns = `id, professional_id, patient_id, service_id, time_slot_id,
	appointment_date, start_time, end_time, status, cancelled_by, cancelled_at,
	cancellation_token, rescheduled_from_id, created_at, updated_at`

// activeAppointmentPredicate is the SQL twin of Appointment.ActiveAt. The
// placeholder is the draft cutoff (now minus the draft TTL); rows older than
// it that are still drafts count as absent everywhere conflicts are computed.
func activeAppointmentPredicate(cutoffArg int) string {
	return fmt.Sprintf(
		`status NOT IN ('cancelled','rescheduled')
		 AND NOT (status = 'draft' AND created_at < $%d)`, cutoffArg)
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.ProfessionalID,
		&a.PatientID,
		&a.ServiceID,
		&a.TimeSlotID,
		&a.AppointmentDate,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.CancelledBy,
		&a.CancelledAt,
		&a.CancellationToken,
		&a.RescheduledFromID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(
		&s.ID,
		&s.ProfessionalID,
		&s.SlotDate,
		&s.StartTime,
		&s.EndTime,
		&s.IsBooked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Slots

// GetSlotForUpdate locks the slot row for the remainder of the transaction.
func (s *Store) GetSlotForUpdate(ctx context.Context, id string) (*TimeSlot, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, professional_id, slot_date, start_time, end_time, is_booked, created_at, updated_at
		FROM time_slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

// InsertSlot materializes a virtual slot. ON CONFLICT DO NOTHING makes the
// materialization race idempotent: the loser simply re-fetches.
func (s *Store) InsertSlot(ctx context.Context, slot *TimeSlot) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO time_slots (id, professional_id, slot_date, start_time, end_time, is_booked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, slot.ID, slot.ProfessionalID, slot.SlotDate, slot.StartTime, slot.EndTime)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (s *Store) SetSlotBooked(ctx context.Context, id string, booked bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE time_slots
		SET is_booked = $2, updated_at = now()
		WHERE id = $1
	`, id, booked)
	if err != nil {
		return fmt.Errorf("set slot booked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// ListBookedSlotIDs returns the ids of materialized slots marked booked in
// the date range, for the generator's exclusion set.
func (s *Store) ListBookedSlotIDs(ctx context.Context, professionalID uuid.UUID, from, to time.Time) (map[string]bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM time_slots
		WHERE professional_id = $1
		  AND slot_date BETWEEN $2 AND $3
		  AND is_booked = TRUE
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	booked := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		booked[id] = true
	}
	return booked, rows.Err()
}

// Appointments

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *Store) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

// ListAppointmentsInRange returns every appointment row in the window,
// terminal or not; the generator applies the activity predicate itself.
func (s *Store) ListAppointmentsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE professional_id = $1
		  AND appointment_date BETWEEN $2 AND $3
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// HasActiveOverlap is the final authoritative conflict check before insert.
// draftCutoff is now minus the draft TTL.
func (s *Store) HasActiveOverlap(ctx context.Context, professionalID uuid.UUID, date time.Time, startTime, endTime string, draftCutoff time.Time, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE professional_id = $1
			  AND appointment_date = $2
			  AND start_time < $4
			  AND end_time > $3
			  AND ` + activeAppointmentPredicate(5) + `
			  AND ($6::uuid IS NULL OR id <> $6)
		)
	`
	var exists bool
	err := s.db.QueryRow(ctx, query, professionalID, date, startTime, endTime, draftCutoff, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return exists, nil
}

func (s *Store) InsertAppointment(ctx context.Context, a *Appointment) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO appointments (id, professional_id, patient_id, service_id, time_slot_id,
			appointment_date, start_time, end_time, status, cancellation_token,
			rescheduled_from_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.ProfessionalID, a.PatientID, a.ServiceID, a.TimeSlotID,
		a.AppointmentDate, a.StartTime, a.EndTime, a.Status, a.CancellationToken,
		a.RescheduledFromID)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// UpdateAppointmentStatus performs a status-guarded transition; a row is
// only touched if it is still in the expected state.
func (s *Store) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

// MarkCancelled cancels a draft or confirmed appointment, recording the
// actor and invalidating the cancellation token.
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID, actor string, at time.Time) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancelled_by = $2,
		    cancelled_at = $3,
		    cancellation_token = NULL,
		    updated_at = now()
		WHERE id = $1 AND status IN ('draft','confirmed')
		RETURNING `+appointmentColumns+`
	`, id, actor, at)
	return scanAppointment(row)
}

// RepointLineage redirects every appointment pointing at the row being
// deleted to that row's own predecessor, preserving the historical chain.
func (s *Store) RepointLineage(ctx context.Context, deletedID uuid.UUID, predecessor *uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET rescheduled_from_id = $2, updated_at = now()
		WHERE rescheduled_from_id = $1
	`, deletedID, predecessor)
	if err != nil {
		return fmt.Errorf("repoint lineage: %w", err)
	}
	return nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// CountExpiredDrafts reports how many draft rows have outlived the TTL.
// Drafts are never transitioned; this only feeds the sweep worker's logs.
func (s *Store) CountExpiredDrafts(ctx context.Context, draftCutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE status = 'draft' AND created_at < $1
	`, draftCutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count expired drafts: %w", err)
	}
	return n, nil
}

// Patients

// FindPatientByContact matches an existing patient of the professional by
// email or phone.
func (s *Store) FindPatientByContact(ctx context.Context, professionalID uuid.UUID, email, phone string) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, professional_id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE professional_id = $1
		  AND (($2 <> '' AND email = $2) OR ($3 <> '' AND phone = $3))
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE
	`, professionalID, email, phone)

	var p Patient
	var email2, phone2 *string
	err := row.Scan(&p.ID, &p.ProfessionalID, &p.Name, &email2, &phone2, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	if email2 != nil {
		p.Email = *email2
	}
	if phone2 != nil {
		p.Phone = *phone2
	}
	return &p, nil
}

func (s *Store) InsertPatient(ctx context.Context, p *Patient) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO patients (id, professional_id, name, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.ProfessionalID, p.Name, p.Email, p.Phone)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (s *Store) UpdatePatientContact(ctx context.Context, id uuid.UUID, email, phone string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE patients
		SET email = COALESCE(NULLIF($2, ''), email),
		    phone = COALESCE(NULLIF($3, ''), phone),
		    updated_at = now()
		WHERE id = $1
	`, id, email, phone)
	if err != nil {
		return fmt.Errorf("update patient contact: %w", err)
	}
	return nil
}

// Quota

// IncrementQuota bumps the lifetime counter only while it is under the plan
// cap. Zero rows affected is the exhaustion signal and must abort the whole
// booking transaction. Uncapped plans always increment.
func (s *Store) IncrementQuota(ctx context.Context, professionalID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE professionals
		SET total_appointments_created = total_appointments_created + 1,
		    updated_at = now()
		WHERE id = $1
		  AND (appointment_cap IS NULL OR total_appointments_created < appointment_cap)
	`, professionalID)
	if err != nil {
		return false, fmt.Errorf("increment quota: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Event log

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

func (s *Store) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
