package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for waitlist entries. Every transition is a
// status-guarded conditional update, so concurrent confirm/release/sweep
// calls race safely without extra coordination.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, professional_id, service_id, patient_name, email, phone,
	preferred_date, token, status, notified_at, expires_at,
	available_date, available_start_time, available_end_time, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var email, phone *string
	err := row.Scan(
		&e.ID,
		&e.ProfessionalID,
		&e.ServiceID,
		&e.PatientName,
		&email,
		&phone,
		&e.PreferredDate,
		&e.Token,
		&e.Status,
		&e.NotifiedAt,
		&e.ExpiresAt,
		&e.AvailableDate,
		&e.AvailableStartTime,
		&e.AvailableEndTime,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if email != nil {
		e.Email = *email
	}
	if phone != nil {
		e.Phone = *phone
	}
	return &e, nil
}

func (s *Store) Insert(ctx context.Context, e *Entry) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, professional_id, service_id, patient_name, email, phone,
			preferred_date, token, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, now(), now())
		RETURNING created_at, updated_at
	`, e.ID, e.ProfessionalID, e.ServiceID, e.PatientName, e.Email, e.Phone,
		e.PreferredDate, e.Token, string(e.Status))
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		return fmt.Errorf("waitlist: insert entry: %w", err)
	}
	return nil
}

func (s *Store) GetByToken(ctx context.Context, token string) (*Entry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE token = $1
	`, token)
	return scanEntry(row)
}

// ListMatchingPending returns pending entries for the professional whose
// preferred date falls inside [windowStart, freedDate] and whose service
// matches the freed slot's (both set and equal, or both absent), oldest
// first for FIFO fairness.
func (s *Store) ListMatchingPending(ctx context.Context, professionalID uuid.UUID, serviceID *uuid.UUID, windowStart, freedDate time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE professional_id = $1
		  AND status = 'pending'
		  AND (($2::uuid IS NULL AND service_id IS NULL) OR service_id = $2)
		  AND preferred_date BETWEEN $3 AND $4
		ORDER BY created_at ASC
		LIMIT $5
	`, professionalID, serviceID, windowStart, freedDate, limit)
	if err != nil {
		return nil, fmt.Errorf("waitlist: list matching pending: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// MarkNotified transitions pending→notified, stamping the claim window and
// the offered slot. Returns false if the entry was no longer pending.
func (s *Store) MarkNotified(ctx context.Context, id uuid.UUID, notifiedAt, expiresAt time.Time, availableDate time.Time, availableStart, availableEnd string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'notified',
		    notified_at = $2,
		    expires_at = $3,
		    available_date = $4,
		    available_start_time = $5,
		    available_end_time = $6,
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, notifiedAt, expiresAt, availableDate, availableStart, availableEnd)
	if err != nil {
		return false, fmt.Errorf("waitlist: mark notified: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Transition performs a status-guarded state change and reports whether the
// row was still in the expected state.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("waitlist: transition %s->%s: %w", from, to, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireOverdue flips every notified entry past its deadline to expired.
// The status guard makes the sweep idempotent and safe against concurrent
// confirm/release calls.
func (s *Store) ExpireOverdue(ctx context.Context, asOf time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'expired', updated_at = now()
		WHERE status = 'notified' AND expires_at < $1
	`, asOf)
	if err != nil {
		return 0, fmt.Errorf("waitlist: expire overdue: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
