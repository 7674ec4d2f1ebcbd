package schedule

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface so pgxmock can stand in for tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgDirectory struct {
	db DB
}

func NewPgDirectory(db DB) *PgDirectory {
	return &PgDirectory{db: db}
}

func (r *PgDirectory) Professional(ctx context.Context, id uuid.UUID) (*Professional, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, timezone, default_buffer_minutes, plan_tier,
		       appointment_cap, total_appointments_created, created_at, updated_at
		FROM professionals
		WHERE id = $1
	`, id)

	var p Professional
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Timezone,
		&p.DefaultBufferMinutes,
		&p.PlanTier,
		&p.AppointmentCap,
		&p.TotalAppointmentsCreated,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfessionalNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgDirectory) Service(ctx context.Context, id uuid.UUID) (*Service, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, professional_id, name, duration_minutes, buffer_minutes
		FROM services
		WHERE id = $1
	`, id)

	var s Service
	err := row.Scan(&s.ID, &s.ProfessionalID, &s.Name, &s.DurationMinutes, &s.BufferMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgDirectory) ScheduleBlocks(ctx context.Context, professionalID uuid.UUID) ([]WeeklyScheduleBlock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, professional_id, day_of_week, start_time, end_time, is_available
		FROM weekly_schedule_blocks
		WHERE professional_id = $1
		ORDER BY day_of_week, start_time
	`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []WeeklyScheduleBlock
	for rows.Next() {
		var b WeeklyScheduleBlock
		if err := rows.Scan(&b.ID, &b.ProfessionalID, &b.DayOfWeek, &b.StartTime, &b.EndTime, &b.IsAvailable); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (r *PgDirectory) Breaks(ctx context.Context, professionalID uuid.UUID) ([]BreakBlock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, professional_id, day_of_week, start_time, end_time
		FROM break_blocks
		WHERE professional_id = $1
		ORDER BY day_of_week, start_time
	`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []BreakBlock
	for rows.Next() {
		var b BreakBlock
		if err := rows.Scan(&b.ID, &b.ProfessionalID, &b.DayOfWeek, &b.StartTime, &b.EndTime); err != nil {
			return nil, err
		}
		breaks = append(breaks, b)
	}
	return breaks, rows.Err()
}
