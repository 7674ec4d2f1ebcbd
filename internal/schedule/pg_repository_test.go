package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T) (*PgDirectory, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgDirectory(mock), mock
}

func TestProfessionalLookup(t *testing.T) {
	dir, mock := newTestDirectory(t)

	id := uuid.New()
	cap := 100
	now := time.Now()
	mock.ExpectQuery("FROM professionals").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "timezone", "default_buffer_minutes", "plan_tier",
			"appointment_cap", "total_appointments_created", "created_at", "updated_at",
		}).AddRow(id, "Dr. Lima", "America/Sao_Paulo", 5, PlanFree, &cap, 42, now, now))

	p, err := dir.Professional(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "Dr. Lima", p.Name)
	require.Equal(t, 5, p.DefaultBufferMinutes)
	require.NotNil(t, p.AppointmentCap)
	require.Equal(t, 100, *p.AppointmentCap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProfessionalNotFound(t *testing.T) {
	dir, mock := newTestDirectory(t)

	id := uuid.New()
	mock.ExpectQuery("FROM professionals").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := dir.Professional(context.Background(), id)
	require.ErrorIs(t, err, ErrProfessionalNotFound)
}

func TestServiceNotFound(t *testing.T) {
	dir, mock := newTestDirectory(t)

	id := uuid.New()
	mock.ExpectQuery("FROM services").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := dir.Service(context.Background(), id)
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestScheduleBlocks(t *testing.T) {
	dir, mock := newTestDirectory(t)

	professionalID := uuid.New()
	mock.ExpectQuery("FROM weekly_schedule_blocks").WithArgs(professionalID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "professional_id", "day_of_week", "start_time", "end_time", "is_available",
		}).
			AddRow(uuid.New(), professionalID, 1, "09:00", "12:00", true).
			AddRow(uuid.New(), professionalID, 1, "13:00", "18:00", true))

	blocks, err := dir.ScheduleBlocks(context.Background(), professionalID)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, "09:00", blocks[0].StartTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDefaultCap(t *testing.T) {
	require.Equal(t, 100, *DefaultCap(PlanFree))
	require.Equal(t, 500, *DefaultCap(PlanStarter))
	require.Nil(t, DefaultCap(PlanPro))
	require.Nil(t, DefaultCap("enterprise"))
}

func TestProfessionalLocation(t *testing.T) {
	p := Professional{Timezone: "America/Sao_Paulo"}
	loc := p.Location(time.UTC)
	require.Equal(t, "America/Sao_Paulo", loc.String())

	p = Professional{Timezone: "Not/AZone"}
	require.Equal(t, time.UTC, p.Location(time.UTC))

	p = Professional{}
	require.Equal(t, time.UTC, p.Location(nil))
}

func TestInMemoryDirectory(t *testing.T) {
	dir := NewInMemoryDirectory()
	professionalID := uuid.New()

	dir.AddProfessional(Professional{ID: professionalID, Name: "Dr. Lima"})
	dir.AddScheduleBlock(WeeklyScheduleBlock{ProfessionalID: professionalID, DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", IsAvailable: true})
	dir.AddBreak(BreakBlock{ProfessionalID: professionalID, DayOfWeek: 1, StartTime: "10:00", EndTime: "10:30"})

	p, err := dir.Professional(context.Background(), professionalID)
	require.NoError(t, err)
	require.Equal(t, "Dr. Lima", p.Name)

	_, err = dir.Professional(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrProfessionalNotFound)

	blocks, err := dir.ScheduleBlocks(context.Background(), professionalID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	breaks, err := dir.Breaks(context.Background(), professionalID)
	require.NoError(t, err)
	require.Len(t, breaks, 1)
}
