package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Plan tiers. Capped tiers bound the lifetime number of appointments a
// professional may create; the counter never decreases.
const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanPro     = "pro"
)

// DefaultCap returns the lifetime appointment cap for a plan tier, or nil
// for uncapped plans.
func DefaultCap(planTier string) *int {
	var cap int
	switch planTier {
	case PlanFree:
		cap = 100
	case PlanStarter:
		cap = 500
	default:
		return nil
	}
	return &cap
}

type Professional struct {
	ID                       uuid.UUID
	Name                     string
	Timezone                 string
	DefaultBufferMinutes     int
	PlanTier                 string
	AppointmentCap           *int
	TotalAppointmentsCreated int
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Location resolves the professional's fixed operating timezone, falling
// back to the given default when unset or invalid.
func (p *Professional) Location(fallback *time.Location) *time.Location {
	if p.Timezone != "" {
		if loc, err := time.LoadLocation(p.Timezone); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}

type Service struct {
	ID              uuid.UUID
	ProfessionalID  uuid.UUID
	Name            string
	DurationMinutes int
	BufferMinutes   *int // overrides the professional default when set
}

type WeeklyScheduleBlock struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	DayOfWeek      int    // 0 = Sunday .. 6 = Saturday
	StartTime      string // "HH:MM"
	EndTime        string
	IsAvailable    bool
}

type BreakBlock struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	DayOfWeek      int
	StartTime      string
	EndTime        string
}
