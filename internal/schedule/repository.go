package schedule

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrServiceNotFound      = errors.New("service not found")
)

// Directory is the read-only view of professionals, services and schedules
// consumed by the booking core. Writes happen upstream in the settings
// surface and are out of scope here.
type Directory interface {
	Professional(ctx context.Context, id uuid.UUID) (*Professional, error)
	Service(ctx context.Context, id uuid.UUID) (*Service, error)
	ScheduleBlocks(ctx context.Context, professionalID uuid.UUID) ([]WeeklyScheduleBlock, error)
	Breaks(ctx context.Context, professionalID uuid.UUID) ([]BreakBlock, error)
}
