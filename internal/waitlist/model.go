package waitlist

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusNotified  Status = "notified"
	StatusFulfilled Status = "fulfilled"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// MatchWindowDays is how far before the freed date an entry's preferred
// date may fall and still match.
const MatchWindowDays = 14

var (
	ErrEntryNotFound = errors.New("waitlist entry not found")

	// ErrInvalidToken covers unknown tokens and tokens whose entry already
	// reached a terminal state; tokens are strictly single-use.
	ErrInvalidToken = errors.New("invalid waitlist token")

	ErrClaimExpired = errors.New("waitlist claim has expired")

	ErrInvalidName    = errors.New("patient name is required")
	ErrMissingContact = errors.New("either email or phone is required")
)

// Entry is one client's standing request to be offered a freed slot.
type Entry struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	ServiceID      *uuid.UUID
	PatientName    string
	Email          string
	Phone          string
	PreferredDate  time.Time
	Token          string
	Status         Status
	NotifiedAt     *time.Time
	ExpiresAt      *time.Time

	// The freed window the entry was offered, set on pending→notified.
	AvailableDate      *time.Time
	AvailableStartTime *string
	AvailableEndTime   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
