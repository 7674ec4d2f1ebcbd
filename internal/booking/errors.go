package booking

import "errors"

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrMalformedSlotID     = errors.New("malformed slot id")
	ErrSlotInPast          = errors.New("slot is in the past")
	ErrOutsideWorkingHours = errors.New("slot is outside working hours")
	ErrOverlapsBreak       = errors.New("slot overlaps a break")

	// ErrSlotConflict means another active appointment holds an overlapping
	// window. Expected under contention; callers should rebuild candidates
	// and retry.
	ErrSlotConflict = errors.New("slot conflicts with an existing appointment")

	// ErrSlotBeingBooked means the Redis front gate is held by another
	// request. Also retryable.
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")

	ErrQuotaExceeded = errors.New("appointment quota exceeded for plan")

	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrPatientNotFound         = errors.New("patient not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrDraftExpired            = errors.New("draft appointment has expired")

	// ErrRescheduleCycle guards the lineage forest invariant: following
	// rescheduled_from_id must never revisit a node.
	ErrRescheduleCycle = errors.New("reschedule lineage would form a cycle")

	ErrInvalidPatientName    = errors.New("patient name is required")
	ErrMissingPatientContact = errors.New("either email or phone is required")
)
