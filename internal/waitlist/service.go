package waitlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agendly/booking-engine/internal/booking"
	"github.com/agendly/booking-engine/internal/observability/metrics"
)

// Notifier decides that a slot-offer notification is due. Delivery is a
// collaborator concern.
type Notifier interface {
	SlotOffered(ctx context.Context, e *Entry)
}

// Booker is the slice of the booking service a claim confirmation needs.
type Booker interface {
	BookSlot(ctx context.Context, req booking.BookingRequest) (*booking.Appointment, error)
}

// Service owns the waitlist state machine: FIFO matching of freed slots,
// claim issuance with expiring single-use tokens, and the expiry sweep.
type Service struct {
	store    *Store
	booker   Booker
	notifier Notifier
	metrics  *metrics.BookingMetrics
	claimTTL time.Duration

	logger *zerolog.Logger
	now    func() time.Time
}

func NewService(store *Store, booker Booker, claimTTL time.Duration) *Service {
	if claimTTL <= 0 {
		claimTTL = 24 * time.Hour
	}
	return &Service{
		store:    store,
		booker:   booker,
		claimTTL: claimTTL,
		logger:   &log.Logger,
		now:      time.Now,
	}
}

func (s *Service) SetNotifier(n Notifier)               { s.notifier = n }
func (s *Service) SetMetrics(m *metrics.BookingMetrics) { s.metrics = m }
func (s *Service) SetNow(now func() time.Time)          { s.now = now }

// JoinRequest registers interest in a freed slot around a preferred date.
type JoinRequest struct {
	ProfessionalID uuid.UUID
	ServiceID      *uuid.UUID
	PreferredDate  time.Time
	PatientName    string
	Email          string
	Phone          string
}

func (r *JoinRequest) Validate() error {
	if strings.TrimSpace(r.PatientName) == "" {
		return ErrInvalidName
	}
	if r.Email == "" && r.Phone == "" {
		return ErrMissingContact
	}
	return nil
}

// Join creates a pending entry with a fresh single-use token.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e := &Entry{
		ID:             uuid.New(),
		ProfessionalID: req.ProfessionalID,
		ServiceID:      req.ServiceID,
		PatientName:    strings.TrimSpace(req.PatientName),
		Email:          req.Email,
		Phone:          req.Phone,
		PreferredDate:  req.PreferredDate,
		Token:          uuid.NewString(),
		Status:         StatusPending,
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("entry_id", e.ID.String()).
		Str("professional_id", e.ProfessionalID.String()).
		Msg("waitlist entry created")
	return e, nil
}

// matchBatchSize bounds how many candidates a single query pulls; SlotFreed
// re-queries when an entire batch loses the notify race.
const matchBatchSize = 5

// SlotFreed matches a freed window against pending entries and offers it to
// the oldest match. It implements the booking service's freed-slot hook.
// The guarded pending→notified update means a losing race simply moves on
// to the next candidate. An entry that lost the race is no longer pending,
// so the re-query after an exhausted batch only sees fresh candidates and
// the loop terminates.
func (s *Service) SlotFreed(ctx context.Context, freed booking.FreedSlot) {
	windowStart := freed.Date.AddDate(0, 0, -MatchWindowDays)
	now := s.now()
	expiresAt := now.Add(s.claimTTL)

	for {
		candidates, err := s.store.ListMatchingPending(ctx, freed.ProfessionalID, freed.ServiceID, windowStart, freed.Date, matchBatchSize)
		if err != nil {
			s.logger.Error().Err(err).
				Str("professional_id", freed.ProfessionalID.String()).
				Msg("waitlist: match freed slot")
			return
		}
		if len(candidates) == 0 {
			return
		}

		for i := range candidates {
			e := &candidates[i]
			ok, err := s.store.MarkNotified(ctx, e.ID, now, expiresAt, freed.Date, freed.StartTime, freed.EndTime)
			if err != nil {
				s.logger.Error().Err(err).Str("entry_id", e.ID.String()).Msg("waitlist: notify entry")
				return
			}
			if !ok {
				continue
			}

			e.Status = StatusNotified
			e.NotifiedAt = &now
			e.ExpiresAt = &expiresAt
			date := freed.Date
			start, end := freed.StartTime, freed.EndTime
			e.AvailableDate = &date
			e.AvailableStartTime = &start
			e.AvailableEndTime = &end

			if s.metrics != nil {
				s.metrics.ObserveWaitlistTransition(string(StatusNotified))
			}
			if s.notifier != nil {
				s.notifier.SlotOffered(ctx, e)
			}
			s.logger.Info().
				Str("entry_id", e.ID.String()).
				Time("expires_at", expiresAt).
				Msg("waitlist entry offered freed slot")
			return
		}

		if len(candidates) < matchBatchSize {
			// A short batch holds every remaining match; all of them
			// lost the race, so there is nobody left to offer to.
			return
		}
	}
}

// ConfirmClaim books the offered slot for the entry holder. The guarded
// notified→fulfilled transition consumes the token first, so concurrent
// confirms admit exactly one booking attempt; a failed booking reverts the
// entry to notified so the holder may retry until the claim expires.
//
// The transition and the booking run in separate transactions. A crash
// between the two strands the entry fulfilled with no appointment; the
// holder loses the claim but the slot stays bookable through the regular
// path.
func (s *Service) ConfirmClaim(ctx context.Context, token string) (*booking.Appointment, error) {
	e, err := s.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if e.Status != StatusNotified {
		return nil, ErrInvalidToken
	}
	if e.ExpiresAt == nil || e.AvailableDate == nil || e.AvailableStartTime == nil {
		return nil, fmt.Errorf("waitlist: entry %s notified without claim window", e.ID)
	}
	if s.now().After(*e.ExpiresAt) {
		if _, err := s.store.Transition(ctx, e.ID, StatusNotified, StatusExpired); err != nil {
			s.logger.Error().Err(err).Str("entry_id", e.ID.String()).Msg("waitlist: expire on confirm")
		}
		return nil, ErrClaimExpired
	}

	ok, err := s.store.Transition(ctx, e.ID, StatusNotified, StatusFulfilled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidToken
	}

	startMinutes, err := booking.ParseClock(*e.AvailableStartTime)
	if err != nil {
		return nil, fmt.Errorf("waitlist: entry %s has invalid claim window: %w", e.ID, err)
	}
	slotID := booking.FormatSlotID(e.ProfessionalID, *e.AvailableDate, startMinutes)

	appt, err := s.booker.BookSlot(ctx, booking.BookingRequest{
		SlotID: slotID,
		Patient: booking.PatientInfo{
			Name:  e.PatientName,
			Email: e.Email,
			Phone: e.Phone,
		},
		ServiceID: e.ServiceID,
	})
	if err != nil {
		if _, revertErr := s.store.Transition(ctx, e.ID, StatusFulfilled, StatusNotified); revertErr != nil {
			s.logger.Error().Err(revertErr).Str("entry_id", e.ID.String()).Msg("waitlist: revert failed claim")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveWaitlistTransition(string(StatusFulfilled))
	}
	s.logger.Info().
		Str("entry_id", e.ID.String()).
		Str("appointment_id", appt.ID.String()).
		Msg("waitlist claim fulfilled")
	return appt, nil
}

// ReleaseClaim relinquishes a notified entry. The slot returns to the
// general pool; the next pending candidate is not re-notified
// automatically.
func (s *Service) ReleaseClaim(ctx context.Context, token string) error {
	e, err := s.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if e.Status != StatusNotified {
		return ErrInvalidToken
	}

	ok, err := s.store.Transition(ctx, e.ID, StatusNotified, StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidToken
	}

	if s.metrics != nil {
		s.metrics.ObserveWaitlistTransition(string(StatusCancelled))
	}
	s.logger.Info().Str("entry_id", e.ID.String()).Msg("waitlist claim released")
	return nil
}

// SweepExpiredClaims is intended to be called by the worker periodically.
func (s *Service) SweepExpiredClaims(ctx context.Context) (int, error) {
	n, err := s.store.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if s.metrics != nil {
			s.metrics.AddClaimsExpired(n)
		}
		s.logger.Info().Int("count", n).Msg("waitlist claims expired")
	}
	return n, nil
}
