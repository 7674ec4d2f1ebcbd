package booking

import (
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/agendly/booking-engine/internal/schedule"
)

// GeneratorInput is the read snapshot the slot generator projects from.
// The generator itself performs no reads or writes; it is a pure function
// over this input, safe to iterate repeatedly and in parallel.
type GeneratorInput struct {
	Professional *schedule.Professional
	Service      *schedule.Service // nil falls back to DefaultSlotMinutes
	Blocks       []schedule.WeeklyScheduleBlock
	Breaks       []schedule.BreakBlock

	// Appointments in [From,To], any status. Expired drafts and terminal
	// rows are filtered here with the shared ActiveAt predicate.
	Appointments []Appointment

	// Materialized slot rows in range already marked booked.
	BookedSlotIDs map[string]bool

	From, To             time.Time // civil dates, inclusive
	ExcludeAppointmentID *uuid.UUID
	SkipMinAdvance       bool

	Now        time.Time
	DraftTTL   time.Duration
	MinAdvance time.Duration
	Location   *time.Location // professional's operating timezone
}

// SlotStride returns the appointment duration and the step between slot
// starts (duration plus effective buffer, service override winning over the
// professional default).
func (in *GeneratorInput) SlotStride() (duration, stride int) {
	duration = DefaultSlotMinutes
	if in.Service != nil {
		duration = in.Service.DurationMinutes
	}
	buffer := in.Professional.DefaultBufferMinutes
	if in.Service != nil && in.Service.BufferMinutes != nil {
		buffer = *in.Service.BufferMinutes
	}
	return duration, duration + buffer
}

// GenerateSlots walks the date range and yields every virtual slot that is
// currently bookable. The sequence is lazy, finite and restartable; each
// restart re-derives from the same snapshot.
func GenerateSlots(in GeneratorInput) iter.Seq[TimeSlot] {
	duration, stride := in.SlotStride()

	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	today := dateOf(in.Now, loc)
	nowAt := in.Now.In(loc)
	nowMinutes := nowAt.Hour()*60 + nowAt.Minute()
	minAdvance := int(in.MinAdvance / time.Minute)

	blocksByDay := make(map[int][][2]int)
	for _, b := range in.Blocks {
		if !b.IsAvailable {
			continue
		}
		start, err := ParseClock(b.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(b.EndTime)
		if err != nil || end <= start {
			continue
		}
		blocksByDay[b.DayOfWeek] = append(blocksByDay[b.DayOfWeek], [2]int{start, end})
	}

	breaksByDay := make(map[int][][2]int)
	for _, b := range in.Breaks {
		start, err := ParseClock(b.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(b.EndTime)
		if err != nil || end <= start {
			continue
		}
		breaksByDay[b.DayOfWeek] = append(breaksByDay[b.DayOfWeek], [2]int{start, end})
	}

	busyByDate := make(map[string][][2]int)
	for i := range in.Appointments {
		a := &in.Appointments[i]
		if in.ExcludeAppointmentID != nil && a.ID == *in.ExcludeAppointmentID {
			continue
		}
		if !a.ActiveAt(in.Now, in.DraftTTL) {
			continue
		}
		start, err := ParseClock(a.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(a.EndTime)
		if err != nil {
			continue
		}
		key := a.AppointmentDate.Format(slotDateLayout)
		busyByDate[key] = append(busyByDate[key], [2]int{start, end})
	}

	return func(yield func(TimeSlot) bool) {
		seen := make(map[string]bool)

		for d := in.From; !d.After(in.To); d = d.AddDate(0, 0, 1) {
			if d.Before(today) {
				continue
			}
			isToday := d.Equal(today)
			busy := busyByDate[d.Format(slotDateLayout)]
			breaks := breaksByDay[int(d.Weekday())]

			for _, block := range blocksByDay[int(d.Weekday())] {
				for start := block[0]; start+duration <= block[1]; start += stride {
					end := start + duration

					if isToday && !in.SkipMinAdvance && start < nowMinutes+minAdvance {
						continue
					}
					if windowsOverlap(start, end, breaks) {
						continue
					}
					if windowsOverlap(start, end, busy) {
						continue
					}

					id := FormatSlotID(in.Professional.ID, d, start)
					if in.BookedSlotIDs[id] || seen[id] {
						continue
					}
					seen[id] = true

					slot := TimeSlot{
						ID:             id,
						ProfessionalID: in.Professional.ID,
						SlotDate:       d,
						StartTime:      FormatClock(start),
						EndTime:        FormatClock(end),
					}
					if !yield(slot) {
						return
					}
				}
			}
		}
	}
}

func windowsOverlap(start, end int, windows [][2]int) bool {
	for _, w := range windows {
		if overlaps(start, end, w[0], w[1]) {
			return true
		}
	}
	return false
}
