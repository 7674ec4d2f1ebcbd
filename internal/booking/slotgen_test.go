package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agendly/booking-engine/internal/schedule"
)

// monday is a fixed civil Monday used throughout the generator tests.
var monday = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

func intPtr(n int) *int { return &n }

func baseInput(prof *schedule.Professional) GeneratorInput {
	return GeneratorInput{
		Professional: prof,
		Blocks: []schedule.WeeklyScheduleBlock{
			{ProfessionalID: prof.ID, DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", IsAvailable: true},
		},
		From:       monday,
		To:         monday,
		Now:        monday.Add(-24 * time.Hour), // Sunday, so no min-advance filtering
		DraftTTL:   15 * time.Minute,
		MinAdvance: 15 * time.Minute,
		Location:   time.UTC,
	}
}

func collectStarts(in GeneratorInput) []string {
	var starts []string
	for slot := range GenerateSlots(in) {
		starts = append(starts, slot.StartTime)
	}
	return starts
}

func assertStarts(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d slots %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slot %d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestGenerateSlotsStride(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)

	// 30-minute slots stepped by 35; 11:55 would end past the block.
	assertStarts(t, collectStarts(in), []string{"09:00", "09:35", "10:10", "10:45", "11:20"})
}

func TestGenerateSlotsServiceBufferOverride(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)
	in.Service = &schedule.Service{
		ID:              uuid.New(),
		ProfessionalID:  prof.ID,
		DurationMinutes: 60,
		BufferMinutes:   intPtr(0),
	}

	assertStarts(t, collectStarts(in), []string{"09:00", "10:00", "11:00"})
}

func TestGenerateSlotsBreakExclusion(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)
	in.Breaks = []schedule.BreakBlock{
		{ProfessionalID: prof.ID, DayOfWeek: 1, StartTime: "10:00", EndTime: "10:30"},
	}

	// 09:35-10:05 and 10:10-10:40 both touch the break.
	assertStarts(t, collectStarts(in), []string{"09:00", "10:45", "11:20"})
}

func TestGenerateSlotsBusyExclusion(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)
	in.Appointments = []Appointment{
		{
			ID:              uuid.New(),
			ProfessionalID:  prof.ID,
			AppointmentDate: monday,
			StartTime:       "11:20",
			EndTime:         "11:50",
			Status:          StatusConfirmed,
		},
	}

	assertStarts(t, collectStarts(in), []string{"09:00", "09:35", "10:10", "10:45"})
}

func TestGenerateSlotsExpiredDraftDoesNotBlock(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)
	in.Appointments = []Appointment{
		{
			ID:              uuid.New(),
			ProfessionalID:  prof.ID,
			AppointmentDate: monday,
			StartTime:       "09:00",
			EndTime:         "09:30",
			Status:          StatusDraft,
			CreatedAt:       in.Now.Add(-time.Hour), // long past the draft TTL
		},
		{
			ID:              uuid.New(),
			ProfessionalID:  prof.ID,
			AppointmentDate: monday,
			StartTime:       "09:35",
			EndTime:         "10:05",
			Status:          StatusDraft,
			CreatedAt:       in.Now.Add(-time.Minute), // still holding its slot
		},
	}

	assertStarts(t, collectStarts(in), []string{"09:00", "10:10", "10:45", "11:20"})
}

func TestGenerateSlotsExcludeAppointment(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	excludeID := uuid.New()
	in := baseInput(prof)
	in.Appointments = []Appointment{
		{
			ID:              excludeID,
			ProfessionalID:  prof.ID,
			AppointmentDate: monday,
			StartTime:       "09:00",
			EndTime:         "09:30",
			Status:          StatusConfirmed,
		},
	}
	in.ExcludeAppointmentID = &excludeID

	// A reschedule preview sees its own slot as free again.
	assertStarts(t, collectStarts(in), []string{"09:00", "09:35", "10:10", "10:45", "11:20"})
}

func TestGenerateSlotsMinAdvanceToday(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)
	in.Now = monday.Add(9*time.Hour + 30*time.Minute) // 09:30 on the Monday itself

	// Cutoff is 09:45; 09:00 and 09:35 are too soon.
	assertStarts(t, collectStarts(in), []string{"10:10", "10:45", "11:20"})

	in.SkipMinAdvance = true
	assertStarts(t, collectStarts(in), []string{"09:00", "09:35", "10:10", "10:45", "11:20"})
}

func TestGenerateSlotsPastDatesSkipped(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)
	in.Now = monday.AddDate(0, 0, 2) // Wednesday; the whole window is in the past

	if got := collectStarts(in); len(got) != 0 {
		t.Fatalf("expected no slots for a past window, got %v", got)
	}
}

func TestGenerateSlotsBookedIDExcluded(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)
	in.BookedSlotIDs = map[string]bool{
		FormatSlotID(prof.ID, monday, 9*60): true,
	}

	assertStarts(t, collectStarts(in), []string{"09:35", "10:10", "10:45", "11:20"})
}

func TestGenerateSlotsRestartable(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)
	seq := GenerateSlots(in)

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	if first != second || first == 0 {
		t.Fatalf("sequence not restartable: first=%d second=%d", first, second)
	}
}

func TestGenerateSlotsEarlyStop(t *testing.T) {
	prof := &schedule.Professional{ID: uuid.New(), DefaultBufferMinutes: 5}
	in := baseInput(prof)

	var got []TimeSlot
	for slot := range GenerateSlots(in) {
		got = append(got, slot)
		if len(got) == 2 {
			break
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected iteration to stop at 2 slots, got %d", len(got))
	}
}

func TestGenerateSlotsTimezoneToday(t *testing.T) {
	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	prof := &schedule.Professional{ID: uuid.New(), Timezone: "America/Sao_Paulo"}
	in := baseInput(prof)
	in.Location = saoPaulo
	// 13:00 UTC is 10:00 in Sao Paulo on this date; cutoff 10:15.
	in.Now = time.Date(2026, 3, 9, 13, 0, 0, 0, time.UTC)

	assertStarts(t, collectStarts(in), []string{"10:30", "11:00", "11:30"})
}
