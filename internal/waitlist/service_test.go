package waitlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/agendly/booking-engine/internal/booking"
)

var testNow = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

type stubBooker struct {
	lastReq booking.BookingRequest
	appt    *booking.Appointment
	err     error
}

func (b *stubBooker) BookSlot(ctx context.Context, req booking.BookingRequest) (*booking.Appointment, error) {
	b.lastReq = req
	return b.appt, b.err
}

type offerRecorder struct {
	offered []*Entry
}

func (r *offerRecorder) SlotOffered(ctx context.Context, e *Entry) {
	r.offered = append(r.offered, e)
}

func newTestService(t *testing.T, booker Booker) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	svc := NewService(NewStore(mock), booker, 24*time.Hour)
	svc.SetNow(func() time.Time { return testNow })
	return svc, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var entryCols = []string{
	"id", "professional_id", "service_id", "patient_name", "email", "phone",
	"preferred_date", "token", "status", "notified_at", "expires_at",
	"available_date", "available_start_time", "available_end_time", "created_at", "updated_at",
}

func entryRow(e Entry) *pgxmock.Rows {
	email := &e.Email
	phone := &e.Phone
	return pgxmock.NewRows(entryCols).AddRow(
		e.ID, e.ProfessionalID, e.ServiceID, e.PatientName, email, phone,
		e.PreferredDate, e.Token, e.Status, e.NotifiedAt, e.ExpiresAt,
		e.AvailableDate, e.AvailableStartTime, e.AvailableEndTime, e.CreatedAt, e.UpdatedAt,
	)
}

func TestJoinValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Join(context.Background(), JoinRequest{
		ProfessionalID: uuid.New(),
		PreferredDate:  testNow,
		PatientName:    "  ",
		Email:          "ana@example.com",
	})
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}

	_, err = svc.Join(context.Background(), JoinRequest{
		ProfessionalID: uuid.New(),
		PreferredDate:  testNow,
		PatientName:    "Ana",
	})
	if !errors.Is(err, ErrMissingContact) {
		t.Fatalf("err = %v, want ErrMissingContact", err)
	}
}

func TestJoinCreatesPendingEntry(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectQuery("INSERT INTO waitlist_entries").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(testNow, testNow))

	e, err := svc.Join(context.Background(), JoinRequest{
		ProfessionalID: uuid.New(),
		PreferredDate:  testNow.AddDate(0, 0, 7),
		PatientName:    " Ana Souza ",
		Email:          "ana@example.com",
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if e.Status != StatusPending {
		t.Errorf("status = %s, want pending", e.Status)
	}
	if e.Token == "" {
		t.Error("expected a token")
	}
	if e.PatientName != "Ana Souza" {
		t.Errorf("name = %q, want trimmed", e.PatientName)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSlotFreedNotifiesOldestMatch(t *testing.T) {
	svc, mock := newTestService(t, nil)
	recorder := &offerRecorder{}
	svc.SetNotifier(recorder)

	professionalID := uuid.New()
	freedDate := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	entry := Entry{
		ID:             uuid.New(),
		ProfessionalID: professionalID,
		PatientName:    "Ana",
		PreferredDate:  freedDate.AddDate(0, 0, -3),
		Token:          uuid.NewString(),
		Status:         StatusPending,
	}

	mock.ExpectQuery("FROM waitlist_entries").
		WithArgs(professionalID, pgxmock.AnyArg(), freedDate.AddDate(0, 0, -MatchWindowDays), freedDate, 5).
		WillReturnRows(entryRow(entry))
	mock.ExpectExec("UPDATE waitlist_entries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	svc.SlotFreed(context.Background(), booking.FreedSlot{
		ProfessionalID: professionalID,
		Date:           freedDate,
		StartTime:      "10:00",
		EndTime:        "10:30",
	})

	if len(recorder.offered) != 1 {
		t.Fatalf("offers = %d, want 1", len(recorder.offered))
	}
	offered := recorder.offered[0]
	if offered.Status != StatusNotified {
		t.Errorf("status = %s, want notified", offered.Status)
	}
	if offered.ExpiresAt == nil || !offered.ExpiresAt.Equal(testNow.Add(24*time.Hour)) {
		t.Errorf("expires_at = %v, want %v", offered.ExpiresAt, testNow.Add(24*time.Hour))
	}
	if offered.AvailableStartTime == nil || *offered.AvailableStartTime != "10:00" {
		t.Errorf("offered window start = %v, want 10:00", offered.AvailableStartTime)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSlotFreedSkipsLostRace(t *testing.T) {
	svc, mock := newTestService(t, nil)
	recorder := &offerRecorder{}
	svc.SetNotifier(recorder)

	professionalID := uuid.New()
	freedDate := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	first := Entry{
		ID:             uuid.New(),
		ProfessionalID: professionalID,
		PatientName:    "Ana",
		PreferredDate:  freedDate,
		Token:          uuid.NewString(),
		Status:         StatusPending,
	}
	second := first
	second.ID = uuid.New()
	second.PatientName = "Bruno"
	second.Token = uuid.NewString()

	rows := entryRow(first).AddRow(
		second.ID, second.ProfessionalID, second.ServiceID, second.PatientName,
		&second.Email, &second.Phone, second.PreferredDate, second.Token, second.Status,
		second.NotifiedAt, second.ExpiresAt, second.AvailableDate,
		second.AvailableStartTime, second.AvailableEndTime, second.CreatedAt, second.UpdatedAt,
	)

	mock.ExpectQuery("FROM waitlist_entries").WillReturnRows(rows)
	// A concurrent matcher already claimed the first entry.
	mock.ExpectExec("UPDATE waitlist_entries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE waitlist_entries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	svc.SlotFreed(context.Background(), booking.FreedSlot{
		ProfessionalID: professionalID,
		Date:           freedDate,
		StartTime:      "10:00",
		EndTime:        "10:30",
	})

	if len(recorder.offered) != 1 {
		t.Fatalf("offers = %d, want 1", len(recorder.offered))
	}
	if recorder.offered[0].ID != second.ID {
		t.Errorf("offered entry = %s, want the second candidate", recorder.offered[0].ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSlotFreedRequeriesWhenBatchExhausted(t *testing.T) {
	svc, mock := newTestService(t, nil)
	recorder := &offerRecorder{}
	svc.SetNotifier(recorder)

	professionalID := uuid.New()
	freedDate := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)

	batch := pgxmock.NewRows(entryCols)
	for i := 0; i < 5; i++ {
		e := Entry{
			ID:             uuid.New(),
			ProfessionalID: professionalID,
			PatientName:    "Ana",
			PreferredDate:  freedDate,
			Token:          uuid.NewString(),
			Status:         StatusPending,
		}
		batch.AddRow(
			e.ID, e.ProfessionalID, e.ServiceID, e.PatientName, &e.Email, &e.Phone,
			e.PreferredDate, e.Token, e.Status, e.NotifiedAt, e.ExpiresAt,
			e.AvailableDate, e.AvailableStartTime, e.AvailableEndTime, e.CreatedAt, e.UpdatedAt,
		)
	}
	sixth := Entry{
		ID:             uuid.New(),
		ProfessionalID: professionalID,
		PatientName:    "Bruno",
		PreferredDate:  freedDate,
		Token:          uuid.NewString(),
		Status:         StatusPending,
	}

	// Concurrent matchers claim the entire first batch; the freed slot
	// must still reach the remaining pending entry.
	mock.ExpectQuery("FROM waitlist_entries").WillReturnRows(batch)
	for i := 0; i < 5; i++ {
		mock.ExpectExec("UPDATE waitlist_entries").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	}
	mock.ExpectQuery("FROM waitlist_entries").WillReturnRows(entryRow(sixth))
	mock.ExpectExec("UPDATE waitlist_entries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	svc.SlotFreed(context.Background(), booking.FreedSlot{
		ProfessionalID: professionalID,
		Date:           freedDate,
		StartTime:      "10:00",
		EndTime:        "10:30",
	})

	if len(recorder.offered) != 1 {
		t.Fatalf("offers = %d, want 1", len(recorder.offered))
	}
	if recorder.offered[0].ID != sixth.ID {
		t.Errorf("offered entry = %s, want the sixth candidate", recorder.offered[0].ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func notifiedEntry(professionalID uuid.UUID) Entry {
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	start, end := "10:00", "10:30"
	notifiedAt := testNow.Add(-time.Hour)
	expiresAt := testNow.Add(23 * time.Hour)
	return Entry{
		ID:                 uuid.New(),
		ProfessionalID:     professionalID,
		PatientName:        "Ana",
		Email:              "ana@example.com",
		PreferredDate:      date,
		Token:              uuid.NewString(),
		Status:             StatusNotified,
		NotifiedAt:         &notifiedAt,
		ExpiresAt:          &expiresAt,
		AvailableDate:      &date,
		AvailableStartTime: &start,
		AvailableEndTime:   &end,
	}
}

func TestConfirmClaimBooksOfferedSlot(t *testing.T) {
	professionalID := uuid.New()
	entry := notifiedEntry(professionalID)
	wantSlotID := booking.FormatSlotID(professionalID, *entry.AvailableDate, 10*60)

	booker := &stubBooker{appt: &booking.Appointment{ID: uuid.New(), Status: booking.StatusConfirmed}}
	svc, mock := newTestService(t, booker)

	mock.ExpectQuery("FROM waitlist_entries").WithArgs(entry.Token).WillReturnRows(entryRow(entry))
	mock.ExpectExec("UPDATE waitlist_entries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	appt, err := svc.ConfirmClaim(context.Background(), entry.Token)
	if err != nil {
		t.Fatalf("ConfirmClaim: %v", err)
	}
	if appt.ID != booker.appt.ID {
		t.Errorf("appointment = %s, want %s", appt.ID, booker.appt.ID)
	}
	if booker.lastReq.SlotID != wantSlotID {
		t.Errorf("slot id = %s, want %s", booker.lastReq.SlotID, wantSlotID)
	}
	if booker.lastReq.Patient.Name != "Ana" {
		t.Errorf("patient name = %q, want Ana", booker.lastReq.Patient.Name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfirmClaimRevertsOnBookingFailure(t *testing.T) {
	entry := notifiedEntry(uuid.New())
	booker := &stubBooker{err: booking.ErrSlotConflict}
	svc, mock := newTestService(t, booker)

	mock.ExpectQuery("FROM waitlist_entries").WithArgs(entry.Token).WillReturnRows(entryRow(entry))
	mock.ExpectExec("UPDATE waitlist_entries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1)) // notified -> fulfilled
	mock.ExpectExec("UPDATE waitlist_entries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1)) // revert to notified

	_, err := svc.ConfirmClaim(context.Background(), entry.Token)
	if !errors.Is(err, booking.ErrSlotConflict) {
		t.Fatalf("err = %v, want ErrSlotConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfirmClaimExpired(t *testing.T) {
	entry := notifiedEntry(uuid.New())
	past := testNow.Add(-time.Minute)
	entry.ExpiresAt = &past

	svc, mock := newTestService(t, &stubBooker{})

	mock.ExpectQuery("FROM waitlist_entries").WithArgs(entry.Token).WillReturnRows(entryRow(entry))
	mock.ExpectExec("UPDATE waitlist_entries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1)) // notified -> expired

	_, err := svc.ConfirmClaim(context.Background(), entry.Token)
	if !errors.Is(err, ErrClaimExpired) {
		t.Fatalf("err = %v, want ErrClaimExpired", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfirmClaimTokenSingleUse(t *testing.T) {
	entry := notifiedEntry(uuid.New())
	entry.Status = StatusFulfilled

	svc, mock := newTestService(t, &stubBooker{})
	mock.ExpectQuery("FROM waitlist_entries").WithArgs(entry.Token).WillReturnRows(entryRow(entry))

	_, err := svc.ConfirmClaim(context.Background(), entry.Token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestConfirmClaimUnknownToken(t *testing.T) {
	svc, mock := newTestService(t, &stubBooker{})

	mock.ExpectQuery("FROM waitlist_entries").
		WillReturnError(pgx.ErrNoRows)

	_, err := svc.ConfirmClaim(context.Background(), "nope")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestReleaseClaim(t *testing.T) {
	entry := notifiedEntry(uuid.New())
	svc, mock := newTestService(t, &stubBooker{})

	mock.ExpectQuery("FROM waitlist_entries").WithArgs(entry.Token).WillReturnRows(entryRow(entry))
	mock.ExpectExec("UPDATE waitlist_entries").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := svc.ReleaseClaim(context.Background(), entry.Token); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReleaseClaimNotNotified(t *testing.T) {
	entry := notifiedEntry(uuid.New())
	entry.Status = StatusPending

	svc, mock := newTestService(t, &stubBooker{})
	mock.ExpectQuery("FROM waitlist_entries").WithArgs(entry.Token).WillReturnRows(entryRow(entry))

	if err := svc.ReleaseClaim(context.Background(), entry.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestSweepExpiredClaims(t *testing.T) {
	svc, mock := newTestService(t, &stubBooker{})

	mock.ExpectExec("UPDATE waitlist_entries").WithArgs(testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := svc.SweepExpiredClaims(context.Background())
	if err != nil {
		t.Fatalf("SweepExpiredClaims: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
