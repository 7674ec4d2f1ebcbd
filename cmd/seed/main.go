package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agendly/booking-engine/internal/db"
	"github.com/agendly/booking-engine/internal/schedule"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	professionalIDs, err := seedProfessionals(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed professionals: %v", err)
	}
	if err := seedSchedules(context.Background(), pool, professionalIDs); err != nil {
		log.Fatalf("seed schedules: %v", err)
	}
	if err := seedServices(context.Background(), pool, professionalIDs); err != nil {
		log.Fatalf("seed services: %v", err)
	}
	if err := seedPatients(context.Background(), pool, professionalIDs, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedProfessionals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d professionals", count)

	timezones := []string{
		"America/Sao_Paulo",
		"America/New_York",
		"Europe/Lisbon",
		"Europe/Madrid",
		"UTC",
	}
	tiers := []string{schedule.PlanFree, schedule.PlanStarter, schedule.PlanPro}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		tz := timezones[gofakeit.Number(0, len(timezones)-1)]
		tier := tiers[gofakeit.Number(0, len(tiers)-1)]
		buffer := gofakeit.Number(0, 3) * 5

		_, err := tx.Exec(ctx, `
			INSERT INTO professionals
				(id, name, timezone, default_buffer_minutes, plan_tier, appointment_cap, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, id, name, tz, buffer, tier, schedule.DefaultCap(tier))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("professionals seeded")
	return ids, nil
}

func seedSchedules(ctx context.Context, pool *pgxpool.Pool, professionalIDs []uuid.UUID) error {
	log.Printf("seeding schedules for %d professionals", len(professionalIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, pid := range professionalIDs {
		// Mon-Fri morning and afternoon blocks with a lunch break.
		for day := 1; day <= 5; day++ {
			for _, window := range [][2]string{{"09:00", "12:00"}, {"13:00", "18:00"}} {
				_, err := tx.Exec(ctx, `
					INSERT INTO weekly_schedule_blocks
						(id, professional_id, day_of_week, start_time, end_time, is_available)
					VALUES ($1, $2, $3, $4, $5, TRUE)
				`, uuid.New(), pid, day, window[0], window[1])
				if err != nil {
					return err
				}
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO break_blocks
					(id, professional_id, day_of_week, start_time, end_time)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), pid, day, "15:00", "15:30")
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, professionalIDs []uuid.UUID) error {
	log.Printf("seeding services for %d professionals", len(professionalIDs))

	catalog := []struct {
		name     string
		duration int
	}{
		{"Initial consultation", 60},
		{"Follow-up", 30},
		{"Quick check", 15},
		{"Extended session", 90},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, pid := range professionalIDs {
		n := gofakeit.Number(2, len(catalog))
		for i := 0; i < n; i++ {
			var buffer *int
			if gofakeit.Bool() {
				b := gofakeit.Number(1, 2) * 5
				buffer = &b
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO services
					(id, professional_id, name, duration_minutes, buffer_minutes)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), pid, catalog[i].name, catalog[i].duration, buffer)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, professionalIDs []uuid.UUID, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			pid := professionalIDs[gofakeit.Number(0, len(professionalIDs)-1)]
			name := gofakeit.Name()
			email := gofakeit.Email()
			phone := fmt.Sprintf("+55119%08d", gofakeit.Number(0, 99999999))

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, professional_id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, uuid.New(), pid, name, email, phone)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
