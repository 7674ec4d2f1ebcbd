package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/agendly/booking-engine/internal/booking"
	"github.com/agendly/booking-engine/internal/config"
	"github.com/agendly/booking-engine/internal/db"
	"github.com/agendly/booking-engine/internal/notify"
	"github.com/agendly/booking-engine/internal/observability"
	"github.com/agendly/booking-engine/internal/redisclient"
	"github.com/agendly/booking-engine/internal/schedule"
	"github.com/agendly/booking-engine/internal/waitlist"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	observability.InitLogger("sweep-worker", cfg.Env)
	logger := observability.GetLogger()
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.SweepInterval).
		Msg("sweep-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.Connect(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	defaultLoc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.DefaultTimezone).Msg("invalid default timezone")
	}

	directory := schedule.NewPgDirectory(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)

	bookingSvc := booking.NewService(pgPool, directory, locker, booking.ServiceConfig{
		DraftTTL:        cfg.DraftTTL,
		MinAdvance:      cfg.MinAdvance,
		DefaultLocation: defaultLoc,
	})
	waitlistSvc := waitlist.NewService(waitlist.NewStore(pgPool), bookingSvc, cfg.ClaimTTL)
	waitlistSvc.SetNotifier(notify.NewLogDispatcher(logger))

	// Run once at startup
	runOnce(rootCtx, bookingSvc, waitlistSvc)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping sweep worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, bookingSvc, waitlistSvc)
		}
	}
}

func runOnce(ctx context.Context, bookingSvc *booking.Service, waitlistSvc *waitlist.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	logger := observability.GetLogger()
	start := time.Now()

	drafts, err := bookingSvc.SweepExpiredDrafts(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("draft sweep error")
	}

	claims, err := waitlistSvc.SweepExpiredClaims(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("claim sweep error")
	}

	logger.Info().
		Int("expired_drafts", drafts).
		Int("expired_claims", claims).
		Dur("took", time.Since(start)).
		Msg("sweep run complete")
}
