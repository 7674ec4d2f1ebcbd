package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/agendly/booking-engine/internal/api"
	"github.com/agendly/booking-engine/internal/booking"
	"github.com/agendly/booking-engine/internal/config"
	"github.com/agendly/booking-engine/internal/db"
	"github.com/agendly/booking-engine/internal/notify"
	"github.com/agendly/booking-engine/internal/observability"
	"github.com/agendly/booking-engine/internal/observability/metrics"
	"github.com/agendly/booking-engine/internal/redisclient"
	"github.com/agendly/booking-engine/internal/schedule"
	"github.com/agendly/booking-engine/internal/waitlist"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	observability.InitLogger("api-server", cfg.Env)
	logger := observability.GetLogger()
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Msg("api-server starting up")

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

	// Connect Redis
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

	bookingMetrics := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)
	dispatcher := notify.NewLogDispatcher(logger)

	directory := schedule.NewPgDirectory(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)

	bookingSvc := booking.NewService(pgPool, directory, locker, booking.ServiceConfig{
		DraftTTL:        cfg.DraftTTL,
		MinAdvance:      cfg.MinAdvance,
		DefaultLocation: defaultLoc,
	})
	bookingSvc.SetDispatcher(dispatcher)
	bookingSvc.SetMetrics(bookingMetrics)

	waitlistSvc := waitlist.NewService(waitlist.NewStore(pgPool), bookingSvc, cfg.ClaimTTL)
	waitlistSvc.SetNotifier(dispatcher)
	waitlistSvc.SetMetrics(bookingMetrics)

	// Freed slots flow straight into the waitlist release pipeline.
	bookingSvc.SetSlotFreedHandler(waitlistSvc)

	health := api.NewHealthHandler(pgPool, rdb, cfg.Env, version)
	router := api.NewRouter(bookingSvc, waitlistSvc, health)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	case <-rootCtx.Done():
		shutdown(server, cfg.ShutdownTimeout, logger)
	}
}

func shutdown(server *http.Server, timeout time.Duration, logger *zerolog.Logger) {
	logger.Info().Msg("shutdown signal received, draining http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
		return
	}
	logger.Info().Msg("api-server stopped cleanly")
}
