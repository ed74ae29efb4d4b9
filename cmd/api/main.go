package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"propshare-backend/internal/config"
	"propshare-backend/internal/infrastructure/cronrunner"
	"propshare-backend/internal/interfaces/router"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := router.CreateApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create app")
	}

	if app.Rdb != nil {
		if err := app.Rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		log.Info().Msg("Redis connected")
	}

	runner := cronrunner.New(ctx)
	if _, err := runner.Add(cfg.Reconcile.SweepSchedule, func(ctx context.Context) {
		report, err := app.Engine.Sweep(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Scheduled sweep failed")
			return
		}
		log.Info().Interface("report", report).Msg("Scheduled sweep finished")
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Reconcile.SweepSchedule).Msg("Invalid SWEEP_SCHEDULE")
	}
	runner.Start()

	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Str("ledger", cfg.Ledger.Mode).Msg("Server running")
		listenErr <- app.Fiber.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-listenErr:
		if err != nil {
			log.Error().Err(err).Msg("Server stopped")
		}
	}

	if err := app.Fiber.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	runner.Stop()

	// confirmation workers run detached from requests; give them the same budget
	done := make(chan struct{})
	go func() {
		app.Engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("Confirmation workers still running; pending contributions are left to the next sweep")
	}
	app.Close()
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	unknown := err != nil || level == zerolog.NoLevel
	if unknown {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if unknown {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown LOG_LEVEL, using info")
	}
}
