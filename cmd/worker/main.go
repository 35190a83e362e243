package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kursus/internal/config"
	"github.com/noah-isme/backend-kursus/internal/jobs"
	"github.com/noah-isme/backend-kursus/internal/obs"
	"github.com/noah-isme/backend-kursus/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := obs.NewLogger("json", "info")
		bootLogger.Fatal().Err(err).Msg("load config")
	}

	logger := obs.NewLogger(
		envOrDefault("OBS_LOG_FORMAT", "json"),
		envOrDefault("OBS_LOG_LEVEL", "info"),
	).With().Str("component", "worker").Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "kursus"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()
	st := store.New(pool)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: envInt("WORKER_CONCURRENCY", 5),
	})
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TypeSweepExpired, jobs.SweepHandler{Store: st, Log: logger})
	mux.Handle(jobs.TypeEmailDeliver, jobs.EmailHandler{Sender: jobs.NopSender{}, Log: logger})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	spec := "@every " + cfg.SweepInterval.String()
	if _, err := scheduler.Register(spec, jobs.NewSweepTask()); err != nil {
		logger.Fatal().Err(err).Msg("register sweep schedule")
	}

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Str("sweep_interval", cfg.SweepInterval.String()).Msg("worker started")

	<-ctx.Done()
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "kursus-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
