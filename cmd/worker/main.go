package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/paybridge/internal/config"
	"github.com/noah-isme/paybridge/internal/lifecycle"
	"github.com/noah-isme/paybridge/internal/lock"
	"github.com/noah-isme/paybridge/internal/notify"
	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/store"
	"github.com/noah-isme/paybridge/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics("paybridge", nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	st := store.NewStore(pool)

	dispatcher := &notify.Dispatcher{
		URL:       cfg.CallbackURL,
		Secret:    cfg.CallbackSecret,
		Client:    notify.HttpClient(int(cfg.OutboundTimeout/time.Millisecond), false),
		Enabled:   cfg.CallbackURL != "",
		Replay:    notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL: cfg.CallbackReplayTTL,
	}

	asynqConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	srv := asynq.NewServer(asynqConn, asynq.Config{
		Concurrency: 8,
		Queues:      map[string]int{tasks.QueueCallbacks: 1},
		Logger:      asynqLogger{logger},
	})
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeCallbackDeliver, tasks.CallbackHandler{Dispatcher: dispatcher, Logger: logger})
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	// Safety net for expiry tasks that were lost before reaching the queue.
	sweep := expirySweeper{
		store:    st,
		locker:   lock.Locker{R: redisClient, RetryBackoff: 50 * time.Millisecond},
		lockTTL:  30 * time.Second,
		interval: envDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		logger:   logger,
	}
	go sweep.run(ctx)

	logger.Info().Msg("worker starting")
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// expirySweeper marks stale awaiting-result attempts failed directly in the
// database. The scheduled expiry task normally wins; the sweep only catches
// attempts whose task never fired.
type expirySweeper struct {
	store    *store.Store
	locker   lock.Locker
	lockTTL  time.Duration
	interval time.Duration
	logger   zerolog.Logger
}

func (s expirySweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.locker.WithLock(ctx, "expiry-sweep", s.lockTTL, s.sweep); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Msg("expiry sweep")
			}
		}
	}
}

func (s expirySweeper) sweep(ctx context.Context) error {
	ids, err := s.store.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		return fmt.Errorf("list expired attempts: %w", err)
	}
	for _, id := range ids {
		expired, err := s.store.MarkExpired(ctx, id, string(lifecycle.StateFailed), "payment session expired", time.Now())
		if err != nil {
			return fmt.Errorf("mark attempt %s expired: %w", id, err)
		}
		if expired {
			if obs.AttemptExpiredTotal != nil {
				obs.AttemptExpiredTotal.Inc()
			}
			s.logger.Info().Str("attempt_id", id).Msg("attempt_expired_by_sweep")
		}
	}
	return nil
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "paybridge-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return parsed
}
