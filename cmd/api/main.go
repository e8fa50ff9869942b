package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/paybridge/internal/bridge"
	"github.com/noah-isme/paybridge/internal/common"
	"github.com/noah-isme/paybridge/internal/config"
	"github.com/noah-isme/paybridge/internal/events"
	"github.com/noah-isme/paybridge/internal/health"
	"github.com/noah-isme/paybridge/internal/lifecycle"
	"github.com/noah-isme/paybridge/internal/notify"
	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/payer"
	"github.com/noah-isme/paybridge/internal/ratelimit"
	"github.com/noah-isme/paybridge/internal/reconcile"
	"github.com/noah-isme/paybridge/internal/resilience"
	"github.com/noah-isme/paybridge/internal/security"
	"github.com/noah-isme/paybridge/internal/session"
	"github.com/noah-isme/paybridge/internal/store"
	"github.com/noah-isme/paybridge/internal/surface"
	"github.com/noah-isme/paybridge/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel)

	obs.MustRegisterDomainMetrics("paybridge", nil)

	ctx := context.Background()

	if envBool("OBS_TRACING_ENABLED", false) {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   envOrDefault("OBS_SERVICE_NAME", "paybridge-api"),
			Endpoint:      os.Getenv("OBS_OTLP_ENDPOINT"),
			Exporter:      envOrDefault("OBS_TRACE_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACE_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init tracer")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("tracer shutdown")
			}
		}()
	}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "paybridge-api"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	asynqConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	taskClient := asynq.NewClient(asynqConn)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	st := store.NewStore(pool)
	scheduler := tasks.Scheduler{Client: taskClient, MaxAttempts: cfg.CallbackMaxAttempts}

	emailNotifier := notify.EmailNotifier{
		Mail:    common.NopEmailSender{},
		Enabled: cfg.NotifyEmailEnabled,
		From:    cfg.NotifyEmailFrom,
	}
	bus := &events.Bus{
		Store:     st,
		Scheduler: scheduler,
		Notifiers: []events.Notifier{emailNotifier},
	}

	identityClient := outboundClient(cfg, "identity", logger)
	orderClient := outboundClient(cfg, "order", logger)

	resolver := &payer.Resolver{BaseURL: cfg.IdentityBaseURL, HTTP: identityClient}
	initializer := session.NewInitializer(cfg.OrderBaseURL, orderClient)
	reconciler := &reconcile.Reconciler{BaseURL: cfg.OrderBaseURL, HTTP: orderClient}

	registry := lifecycle.NewRegistry(lifecycle.Deps{
		Payer:      resolver,
		Sessions:   initializer,
		Verifier:   reconciler,
		Recorder:   store.AttemptRecorder{S: st},
		Bus:        bus,
		Expiry:     scheduler,
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	})

	payments := &lifecycle.Handler{
		Registry:      registry,
		Tokens:        surface.TokenIssuer{Secret: []byte(cfg.SurfaceTokenKey), TTL: cfg.SurfaceTokenTTL},
		Renderer:      surface.Renderer{ScriptURL: cfg.CheckoutScriptURL, ClientKey: cfg.CheckoutClientKey, TargetOrigin: cfg.PublicBaseURL},
		Replay:        bridge.ReplayGuard{R: redisClient, TTL: cfg.BridgeReplayTTL},
		PublicBaseURL: cfg.PublicBaseURL,
	}

	// Expiry tasks run in-process so live controllers transition instead of
	// being marked stale in the database.
	expirySrv := asynq.NewServer(asynqConn, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{tasks.QueuePayments: 1},
		Logger:      asynqLogger{logger},
	})
	expiryMux := asynq.NewServeMux()
	expiryMux.Handle(tasks.TypeAttemptExpire, tasks.ExpiryHandler{Store: st, Registry: registry, Logger: logger})
	if err := expirySrv.Start(expiryMux); err != nil {
		logger.Fatal().Err(err).Msg("start expiry consumer")
	}
	defer expirySrv.Shutdown()

	messageLimiter, err := ratelimit.NewRedisLimiter(redisClient, cfg.MessageRateMax, cfg.MessageRateWindow, "paybridge:rl:messages")
	if err != nil {
		logger.Fatal().Err(err).Msg("init message rate limiter")
	}
	rateLimit := ratelimit.Handler{
		Limiter: messageLimiter,
		Key:     ratelimit.KeyByClientIP,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter degraded") },
	}
	bodyLimit := security.BodyLimit{Max: cfg.MaxMessageBytes}
	surfaceCSP := security.SurfaceCSP{CheckoutScriptURL: cfg.CheckoutScriptURL, FrameAncestor: cfg.PublicBaseURL}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	httpMetrics := obs.NewHTTPMetrics("paybridge", obs.ParseBucketsCSV(os.Getenv("OBS_HTTP_BUCKETS_MS")), nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:     envBool("SECURITY_HEADERS_ENABLED", true),
		EnableHSTS: envBool("SECURITY_HSTS_ENABLED", cfg.AppEnv == "production"),
		HSTSMaxAge: 31536000,
	}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	if envBool("PPROF_ENABLED", false) {
		r.Mount("/debug", protectPprof(newPprofMux()))
	}

	checker := readinessChecker{pool: pool, redis: redisClient}
	healthHandler := health.Handler{
		Checker:        checker,
		DBTimeout:      2 * time.Second,
		RedisTimeout:   2 * time.Second,
		ActiveAttempts: registry.Len,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.With(idem.Middleware).Post("/payments", payments.Create)
		v.Route("/payments/{attemptID}", func(p chi.Router) {
			p.Get("/", payments.Status)
			p.With(surfaceCSP.Middleware).Get("/surface", payments.Surface)
			p.With(bodyLimit.Middleware, rateLimit.Middleware).Post("/messages", payments.Message)
			p.Post("/close", payments.Close)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		serveErr <- srv.ListenAndServe()
	}()
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	case <-runCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
	}
	logger.Info().Msg("api shutdown complete")
}

func outboundClient(cfg *config.Config, target string, logger zerolog.Logger) *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client:      notify.HttpClient(int(cfg.OutboundTimeout/time.Millisecond), false),
		Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget(target).WithLogger(logger),
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitterPercent,
		Timeout:     cfg.OutboundTimeout,
		Target:      target,
		Logger:      &logger,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) > 0 {
		return cfg.CORSAllowedOrigins
	}
	if cfg.AppEnv == "production" {
		return []string{}
	}
	return []string{"*"}
}

type readinessChecker struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.pool.Ping(pingCtx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(pingCtx).Err()
}

// asynqLogger adapts zerolog to asynq's logging interface.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }

func newPprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func protectPprof(next http.Handler) http.Handler {
	user := os.Getenv("PPROF_BASIC_AUTH_USER")
	pass := os.Getenv("PPROF_BASIC_AUTH_PASS")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user == "" || pass == "" {
			http.NotFound(w, r)
			return
		}
		gotUser, gotPass, ok := r.BasicAuth()
		if !ok || gotUser != user || gotPass != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="pprof"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
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

func envBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return fallback
	}
	return parsed
}
