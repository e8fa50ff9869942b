package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	PublicBaseURL      string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Upstream collaborators.
	IdentityBaseURL string
	OrderBaseURL    string

	// Embedded checkout surface.
	CheckoutScriptURL string
	CheckoutClientKey string
	SurfaceTokenKey   string
	SurfaceTokenTTL   time.Duration

	// Bridge and lifecycle tuning.
	SessionTTL        time.Duration
	BridgeReplayTTL   time.Duration
	IdempotencyTTL    time.Duration
	MessageRateMax    int64
	MessageRateWindow time.Duration
	MaxMessageBytes   int64

	// Outbound HTTP resilience.
	OutboundTimeout    time.Duration
	RetryBase          time.Duration
	RetryMaxAttempts   int
	RetryJitterPercent float64

	// Host outcome callbacks.
	CallbackURL         string
	CallbackSecret      string
	CallbackMaxAttempts int
	CallbackReplayTTL   time.Duration

	NotifyEmailEnabled bool
	NotifyEmailFrom    string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		IdentityBaseURL: strings.TrimRight(k.String("IDENTITY_BASE_URL"), "/"),
		OrderBaseURL:    strings.TrimRight(k.String("ORDER_BASE_URL"), "/"),

		CheckoutScriptURL: valueOrDefault(k.String("CHECKOUT_SCRIPT_URL"), "https://app.sandbox.midtrans.com/snap/snap.js"),
		CheckoutClientKey: k.String("CHECKOUT_CLIENT_KEY"),
		SurfaceTokenKey:   k.String("SURFACE_TOKEN_KEY"),
		SurfaceTokenTTL:   parseDuration(k.String("SURFACE_TOKEN_TTL"), "30m"),

		SessionTTL:        parseDuration(k.String("PAYMENT_SESSION_TTL"), "15m"),
		BridgeReplayTTL:   parseDuration(k.String("BRIDGE_REPLAY_TTL"), "10m"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		MessageRateMax:    int64(parseInt(k.String("BRIDGE_MESSAGE_RATE_MAX"), 30)),
		MessageRateWindow: parseDuration(k.String("BRIDGE_MESSAGE_RATE_WINDOW"), "1m"),
		MaxMessageBytes:   int64(parseInt(k.String("BRIDGE_MESSAGE_MAX_BYTES"), 64<<10)),

		OutboundTimeout:    parseDuration(k.String("OUTBOUND_TIMEOUT"), "5s"),
		RetryBase:          parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:   parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent: parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),

		CallbackURL:         strings.TrimSpace(k.String("OUTCOME_CALLBACK_URL")),
		CallbackSecret:      k.String("OUTCOME_CALLBACK_SECRET"),
		CallbackMaxAttempts: parseInt(k.String("OUTCOME_CALLBACK_MAX_ATTEMPTS"), 6),
		CallbackReplayTTL:   parseDuration(k.String("OUTCOME_CALLBACK_REPLAY_TTL"), "24h"),

		NotifyEmailEnabled: parseBool(k.String("NOTIFY_EMAIL_ENABLED")),
		NotifyEmailFrom:    strings.TrimSpace(k.String("NOTIFY_EMAIL_FROM")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.IdentityBaseURL == "" {
		return nil, errors.New("IDENTITY_BASE_URL is required")
	}
	if cfg.OrderBaseURL == "" {
		return nil, errors.New("ORDER_BASE_URL is required")
	}
	if cfg.SurfaceTokenKey == "" {
		return nil, errors.New("SURFACE_TOKEN_KEY is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed float64
	if _, err := fmt.Sscanf(trimmed, "%g", &parsed); err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
