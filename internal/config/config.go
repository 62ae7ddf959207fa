// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database access, the upstream model
// gateway, rate limiting, and observability.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-botrelay")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// OpenRouterConfig describes the upstream chat-completion gateway.
type OpenRouterConfig struct {
	BaseURL string        // OPENROUTER_BASE_URL
	APIKey  string        // OPENROUTER_API_KEY, platform key used when an owner has none
	Referer string        // OPENROUTER_REFERER (HTTP-Referer attribution header)
	Title   string        // OPENROUTER_TITLE (X-Title attribution header)
	Timeout time.Duration // RELAY_HTTP_TIMEOUT, per upstream call
}

// RelayConfig tunes the model-fallback relay.
type RelayConfig struct {
	FallbackModels     []string // RELAY_FALLBACK_MODELS, ordered
	MaxTokens          int      // RELAY_MAX_TOKENS
	DefaultTemperature *float64 // RELAY_DEFAULT_TEMPERATURE, nil = 0.7
	MaxMessageRunes    int      // RELAY_MAX_MESSAGE_RUNES
	MaxHistory         int      // RELAY_MAX_HISTORY, 0 = unlimited
}

// AuthConfig controls how acting identities are resolved.
type AuthConfig struct {
	JWTSecret string // AUTH_JWT_SECRET (Supabase project JWT secret)
	DevHeader bool   // AUTH_DEV_HEADER, trust X-User-ID (local use only)
}

// DefaultFallbackModels is the fallback pool tried after a bot's preferred
// model, in order.
var DefaultFallbackModels = []string{
	"openai/gpt-4o-mini",
	"anthropic/claude-3.5-haiku",
	"google/gemini-2.0-flash-001",
	"meta-llama/llama-3.3-70b-instruct",
	"mistralai/mistral-small-3.1-24b-instruct",
	"deepseek/deepseek-chat",
	"qwen/qwen-2.5-72b-instruct",
	"openai/gpt-4o",
	"anthropic/claude-3.5-sonnet",
	"google/gemini-flash-1.5",
	"meta-llama/llama-3.1-8b-instruct",
	"mistralai/mistral-nemo",
	"microsoft/phi-4",
	"cohere/command-r-08-2024",
	"nousresearch/hermes-3-llama-3.1-70b",
	"amazon/nova-lite-v1",
	"x-ai/grok-2-1212",
	"google/gemma-2-27b-it",
	"openai/gpt-3.5-turbo",
	"meta-llama/llama-3.2-3b-instruct",
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Database
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN (Supabase connection string)

	// Upstream gateway and relay
	OpenRouter OpenRouterConfig
	Relay      RelayConfig

	// Identity and secrets
	Auth           AuthConfig
	CredentialsKey []byte        // CREDENTIALS_KEY, hex-encoded 32 bytes
	ShareTTL       time.Duration // SHARE_DEFAULT_TTL, 0 = links never expire

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad is Load for main: an invalid environment panics with every
// problem listed.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the process environment. See loadFrom.
func Load() (Config, error) { return loadFrom(os.LookupEnv) }

// loadFrom builds a Config from lookup, applies defaults and normalization,
// then validates. All validation failures are joined into one error; the
// partially filled Config is returned alongside it.
func loadFrom(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		// Chat replies wait on up to len(pool)+1 upstream calls.
		WriteTimeout:   e.dur("WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:    e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes: e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:        e.str("GIN_MODE", "release"),

		LogLevel:       e.str("LOG_LEVEL", "info"),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		APIBasePath:    e.str("API_BASE_PATH", "/api/v1"),

		DBDriver:    e.str("DB_DRIVER", "sqlite"),
		DBPath:      e.str("DB_PATH", "app.db"),
		DatabaseURL: e.str("DATABASE_URL", ""),

		OpenRouter: OpenRouterConfig{
			BaseURL: e.str("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:  e.str("OPENROUTER_API_KEY", ""),
			Referer: e.str("OPENROUTER_REFERER", ""),
			Title:   e.str("OPENROUTER_TITLE", "botrelay"),
			Timeout: e.dur("RELAY_HTTP_TIMEOUT", 60*time.Second),
		},
		Relay: RelayConfig{
			FallbackModels:     e.csv("RELAY_FALLBACK_MODELS"),
			MaxTokens:          e.int("RELAY_MAX_TOKENS", 2048),
			DefaultTemperature: e.floatPtr("RELAY_DEFAULT_TEMPERATURE", 0.7),
			MaxMessageRunes:    e.int("RELAY_MAX_MESSAGE_RUNES", 8000),
			MaxHistory:         e.int("RELAY_MAX_HISTORY", 0),
		},

		Auth: AuthConfig{
			JWTSecret: e.str("AUTH_JWT_SECRET", ""),
			DevHeader: e.bool("AUTH_DEV_HEADER", false),
		},
		ShareTTL: e.dur("SHARE_DEFAULT_TTL", 0),

		RateRPS:   e.float("RATE_RPS", 5.0),
		RateBurst: e.int("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: e.csv("CORS_ALLOWED_ORIGINS")},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-botrelay"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
	cfg.normalize()

	key, keyErr := parseKey(e.str("CREDENTIALS_KEY", ""))
	cfg.CredentialsKey = key
	return cfg, errors.Join(keyErr, cfg.Validate())
}

// normalize lowercases enums, maps aliases and fills the fallback pool.
func (c *Config) normalize() {
	c.GinMode = strings.ToLower(c.GinMode)
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}

	c.DBDriver = strings.ToLower(c.DBDriver)
	if c.DBDriver == "postgresql" {
		c.DBDriver = "postgres"
	}

	c.APIBasePath = normalizeBasePath(c.APIBasePath)
	c.OpenRouter.BaseURL = strings.TrimRight(c.OpenRouter.BaseURL, "/")

	if len(c.Relay.FallbackModels) == 0 {
		c.Relay.FallbackModels = append([]string(nil), DefaultFallbackModels...)
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		check(true, "LOG_LEVEL must be one of debug, info, warn, error, fatal, panic (got %q)", c.LogLevel)
	}
	check(strings.TrimSpace(c.Port) == "", "PORT must not be empty")
	check(c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DBDriver {
	case "sqlite":
		check(strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DatabaseURL) == "", "DATABASE_URL is required when DB_DRIVER=postgres")
	default:
		check(true, "DB_DRIVER must be sqlite or postgres (got %q)", c.DBDriver)
	}

	check(c.OpenRouter.BaseURL == "", "OPENROUTER_BASE_URL must not be empty")
	check(c.OpenRouter.Timeout <= 0, "RELAY_HTTP_TIMEOUT must be > 0")
	check(c.Relay.MaxTokens <= 0, "RELAY_MAX_TOKENS must be > 0")
	check(c.Relay.DefaultTemperature != nil && (*c.Relay.DefaultTemperature < 0 || *c.Relay.DefaultTemperature > 2),
		"RELAY_DEFAULT_TEMPERATURE must be between 0 and 2")
	check(c.Relay.MaxMessageRunes < 0, "RELAY_MAX_MESSAGE_RUNES must be >= 0")
	check(c.Relay.MaxHistory < 0, "RELAY_MAX_HISTORY must be >= 0")

	check(!c.Auth.DevHeader && strings.TrimSpace(c.Auth.JWTSecret) == "",
		"AUTH_JWT_SECRET is required unless AUTH_DEV_HEADER is enabled")
	check(c.ShareTTL < 0, "SHARE_DEFAULT_TTL must be >= 0")

	check(c.RateRPS < 0, "RATE_RPS must be >= 0")
	check(c.RateBurst < 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// parseKey decodes CREDENTIALS_KEY. Empty is allowed and disables stored
// owner credentials.
func parseKey(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(v)
	if err != nil || len(b) != 32 {
		return nil, errors.New("CREDENTIALS_KEY must be 64 hex characters (32 bytes)")
	}
	return b, nil
}

// env reads typed values; unset, blank or unparseable values yield the
// default.
type env struct {
	lookup func(string) (string, bool)
}

func (e env) raw(k string) (string, bool) {
	v, ok := e.lookup(k)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e env) str(k, def string) string {
	if v, ok := e.raw(k); ok {
		return v
	}
	return def
}

func (e env) int(k string, def int) int {
	if v, ok := e.raw(k); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (e env) float(k string, def float64) float64 {
	if v, ok := e.raw(k); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// floatPtr is float for settings where zero differs from unset.
func (e env) floatPtr(k string, def float64) *float64 {
	f := e.float(k, def)
	return &f
}

func (e env) bool(k string, def bool) bool {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func (e env) dur(k string, def time.Duration) time.Duration {
	if v, ok := e.raw(k); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// csv splits a comma-separated value, dropping blanks. Unset yields nil.
func (e env) csv(k string) []string {
	v, ok := e.raw(k)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones; blank
// means root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
