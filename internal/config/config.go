// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, logging, storage, the daily generation quota, the generation
// endpoint, the job queues, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "assessment-chat")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// QuotaConfig defines the daily generation budget.
type QuotaConfig struct {
	DailyLimit int            // DAILY_GENERATION_LIMIT
	Store      string         // QUOTA_STORE: memory|redis
	RedisAddr  string         // REDIS_ADDR
	Timezone   string         // QUOTA_TIMEZONE, IANA name; empty means local
	Location   *time.Location // resolved from Timezone
}

// GenerationConfig defines the external text generation endpoint.
type GenerationConfig struct {
	APIKey      string        // OPENAI_API_KEY; empty disables the endpoint (fallback only)
	BaseURL     string        // OPENAI_BASE_URL
	Model       string        // OPENAI_MODEL
	Timeout     time.Duration // GENERATION_TIMEOUT
	MaxTokens   int           // GENERATION_MAX_TOKENS
	Temperature float64       // GENERATION_TEMPERATURE
	MaxHistory  int           // MAX_HISTORY
}

// QueueConfig holds the tunables of one job queue.
type QueueConfig struct {
	Attempts        int
	BackoffDelay    time.Duration
	Concurrency     int
	LimiterMax      int
	LimiterDuration time.Duration

	// Retention of finished jobs. A zero age or count disables that bound.
	RemoveOnCompleteAge   time.Duration
	RemoveOnCompleteCount int
	RemoveOnFailAge       time.Duration
	RemoveOnFailCount     int
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

	// Storage
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN

	// Generation
	Quota      QuotaConfig
	Generation GenerationConfig

	// Queues
	AIQueue        QueueConfig
	WebhookQueue   QueueConfig
	WebhookTimeout time.Duration

	// Events
	NATSURL string // empty disables job event publishing

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

// LoadDotEnv reads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Variables already set win, and missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "app.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		Quota: QuotaConfig{
			DailyLimit: getint("DAILY_GENERATION_LIMIT", 100),
			Store:      strings.ToLower(getenv("QUOTA_STORE", "memory")),
			RedisAddr:  getenv("REDIS_ADDR", ""),
			Timezone:   getenv("QUOTA_TIMEZONE", ""),
		},
		Generation: GenerationConfig{
			APIKey:      getenv("OPENAI_API_KEY", ""),
			BaseURL:     getenv("OPENAI_BASE_URL", ""),
			Model:       getenv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout:     getdur("GENERATION_TIMEOUT", 30*time.Second),
			MaxTokens:   getint("GENERATION_MAX_TOKENS", 1024),
			Temperature: getfloat("GENERATION_TEMPERATURE", 0.7),
			MaxHistory:  getint("MAX_HISTORY", 20),
		},

		AIQueue:        getqueue("AI_QUEUE", QueueConfig{
			Attempts: 3, BackoffDelay: 2 * time.Second, Concurrency: 2, LimiterMax: 10, LimiterDuration: time.Minute,
			RemoveOnCompleteAge: 24 * time.Hour, RemoveOnCompleteCount: 1000,
			RemoveOnFailAge: 7 * 24 * time.Hour, RemoveOnFailCount: 5000,
		}),
		WebhookQueue:   getqueue("WEBHOOK_QUEUE", QueueConfig{
			Attempts: 5, BackoffDelay: time.Second, Concurrency: 5, LimiterMax: 100, LimiterDuration: time.Minute,
			RemoveOnCompleteAge: 24 * time.Hour, RemoveOnCompleteCount: 1000,
			RemoveOnFailAge: 7 * 24 * time.Hour, RemoveOnFailCount: 5000,
		}),
		WebhookTimeout: getdur("WEBHOOK_TIMEOUT", 10*time.Second),

		NATSURL: getenv("NATS_URL", ""),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "assessment-chat"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" {
		cfg.DBDriver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}

	if cfg.Quota.DailyLimit < 0 {
		return cfg, errors.New("DAILY_GENERATION_LIMIT must be >= 0")
	}
	switch cfg.Quota.Store {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Quota.RedisAddr) == "" {
			return cfg, errors.New("REDIS_ADDR is required when QUOTA_STORE=redis")
		}
	default:
		return cfg, errors.New("QUOTA_STORE must be one of: memory, redis")
	}
	cfg.Quota.Location = time.Local
	if tz := strings.TrimSpace(cfg.Quota.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return cfg, fmt.Errorf("QUOTA_TIMEZONE: %w", err)
		}
		cfg.Quota.Location = loc
	}

	if cfg.Generation.Timeout <= 0 {
		return cfg, errors.New("GENERATION_TIMEOUT must be > 0")
	}
	if cfg.Generation.MaxTokens <= 0 {
		return cfg, errors.New("GENERATION_MAX_TOKENS must be > 0")
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		return cfg, errors.New("GENERATION_TEMPERATURE must be between 0 and 2")
	}
	if cfg.Generation.MaxHistory < 1 {
		return cfg, errors.New("MAX_HISTORY must be >= 1")
	}

	if err := cfg.AIQueue.validate("AI_QUEUE"); err != nil {
		return cfg, err
	}
	if err := cfg.WebhookQueue.validate("WEBHOOK_QUEUE"); err != nil {
		return cfg, err
	}
	if cfg.WebhookTimeout <= 0 {
		return cfg, errors.New("WEBHOOK_TIMEOUT must be > 0")
	}

	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// DSN returns the connection string for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DBPath
}

func (q QueueConfig) validate(prefix string) error {
	switch {
	case q.Attempts < 1:
		return fmt.Errorf("%s_ATTEMPTS must be >= 1", prefix)
	case q.BackoffDelay < 0:
		return fmt.Errorf("%s_BACKOFF_DELAY must be >= 0", prefix)
	case q.Concurrency < 1:
		return fmt.Errorf("%s_CONCURRENCY must be >= 1", prefix)
	case q.LimiterMax < 0:
		return fmt.Errorf("%s_LIMITER_MAX must be >= 0", prefix)
	case q.LimiterMax > 0 && q.LimiterDuration <= 0:
		return fmt.Errorf("%s_LIMITER_DURATION must be > 0", prefix)
	case q.RemoveOnCompleteAge < 0:
		return fmt.Errorf("%s_REMOVE_ON_COMPLETE_AGE must be >= 0", prefix)
	case q.RemoveOnCompleteCount < 0:
		return fmt.Errorf("%s_REMOVE_ON_COMPLETE_COUNT must be >= 0", prefix)
	case q.RemoveOnFailAge < 0:
		return fmt.Errorf("%s_REMOVE_ON_FAIL_AGE must be >= 0", prefix)
	case q.RemoveOnFailCount < 0:
		return fmt.Errorf("%s_REMOVE_ON_FAIL_COUNT must be >= 0", prefix)
	}
	return nil
}

// ---- helpers ----

func getqueue(prefix string, def QueueConfig) QueueConfig {
	return QueueConfig{
		Attempts:        getint(prefix+"_ATTEMPTS", def.Attempts),
		BackoffDelay:    getdur(prefix+"_BACKOFF_DELAY", def.BackoffDelay),
		Concurrency:     getint(prefix+"_CONCURRENCY", def.Concurrency),
		LimiterMax:      getint(prefix+"_LIMITER_MAX", def.LimiterMax),
		LimiterDuration: getdur(prefix+"_LIMITER_DURATION", def.LimiterDuration),

		RemoveOnCompleteAge:   getdur(prefix+"_REMOVE_ON_COMPLETE_AGE", def.RemoveOnCompleteAge),
		RemoveOnCompleteCount: getint(prefix+"_REMOVE_ON_COMPLETE_COUNT", def.RemoveOnCompleteCount),
		RemoveOnFailAge:       getdur(prefix+"_REMOVE_ON_FAIL_AGE", def.RemoveOnFailAge),
		RemoveOnFailCount:     getint(prefix+"_REMOVE_ON_FAIL_COUNT", def.RemoveOnFailCount),
	}
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
