package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// Storage
	t.Setenv("DB_DRIVER", "postgresql") // normalizes to "postgres"
	t.Setenv("DATABASE_URL", "postgres://u:p@db/chat")

	// Quota / generation
	t.Setenv("DAILY_GENERATION_LIMIT", "2")
	t.Setenv("QUOTA_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("QUOTA_TIMEZONE", "UTC")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("GENERATION_TIMEOUT", "5s")
	t.Setenv("MAX_HISTORY", "6")

	// Queues
	t.Setenv("AI_QUEUE_ATTEMPTS", "4")
	t.Setenv("AI_QUEUE_LIMITER_MAX", "0") // unlimited
	t.Setenv("WEBHOOK_QUEUE_CONCURRENCY", "8")
	t.Setenv("AI_QUEUE_REMOVE_ON_COMPLETE_AGE", "1h")
	t.Setenv("AI_QUEUE_REMOVE_ON_COMPLETE_COUNT", "0") // keep any number
	t.Setenv("WEBHOOK_QUEUE_REMOVE_ON_FAIL_AGE", "72h")
	t.Setenv("WEBHOOK_QUEUE_REMOVE_ON_FAIL_COUNT", "50")
	t.Setenv("WEBHOOK_TIMEOUT", "3s")
	t.Setenv("NATS_URL", "nats://nats:4222")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Idempotency
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging / Docs
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	// Storage
	if cfg.DBDriver != "postgres" || cfg.DSN() != "postgres://u:p@db/chat" {
		t.Fatalf("storage unexpected: driver=%q dsn=%q", cfg.DBDriver, cfg.DSN())
	}

	// Quota / generation
	if cfg.Quota.DailyLimit != 2 || cfg.Quota.Store != "redis" || cfg.Quota.RedisAddr != "redis:6379" || cfg.Quota.Location != time.UTC {
		t.Fatalf("quota unexpected: %+v", cfg.Quota)
	}
	g := cfg.Generation
	if g.APIKey != "sk-test" || g.Model != "gpt-4o" || g.Timeout != 5*time.Second || g.MaxHistory != 6 || g.MaxTokens != 1024 {
		t.Fatalf("generation unexpected: %+v", g)
	}

	// Queues: overrides applied, untouched knobs keep their defaults
	if cfg.AIQueue.Attempts != 4 || cfg.AIQueue.LimiterMax != 0 || cfg.AIQueue.Concurrency != 2 || cfg.AIQueue.BackoffDelay != 2*time.Second {
		t.Fatalf("ai queue unexpected: %+v", cfg.AIQueue)
	}
	if cfg.WebhookQueue.Concurrency != 8 || cfg.WebhookQueue.Attempts != 5 || cfg.WebhookQueue.LimiterMax != 100 {
		t.Fatalf("webhook queue unexpected: %+v", cfg.WebhookQueue)
	}
	if cfg.AIQueue.RemoveOnCompleteAge != time.Hour || cfg.AIQueue.RemoveOnCompleteCount != 0 ||
		cfg.AIQueue.RemoveOnFailAge != 7*24*time.Hour || cfg.AIQueue.RemoveOnFailCount != 5000 {
		t.Fatalf("ai queue retention unexpected: %+v", cfg.AIQueue)
	}
	if cfg.WebhookQueue.RemoveOnFailAge != 72*time.Hour || cfg.WebhookQueue.RemoveOnFailCount != 50 ||
		cfg.WebhookQueue.RemoveOnCompleteAge != 24*time.Hour || cfg.WebhookQueue.RemoveOnCompleteCount != 1000 {
		t.Fatalf("webhook queue retention unexpected: %+v", cfg.WebhookQueue)
	}
	if cfg.WebhookTimeout != 3*time.Second || cfg.NATSURL != "nats://nats:4222" {
		t.Fatalf("webhook/nats unexpected: %v %q", cfg.WebhookTimeout, cfg.NATSURL)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Idempotency
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("API_BASE_PATH default expected '/api/v1', got %q", cfg.APIBasePath)
	}
	if cfg.DBDriver != "sqlite" || cfg.DSN() != "app.db" {
		t.Fatalf("storage defaults unexpected: %q %q", cfg.DBDriver, cfg.DSN())
	}
	if cfg.Quota.DailyLimit != 100 || cfg.Quota.Store != "memory" || cfg.Quota.Location != time.Local {
		t.Fatalf("quota defaults unexpected: %+v", cfg.Quota)
	}
	if cfg.Generation.APIKey != "" || cfg.Generation.MaxHistory != 20 {
		t.Fatalf("generation defaults unexpected: %+v", cfg.Generation)
	}
	want := QueueConfig{
		Attempts: 3, BackoffDelay: 2 * time.Second, Concurrency: 2, LimiterMax: 10, LimiterDuration: time.Minute,
		RemoveOnCompleteAge: 24 * time.Hour, RemoveOnCompleteCount: 1000,
		RemoveOnFailAge: 7 * 24 * time.Hour, RemoveOnFailCount: 5000,
	}
	if cfg.AIQueue != want {
		t.Fatalf("ai queue defaults = %+v, want %+v", cfg.AIQueue, want)
	}
	want = QueueConfig{
		Attempts: 5, BackoffDelay: time.Second, Concurrency: 5, LimiterMax: 100, LimiterDuration: time.Minute,
		RemoveOnCompleteAge: 24 * time.Hour, RemoveOnCompleteCount: 1000,
		RemoveOnFailAge: 7 * 24 * time.Hour, RemoveOnFailCount: 5000,
	}
	if cfg.WebhookQueue != want {
		t.Fatalf("webhook queue defaults = %+v, want %+v", cfg.WebhookQueue, want)
	}
	if cfg.NATSURL != "" {
		t.Fatalf("NATS should be off by default")
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"negative daily limit", map[string]string{"DAILY_GENERATION_LIMIT": "-1"}, "DAILY_GENERATION_LIMIT"},
		{"unknown quota store", map[string]string{"QUOTA_STORE": "disk"}, "QUOTA_STORE"},
		{"redis without addr", map[string]string{"QUOTA_STORE": "redis"}, "REDIS_ADDR"},
		{"bad timezone", map[string]string{"QUOTA_TIMEZONE": "Mars/Olympus"}, "QUOTA_TIMEZONE"},
		{"zero generation timeout", map[string]string{"GENERATION_TIMEOUT": "0s"}, "GENERATION_TIMEOUT"},
		{"zero max tokens", map[string]string{"GENERATION_MAX_TOKENS": "0"}, "GENERATION_MAX_TOKENS"},
		{"temperature out of range", map[string]string{"GENERATION_TEMPERATURE": "3"}, "GENERATION_TEMPERATURE"},
		{"zero history", map[string]string{"MAX_HISTORY": "0"}, "MAX_HISTORY"},
		{"zero ai attempts", map[string]string{"AI_QUEUE_ATTEMPTS": "0"}, "AI_QUEUE_ATTEMPTS"},
		{"zero webhook concurrency", map[string]string{"WEBHOOK_QUEUE_CONCURRENCY": "0"}, "WEBHOOK_QUEUE_CONCURRENCY"},
		{"limiter without window", map[string]string{"AI_QUEUE_LIMITER_DURATION": "0s"}, "AI_QUEUE_LIMITER_DURATION"},
		{"negative completed age", map[string]string{"AI_QUEUE_REMOVE_ON_COMPLETE_AGE": "-1h"}, "AI_QUEUE_REMOVE_ON_COMPLETE_AGE"},
		{"negative completed count", map[string]string{"WEBHOOK_QUEUE_REMOVE_ON_COMPLETE_COUNT": "-1"}, "WEBHOOK_QUEUE_REMOVE_ON_COMPLETE_COUNT"},
		{"negative failed age", map[string]string{"WEBHOOK_QUEUE_REMOVE_ON_FAIL_AGE": "-5m"}, "WEBHOOK_QUEUE_REMOVE_ON_FAIL_AGE"},
		{"negative failed count", map[string]string{"AI_QUEUE_REMOVE_ON_FAIL_COUNT": "-10"}, "AI_QUEUE_REMOVE_ON_FAIL_COUNT"},
		{"zero webhook timeout", map[string]string{"WEBHOOK_TIMEOUT": "0s"}, "WEBHOOK_TIMEOUT"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency ttl non-positive", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("CHAT_DOTENV_NEW=from-file\nCHAT_DOTENV_SET=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CHAT_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("CHAT_DOTENV_NEW") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CHAT_DOTENV_NEW"); got != "from-file" {
		t.Fatalf("CHAT_DOTENV_NEW = %q", got)
	}
	if got := os.Getenv("CHAT_DOTENV_SET"); got != "from-env" {
		t.Fatalf("existing variables must win, got %q", got)
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + keySuffix(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + keySuffix(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	in := " a, ,b ,  c  ,"
	want := []string{"a", "b", "c"}
	if got := splitCSV(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

func keySuffix(i int) string { return string('a' + rune(i)) }

func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
