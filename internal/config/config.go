// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database and storage paths, model and
// worker tuning, billing amounts, rate limiting, and observability.
package config

import (
	"errors"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-derm-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ModelConfig defines where the classification model artifact lives and how
// images are preprocessed and thresholded. ImageThreshold is the per-image
// malignant cutoff (0.5 baseline); AggregateThreshold is the clinically
// conservative cutoff applied to the mean confidence of a checkup.
type ModelConfig struct {
	Path               string  // MODEL_PATH: SavedModel dir, .keras, .h5, or weights file
	ScorerURL          string  // MODEL_SCORER_URL: scoring runtime endpoint
	ImageSize          int     // MODEL_IMG_SIZE: square input geometry (default 224)
	ImageThreshold     float64 // MODEL_IMG_THRESHOLD in [0,1]
	AggregateThreshold float64 // MODEL_AGG_THRESHOLD in [0,1]
}

// WorkerConfig tunes the inference worker pool and its retry policy.
type WorkerConfig struct {
	Concurrency  int           // WORKER_CONCURRENCY: parallel checkup runs
	PollInterval time.Duration // WORKER_POLL_INTERVAL: idle queue poll period
	MaxAttempts  int           // WORKER_MAX_ATTEMPTS: bounded retries for transient faults
	RetryBase    time.Duration // WORKER_RETRY_BASE: first backoff delay
	RetryMax     time.Duration // WORKER_RETRY_MAX: backoff ceiling
	FailFast     bool          // WORKER_FAIL_FAST: one bad image fails the whole checkup
	StaleClaim   time.Duration // WORKER_STALE_CLAIM: reclaim tasks stuck in STARTED
	Embedded     bool          // WORKER_EMBEDDED: run the pool inside `serve` too
}

// BillingConfig defines credit amounts for the submission debit and the
// failure / verified-biopsy refunds.
type BillingConfig struct {
	CheckupCost  int // CHECKUP_COST_CREDITS (default 100)
	RefundAmount int // REFUND_CREDITS (default 100)
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

	// App
	DBPath      string // SQLite path
	StoragePath string // root directory for uploaded images / documents / heatmaps
	MaxImages   int    // maximum image samples per checkup (default 5)

	// Results polling
	ResultsWaitDefault time.Duration // RESULTS_WAIT_DEFAULT: default bounded wait (~30s)
	ResultsWaitMax     time.Duration // RESULTS_WAIT_MAX: cap on client-requested wait
	ResultsPoll        time.Duration // RESULTS_POLL_INTERVAL: poll period (1s)

	// Domain
	Model   ModelConfig
	Worker  WorkerConfig
	Billing BillingConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyMaxLen int // max accepted Idempotency-Key length

	// Observability
	OTEL OTELConfig
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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 45*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:      getenv("DB_PATH", "derm.db"),
		StoragePath: getenv("STORAGE_PATH", "data/uploads"),
		MaxImages:   getint("MAX_IMAGES_PER_CHECKUP", 5),

		// Results polling
		ResultsWaitDefault: getdur("RESULTS_WAIT_DEFAULT", 30*time.Second),
		ResultsWaitMax:     getdur("RESULTS_WAIT_MAX", 120*time.Second),
		ResultsPoll:        getdur("RESULTS_POLL_INTERVAL", time.Second),

		// Model
		Model: ModelConfig{
			Path:               getenv("MODEL_PATH", "models/best_model.keras"),
			ScorerURL:          getenv("MODEL_SCORER_URL", "http://localhost:8501"),
			ImageSize:          getint("MODEL_IMG_SIZE", 224),
			ImageThreshold:     getfloat("MODEL_IMG_THRESHOLD", 0.5),
			AggregateThreshold: getfloat("MODEL_AGG_THRESHOLD", 0.70),
		},

		// Worker
		Worker: WorkerConfig{
			Concurrency:  getint("WORKER_CONCURRENCY", 2),
			PollInterval: getdur("WORKER_POLL_INTERVAL", 2*time.Second),
			MaxAttempts:  getint("WORKER_MAX_ATTEMPTS", 3),
			RetryBase:    getdur("WORKER_RETRY_BASE", 5*time.Second),
			RetryMax:     getdur("WORKER_RETRY_MAX", 2*time.Minute),
			FailFast:     getbool("WORKER_FAIL_FAST", false),
			StaleClaim:   getdur("WORKER_STALE_CLAIM", 10*time.Minute),
			Embedded:     getbool("WORKER_EMBEDDED", true),
		},

		// Billing
		Billing: BillingConfig{
			CheckupCost:  getint("CHECKUP_COST_CREDITS", 100),
			RefundAmount: getint("REFUND_CREDITS", 100),
		},

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
		IdempotencyMaxLen: getint("IDEMPOTENCY_MAX_LEN", 100),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-derm-backend"),
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
	// A results long-poll must be answerable within the server write window,
	// or the deadline severs the response mid-wait.
	if cfg.WriteTimeout <= cfg.ResultsWaitMax {
		cfg.WriteTimeout = cfg.ResultsWaitMax + 5*time.Second
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.StoragePath) == "" {
		return cfg, errors.New("STORAGE_PATH must not be empty")
	}
	if cfg.MaxImages < 1 {
		return cfg, errors.New("MAX_IMAGES_PER_CHECKUP must be >= 1")
	}
	if cfg.ResultsWaitDefault < 0 || cfg.ResultsWaitMax <= 0 || cfg.ResultsPoll <= 0 {
		return cfg, errors.New("results wait/poll settings must be positive durations")
	}
	if strings.TrimSpace(cfg.Model.Path) == "" {
		return cfg, errors.New("MODEL_PATH must not be empty")
	}
	if cfg.Model.ImageSize < 1 {
		return cfg, errors.New("MODEL_IMG_SIZE must be >= 1")
	}
	if cfg.Model.ImageThreshold < 0 || cfg.Model.ImageThreshold > 1 {
		return cfg, errors.New("MODEL_IMG_THRESHOLD must be between 0 and 1")
	}
	if cfg.Model.AggregateThreshold < 0 || cfg.Model.AggregateThreshold > 1 {
		return cfg, errors.New("MODEL_AGG_THRESHOLD must be between 0 and 1")
	}
	if cfg.Worker.Concurrency < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.Worker.MaxAttempts < 1 {
		return cfg, errors.New("WORKER_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Worker.PollInterval <= 0 || cfg.Worker.RetryBase <= 0 || cfg.Worker.RetryMax <= 0 || cfg.Worker.StaleClaim <= 0 {
		return cfg, errors.New("worker intervals must be positive durations")
	}
	if cfg.Billing.CheckupCost < 0 || cfg.Billing.RefundAmount < 0 {
		return cfg, errors.New("billing amounts must be >= 0")
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
	if cfg.IdempotencyMaxLen < 1 {
		return cfg, errors.New("IDEMPOTENCY_MAX_LEN must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

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
