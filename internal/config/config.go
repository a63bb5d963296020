package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("validate config")

type Config struct {
	AppEnv   string
	HTTPAddr string
	BaseURL  string

	DatabaseDriver      string
	DatabaseURL         string
	DatabaseAutoMigrate bool

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	SessionSecret      string
	SessionCookieName  string
	RememberCookieName string
	FlashCookieName    string
	CSRFCookieName     string
	SessionTTL         time.Duration
	RememberTTL        time.Duration
	PasswordResetTTL   time.Duration

	BcryptCost      int
	HashConcurrency int

	RateLimitBackend        string
	RateLimitFailureMode    string
	APIRateLimit            int
	APIRateLimitWindow      time.Duration
	LoginRateLimit          int
	LoginRateLimitWindow    time.Duration
	RegisterRateLimit       int
	RegisterRateLimitWindow time.Duration
	ResetRateLimit          int
	ResetRateLimitWindow    time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELHTTPEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSampleRatio      float64
	LogLevel                  string

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

// IsProduction reports whether cookies must carry the Secure attribute.
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		recordLoadOutcome(context.Background(), os.Getenv("APP_ENV"), err)
		return nil, err
	}
	recordLoadOutcome(context.Background(), cfg.AppEnv, nil)
	return cfg, nil
}

func load() (*Config, error) {
	p := &envParser{}
	cfg := &Config{
		AppEnv:   strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		HTTPAddr: getEnv("HTTP_ADDR", ":3000"),
		BaseURL:  strings.TrimRight(getEnv("BASE_URL", "http://localhost:3000"), "/"),

		DatabaseDriver:      strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite")),
		DatabaseURL:         getEnv("DATABASE_URL", "file:vendi.db?_foreign_keys=on"),
		DatabaseAutoMigrate: p.bool("DATABASE_AUTO_MIGRATE", true),

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        p.int("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "vendi"),

		SessionSecret:      os.Getenv("SESSION_SECRET"),
		SessionCookieName:  getEnv("SESSION_COOKIE_NAME", "vendi.sid"),
		RememberCookieName: getEnv("REMEMBER_COOKIE_NAME", "vendi_remember"),
		FlashCookieName:    getEnv("FLASH_COOKIE_NAME", "vendi_flash"),
		CSRFCookieName:     getEnv("CSRF_COOKIE_NAME", "vendi_csrf"),
		SessionTTL:         p.duration("SESSION_TTL", 7*24*time.Hour),
		RememberTTL:        p.duration("REMEMBER_TTL", 30*24*time.Hour),
		PasswordResetTTL:   p.duration("PASSWORD_RESET_TTL", time.Hour),

		BcryptCost:      p.int("BCRYPT_COST", 10),
		HashConcurrency: p.int("HASH_CONCURRENCY", runtime.NumCPU()),

		RateLimitBackend:        strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "local")),
		RateLimitFailureMode:    strings.ToLower(getEnv("RATE_LIMIT_FAILURE_MODE", "fail_closed")),
		APIRateLimit:            p.int("API_RATE_LIMIT", 100),
		APIRateLimitWindow:      p.duration("API_RATE_LIMIT_WINDOW", 15*time.Minute),
		LoginRateLimit:          p.int("LOGIN_RATE_LIMIT", 5),
		LoginRateLimitWindow:    p.duration("LOGIN_RATE_LIMIT_WINDOW", 15*time.Minute),
		RegisterRateLimit:       p.int("REGISTER_RATE_LIMIT", 3),
		RegisterRateLimitWindow: p.duration("REGISTER_RATE_LIMIT_WINDOW", time.Hour),
		ResetRateLimit:          p.int("PASSWORD_RESET_RATE_LIMIT", 3),
		ResetRateLimitWindow:    p.duration("PASSWORD_RESET_RATE_LIMIT_WINDOW", time.Hour),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "vendi"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", "local"),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  p.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        p.bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.bool("OTEL_LOGS_ENABLED", false),
		OTELHTTPEnabled:           p.bool("OTEL_HTTP_ENABLED", false),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		OTELTraceSampleRatio:      p.float("OTEL_TRACE_SAMPLE_RATIO", 1.0),
		LogLevel:                  strings.ToLower(getEnv("LOG_LEVEL", "info")),

		ShutdownTimeout:              p.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     p.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: p.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),
	}
	if p.err != nil {
		return nil, p.err
	}
	if cfg.SessionSecret == "" && cfg.AppEnv != EnvProduction {
		cfg.SessionSecret = "vendi-development-session-secret-change-me"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.AppEnv {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be development, production or test, got %q", c.AppEnv))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	} else if c.IsProduction() && len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes in production"))
	}
	if c.SessionCookieName == "" || c.RememberCookieName == "" || c.FlashCookieName == "" || c.CSRFCookieName == "" {
		errs = append(errs, errors.New("cookie names must not be empty"))
	}
	if c.SessionCookieName == c.RememberCookieName {
		errs = append(errs, errors.New("SESSION_COOKIE_NAME and REMEMBER_COOKIE_NAME must differ"))
	}
	if c.SessionTTL <= 0 || c.RememberTTL <= 0 || c.PasswordResetTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL, REMEMBER_TTL and PASSWORD_RESET_TTL must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	if c.HashConcurrency <= 0 {
		errs = append(errs, errors.New("HASH_CONCURRENCY must be positive"))
	}
	switch c.RateLimitBackend {
	case "local":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("RATE_LIMIT_BACKEND=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be local or redis, got %q", c.RateLimitBackend))
	}
	switch c.RateLimitFailureMode {
	case "fail_open", "fail_closed":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_FAILURE_MODE must be fail_open or fail_closed, got %q", c.RateLimitFailureMode))
	}
	for name, v := range map[string]int{
		"API_RATE_LIMIT":            c.APIRateLimit,
		"LOGIN_RATE_LIMIT":          c.LoginRateLimit,
		"REGISTER_RATE_LIMIT":       c.RegisterRateLimit,
		"PASSWORD_RESET_RATE_LIMIT": c.ResetRateLimit,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.OTELTraceSampleRatio < 0 || c.OTELTraceSampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLE_RATIO must be within [0,1]"))
	}
	if c.ShutdownHTTPDrainTimeout > c.ShutdownTimeout {
		errs = append(errs, errors.New("SHUTDOWN_HTTP_DRAIN_TIMEOUT must not exceed SHUTDOWN_TIMEOUT"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// envParser keeps the first parse failure so Load reports one error per run.
type envParser struct {
	err error
}

func (p *envParser) int(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *envParser) bool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *envParser) float(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return v
}

// ParseError reports an environment variable that could not be converted.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string { return "parse " + e.Key + ": " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = &ParseError{Key: key, Err: err}
	}
}
