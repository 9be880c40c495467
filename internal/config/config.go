// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DevJWTSecret is the HS256 secret used when neither JWT_SECRET nor an OIDC
// issuer is configured. It is rejected in production.
const DevJWTSecret = "dev-secret-change-in-production"

// Grant window modes.
const (
	GrantWindowReviewDeadline = "review_deadline"
	GrantWindowFixed          = "fixed"
)

// AuthConfig holds authentication and identity provider configuration.
type AuthConfig struct {
	IssuerURL string // OIDC issuer URL; enables OIDC validation when set
	Audience  string // Required JWT audience claim for OIDC tokens
	JWTSecret string // HS256 shared secret for local/dev JWT auth
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != ""
}

// NotifyConfig selects how reviewers hear about new access requests.
type NotifyConfig struct {
	Backend   string // log (default), amqp or redis
	AMQPURL   string
	RedisAddr string
}

// Config holds the configuration for the governance server and admin CLI.
type Config struct {
	DBPath      string // path to the SQLite ledger
	ListenAddr  string // HTTP listen address (default ":8080")
	CatalogPath string // permission catalog YAML; empty uses the built-in catalog
	LogLevel    string // log level: debug, info, warn, error (default "info")
	Env         string // environment: "development" (default) or "production"

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	Auth AuthConfig

	// GrantWindowMode decides when grants issued on approval expire:
	// at the request's review deadline, or GrantWindow after approval.
	GrantWindowMode string
	GrantWindow     time.Duration

	SweepSchedule string // cron spec for the expiry sweep; empty disables
	DriftSchedule string // cron spec for drift scans; empty disables
	DriftTenants  []string

	Notify NotifyConfig

	AuditShards    int
	AuditQueueSize int

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DBPath:        os.Getenv("DB_PATH"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		CatalogPath:   os.Getenv("CATALOG_PATH"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Env:           os.Getenv("ENV"),
		SweepSchedule: envDefault("SWEEP_SCHEDULE", "@every 1m"),
		DriftSchedule: envDefault("DRIFT_SCHEDULE", "@daily"),
		DriftTenants:  splitList(os.Getenv("DRIFT_TENANTS")),
		Auth: AuthConfig{
			IssuerURL: os.Getenv("AUTH_ISSUER_URL"),
			Audience:  os.Getenv("AUTH_AUDIENCE"),
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Notify: NotifyConfig{
			Backend:   strings.ToLower(os.Getenv("NOTIFY_BACKEND")),
			AMQPURL:   os.Getenv("AMQP_URL"),
			RedisAddr: os.Getenv("REDIS_ADDR"),
		},
		GrantWindowMode:    strings.ToLower(os.Getenv("GRANT_WINDOW_MODE")),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	var err error
	if cfg.AuditShards, err = intEnv("AUDIT_SHARDS", 4); err != nil {
		return nil, err
	}
	if cfg.AuditQueueSize, err = intEnv("AUDIT_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if v := os.Getenv("GRANT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("GRANT_WINDOW: %w", err)
		}
		cfg.GrantWindow = d
	}

	// Defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "farm_access.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Notify.Backend == "" {
		cfg.Notify.Backend = "log"
	}
	if cfg.GrantWindowMode == "" {
		cfg.GrantWindowMode = GrantWindowReviewDeadline
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.OIDCEnabled() {
		cfg.Auth.JWTSecret = DevJWTSecret
		cfg.Warnings = append(cfg.Warnings, "JWT_SECRET not set: using insecure development secret")
	}
	if cfg.DriftSchedule != "" && len(cfg.DriftTenants) == 0 {
		cfg.Warnings = append(cfg.Warnings, "DRIFT_TENANTS is empty: scheduled drift scans are disabled")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.GrantWindowMode {
	case GrantWindowReviewDeadline:
	case GrantWindowFixed:
		if c.GrantWindow <= 0 {
			return fmt.Errorf("GRANT_WINDOW must be a positive duration when GRANT_WINDOW_MODE=fixed")
		}
	default:
		return fmt.Errorf("GRANT_WINDOW_MODE must be %q or %q, got %q",
			GrantWindowReviewDeadline, GrantWindowFixed, c.GrantWindowMode)
	}

	switch c.Notify.Backend {
	case "log":
	case "amqp":
		if c.Notify.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when NOTIFY_BACKEND=amqp")
		}
	case "redis":
		if c.Notify.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when NOTIFY_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_BACKEND %q", c.Notify.Backend)
	}

	if c.Auth.OIDCEnabled() && c.Auth.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE is required when AUTH_ISSUER_URL is set")
	}

	// Production mode: insecure defaults are fatal errors.
	if c.IsProduction() {
		if c.Auth.JWTSecret == DevJWTSecret {
			return fmt.Errorf("JWT_SECRET or AUTH_ISSUER_URL must be set in production (ENV=production)")
		}
		if len(c.CORSAllowedOrigins) == 1 && c.CORSAllowedOrigins[0] == "*" {
			return fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}
	return nil
}

func envDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
