// Package config loads configuration from environment variables.
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

// Session backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendCookie   = "cookie"
)

// Config holds the navigation service configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string
	TLSCertFile string
	TLSKeyFile  string

	// Logging
	LogLevel  string
	LogFormat string

	// Drive API
	DriveAPIURL     string
	DriveAPITimeout time.Duration
	LookupTimeout   time.Duration
	LookupCacheTTL  time.Duration
	LookupCacheSize int

	// Session storage
	SessionBackend      string
	DatabaseURL         string
	SQLitePath          string
	MigrationsDir       string
	SessionSecret       string
	SessionTTL          time.Duration
	SessionCookieSecure bool

	// Auth (optional)
	JWTSecret     string
	OIDCIssuerURL string
	OIDCClientID  string

	// Events (optional)
	NATSURL           string
	NATSSubjectPrefix string

	// Limits
	RequestsPerMinute int
}

// Load reads an optional .env file and then configuration from
// environment variables with defaults. Variables already present in the
// environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		TLSCertFile:         envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:          envOr("TLS_KEY_FILE", ""),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
		DriveAPIURL:         strings.TrimRight(envOr("DRIVE_API_URL", ""), "/"),
		DriveAPITimeout:     envDuration("DRIVE_API_TIMEOUT", 10*time.Second),
		LookupTimeout:       envDuration("LOOKUP_TIMEOUT", 5*time.Second),
		LookupCacheTTL:      envDuration("LOOKUP_CACHE_TTL", 30*time.Second),
		LookupCacheSize:     envInt("LOOKUP_CACHE_SIZE", 1024),
		SessionBackend:      strings.ToLower(envOr("SESSION_BACKEND", BackendMemory)),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		SQLitePath:          envOr("SQLITE_PATH", "navigator.db"),
		MigrationsDir:       envOr("MIGRATIONS_DIR", ""),
		SessionSecret:       envOr("SESSION_SECRET", ""),
		SessionTTL:          envDuration("SESSION_TTL", 12*time.Hour),
		SessionCookieSecure: envBool("SESSION_COOKIE_SECURE", false),
		JWTSecret:           envOr("JWT_SECRET", ""),
		OIDCIssuerURL:       envOr("OIDC_ISSUER_URL", ""),
		OIDCClientID:        envOr("OIDC_CLIENT_ID", ""),
		NATSURL:             envOr("NATS_URL", ""),
		NATSSubjectPrefix:   envOr("NATS_SUBJECT_PREFIX", "drive.navigation"),
		RequestsPerMinute:   envInt("RATE_LIMIT_PER_MINUTE", 0), // 0 = unlimited
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.DriveAPIURL == "" {
		return errors.New("DRIVE_API_URL is required")
	}
	switch c.SessionBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres session backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite session backend")
		}
	case BackendCookie:
		if len(c.SessionSecret) < 32 {
			return errors.New("SESSION_SECRET must be at least 32 bytes for the cookie session backend")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.OIDCIssuerURL != "" && c.OIDCClientID == "" {
		return errors.New("OIDC_CLIENT_ID is required when OIDC_ISSUER_URL is set")
	}
	if c.RequestsPerMinute < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return nil
}

// TLSEnabled reports whether both certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
