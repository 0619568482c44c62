// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Lockout policy
	MaxAttempts     uint
	LockoutDuration time.Duration

	// Evaluator behavior
	OpTimeout     time.Duration // per-store-operation bound
	FailOpenUsage bool          // api_call usage counting proceeds when the ledger is down

	// Usage bucket retention
	PruneInterval time.Duration

	// Security
	AdminSecret    string // Admin API secret
	AllowedOrigins []string

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 15 * time.Minute
	DefaultOpTimeout       = 100 * time.Millisecond
	DefaultPruneInterval   = 15 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		MaxAttempts:     uint(getEnvInt64("LOCKOUT_MAX_ATTEMPTS", DefaultMaxAttempts)),
		LockoutDuration: getEnvDuration("LOCKOUT_DURATION", DefaultLockoutDuration),
		OpTimeout:       getEnvDuration("OP_TIMEOUT", DefaultOpTimeout),
		FailOpenUsage:   getEnvBool("FAIL_OPEN_USAGE", false),
		PruneInterval:   getEnvDuration("PRUNE_INTERVAL", DefaultPruneInterval),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		AllowedOrigins:  splitList(os.Getenv("ALLOWED_ORIGINS")),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.MaxAttempts == 0 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be positive")
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("OP_TIMEOUT must be positive")
	}

	if c.IsProduction() {
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production (in-memory stores are not shared across instances)")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
