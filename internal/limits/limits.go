// Package limits holds the engine's admin-mutable configuration: per-endpoint
// rate limit windows and per-identity budget parameters.
//
// Configs are read on every evaluation and changed only by admin action,
// never by the evaluator itself. Unknown endpoints have no config and the
// evaluator fails closed.
package limits

import (
	"context"
	"errors"
	"fmt"
)

// Errors
var (
	ErrConfigMissing = errors.New("no config for endpoint/environment")
	ErrInvalidConfig = errors.New("invalid config")
)

// Environment is the closed set of deployment environments.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// ParseEnvironment validates an environment string.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvSandbox, EnvProduction:
		return Environment(s), nil
	}
	return "", fmt.Errorf("%w: unknown environment %q", ErrInvalidConfig, s)
}

// RateLimitConfig defines the three window limits for one endpoint in one
// environment. Invariant: MaxPerMinute <= MaxPerHour <= MaxPerDay.
type RateLimitConfig struct {
	Endpoint     string      `json:"endpoint"`
	Environment  Environment `json:"environment"`
	MaxPerMinute uint        `json:"maxPerMinute"`
	MaxPerHour   uint        `json:"maxPerHour"`
	MaxPerDay    uint        `json:"maxPerDay"`
}

// Validate rejects malformed configs at load time.
func (c *RateLimitConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	if _, err := ParseEnvironment(string(c.Environment)); err != nil {
		return err
	}
	if c.MaxPerMinute == 0 {
		return fmt.Errorf("%w: maxPerMinute must be positive", ErrInvalidConfig)
	}
	if c.MaxPerMinute > c.MaxPerHour || c.MaxPerHour > c.MaxPerDay {
		return fmt.Errorf("%w: window limits must satisfy minute <= hour <= day", ErrInvalidConfig)
	}
	return nil
}

// BudgetConfig defines spending limits for one identity in one environment.
// DailyLimit is optional (zero disables it); it is typically set only for
// sandbox environments. AlertThreshold is a fraction of the monthly limit.
type BudgetConfig struct {
	Identity       string      `json:"identity"`
	Environment    Environment `json:"environment"`
	MonthlyLimit   float64     `json:"monthlyLimit"`
	DailyLimit     float64     `json:"dailyLimit,omitempty"`
	AlertThreshold float64     `json:"alertThreshold"`
}

// Validate rejects malformed budget configs.
func (c *BudgetConfig) Validate() error {
	if c.Identity == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidConfig)
	}
	if _, err := ParseEnvironment(string(c.Environment)); err != nil {
		return err
	}
	if c.MonthlyLimit <= 0 {
		return fmt.Errorf("%w: monthlyLimit must be positive", ErrInvalidConfig)
	}
	if c.DailyLimit < 0 {
		return fmt.Errorf("%w: dailyLimit must not be negative", ErrInvalidConfig)
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("%w: alertThreshold must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// Store persists engine configuration.
type Store interface {
	GetRateLimit(ctx context.Context, endpoint string, env Environment) (*RateLimitConfig, error)
	PutRateLimit(ctx context.Context, cfg *RateLimitConfig) error
	ListRateLimits(ctx context.Context, env Environment) ([]*RateLimitConfig, error)
	GetBudget(ctx context.Context, identity string, env Environment) (*BudgetConfig, error)
	PutBudget(ctx context.Context, cfg *BudgetConfig) error
}
