// Package budget tracks cost accumulation per identity, environment, and
// billing period.
//
// A period is a calendar month in UTC. Rows are created lazily on the first
// cost-bearing call of a period and superseded, never deleted, when the
// period rolls over. Crossing the monthly limit does not retroactively fail
// the action whose cost crossed it; the next evaluation for a cost-bearing
// endpoint is denied instead.
package budget

import (
	"context"
	"errors"
	"time"

	"github.com/quotaguard/quotaguard/internal/limits"
)

// Errors
var (
	ErrInvalidAmount = errors.New("cost amount must be positive")
)

// Status is the spend position for one identity/environment in the active
// period. DailyLimit of zero means no daily limit is configured.
type Status struct {
	Identity        string             `json:"identity"`
	Environment     limits.Environment `json:"environment"`
	PeriodStart     time.Time          `json:"periodStart"`
	CurrentSpending float64            `json:"currentSpending"`
	MonthlyLimit    float64            `json:"monthlyLimit"`
	DailySpending   float64            `json:"dailySpending"`
	DailyLimit      float64            `json:"dailyLimit,omitempty"`
	AlertThreshold  float64            `json:"alertThreshold"`
	OverThreshold   bool               `json:"overThreshold"`
	OverLimit       bool               `json:"overLimit"`
}

// Store persists period spend rows. AddCost must be a single atomic
// read-modify-write per (identity, environment, period).
type Store interface {
	// AddCost increments spending for the active period, creating the row
	// lazily from cfg. The day accumulator resets when the UTC day changes.
	AddCost(ctx context.Context, cfg *limits.BudgetConfig, amount float64, now time.Time) (*Status, error)

	// Status reads the current spend position without mutating anything.
	Status(ctx context.Context, cfg *limits.BudgetConfig, now time.Time) (*Status, error)
}

// PeriodStart returns the first instant of the calendar month containing t,
// in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DayOf returns the UTC calendar date containing t, as a DATE-truncated time.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// deriveFlags fills the threshold/limit flags from the raw numbers.
func deriveFlags(s *Status) *Status {
	if s.MonthlyLimit > 0 {
		ratio := s.CurrentSpending / s.MonthlyLimit
		s.OverThreshold = s.AlertThreshold > 0 && ratio >= s.AlertThreshold
		s.OverLimit = ratio >= 1.0
	}
	if !s.OverLimit && s.DailyLimit > 0 && s.DailySpending >= s.DailyLimit {
		s.OverLimit = true
	}
	return s
}
