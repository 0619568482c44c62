// Package usage implements the multi-window usage ledger.
//
// Counting model: fixed one-minute buckets, one row per
// (identity, endpoint, environment, minute). The minute count is the
// bucket itself; hour and day counts are sums over the 60 and 1440
// covering buckets. Bursts straddling a minute boundary can therefore
// be over- or under-counted by at most one bucket width (60s), which is
// a documented approximation of this scheme, not a bug.
//
// IncrementAndCheck is a single atomic operation: the limit check and
// the increment cannot interleave across concurrent callers.
package usage

import (
	"context"
	"time"

	"github.com/quotaguard/quotaguard/internal/limits"
)

// Window reports usage against one limit window.
type Window struct {
	Used          uint  `json:"used"`
	Limit         uint  `json:"limit"`
	ResetInMillis int64 `json:"resetInMillis"`
}

// Usage is the outcome of an increment or peek across all three windows.
type Usage struct {
	Allowed bool   `json:"allowed"`
	Minute  Window `json:"minute"`
	Hour    Window `json:"hour"`
	Day     Window `json:"day"`
}

// LimitedWindow names the narrowest window that denied a request, if any.
func (u *Usage) LimitedWindow() string {
	switch {
	case u.Allowed:
		return ""
	case u.Minute.Used >= u.Minute.Limit:
		return "minute"
	case u.Hour.Used >= u.Hour.Limit:
		return "hour"
	default:
		return "day"
	}
}

// Store persists usage buckets. Implementations must make
// IncrementAndCheck atomic per (identity, endpoint, environment).
type Store interface {
	// IncrementAndCheck atomically checks all three windows and, only when
	// all are under their limits, increments the current minute bucket.
	// The returned counts include the increment when Allowed.
	IncrementAndCheck(ctx context.Context, identity, endpoint string, env limits.Environment, cfg *limits.RateLimitConfig, now time.Time) (*Usage, error)

	// Peek returns the current window usage without mutating anything.
	// It is an advisory read: a concurrent commit may change the counts
	// before the caller acts on the result.
	Peek(ctx context.Context, identity, endpoint string, env limits.Environment, cfg *limits.RateLimitConfig, now time.Time) (*Usage, error)

	// PruneBefore deletes buckets older than cutoff and returns how many
	// rows were removed. Buckets stop contributing to any window after
	// 24h; callers should pass a cutoff with a safety margin beyond that.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BucketStart truncates t to its one-minute bucket in UTC.
func BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// buildUsage assembles the three windows from raw counts and the oldest
// contributing bucket per covering range. A zero oldest time means no
// bucket contributes yet.
func buildUsage(cfg *limits.RateLimitConfig, now time.Time, allowed bool,
	minuteUsed, hourUsed, dayUsed uint, hourOldest, dayOldest time.Time) *Usage {

	bucket := BucketStart(now)

	u := &Usage{
		Allowed: allowed,
		Minute:  Window{Used: minuteUsed, Limit: cfg.MaxPerMinute},
		Hour:    Window{Used: hourUsed, Limit: cfg.MaxPerHour},
		Day:     Window{Used: dayUsed, Limit: cfg.MaxPerDay},
	}

	// Minute resets at the next bucket boundary.
	u.Minute.ResetInMillis = bucket.Add(time.Minute).Sub(now).Milliseconds()

	// Hour and day reset when their oldest contributing bucket falls out
	// of the covering range.
	if hourUsed > 0 && !hourOldest.IsZero() {
		u.Hour.ResetInMillis = positiveMillis(hourOldest.Add(time.Hour).Sub(now))
	}
	if dayUsed > 0 && !dayOldest.IsZero() {
		u.Day.ResetInMillis = positiveMillis(dayOldest.Add(24 * time.Hour).Sub(now))
	}

	return u
}

func positiveMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
