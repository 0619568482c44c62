// Package lockout tracks consecutive authentication failures per identity
// and derives a locked/unlocked state with an expiry.
//
// The state machine has exactly two write transitions: RecordFailure and
// RecordSuccess. A lock is set once, by the failure that crosses the
// threshold, and is immutable until it expires or a success clears it.
// Expiry is lazy: no background sweep, CheckStatus reports Unlocked as soon
// as the wall clock passes lockedUntil, and the next write resets the row.
package lockout

import (
	"context"
	"time"
)

// Policy configures the lockout thresholds.
type Policy struct {
	MaxAttempts     uint          `json:"maxAttempts"`
	LockoutDuration time.Duration `json:"lockoutDuration"`
}

// DefaultPolicy returns the standard lockout policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		LockoutDuration: 15 * time.Minute,
	}
}

// Status describes the lockout state of one identity at a point in time.
type Status struct {
	Identity          string     `json:"identity"`
	Locked            bool       `json:"isLocked"`
	FailedAttempts    uint       `json:"failedAttempts"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
	RemainingSeconds  int64      `json:"lockoutRemainingSeconds,omitempty"`
	RemainingAttempts uint       `json:"remainingAttempts"`
	MaxAttempts       uint       `json:"maxAttempts"`
}

// Store persists attempt counters. RecordFailure must be a single atomic
// read-modify-write per identity: concurrent failures are all counted, and
// a failure during an active lock never moves lockedUntil.
type Store interface {
	RecordFailure(ctx context.Context, identity string, policy Policy, now time.Time) (*Status, error)
	RecordSuccess(ctx context.Context, identity string) error
	CheckStatus(ctx context.Context, identity string, policy Policy, now time.Time) (*Status, error)
}

// buildStatus derives the reported state from a raw row. An expired lock
// reads as Unlocked with a fresh allowance; the stored count is reset by
// the next write, not here.
func buildStatus(identity string, policy Policy, failedAttempts uint, lockedUntil *time.Time, now time.Time) *Status {
	s := &Status{
		Identity:       identity,
		FailedAttempts: failedAttempts,
		MaxAttempts:    policy.MaxAttempts,
	}

	if lockedUntil != nil && now.Before(*lockedUntil) {
		until := lockedUntil.UTC()
		s.Locked = true
		s.LockedUntil = &until
		s.RemainingSeconds = int64(until.Sub(now).Seconds() + 0.5)
		return s
	}

	if lockedUntil != nil {
		// Lock expired: the counter restarts on the next recorded failure.
		s.RemainingAttempts = policy.MaxAttempts
		return s
	}

	if failedAttempts < policy.MaxAttempts {
		s.RemainingAttempts = policy.MaxAttempts - failedAttempts
	}
	return s
}
