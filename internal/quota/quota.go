// Package quota implements the evaluator that decides whether a sensitive
// action may proceed, combining rate limits, budget position, and lockout
// state into one Decision.
//
// Evaluate is a read-only projection and may be served from slightly stale
// state; Commit performs the atomic transitions and writes the audit trail.
// EvaluateAndCommit collapses both into one call, which is the recommended
// path for callers that do not need a separate advisory pre-check.
package quota

import (
	"fmt"

	"github.com/quotaguard/quotaguard/internal/budget"
	"github.com/quotaguard/quotaguard/internal/limits"
	"github.com/quotaguard/quotaguard/internal/lockout"
	"github.com/quotaguard/quotaguard/internal/usage"
)

// Kind is the category of guarded action.
type Kind string

const (
	KindLoginAttempt Kind = "login_attempt"
	KindAPICall      Kind = "api_call"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLoginAttempt, KindAPICall:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, s)
}

// Outcome is the result of the guarded action, reported at commit time.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ParseOutcome validates an outcome string. Empty is valid and means the
// caller is pre-checking only.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case "", OutcomeSuccess, OutcomeFailure:
		return Outcome(s), nil
	}
	return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidInput, s)
}

// Request describes one guarded action.
type Request struct {
	Identity    string             `json:"identity"`
	Endpoint    string             `json:"endpoint"`
	Environment limits.Environment `json:"environment"`
	Kind        Kind               `json:"kind"`
	Outcome     Outcome            `json:"outcome,omitempty"`
	CostAmount  float64            `json:"costAmount,omitempty"`

	// Fingerprint, when set, records a device sighting alongside the
	// decision. Opaque to the engine.
	Fingerprint string `json:"fingerprint,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
}

// Reason explains a decision.
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonRateLimited    Reason = "rate_limited"
	ReasonBudgetExceeded Reason = "budget_exceeded"
	ReasonLockedOut      Reason = "locked_out"
	ReasonConfigMissing  Reason = "config_missing"
)

// Decision is the evaluator's answer. Nil sections were not consulted for
// this kind of request.
type Decision struct {
	Allowed   bool            `json:"allowed"`
	Reason    Reason          `json:"reason"`
	RateLimit *usage.Usage    `json:"rateLimit,omitempty"`
	Budget    *budget.Status  `json:"budget,omitempty"`
	Lockout   *lockout.Status `json:"lockout,omitempty"`
}

func deny(reason Reason) *Decision {
	return &Decision{Allowed: false, Reason: reason}
}
