// Package audit is the append-only event log for engine decisions and
// mutations. Events are immutable once written; retention is an external
// policy, the engine never deletes.
package audit

import (
	"context"
	"time"
)

// Kind classifies an audit event.
type Kind string

const (
	KindUsageIncrement Kind = "usage_increment"
	KindCostAdded      Kind = "cost_added"
	KindLoginFailure   Kind = "login_failure"
	KindLoginSuccess   Kind = "login_success"
	KindLockout        Kind = "lockout"
	KindDeviceObserved Kind = "device_observed"
	KindDeviceTrust    Kind = "device_trust"
	KindDeviceRevoked  Kind = "device_revoked"
	KindConfigChanged  Kind = "config_changed"
	KindDecisionDenied Kind = "decision_denied"
)

// SecurityRelevant reports whether an event of this kind must be durably
// recorded before the triggering operation is allowed to succeed.
// Informational kinds may proceed past an audit failure with a logged gap.
func (k Kind) SecurityRelevant() bool {
	switch k {
	case KindLockout, KindDeviceRevoked, KindLoginFailure, KindConfigChanged:
		return true
	}
	return false
}

// Event is one audit record.
type Event struct {
	ID        string            `json:"id"`
	Identity  string            `json:"identity"`
	Kind      Kind              `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Query filters an audit listing. Zero values mean "any".
type Query struct {
	Identity string
	Kind     Kind
	From     time.Time
	To       time.Time
	Limit    int
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event *Event) error
	List(ctx context.Context, q Query) ([]*Event, error)
}
