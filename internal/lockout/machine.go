package lockout

import (
	"context"
	"time"
)

// Machine wraps a Store with the configured policy and metrics. It is the
// type the evaluator talks to.
type Machine struct {
	store  Store
	policy Policy
}

// NewMachine creates a lockout state machine.
func NewMachine(store Store, policy Policy) *Machine {
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy()
	}
	return &Machine{store: store, policy: policy}
}

// Policy returns the active policy.
func (m *Machine) Policy() Policy {
	return m.policy
}

// RecordFailure counts a failed authentication attempt.
func (m *Machine) RecordFailure(ctx context.Context, identity string, now time.Time) (*Status, error) {
	defer observeOp("record_failure")()

	status, err := m.store.RecordFailure(ctx, identity, m.policy, now)
	if err != nil {
		return nil, err
	}
	FailuresTotal.Inc()
	if status.Locked && status.FailedAttempts == m.policy.MaxAttempts {
		LockoutsTotal.Inc()
	}
	return status, nil
}

// RecordSuccess clears the slate after a successful credential check.
func (m *Machine) RecordSuccess(ctx context.Context, identity string) error {
	defer observeOp("record_success")()
	return m.store.RecordSuccess(ctx, identity)
}

// CheckStatus reports the current state without writing.
func (m *Machine) CheckStatus(ctx context.Context, identity string, now time.Time) (*Status, error) {
	defer observeOp("check_status")()
	return m.store.CheckStatus(ctx, identity, m.policy, now)
}
