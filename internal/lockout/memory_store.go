package lockout

import (
	"context"
	"sync"
	"time"

	"github.com/quotaguard/quotaguard/internal/syncutil"
)

type attemptRow struct {
	failedAttempts uint
	lockedUntil    *time.Time
}

// MemoryStore is an in-memory implementation of Store. The shard lock per
// identity makes each transition atomic, so concurrent failures are all
// counted and an active lock is never rewritten.
type MemoryStore struct {
	locks syncutil.ShardedMutex

	mu   sync.RWMutex // guards the rows map only
	rows map[string]*attemptRow
}

// NewMemoryStore creates a new in-memory lockout store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*attemptRow),
	}
}

func (s *MemoryStore) RecordFailure(_ context.Context, identity string, policy Policy, now time.Time) (*Status, error) {
	unlock := s.locks.Lock(identity)
	defer unlock()

	row := s.getRow(identity)

	switch {
	case row.lockedUntil != nil && now.Before(*row.lockedUntil):
		// Active lock: count the failure, leave the lock untouched.
		row.failedAttempts++
	case row.lockedUntil != nil:
		// Expired lock: restart the counter.
		row.failedAttempts = 1
		row.lockedUntil = nil
		if row.failedAttempts >= policy.MaxAttempts {
			until := now.UTC().Add(policy.LockoutDuration)
			row.lockedUntil = &until
		}
	default:
		row.failedAttempts++
		if row.failedAttempts >= policy.MaxAttempts {
			until := now.UTC().Add(policy.LockoutDuration)
			row.lockedUntil = &until
		}
	}

	return buildStatus(identity, policy, row.failedAttempts, row.lockedUntil, now), nil
}

func (s *MemoryStore) RecordSuccess(_ context.Context, identity string) error {
	unlock := s.locks.Lock(identity)
	defer unlock()

	row := s.getRow(identity)
	row.failedAttempts = 0
	row.lockedUntil = nil
	return nil
}

func (s *MemoryStore) CheckStatus(_ context.Context, identity string, policy Policy, now time.Time) (*Status, error) {
	unlock := s.locks.Lock(identity)
	defer unlock()

	s.mu.RLock()
	row, ok := s.rows[identity]
	s.mu.RUnlock()
	if !ok {
		return buildStatus(identity, policy, 0, nil, now), nil
	}
	return buildStatus(identity, policy, row.failedAttempts, row.lockedUntil, now), nil
}

// getRow returns the attempt row for an identity, creating it if needed.
// Callers must hold the shard lock for the identity.
func (s *MemoryStore) getRow(identity string) *attemptRow {
	s.mu.RLock()
	row, ok := s.rows[identity]
	s.mu.RUnlock()
	if ok {
		return row
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok = s.rows[identity]; ok {
		return row
	}
	row = &attemptRow{}
	s.rows[identity] = row
	return row
}
