package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo and testing.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates a new in-memory audit store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) List(_ context.Context, q Query) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var result []*Event
	// Iterate in reverse for descending order
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		e := s.events[i]
		if q.Identity != "" && e.Identity != q.Identity {
			continue
		}
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		if !q.From.IsZero() && e.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.Timestamp.After(q.To) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

// Events returns all stored events (for testing).
func (s *MemoryStore) Events() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Event, len(s.events))
	copy(result, s.events)
	return result
}
