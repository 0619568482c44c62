package usage

import (
	"context"
	"sync"
	"time"

	"github.com/quotaguard/quotaguard/internal/limits"
	"github.com/quotaguard/quotaguard/internal/syncutil"
)

// MemoryStore is an in-memory implementation of Store for development and
// tests. Per-key atomicity comes from a sharded mutex: the limit check and
// the increment happen under the same shard lock, so concurrent callers
// for one identity cannot interleave between them.
type MemoryStore struct {
	locks syncutil.ShardedMutex

	mu      sync.RWMutex // guards the outer map only
	buckets map[string]map[int64]uint
}

// NewMemoryStore creates a new in-memory usage store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]map[int64]uint),
	}
}

func usageKey(identity, endpoint string, env limits.Environment) string {
	return identity + "|" + endpoint + "|" + string(env)
}

func (s *MemoryStore) IncrementAndCheck(_ context.Context, identity, endpoint string, env limits.Environment, cfg *limits.RateLimitConfig, now time.Time) (*Usage, error) {
	key := usageKey(identity, endpoint, env)
	unlock := s.locks.Lock(key)
	defer unlock()

	byMinute := s.getBuckets(key)
	minuteUsed, hourUsed, dayUsed, hourOldest, dayOldest := sumWindows(byMinute, now)

	allowed := minuteUsed < cfg.MaxPerMinute && hourUsed < cfg.MaxPerHour && dayUsed < cfg.MaxPerDay
	if allowed {
		byMinute[BucketStart(now).Unix()]++
		minuteUsed++
		hourUsed++
		dayUsed++
		if hourOldest.IsZero() {
			hourOldest = BucketStart(now)
		}
		if dayOldest.IsZero() {
			dayOldest = BucketStart(now)
		}
	}

	return buildUsage(cfg, now, allowed, minuteUsed, hourUsed, dayUsed, hourOldest, dayOldest), nil
}

func (s *MemoryStore) Peek(_ context.Context, identity, endpoint string, env limits.Environment, cfg *limits.RateLimitConfig, now time.Time) (*Usage, error) {
	key := usageKey(identity, endpoint, env)
	unlock := s.locks.Lock(key)
	defer unlock()

	byMinute := s.getBuckets(key)
	minuteUsed, hourUsed, dayUsed, hourOldest, dayOldest := sumWindows(byMinute, now)
	allowed := minuteUsed < cfg.MaxPerMinute && hourUsed < cfg.MaxPerHour && dayUsed < cfg.MaxPerDay

	return buildUsage(cfg, now, allowed, minuteUsed, hourUsed, dayUsed, hourOldest, dayOldest), nil
}

// PruneBefore deletes expired minute entries. Emptied key maps are kept:
// the key space (identity x endpoint x environment) is small enough for a
// development store, and removing them would race with getBuckets callers
// holding a reference.
func (s *MemoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.buckets))
	for key := range s.buckets {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	cut := cutoff.UTC().Unix()
	var removed int64
	for _, key := range keys {
		unlock := s.locks.Lock(key)
		s.mu.RLock()
		byMinute := s.buckets[key]
		s.mu.RUnlock()
		for minute := range byMinute {
			if minute < cut {
				delete(byMinute, minute)
				removed++
			}
		}
		unlock()
	}
	return removed, nil
}

// getBuckets returns the per-minute map for a key, creating it if needed.
// Callers must hold the shard lock for the key.
func (s *MemoryStore) getBuckets(key string) map[int64]uint {
	s.mu.RLock()
	byMinute, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return byMinute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if byMinute, ok = s.buckets[key]; ok {
		return byMinute
	}
	byMinute = make(map[int64]uint)
	s.buckets[key] = byMinute
	return byMinute
}

// sumWindows aggregates the covering buckets for each window at time now.
func sumWindows(byMinute map[int64]uint, now time.Time) (minuteUsed, hourUsed, dayUsed uint, hourOldest, dayOldest time.Time) {
	bucket := BucketStart(now).Unix()
	hourFloor := bucket - 3600
	dayFloor := bucket - 86400

	for minute, count := range byMinute {
		if minute <= dayFloor || minute > bucket {
			continue
		}
		dayUsed += count
		if dayOldest.IsZero() || minute < dayOldest.Unix() {
			dayOldest = time.Unix(minute, 0).UTC()
		}
		if minute > hourFloor {
			hourUsed += count
			if hourOldest.IsZero() || minute < hourOldest.Unix() {
				hourOldest = time.Unix(minute, 0).UTC()
			}
		}
		if minute == bucket {
			minuteUsed += count
		}
	}
	return
}
