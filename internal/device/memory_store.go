package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quotaguard/quotaguard/internal/idgen"
	"github.com/quotaguard/quotaguard/internal/syncutil"
)

// MemoryStore is an in-memory implementation of Store. The shard lock per
// identity makes Observe and RevokeAllExcept atomic with respect to each
// other.
type MemoryStore struct {
	locks syncutil.ShardedMutex

	mu      sync.RWMutex // guards the devices map only
	devices map[string]map[string]*Device
}

// NewMemoryStore creates a new in-memory device store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]map[string]*Device),
	}
}

func (s *MemoryStore) Observe(_ context.Context, identity, fingerprint string, meta Metadata, now time.Time) (*Device, error) {
	unlock := s.locks.Lock(identity)
	defer unlock()

	byFP := s.getDevices(identity)
	d, ok := byFP[fingerprint]
	if !ok {
		d = &Device{
			ID:          idgen.WithPrefix("dev_"),
			Identity:    identity,
			Fingerprint: fingerprint,
			FirstSeenAt: now.UTC(),
		}
		byFP[fingerprint] = d
	}
	d.LastSeenAt = now.UTC()
	if meta.UserAgent != "" {
		d.UserAgent = meta.UserAgent
	}

	copied := *d
	return &copied, nil
}

func (s *MemoryStore) SetTrust(_ context.Context, identity, fingerprint string, trusted bool) error {
	unlock := s.locks.Lock(identity)
	defer unlock()

	d, ok := s.getDevices(identity)[fingerprint]
	if !ok {
		return ErrNotFound
	}
	d.Trusted = trusted
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, identity, fingerprint string) error {
	unlock := s.locks.Lock(identity)
	defer unlock()

	byFP := s.getDevices(identity)
	if _, ok := byFP[fingerprint]; !ok {
		return ErrNotFound
	}
	delete(byFP, fingerprint)
	return nil
}

func (s *MemoryStore) RevokeAllExcept(_ context.Context, identity, keepFingerprint string, now time.Time) (int64, error) {
	unlock := s.locks.Lock(identity)
	defer unlock()

	byFP := s.getDevices(identity)

	var revoked int64
	for fp := range byFP {
		if fp != keepFingerprint {
			delete(byFP, fp)
			revoked++
		}
	}

	d, ok := byFP[keepFingerprint]
	if !ok {
		d = &Device{
			ID:          idgen.WithPrefix("dev_"),
			Identity:    identity,
			Fingerprint: keepFingerprint,
			FirstSeenAt: now.UTC(),
		}
		byFP[keepFingerprint] = d
	}
	d.LastSeenAt = now.UTC()

	return revoked, nil
}

func (s *MemoryStore) List(_ context.Context, identity string) ([]*Device, error) {
	unlock := s.locks.Lock(identity)
	defer unlock()

	byFP := s.getDevices(identity)
	devices := make([]*Device, 0, len(byFP))
	for _, d := range byFP {
		copied := *d
		devices = append(devices, &copied)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastSeenAt.After(devices[j].LastSeenAt)
	})
	return devices, nil
}

// getDevices returns the fingerprint map for an identity, creating it if
// needed. Callers must hold the shard lock for the identity.
func (s *MemoryStore) getDevices(identity string) map[string]*Device {
	s.mu.RLock()
	byFP, ok := s.devices[identity]
	s.mu.RUnlock()
	if ok {
		return byFP
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if byFP, ok = s.devices[identity]; ok {
		return byFP
	}
	byFP = make(map[string]*Device)
	s.devices[identity] = byFP
	return byFP
}
