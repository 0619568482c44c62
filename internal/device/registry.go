package device

import (
	"context"
	"time"
)

// Registry wraps a Store with metrics. It is the type the transport layer
// and the evaluator talk to.
type Registry struct {
	store Store
}

// NewRegistry creates a device registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Observe records a sighting of (identity, fingerprint).
func (r *Registry) Observe(ctx context.Context, identity, fingerprint string, meta Metadata, now time.Time) (*Device, error) {
	defer observeOp("observe")()

	d, err := r.store.Observe(ctx, identity, fingerprint, meta, now)
	if err != nil {
		return nil, err
	}
	if d.FirstSeenAt.Equal(d.LastSeenAt) {
		NewDevicesTotal.Inc()
	}
	return d, nil
}

// SetTrust flips the trust flag on one device.
func (r *Registry) SetTrust(ctx context.Context, identity, fingerprint string, trusted bool) error {
	defer observeOp("set_trust")()
	return r.store.SetTrust(ctx, identity, fingerprint, trusted)
}

// Revoke deletes one device.
func (r *Registry) Revoke(ctx context.Context, identity, fingerprint string) error {
	defer observeOp("revoke")()

	if err := r.store.Revoke(ctx, identity, fingerprint); err != nil {
		return err
	}
	RevokedTotal.Inc()
	return nil
}

// RevokeAllExcept revokes every device but the caller's own, returning
// how many were removed.
func (r *Registry) RevokeAllExcept(ctx context.Context, identity, keepFingerprint string, now time.Time) (int64, error) {
	defer observeOp("revoke_all_except")()

	revoked, err := r.store.RevokeAllExcept(ctx, identity, keepFingerprint, now)
	if err != nil {
		return 0, err
	}
	RevokedTotal.Add(float64(revoked))
	return revoked, nil
}

// List returns all devices for an identity, most recently seen first.
func (r *Registry) List(ctx context.Context, identity string) ([]*Device, error) {
	defer observeOp("list")()
	return r.store.List(ctx, identity)
}
