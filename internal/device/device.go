// Package device tracks known device fingerprints per identity.
//
// The fingerprint is an opaque string derived by the caller from client
// signals; the registry never interprets it. Devices support a trust flag
// and bulk revocation that spares exactly the caller's own fingerprint.
package device

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound = errors.New("device not found")
)

// Device is one sighted (identity, fingerprint) pair.
type Device struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	Fingerprint string    `json:"fingerprint"`
	Trusted     bool      `json:"trusted"`
	UserAgent   string    `json:"userAgent,omitempty"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Metadata carries optional details captured at sighting time.
type Metadata struct {
	UserAgent string `json:"userAgent,omitempty"`
}

// Store persists devices, unique on (identity, fingerprint).
type Store interface {
	// Observe upserts a sighting: creates the device on first sight,
	// bumps LastSeenAt on every later one.
	Observe(ctx context.Context, identity, fingerprint string, meta Metadata, now time.Time) (*Device, error)

	// SetTrust flips the trust flag on one device.
	SetTrust(ctx context.Context, identity, fingerprint string, trusted bool) error

	// Revoke deletes one device.
	Revoke(ctx context.Context, identity, fingerprint string) error

	// RevokeAllExcept deletes every device for identity except the one
	// matching keepFingerprint, re-observing it so that exactly one row
	// remains. Idempotent.
	RevokeAllExcept(ctx context.Context, identity, keepFingerprint string, now time.Time) (int64, error)

	// List returns all devices for an identity, most recently seen first.
	List(ctx context.Context, identity string) ([]*Device, error)
}
