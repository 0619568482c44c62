package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quotaguard/quotaguard/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed device store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the device table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS devices (
			id            VARCHAR(36) PRIMARY KEY,
			identity      VARCHAR(255) NOT NULL,
			fingerprint   VARCHAR(128) NOT NULL,
			trusted       BOOLEAN NOT NULL DEFAULT FALSE,
			user_agent    TEXT,
			first_seen_at TIMESTAMPTZ NOT NULL,
			last_seen_at  TIMESTAMPTZ NOT NULL,
			UNIQUE (identity, fingerprint)
		);

		CREATE INDEX IF NOT EXISTS idx_devices_identity ON devices(identity, last_seen_at DESC);
	`)
	return err
}

func (p *PostgresStore) Observe(ctx context.Context, identity, fingerprint string, meta Metadata, now time.Time) (*Device, error) {
	d := &Device{}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO devices (id, identity, fingerprint, trusted, user_agent, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, $5)
		ON CONFLICT (identity, fingerprint) DO UPDATE SET
			last_seen_at = $5,
			user_agent   = COALESCE(NULLIF($4, ''), devices.user_agent)
		RETURNING id, identity, fingerprint, trusted, COALESCE(user_agent, ''), first_seen_at, last_seen_at
	`, idgen.WithPrefix("dev_"), identity, fingerprint, meta.UserAgent, now.UTC()).Scan(
		&d.ID, &d.Identity, &d.Fingerprint, &d.Trusted, &d.UserAgent, &d.FirstSeenAt, &d.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("device observe: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) SetTrust(ctx context.Context, identity, fingerprint string, trusted bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE devices SET trusted = $3 WHERE identity = $1 AND fingerprint = $2
	`, identity, fingerprint, trusted)
	if err != nil {
		return fmt.Errorf("device set trust: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Revoke(ctx context.Context, identity, fingerprint string) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM devices WHERE identity = $1 AND fingerprint = $2
	`, identity, fingerprint)
	if err != nil {
		return fmt.Errorf("device revoke: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllExcept deletes every other device and re-observes the kept
// fingerprint in the same transaction, so the caller's session survives
// even if its row had gone stale.
func (p *PostgresStore) RevokeAllExcept(ctx context.Context, identity, keepFingerprint string, now time.Time) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("device revoke all: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM devices WHERE identity = $1 AND fingerprint <> $2
	`, identity, keepFingerprint)
	if err != nil {
		return 0, fmt.Errorf("device revoke all: %w", err)
	}
	revoked, _ := result.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (id, identity, fingerprint, trusted, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, FALSE, $4, $4)
		ON CONFLICT (identity, fingerprint) DO UPDATE SET last_seen_at = $4
	`, idgen.WithPrefix("dev_"), identity, keepFingerprint, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("device revoke all: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("device revoke all: %w", err)
	}
	return revoked, nil
}

func (p *PostgresStore) List(ctx context.Context, identity string) ([]*Device, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, identity, fingerprint, trusted, COALESCE(user_agent, ''), first_seen_at, last_seen_at
		FROM devices
		WHERE identity = $1
		ORDER BY last_seen_at DESC
	`, identity)
	if err != nil {
		return nil, fmt.Errorf("device list: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d := &Device{}
		if err := rows.Scan(&d.ID, &d.Identity, &d.Fingerprint, &d.Trusted, &d.UserAgent, &d.FirstSeenAt, &d.LastSeenAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
