package lockout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/quotaguard/quotaguard/internal/retry"
)

// PostgresStore implements Store with PostgreSQL.
//
// RecordFailure is one upsert statement, so the increment, the threshold
// comparison, and the lock write happen under the row lock. The CASE
// ladder keeps an active lockedUntil untouched, restarts the counter when
// an expired lock is seen, and keeps counting past the threshold while
// locked (useful in the audit trail; the lock state is unaffected).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed lockout store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the login attempt table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS login_attempts (
			identity        VARCHAR(255) PRIMARY KEY,
			failed_attempts BIGINT NOT NULL DEFAULT 0,
			locked_until    TIMESTAMPTZ,
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_attempts_nonneg CHECK (failed_attempts >= 0)
		);
	`)
	return err
}

const recordFailureSQL = `
	INSERT INTO login_attempts (identity, failed_attempts, locked_until, updated_at)
	VALUES ($1, 1, CASE WHEN 1 >= $2 THEN $3::timestamptz ELSE NULL END, NOW())
	ON CONFLICT (identity) DO UPDATE SET
		failed_attempts = CASE
			WHEN login_attempts.locked_until IS NOT NULL AND login_attempts.locked_until <= $4
				THEN 1
			ELSE login_attempts.failed_attempts + 1
		END,
		locked_until = CASE
			WHEN login_attempts.locked_until IS NOT NULL AND login_attempts.locked_until > $4
				THEN login_attempts.locked_until
			WHEN login_attempts.locked_until IS NOT NULL AND login_attempts.locked_until <= $4
				THEN CASE WHEN 1 >= $2 THEN $3::timestamptz ELSE NULL END
			WHEN login_attempts.failed_attempts + 1 >= $2
				THEN $3::timestamptz
			ELSE NULL
		END,
		updated_at = NOW()
	RETURNING failed_attempts, locked_until
`

func (p *PostgresStore) RecordFailure(ctx context.Context, identity string, policy Policy, now time.Time) (*Status, error) {
	lockCandidate := now.UTC().Add(policy.LockoutDuration)

	var (
		failedAttempts int64
		lockedUntil    sql.NullTime
	)
	err := retry.Do(ctx, 3, 5*time.Millisecond, func() error {
		err := p.db.QueryRowContext(ctx, recordFailureSQL,
			identity, int64(policy.MaxAttempts), lockCandidate, now.UTC(),
		).Scan(&failedAttempts, &lockedUntil)
		if err != nil {
			return classifyPGError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lockout record failure: %w", err)
	}

	return buildStatus(identity, policy, uint(failedAttempts), nullableTime(lockedUntil), now), nil
}

func (p *PostgresStore) RecordSuccess(ctx context.Context, identity string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO login_attempts (identity, failed_attempts, locked_until, updated_at)
		VALUES ($1, 0, NULL, NOW())
		ON CONFLICT (identity) DO UPDATE SET
			failed_attempts = 0,
			locked_until    = NULL,
			updated_at      = NOW()
	`, identity)
	if err != nil {
		return fmt.Errorf("lockout record success: %w", err)
	}
	return nil
}

func (p *PostgresStore) CheckStatus(ctx context.Context, identity string, policy Policy, now time.Time) (*Status, error) {
	var (
		failedAttempts int64
		lockedUntil    sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until FROM login_attempts WHERE identity = $1
	`, identity).Scan(&failedAttempts, &lockedUntil)

	if err == sql.ErrNoRows {
		return buildStatus(identity, policy, 0, nil, now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("lockout check status: %w", err)
	}

	return buildStatus(identity, policy, uint(failedAttempts), nullableTime(lockedUntil), now), nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func classifyPGError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return err
		}
	}
	return retry.Permanent(err)
}
