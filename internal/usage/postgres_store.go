package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/quotaguard/quotaguard/internal/limits"
	"github.com/quotaguard/quotaguard/internal/retry"
)

// PostgresStore implements Store with PostgreSQL.
//
// The increment-and-check runs as one statement inside a serializable
// transaction: the window sums, the limit comparison, and the conditional
// upsert are indivisible. Concurrent commits for the same key either
// serialize on the bucket row or abort with a serialization failure, which
// is retried as the same single operation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed usage store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the usage bucket table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS usage_buckets (
			identity     VARCHAR(255) NOT NULL,
			endpoint     VARCHAR(128) NOT NULL,
			environment  VARCHAR(16) NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			count        BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (identity, endpoint, environment, window_start),
			CONSTRAINT chk_count_nonneg CHECK (count >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_usage_window ON usage_buckets(window_start);
	`)
	return err
}

const incrementAndCheckSQL = `
	WITH current AS (
		SELECT
			COALESCE(SUM(count) FILTER (WHERE window_start = $4), 0)::bigint AS minute_used,
			COALESCE(SUM(count) FILTER (WHERE window_start > $5), 0)::bigint AS hour_used,
			COALESCE(SUM(count), 0)::bigint                                  AS day_used,
			MIN(window_start) FILTER (WHERE window_start > $5)               AS hour_oldest,
			MIN(window_start)                                                AS day_oldest
		FROM usage_buckets
		WHERE identity = $1 AND endpoint = $2 AND environment = $3
		  AND window_start > $6 AND window_start <= $4
	),
	permitted AS (
		SELECT (minute_used < $7 AND hour_used < $8 AND day_used < $9) AS ok FROM current
	),
	ins AS (
		INSERT INTO usage_buckets (identity, endpoint, environment, window_start, count)
		SELECT $1, $2, $3, $4, 1 FROM permitted WHERE ok
		ON CONFLICT (identity, endpoint, environment, window_start)
			DO UPDATE SET count = usage_buckets.count + 1
		RETURNING 1
	)
	SELECT c.minute_used, c.hour_used, c.day_used, c.hour_oldest, c.day_oldest, p.ok
	FROM current c, permitted p
`

const peekSQL = `
	SELECT
		COALESCE(SUM(count) FILTER (WHERE window_start = $4), 0)::bigint AS minute_used,
		COALESCE(SUM(count) FILTER (WHERE window_start > $5), 0)::bigint AS hour_used,
		COALESCE(SUM(count), 0)::bigint                                  AS day_used,
		MIN(window_start) FILTER (WHERE window_start > $5)               AS hour_oldest,
		MIN(window_start)                                                AS day_oldest
	FROM usage_buckets
	WHERE identity = $1 AND endpoint = $2 AND environment = $3
	  AND window_start > $6 AND window_start <= $4
`

func (p *PostgresStore) IncrementAndCheck(ctx context.Context, identity, endpoint string, env limits.Environment, cfg *limits.RateLimitConfig, now time.Time) (*Usage, error) {
	bucket := BucketStart(now)

	var result *Usage
	err := retry.Do(ctx, 3, 5*time.Millisecond, func() error {
		tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return classifyPGError(err)
		}
		defer tx.Rollback()

		var (
			minuteUsed, hourUsed, dayUsed int64
			hourOldest, dayOldest         sql.NullTime
			allowed                       bool
		)
		err = tx.QueryRowContext(ctx, incrementAndCheckSQL,
			identity, endpoint, string(env),
			bucket, bucket.Add(-time.Hour), bucket.Add(-24*time.Hour),
			int64(cfg.MaxPerMinute), int64(cfg.MaxPerHour), int64(cfg.MaxPerDay),
		).Scan(&minuteUsed, &hourUsed, &dayUsed, &hourOldest, &dayOldest, &allowed)
		if err != nil {
			return classifyPGError(err)
		}
		if err := tx.Commit(); err != nil {
			return classifyPGError(err)
		}

		if allowed {
			minuteUsed++
			hourUsed++
			dayUsed++
			if !hourOldest.Valid {
				hourOldest = sql.NullTime{Time: bucket, Valid: true}
			}
			if !dayOldest.Valid {
				dayOldest = sql.NullTime{Time: bucket, Valid: true}
			}
		}
		result = buildUsage(cfg, now, allowed,
			uint(minuteUsed), uint(hourUsed), uint(dayUsed),
			hourOldest.Time, dayOldest.Time)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("usage increment: %w", err)
	}
	return result, nil
}

func (p *PostgresStore) Peek(ctx context.Context, identity, endpoint string, env limits.Environment, cfg *limits.RateLimitConfig, now time.Time) (*Usage, error) {
	bucket := BucketStart(now)

	var (
		minuteUsed, hourUsed, dayUsed int64
		hourOldest, dayOldest         sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, peekSQL,
		identity, endpoint, string(env),
		bucket, bucket.Add(-time.Hour), bucket.Add(-24*time.Hour),
	).Scan(&minuteUsed, &hourUsed, &dayUsed, &hourOldest, &dayOldest)
	if err != nil {
		return nil, fmt.Errorf("usage peek: %w", err)
	}

	allowed := uint(minuteUsed) < cfg.MaxPerMinute &&
		uint(hourUsed) < cfg.MaxPerHour &&
		uint(dayUsed) < cfg.MaxPerDay
	return buildUsage(cfg, now, allowed,
		uint(minuteUsed), uint(hourUsed), uint(dayUsed),
		hourOldest.Time, dayOldest.Time), nil
}

func (p *PostgresStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM usage_buckets WHERE window_start < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("usage prune: %w", err)
	}
	return result.RowsAffected()
}

// classifyPGError marks everything except a serialization conflict as
// permanent so that retry.Do re-runs only genuinely retryable failures.
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
