package budget

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
// AddCost is one upsert statement: the period row is created or incremented
// under its row lock, so concurrent costs for the same identity serialize
// at the database and none are lost. A CHECK constraint keeps
// current_spending non-negative at the schema level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed budget store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the budget spending table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS budgets (
			identity         VARCHAR(255) NOT NULL,
			environment      VARCHAR(16) NOT NULL,
			period_start     TIMESTAMPTZ NOT NULL,
			monthly_limit    NUMERIC(20,6) NOT NULL,
			daily_limit      NUMERIC(20,6),
			alert_threshold  DOUBLE PRECISION NOT NULL DEFAULT 0.8,
			current_spending NUMERIC(20,6) NOT NULL DEFAULT 0,
			daily_spending   NUMERIC(20,6) NOT NULL DEFAULT 0,
			spending_day     TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (identity, environment, period_start),
			CONSTRAINT chk_spending_nonneg       CHECK (current_spending >= 0),
			CONSTRAINT chk_daily_spending_nonneg CHECK (daily_spending >= 0)
		);
	`)
	return err
}

const addCostSQL = `
	INSERT INTO budgets (identity, environment, period_start, monthly_limit, daily_limit,
	                     alert_threshold, current_spending, daily_spending, spending_day, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, NOW())
	ON CONFLICT (identity, environment, period_start) DO UPDATE SET
		monthly_limit    = EXCLUDED.monthly_limit,
		daily_limit      = EXCLUDED.daily_limit,
		alert_threshold  = EXCLUDED.alert_threshold,
		current_spending = budgets.current_spending + $7,
		daily_spending   = CASE WHEN budgets.spending_day = $8
		                        THEN budgets.daily_spending + $7 ELSE $7 END,
		spending_day     = $8,
		updated_at       = NOW()
	RETURNING current_spending, daily_spending, monthly_limit, COALESCE(daily_limit, 0), alert_threshold
`

func (p *PostgresStore) AddCost(ctx context.Context, cfg *limits.BudgetConfig, amount float64, now time.Time) (*Status, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	period := PeriodStart(now)
	day := DayOf(now)

	var daily sql.NullFloat64
	if cfg.DailyLimit > 0 {
		daily = sql.NullFloat64{Float64: cfg.DailyLimit, Valid: true}
	}

	status := &Status{Identity: cfg.Identity, Environment: cfg.Environment, PeriodStart: period}
	err := retry.Do(ctx, 3, 5*time.Millisecond, func() error {
		err := p.db.QueryRowContext(ctx, addCostSQL,
			cfg.Identity, string(cfg.Environment), period,
			cfg.MonthlyLimit, daily, cfg.AlertThreshold,
			amount, day,
		).Scan(&status.CurrentSpending, &status.DailySpending, &status.MonthlyLimit,
			&status.DailyLimit, &status.AlertThreshold)
		if err != nil {
			return classifyPGError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("budget add cost: %w", err)
	}
	return deriveFlags(status), nil
}

func (p *PostgresStore) Status(ctx context.Context, cfg *limits.BudgetConfig, now time.Time) (*Status, error) {
	period := PeriodStart(now)
	day := DayOf(now)

	status := &Status{Identity: cfg.Identity, Environment: cfg.Environment, PeriodStart: period}
	var spendingDay time.Time
	err := p.db.QueryRowContext(ctx, `
		SELECT current_spending, daily_spending, spending_day, monthly_limit, COALESCE(daily_limit, 0), alert_threshold
		FROM budgets
		WHERE identity = $1 AND environment = $2 AND period_start = $3
	`, cfg.Identity, string(cfg.Environment), period).Scan(
		&status.CurrentSpending, &status.DailySpending, &spendingDay,
		&status.MonthlyLimit, &status.DailyLimit, &status.AlertThreshold)

	if err == sql.ErrNoRows {
		// No spend recorded this period yet; report against live config.
		status.MonthlyLimit = cfg.MonthlyLimit
		status.DailyLimit = cfg.DailyLimit
		status.AlertThreshold = cfg.AlertThreshold
		return deriveFlags(status), nil
	}
	if err != nil {
		return nil, fmt.Errorf("budget status: %w", err)
	}

	// The day accumulator is stale once the UTC day rolls over.
	if !spendingDay.UTC().Equal(day) {
		status.DailySpending = 0
	}
	return deriveFlags(status), nil
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
