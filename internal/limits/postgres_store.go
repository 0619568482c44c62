package limits

import (
	"context"
	"database/sql"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed config store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the config tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rate_limit_configs (
			endpoint        VARCHAR(128) NOT NULL,
			environment     VARCHAR(16) NOT NULL,
			max_per_minute  BIGINT NOT NULL,
			max_per_hour    BIGINT NOT NULL,
			max_per_day     BIGINT NOT NULL,
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (endpoint, environment),
			CONSTRAINT chk_minute_pos CHECK (max_per_minute > 0),
			CONSTRAINT chk_hour_pos   CHECK (max_per_hour > 0),
			CONSTRAINT chk_day_pos    CHECK (max_per_day > 0)
		);

		CREATE TABLE IF NOT EXISTS budget_configs (
			identity        VARCHAR(255) NOT NULL,
			environment     VARCHAR(16) NOT NULL,
			monthly_limit   NUMERIC(20,6) NOT NULL,
			daily_limit     NUMERIC(20,6),
			alert_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.8,
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (identity, environment),
			CONSTRAINT chk_monthly_pos CHECK (monthly_limit > 0)
		);
	`)
	return err
}

func (p *PostgresStore) GetRateLimit(ctx context.Context, endpoint string, env Environment) (*RateLimitConfig, error) {
	cfg := &RateLimitConfig{}
	err := p.db.QueryRowContext(ctx, `
		SELECT endpoint, environment, max_per_minute, max_per_hour, max_per_day
		FROM rate_limit_configs
		WHERE endpoint = $1 AND environment = $2
	`, endpoint, string(env)).Scan(&cfg.Endpoint, &cfg.Environment, &cfg.MaxPerMinute, &cfg.MaxPerHour, &cfg.MaxPerDay)

	if err == sql.ErrNoRows {
		return nil, ErrConfigMissing
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *PostgresStore) PutRateLimit(ctx context.Context, cfg *RateLimitConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rate_limit_configs (endpoint, environment, max_per_minute, max_per_hour, max_per_day, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (endpoint, environment) DO UPDATE SET
			max_per_minute = EXCLUDED.max_per_minute,
			max_per_hour   = EXCLUDED.max_per_hour,
			max_per_day    = EXCLUDED.max_per_day,
			updated_at     = NOW()
	`, cfg.Endpoint, string(cfg.Environment), cfg.MaxPerMinute, cfg.MaxPerHour, cfg.MaxPerDay)
	return err
}

func (p *PostgresStore) ListRateLimits(ctx context.Context, env Environment) ([]*RateLimitConfig, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT endpoint, environment, max_per_minute, max_per_hour, max_per_day
		FROM rate_limit_configs
		WHERE environment = $1
		ORDER BY endpoint
	`, string(env))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RateLimitConfig
	for rows.Next() {
		cfg := &RateLimitConfig{}
		if err := rows.Scan(&cfg.Endpoint, &cfg.Environment, &cfg.MaxPerMinute, &cfg.MaxPerHour, &cfg.MaxPerDay); err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	return result, rows.Err()
}

func (p *PostgresStore) GetBudget(ctx context.Context, identity string, env Environment) (*BudgetConfig, error) {
	cfg := &BudgetConfig{}
	var daily sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `
		SELECT identity, environment, monthly_limit, daily_limit, alert_threshold
		FROM budget_configs
		WHERE identity = $1 AND environment = $2
	`, identity, string(env)).Scan(&cfg.Identity, &cfg.Environment, &cfg.MonthlyLimit, &daily, &cfg.AlertThreshold)

	if err == sql.ErrNoRows {
		return nil, ErrConfigMissing
	}
	if err != nil {
		return nil, err
	}
	cfg.DailyLimit = daily.Float64
	return cfg, nil
}

func (p *PostgresStore) PutBudget(ctx context.Context, cfg *BudgetConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var daily sql.NullFloat64
	if cfg.DailyLimit > 0 {
		daily = sql.NullFloat64{Float64: cfg.DailyLimit, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO budget_configs (identity, environment, monthly_limit, daily_limit, alert_threshold, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (identity, environment) DO UPDATE SET
			monthly_limit   = EXCLUDED.monthly_limit,
			daily_limit     = EXCLUDED.daily_limit,
			alert_threshold = EXCLUDED.alert_threshold,
			updated_at      = NOW()
	`, cfg.Identity, string(cfg.Environment), cfg.MonthlyLimit, daily, cfg.AlertThreshold)
	return err
}
