package budget

import (
	"context"
	"sync"
	"time"

	"github.com/quotaguard/quotaguard/internal/limits"
	"github.com/quotaguard/quotaguard/internal/syncutil"
)

type periodRow struct {
	currentSpending float64
	dailySpending   float64
	spendingDay     time.Time
	monthlyLimit    float64
	dailyLimit      float64
	alertThreshold  float64
}

// MemoryStore is an in-memory implementation of Store. The shard lock per
// (identity, environment) key makes the read-modify-write of AddCost atomic.
type MemoryStore struct {
	locks syncutil.ShardedMutex

	mu   sync.RWMutex // guards the rows map only
	rows map[string]*periodRow
}

// NewMemoryStore creates a new in-memory budget store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*periodRow),
	}
}

func periodKey(identity string, env limits.Environment, period time.Time) string {
	return identity + "|" + string(env) + "|" + period.Format("2006-01")
}

func (s *MemoryStore) AddCost(_ context.Context, cfg *limits.BudgetConfig, amount float64, now time.Time) (*Status, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	period := PeriodStart(now)
	day := DayOf(now)
	key := periodKey(cfg.Identity, cfg.Environment, period)

	unlock := s.locks.Lock(key)
	defer unlock()

	row := s.getRow(key)
	row.monthlyLimit = cfg.MonthlyLimit
	row.dailyLimit = cfg.DailyLimit
	row.alertThreshold = cfg.AlertThreshold
	row.currentSpending += amount
	if row.spendingDay.Equal(day) {
		row.dailySpending += amount
	} else {
		row.dailySpending = amount
		row.spendingDay = day
	}

	return deriveFlags(&Status{
		Identity:        cfg.Identity,
		Environment:     cfg.Environment,
		PeriodStart:     period,
		CurrentSpending: row.currentSpending,
		MonthlyLimit:    row.monthlyLimit,
		DailySpending:   row.dailySpending,
		DailyLimit:      row.dailyLimit,
		AlertThreshold:  row.alertThreshold,
	}), nil
}

func (s *MemoryStore) Status(_ context.Context, cfg *limits.BudgetConfig, now time.Time) (*Status, error) {
	period := PeriodStart(now)
	day := DayOf(now)
	key := periodKey(cfg.Identity, cfg.Environment, period)

	unlock := s.locks.Lock(key)
	defer unlock()

	s.mu.RLock()
	row, ok := s.rows[key]
	s.mu.RUnlock()

	status := &Status{
		Identity:       cfg.Identity,
		Environment:    cfg.Environment,
		PeriodStart:    period,
		MonthlyLimit:   cfg.MonthlyLimit,
		DailyLimit:     cfg.DailyLimit,
		AlertThreshold: cfg.AlertThreshold,
	}
	if !ok {
		return deriveFlags(status), nil
	}

	status.CurrentSpending = row.currentSpending
	status.MonthlyLimit = row.monthlyLimit
	status.DailyLimit = row.dailyLimit
	status.AlertThreshold = row.alertThreshold
	if row.spendingDay.Equal(day) {
		status.DailySpending = row.dailySpending
	}
	return deriveFlags(status), nil
}

// getRow returns the period row for a key, creating it if needed.
// Callers must hold the shard lock for the key.
func (s *MemoryStore) getRow(key string) *periodRow {
	s.mu.RLock()
	row, ok := s.rows[key]
	s.mu.RUnlock()
	if ok {
		return row
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok = s.rows[key]; ok {
		return row
	}
	row = &periodRow{}
	s.rows[key] = row
	return row
}
