package budget

import (
	"context"
	"time"

	"github.com/quotaguard/quotaguard/internal/limits"
)

// Tracker wraps a Store with metrics. It is the type the evaluator talks to.
type Tracker struct {
	store Store
}

// NewTracker creates a budget tracker backed by the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// AddCost records spending atomically and returns the resulting position.
func (t *Tracker) AddCost(ctx context.Context, cfg *limits.BudgetConfig, amount float64, now time.Time) (*Status, error) {
	defer observeOp("add_cost")()

	status, err := t.store.AddCost(ctx, cfg, amount, now)
	if err != nil {
		return nil, err
	}
	CostAddedTotal.Add(amount)
	if status.OverLimit {
		OverLimitTotal.Inc()
	}
	return status, nil
}

// Status reads the current spend position without mutating anything.
func (t *Tracker) Status(ctx context.Context, cfg *limits.BudgetConfig, now time.Time) (*Status, error) {
	defer observeOp("status")()
	return t.store.Status(ctx, cfg, now)
}
