package usage

import (
	"context"
	"time"

	"github.com/quotaguard/quotaguard/internal/limits"
)

// Ledger wraps a Store with metrics. It is the type the evaluator talks to.
type Ledger struct {
	store Store
}

// NewLedger creates a usage ledger backed by the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// IncrementAndCheck atomically counts this request against all three
// windows. See Store.IncrementAndCheck.
func (l *Ledger) IncrementAndCheck(ctx context.Context, identity, endpoint string, env limits.Environment, cfg *limits.RateLimitConfig, now time.Time) (*Usage, error) {
	defer observeOp("increment")()

	u, err := l.store.IncrementAndCheck(ctx, identity, endpoint, env, cfg, now)
	if err != nil {
		IncrementsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if u.Allowed {
		IncrementsTotal.WithLabelValues("allowed").Inc()
	} else {
		IncrementsTotal.WithLabelValues("denied").Inc()
	}
	return u, nil
}

// Peek reports current usage without counting anything.
func (l *Ledger) Peek(ctx context.Context, identity, endpoint string, env limits.Environment, cfg *limits.RateLimitConfig, now time.Time) (*Usage, error) {
	defer observeOp("peek")()
	return l.store.Peek(ctx, identity, endpoint, env, cfg, now)
}

// PruneBefore removes buckets older than cutoff.
func (l *Ledger) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observeOp("prune")()
	return l.store.PruneBefore(ctx, cutoff)
}
