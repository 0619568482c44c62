package usage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RetentionMargin is kept beyond the longest window before a bucket is
// eligible for garbage collection.
const RetentionMargin = time.Hour

// Janitor periodically removes usage buckets that no longer contribute to
// any window (older than 24h plus a safety margin).
type Janitor struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewJanitor creates a bucket garbage collector.
func NewJanitor(store Store, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the janitor loop is active.
func (j *Janitor) Running() bool {
	return j.running.Load()
}

// Start begins the prune loop. Call in a goroutine.
func (j *Janitor) Start(ctx context.Context) {
	j.running.Store(true)
	defer j.running.Store(false)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
			j.prune(ctx)
		}
	}
}

// Stop terminates the loop.
func (j *Janitor) Stop() {
	close(j.stop)
}

func (j *Janitor) prune(ctx context.Context) {
	cutoff := time.Now().Add(-(24*time.Hour + RetentionMargin))

	pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := j.store.PruneBefore(pruneCtx, cutoff)
	if err != nil {
		j.logger.Warn("usage bucket prune failed", "error", err)
		return
	}
	if removed > 0 {
		BucketsPrunedTotal.Add(float64(removed))
		j.logger.Debug("pruned usage buckets", "removed", removed)
	}
}
