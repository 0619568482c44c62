//go:build integration

package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quotaguard/quotaguard/internal/limits"
	"github.com/quotaguard/quotaguard/internal/testutil"
)

func TestPostgresIncrementAndCheck(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	cfg := testConfig(3, 100, 1000)
	now := time.Date(2026, 3, 15, 12, 0, 5, 0, time.UTC)

	for i := 0; i < 3; i++ {
		u, err := store.IncrementAndCheck(ctx, "u", "e", limits.EnvProduction, cfg, now)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if !u.Allowed {
			t.Fatalf("increment %d should be allowed", i)
		}
	}

	u, err := store.IncrementAndCheck(ctx, "u", "e", limits.EnvProduction, cfg, now)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if u.Allowed {
		t.Error("4th increment should be denied")
	}
	if u.Minute.Used != 3 {
		t.Errorf("denied increment must not count, got %d", u.Minute.Used)
	}
}

func TestPostgresConcurrentIncrements(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	cfg := testConfig(10, 1000, 10000)
	now := time.Date(2026, 3, 15, 12, 0, 5, 0, time.UTC)

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := store.IncrementAndCheck(ctx, "u", "e", limits.EnvProduction, cfg, now)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			if u.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("exactly 10 of %d concurrent increments should be allowed, got %d", workers, allowed)
	}
}

func TestPostgresPruneBefore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	cfg := testConfig(10, 100, 1000)
	old := time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	store.IncrementAndCheck(ctx, "u", "e", limits.EnvProduction, cfg, old)
	store.IncrementAndCheck(ctx, "u", "e", limits.EnvProduction, cfg, recent)

	removed, err := store.PruneBefore(ctx, recent.Add(-25*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 bucket pruned, got %d", removed)
	}
}
