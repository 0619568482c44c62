package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quotaguard/quotaguard/internal/limits"
)

func testBudget(monthly, daily float64) *limits.BudgetConfig {
	return &limits.BudgetConfig{
		Identity:       "user@example.com",
		Environment:    limits.EnvProduction,
		MonthlyLimit:   monthly,
		DailyLimit:     daily,
		AlertThreshold: 0.8,
	}
}

func TestAddCostAccumulates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := testBudget(100, 0)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	s, err := store.AddCost(ctx, cfg, 10.5, now)
	if err != nil {
		t.Fatalf("AddCost: %v", err)
	}
	if s.CurrentSpending != 10.5 {
		t.Errorf("expected 10.5, got %f", s.CurrentSpending)
	}

	s, _ = store.AddCost(ctx, cfg, 4.5, now)
	if s.CurrentSpending != 15 {
		t.Errorf("expected 15, got %f", s.CurrentSpending)
	}
	if s.OverThreshold || s.OverLimit {
		t.Errorf("well under limits, got %+v", s)
	}
}

func TestAddCostRejectsNonPositive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := testBudget(100, 0)
	now := time.Now()

	for _, amount := range []float64{0, -1} {
		if _, err := store.AddCost(ctx, cfg, amount, now); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %f: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestThresholdAndLimitFlags(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := testBudget(100, 0)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	s, _ := store.AddCost(ctx, cfg, 79, now)
	if s.OverThreshold {
		t.Error("79% should be under the 80% threshold")
	}

	s, _ = store.AddCost(ctx, cfg, 1, now)
	if !s.OverThreshold {
		t.Error("80% should cross the threshold")
	}
	if s.OverLimit {
		t.Error("80% is not over the limit")
	}

	s, _ = store.AddCost(ctx, cfg, 20, now)
	if !s.OverLimit {
		t.Error("100% should be over the limit")
	}
}

func TestCrossingLimitDoesNotFailTheCrossingCall(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := testBudget(100, 0)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	// The cost that crosses the limit is still recorded in full; denial
	// is the next evaluation's job.
	s, err := store.AddCost(ctx, cfg, 150, now)
	if err != nil {
		t.Fatalf("AddCost: %v", err)
	}
	if s.CurrentSpending != 150 {
		t.Errorf("full cost must be recorded, got %f", s.CurrentSpending)
	}
	if !s.OverLimit {
		t.Error("should report over limit")
	}
}

func TestDailyLimitResetsAtUTCMidnight(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := testBudget(1000, 10)
	day1 := time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC)

	s, _ := store.AddCost(ctx, cfg, 10, day1)
	if !s.OverLimit {
		t.Fatal("daily limit reached, should be over limit")
	}

	// Next UTC day: daily accumulator resets, monthly carries over.
	day2 := time.Date(2026, 3, 16, 1, 0, 0, 0, time.UTC)
	s, _ = store.AddCost(ctx, cfg, 5, day2)
	if s.DailySpending != 5 {
		t.Errorf("daily spend should reset, got %f", s.DailySpending)
	}
	if s.CurrentSpending != 15 {
		t.Errorf("monthly spend should carry, got %f", s.CurrentSpending)
	}
	if s.OverLimit {
		t.Error("fresh day should clear the daily denial")
	}
}

func TestStatusDailyRolloverWithoutWrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := testBudget(1000, 10)
	day1 := time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC)

	store.AddCost(ctx, cfg, 10, day1)

	s, err := store.Status(ctx, cfg, day1.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if s.DailySpending != 0 {
		t.Errorf("stale day accumulator should read zero, got %f", s.DailySpending)
	}
	if s.OverLimit {
		t.Error("daily denial should clear on read after rollover")
	}
}

func TestPeriodRollsOverMonthly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := testBudget(100, 0)
	march := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	store.AddCost(ctx, cfg, 100, march)

	// April starts a fresh period; March's row is superseded, not deleted.
	april := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	s, _ := store.Status(ctx, cfg, april)
	if s.CurrentSpending != 0 {
		t.Errorf("new period should start at zero, got %f", s.CurrentSpending)
	}
	if s.OverLimit {
		t.Error("new period should not be over limit")
	}

	old, _ := store.Status(ctx, cfg, march)
	if old.CurrentSpending != 100 {
		t.Errorf("old period must be preserved, got %f", old.CurrentSpending)
	}
}

func TestStatusUnknownIdentityUsesLiveConfig(t *testing.T) {
	store := NewMemoryStore()
	cfg := testBudget(100, 0)

	s, err := store.Status(context.Background(), cfg, time.Now())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if s.CurrentSpending != 0 || s.MonthlyLimit != 100 {
		t.Errorf("expected zero spend against live config, got %+v", s)
	}
}

func TestAdminOverrideRefreshesLimits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	store.AddCost(ctx, testBudget(100, 0), 95, now)

	// The admin raises the limit mid-period; the next cost applies it.
	s, _ := store.AddCost(ctx, testBudget(200, 0), 10, now)
	if s.MonthlyLimit != 200 {
		t.Errorf("raised limit should apply, got %f", s.MonthlyLimit)
	}
	if s.OverLimit {
		t.Error("105 of 200 is not over limit")
	}
}

func TestConcurrentAddCostLosesNothing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	cfg := testBudget(100000, 0)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	const workers = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AddCost(ctx, cfg, 1, now); err != nil {
				t.Errorf("AddCost: %v", err)
			}
		}()
	}
	wg.Wait()

	s, _ := store.Status(ctx, cfg, now)
	if s.CurrentSpending != workers {
		t.Errorf("all costs must be counted, got %f", s.CurrentSpending)
	}
}

func TestPeriodStart(t *testing.T) {
	at := time.Date(2026, 3, 15, 23, 45, 0, 0, time.FixedZone("UTC+5", 5*3600))
	got := PeriodStart(at)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
