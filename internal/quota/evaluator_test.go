package quota

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quotaguard/quotaguard/internal/audit"
	"github.com/quotaguard/quotaguard/internal/budget"
	"github.com/quotaguard/quotaguard/internal/device"
	"github.com/quotaguard/quotaguard/internal/limits"
	"github.com/quotaguard/quotaguard/internal/lockout"
	"github.com/quotaguard/quotaguard/internal/usage"
)

// --- Test Setup ---

type engine struct {
	evaluator  *Evaluator
	configs    *limits.MemoryStore
	auditStore *audit.MemoryStore
	now        time.Time
}

func newEngine(t *testing.T, opts Options) *engine {
	t.Helper()

	e := &engine{
		configs:    limits.NewMemoryStore(),
		auditStore: audit.NewMemoryStore(),
		now:        time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return e.now }
	}

	ctx := context.Background()
	if err := e.configs.PutRateLimit(ctx, &limits.RateLimitConfig{
		Endpoint:     "auth.login",
		Environment:  limits.EnvProduction,
		MaxPerMinute: 10,
		MaxPerHour:   100,
		MaxPerDay:    500,
	}); err != nil {
		t.Fatalf("seed rate limit: %v", err)
	}
	if err := e.configs.PutRateLimit(ctx, &limits.RateLimitConfig{
		Endpoint:     "api.generate",
		Environment:  limits.EnvProduction,
		MaxPerMinute: 10,
		MaxPerHour:   100,
		MaxPerDay:    500,
	}); err != nil {
		t.Fatalf("seed rate limit: %v", err)
	}
	if err := e.configs.PutBudget(ctx, &limits.BudgetConfig{
		Identity:       "spender@example.com",
		Environment:    limits.EnvProduction,
		MonthlyLimit:   100,
		AlertThreshold: 0.8,
	}); err != nil {
		t.Fatalf("seed budget: %v", err)
	}

	e.evaluator = NewEvaluator(
		e.configs,
		usage.NewLedger(usage.NewMemoryStore()),
		budget.NewTracker(budget.NewMemoryStore()),
		lockout.NewMachine(lockout.NewMemoryStore(), lockout.Policy{MaxAttempts: 5, LockoutDuration: 15 * time.Minute}),
		device.NewRegistry(device.NewMemoryStore()),
		audit.NewRecorder(e.auditStore, nil),
		opts,
	)
	return e
}

func loginRequest(outcome Outcome) *Request {
	return &Request{
		Identity:    "user@example.com",
		Endpoint:    "auth.login",
		Environment: limits.EnvProduction,
		Kind:        KindLoginAttempt,
		Outcome:     outcome,
	}
}

func apiRequest(cost float64) *Request {
	return &Request{
		Identity:    "spender@example.com",
		Endpoint:    "api.generate",
		Environment: limits.EnvProduction,
		Kind:        KindAPICall,
		Outcome:     OutcomeSuccess,
		CostAmount:  cost,
	}
}

func (e *engine) auditKinds() []audit.Kind {
	events := e.auditStore.Events()
	kinds := make([]audit.Kind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// --- Evaluate ---

func TestEvaluateAllowsAndIsReadOnly(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	req := loginRequest("")

	for i := 0; i < 20; i++ {
		d, err := e.evaluator.Evaluate(ctx, req)
		if err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
		if !d.Allowed || d.Reason != ReasonOK {
			t.Fatalf("Evaluate %d: expected allowed, got %+v", i, d)
		}
		// Evaluate never counts: usage stays at zero forever.
		if d.RateLimit.Minute.Used != 0 {
			t.Fatalf("Evaluate must not mutate usage, got %d", d.RateLimit.Minute.Used)
		}
	}
}

func TestEvaluateRejectsInvalidInput(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		mod  func(*Request)
	}{
		{"empty identity", func(r *Request) { r.Identity = "" }},
		{"malformed identity", func(r *Request) { r.Identity = "no spaces allowed" }},
		{"bad endpoint", func(r *Request) { r.Endpoint = "UPPER CASE" }},
		{"bad environment", func(r *Request) { r.Environment = "staging" }},
		{"bad kind", func(r *Request) { r.Kind = "unknown" }},
		{"bad outcome", func(r *Request) { r.Outcome = "maybe" }},
		{"negative cost", func(r *Request) { r.CostAmount = -1 }},
		{"bad fingerprint", func(r *Request) { r.Fingerprint = "x" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := loginRequest("")
			tc.mod(req)
			_, err := e.evaluator.Evaluate(ctx, req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestEvaluateNormalizesIdentity(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	// Mixed-case and padded identities map to the same counters.
	req := loginRequest(OutcomeFailure)
	req.Identity = "  User@Example.COM "
	for i := 0; i < 5; i++ {
		if _, err := e.evaluator.EvaluateAndCommit(ctx, req); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	d, err := e.evaluator.Evaluate(ctx, loginRequest(""))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Allowed || d.Reason != ReasonLockedOut {
		t.Errorf("normalized identity should be locked, got %+v", d)
	}
}

func TestEvaluateMissingConfigFailsClosed(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	req := loginRequest("")
	req.Endpoint = "auth.unknown"

	d, err := e.evaluator.Evaluate(ctx, req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Allowed || d.Reason != ReasonConfigMissing {
		t.Errorf("unknown endpoint must fail closed, got %+v", d)
	}
}

// --- EvaluateAndCommit: login attempts ---

func TestDecideLoginFailureSequence(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	req := loginRequest(OutcomeFailure)

	for i := 1; i <= 4; i++ {
		d, err := e.evaluator.EvaluateAndCommit(ctx, req)
		if err != nil {
			t.Fatalf("decide %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("decide %d: attempt should be allowed", i)
		}
		if d.Lockout.Locked {
			t.Fatalf("decide %d: should not be locked yet", i)
		}
	}

	// The fifth failure locks.
	d, err := e.evaluator.EvaluateAndCommit(ctx, req)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.Lockout.Locked {
		t.Fatal("fifth failure should lock")
	}
	if d.Lockout.RemainingSeconds != 900 {
		t.Errorf("expected 900s lockout, got %d", d.Lockout.RemainingSeconds)
	}

	// The sixth is denied without counting anything.
	d, err = e.evaluator.EvaluateAndCommit(ctx, req)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Allowed || d.Reason != ReasonLockedOut {
		t.Errorf("locked identity must be denied, got %+v", d)
	}

	kinds := e.auditKinds()
	failures, lockouts, denials := 0, 0, 0
	for _, k := range kinds {
		switch k {
		case audit.KindLoginFailure:
			failures++
		case audit.KindLockout:
			lockouts++
		case audit.KindDecisionDenied:
			denials++
		}
	}
	if failures != 4 || lockouts != 1 || denials != 1 {
		t.Errorf("expected 4 failures, 1 lockout, 1 denial in audit trail, got %v", kinds)
	}
}

func TestDecideLockExpiresAndCounterRestarts(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	req := loginRequest(OutcomeFailure)

	for i := 0; i < 5; i++ {
		e.evaluator.EvaluateAndCommit(ctx, req)
	}

	e.now = e.now.Add(16 * time.Minute)

	d, err := e.evaluator.EvaluateAndCommit(ctx, req)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expired lock should admit the attempt")
	}
	if d.Lockout.FailedAttempts != 1 {
		t.Errorf("counter should restart at 1, got %d", d.Lockout.FailedAttempts)
	}
}

func TestDecideSuccessResetsLockoutCounter(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		e.evaluator.EvaluateAndCommit(ctx, loginRequest(OutcomeFailure))
	}

	d, err := e.evaluator.EvaluateAndCommit(ctx, loginRequest(OutcomeSuccess))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.Allowed {
		t.Fatal("success should be allowed")
	}
	if d.Lockout.RemainingAttempts != 5 {
		t.Errorf("success should restore full allowance, got %d", d.Lockout.RemainingAttempts)
	}

	// Four more failures fit before the next lock.
	for i := 0; i < 4; i++ {
		d, _ := e.evaluator.EvaluateAndCommit(ctx, loginRequest(OutcomeFailure))
		if d.Lockout.Locked {
			t.Fatalf("failure %d after reset should not lock", i+1)
		}
	}
}

func TestDecideLoginRateLimited(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	// Successful logins still count against the rate windows.
	for i := 0; i < 10; i++ {
		d, err := e.evaluator.EvaluateAndCommit(ctx, loginRequest(OutcomeSuccess))
		if err != nil {
			t.Fatalf("decide %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("decide %d should be allowed", i)
		}
	}

	d, err := e.evaluator.EvaluateAndCommit(ctx, loginRequest(OutcomeSuccess))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Allowed || d.Reason != ReasonRateLimited {
		t.Errorf("11th login in a minute must be rate limited, got %+v", d)
	}
	// A rate-limited attempt reports no lockout transition.
	if d.Lockout != nil {
		t.Error("rate-limited attempt should not touch the lockout machine")
	}
}

func TestDecideNullOutcomeIsPreCheck(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	// Null outcome means pre-check: nothing is counted.
	for i := 0; i < 20; i++ {
		d, err := e.evaluator.EvaluateAndCommit(ctx, loginRequest(""))
		if err != nil {
			t.Fatalf("pre-check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("pre-check %d should be allowed", i)
		}
		if d.RateLimit.Minute.Used != 0 {
			t.Fatalf("pre-check must not count, got %d", d.RateLimit.Minute.Used)
		}
	}
}

func TestCommitLoginRequiresOutcome(t *testing.T) {
	e := newEngine(t, Options{})

	_, err := e.evaluator.Commit(context.Background(), loginRequest(""))
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("login commit without outcome must be rejected, got %v", err)
	}
}

// --- EvaluateAndCommit: api calls ---

func TestDecideAPICallRecordsCost(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	d, err := e.evaluator.EvaluateAndCommit(ctx, apiRequest(12.5))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.Allowed {
		t.Fatal("should be allowed")
	}
	if d.Budget == nil || d.Budget.CurrentSpending != 12.5 {
		t.Errorf("cost should be recorded, got %+v", d.Budget)
	}

	kinds := e.auditKinds()
	if len(kinds) != 1 || kinds[0] != audit.KindCostAdded {
		t.Errorf("expected one cost_added event, got %v", kinds)
	}
}

func TestDecideAPICallZeroCost(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	d, err := e.evaluator.EvaluateAndCommit(ctx, apiRequest(0))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.Allowed {
		t.Fatal("should be allowed")
	}
	if d.Budget != nil {
		t.Error("zero cost should not touch the budget")
	}

	kinds := e.auditKinds()
	if len(kinds) != 1 || kinds[0] != audit.KindUsageIncrement {
		t.Errorf("expected one usage_increment event, got %v", kinds)
	}
}

func TestDecideBudgetExceededDeniesNextCall(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	// The call that crosses the limit succeeds; the budget only gates
	// what comes after.
	d, err := e.evaluator.EvaluateAndCommit(ctx, apiRequest(150))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.Allowed {
		t.Fatal("the crossing call itself is not denied")
	}
	if !d.Budget.OverLimit {
		t.Error("budget should report over limit")
	}

	d, err = e.evaluator.EvaluateAndCommit(ctx, apiRequest(1))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Allowed || d.Reason != ReasonBudgetExceeded {
		t.Errorf("next cost-bearing call must be denied, got %+v", d)
	}

	// The denied call must not have counted against the rate windows.
	eval, _ := e.evaluator.Evaluate(ctx, apiRequest(0))
	if eval.RateLimit.Minute.Used != 1 {
		t.Errorf("denied call must not consume quota, got %d", eval.RateLimit.Minute.Used)
	}
}

func TestDecideUnbudgetedIdentitySkipsBudget(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	req := apiRequest(0)
	req.Identity = "untracked@example.com"

	d, err := e.evaluator.EvaluateAndCommit(ctx, req)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.Allowed {
		t.Fatal("identity without budget config should pass the budget check")
	}
	if d.Budget != nil {
		t.Error("no budget section for untracked identity")
	}
}

func TestDecideCostForUnbudgetedIdentityFails(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	req := apiRequest(5)
	req.Identity = "untracked@example.com"

	_, err := e.evaluator.EvaluateAndCommit(ctx, req)
	if !errors.Is(err, ErrIndeterminate) {
		t.Errorf("cost without a budget config must fail closed, got %v", err)
	}
}

func TestDecideLockoutDoesNotGateAPICalls(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	// Lock the identity via login failures.
	req := loginRequest(OutcomeFailure)
	req.Identity = "spender@example.com"
	for i := 0; i < 5; i++ {
		e.evaluator.EvaluateAndCommit(ctx, req)
	}

	// API calls for the same identity are not lockout-gated.
	d, err := e.evaluator.EvaluateAndCommit(ctx, apiRequest(0))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.Allowed {
		t.Errorf("lockout gates logins only, got %+v", d)
	}
}

func TestDecideObservesDevice(t *testing.T) {
	deviceStore := device.NewMemoryStore()
	e := &engine{
		configs:    limits.NewMemoryStore(),
		auditStore: audit.NewMemoryStore(),
		now:        time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	e.configs.PutRateLimit(ctx, &limits.RateLimitConfig{
		Endpoint: "auth.login", Environment: limits.EnvProduction,
		MaxPerMinute: 10, MaxPerHour: 100, MaxPerDay: 500,
	})
	e.evaluator = NewEvaluator(
		e.configs,
		usage.NewLedger(usage.NewMemoryStore()),
		budget.NewTracker(budget.NewMemoryStore()),
		lockout.NewMachine(lockout.NewMemoryStore(), lockout.Policy{MaxAttempts: 5, LockoutDuration: 15 * time.Minute}),
		device.NewRegistry(deviceStore),
		audit.NewRecorder(e.auditStore, nil),
		Options{Now: func() time.Time { return e.now }},
	)

	req := loginRequest(OutcomeSuccess)
	req.Fingerprint = "fp-laptop-0001"
	req.UserAgent = "Mozilla/5.0"
	if _, err := e.evaluator.EvaluateAndCommit(ctx, req); err != nil {
		t.Fatalf("decide: %v", err)
	}

	devices, _ := deviceStore.List(ctx, "user@example.com")
	if len(devices) != 1 || devices[0].Fingerprint != "fp-laptop-0001" {
		t.Fatalf("device sighting should be recorded, got %+v", devices)
	}
	if devices[0].UserAgent != "Mozilla/5.0" {
		t.Errorf("user agent should be captured, got %q", devices[0].UserAgent)
	}
}

// --- Fail policy ---

// downUsageStore fails every operation with a timeout-shaped error.
type downUsageStore struct{}

func (downUsageStore) IncrementAndCheck(context.Context, string, string, limits.Environment, *limits.RateLimitConfig, time.Time) (*usage.Usage, error) {
	return nil, context.DeadlineExceeded
}

func (downUsageStore) Peek(context.Context, string, string, limits.Environment, *limits.RateLimitConfig, time.Time) (*usage.Usage, error) {
	return nil, context.DeadlineExceeded
}

func (downUsageStore) PruneBefore(context.Context, time.Time) (int64, error) {
	return 0, context.DeadlineExceeded
}

func newEngineWithDownUsage(t *testing.T, failOpen bool) *engine {
	t.Helper()

	e := &engine{
		configs:    limits.NewMemoryStore(),
		auditStore: audit.NewMemoryStore(),
		now:        time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	for _, ep := range []string{"auth.login", "api.generate"} {
		e.configs.PutRateLimit(ctx, &limits.RateLimitConfig{
			Endpoint: ep, Environment: limits.EnvProduction,
			MaxPerMinute: 10, MaxPerHour: 100, MaxPerDay: 500,
		})
	}
	e.evaluator = NewEvaluator(
		e.configs,
		usage.NewLedger(downUsageStore{}),
		budget.NewTracker(budget.NewMemoryStore()),
		lockout.NewMachine(lockout.NewMemoryStore(), lockout.Policy{MaxAttempts: 5, LockoutDuration: 15 * time.Minute}),
		nil,
		audit.NewRecorder(e.auditStore, nil),
		Options{FailOpenUsage: failOpen, Now: func() time.Time { return e.now }},
	)
	return e
}

func TestLoginAlwaysFailsClosedOnStoreFailure(t *testing.T) {
	// Even with fail-open enabled, login attempts fail closed.
	e := newEngineWithDownUsage(t, true)

	_, err := e.evaluator.EvaluateAndCommit(context.Background(), loginRequest(OutcomeFailure))
	if !errors.Is(err, ErrIndeterminate) {
		t.Errorf("login with ledger down must be indeterminate, got %v", err)
	}
}

func TestAPICallFailsClosedByDefault(t *testing.T) {
	e := newEngineWithDownUsage(t, false)

	req := apiRequest(0)
	req.Identity = "anyone@example.com"
	_, err := e.evaluator.EvaluateAndCommit(context.Background(), req)
	if !errors.Is(err, ErrIndeterminate) {
		t.Errorf("api call with ledger down must be indeterminate, got %v", err)
	}
}

func TestAPICallFailsOpenWhenConfigured(t *testing.T) {
	e := newEngineWithDownUsage(t, true)

	req := apiRequest(0)
	req.Identity = "anyone@example.com"
	d, err := e.evaluator.EvaluateAndCommit(context.Background(), req)
	if err != nil {
		t.Fatalf("fail-open api call should proceed: %v", err)
	}
	if !d.Allowed {
		t.Error("fail-open call should be allowed")
	}
	if d.RateLimit != nil {
		t.Error("no usage numbers are reported when failed open")
	}
}

func TestCostIsNeverFailedOpen(t *testing.T) {
	// Fail-open covers the usage counter only; losing a cost would
	// corrupt the budget.
	e := &engine{
		configs:    limits.NewMemoryStore(),
		auditStore: audit.NewMemoryStore(),
		now:        time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	e.configs.PutRateLimit(ctx, &limits.RateLimitConfig{
		Endpoint: "api.generate", Environment: limits.EnvProduction,
		MaxPerMinute: 10, MaxPerHour: 100, MaxPerDay: 500,
	})
	e.configs.PutBudget(ctx, &limits.BudgetConfig{
		Identity: "spender@example.com", Environment: limits.EnvProduction,
		MonthlyLimit: 100, AlertThreshold: 0.8,
	})
	e.evaluator = NewEvaluator(
		e.configs,
		usage.NewLedger(usage.NewMemoryStore()),
		budget.NewTracker(downBudgetStore{}),
		lockout.NewMachine(lockout.NewMemoryStore(), lockout.Policy{MaxAttempts: 5, LockoutDuration: 15 * time.Minute}),
		nil,
		audit.NewRecorder(e.auditStore, nil),
		Options{FailOpenUsage: true, Now: func() time.Time { return e.now }},
	)

	_, err := e.evaluator.Commit(ctx, apiRequest(5))
	if !errors.Is(err, ErrIndeterminate) {
		t.Errorf("cost with budget store down must be indeterminate, got %v", err)
	}
}

// downBudgetStore fails every operation.
type downBudgetStore struct{}

func (downBudgetStore) AddCost(context.Context, *limits.BudgetConfig, float64, time.Time) (*budget.Status, error) {
	return nil, context.DeadlineExceeded
}

func (downBudgetStore) Status(context.Context, *limits.BudgetConfig, time.Time) (*budget.Status, error) {
	return nil, context.DeadlineExceeded
}

func TestRateLimitedDenialNamesWindow(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := e.evaluator.EvaluateAndCommit(ctx, apiRequest(0)); err != nil {
			t.Fatalf("decide %d: %v", i, err)
		}
	}
	d, err := e.evaluator.EvaluateAndCommit(ctx, apiRequest(0))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Allowed || d.Reason != ReasonRateLimited {
		t.Fatalf("11th call must be rate limited, got %+v", d)
	}
	if w := d.RateLimit.LimitedWindow(); w != "minute" {
		t.Errorf("minute window should be the denying one, got %q", w)
	}

	var denied *audit.Event
	for _, ev := range e.auditStore.Events() {
		if ev.Kind == audit.KindDecisionDenied {
			denied = ev
		}
	}
	if denied == nil {
		t.Fatal("expected a denial audit event")
	}
	if denied.Metadata["window"] != "minute" {
		t.Errorf("denial event should name the window, got %q", denied.Metadata["window"])
	}
}

func TestLoginFailureAuditRecordsIdentityType(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	if _, err := e.evaluator.EvaluateAndCommit(ctx, loginRequest(OutcomeFailure)); err != nil {
		t.Fatalf("decide: %v", err)
	}
	req := loginRequest(OutcomeFailure)
	req.Identity = "usr_4f2a9c1b"
	if _, err := e.evaluator.EvaluateAndCommit(ctx, req); err != nil {
		t.Fatalf("decide: %v", err)
	}

	events := e.auditStore.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if got := events[0].Metadata["identity_type"]; got != "email" {
		t.Errorf("email identity should be tagged email, got %q", got)
	}
	if got := events[1].Metadata["identity_type"]; got != "user_id" {
		t.Errorf("user id identity should be tagged user_id, got %q", got)
	}
}

func TestNormalizeSanitizesUserAgent(t *testing.T) {
	e := newEngine(t, Options{})

	req := loginRequest("")
	req.UserAgent = "  Mozilla/5.0\x00 (X11; Linux) " + strings.Repeat("x", 300)

	cp, err := e.evaluator.normalize(req)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if strings.Contains(cp.UserAgent, "\x00") {
		t.Error("NUL bytes should be stripped from the user agent")
	}
	if len(cp.UserAgent) > 256 {
		t.Errorf("user agent should be capped at 256 bytes, got %d", len(cp.UserAgent))
	}
	if strings.HasPrefix(cp.UserAgent, " ") {
		t.Error("user agent should be trimmed")
	}
}
