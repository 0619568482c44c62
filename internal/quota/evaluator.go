package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/quotaguard/quotaguard/internal/audit"
	"github.com/quotaguard/quotaguard/internal/budget"
	"github.com/quotaguard/quotaguard/internal/device"
	"github.com/quotaguard/quotaguard/internal/limits"
	"github.com/quotaguard/quotaguard/internal/lockout"
	"github.com/quotaguard/quotaguard/internal/logging"
	"github.com/quotaguard/quotaguard/internal/traces"
	"github.com/quotaguard/quotaguard/internal/usage"
	"github.com/quotaguard/quotaguard/internal/validation"
)

// DefaultOpTimeout bounds each atomic store operation.
const DefaultOpTimeout = 100 * time.Millisecond

// Options tune the evaluator's fail policy and timing.
type Options struct {
	// OpTimeout bounds every store round-trip. Zero means DefaultOpTimeout.
	OpTimeout time.Duration

	// FailOpenUsage lets api_call usage counting proceed when the ledger
	// is unreachable. Login attempts always fail closed regardless.
	FailOpenUsage bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Evaluator composes the engine's components into the single entry point
// that answers "may this request proceed".
type Evaluator struct {
	configs  limits.Store
	ledger   *usage.Ledger
	budgets  *budget.Tracker
	lockouts *lockout.Machine
	devices  *device.Registry
	recorder *audit.Recorder

	opTimeout     time.Duration
	failOpenUsage bool
	now           func() time.Time
}

// NewEvaluator creates an evaluator. devices may be nil when device
// tracking is not wanted.
func NewEvaluator(configs limits.Store, ledger *usage.Ledger, budgets *budget.Tracker,
	lockouts *lockout.Machine, devices *device.Registry, recorder *audit.Recorder, opts Options) *Evaluator {

	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Evaluator{
		configs:       configs,
		ledger:        ledger,
		budgets:       budgets,
		lockouts:      lockouts,
		devices:       devices,
		recorder:      recorder,
		opTimeout:     opts.OpTimeout,
		failOpenUsage: opts.FailOpenUsage,
		now:           opts.Now,
	}
}

// Evaluate answers whether the request would be allowed right now, without
// changing any state. The answer is advisory: a concurrent commit can
// change the counts before the caller acts on it.
func (e *Evaluator) Evaluate(ctx context.Context, req *Request) (*Decision, error) {
	defer observeOp("evaluate")()

	req, err := e.normalize(req)
	if err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "quota.Evaluate",
		traces.RequestKind(string(req.Kind)),
		traces.Endpoint(req.Endpoint),
		traces.Environment(string(req.Environment)),
	)
	defer span.End()
	now := e.now()

	decision := &Decision{Allowed: true, Reason: ReasonOK}

	if req.Kind == KindLoginAttempt {
		status, err := e.checkLockout(ctx, req.Identity, now)
		if err != nil {
			return nil, e.failClosed(ctx, req, "lockout", err)
		}
		decision.Lockout = status
		if status.Locked {
			decision.Allowed = false
			decision.Reason = ReasonLockedOut
			DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonLockedOut)).Inc()
			return decision, nil
		}
	}

	cfg, err := e.rateConfig(ctx, req)
	if err != nil {
		return e.denyOnConfigError(ctx, req, err)
	}

	u, err := e.peekUsage(ctx, req, cfg, now)
	if err != nil {
		if req.Kind == KindAPICall && e.failOpenUsage && Unavailable(err) {
			logging.FromContext(ctx).Warn("usage peek failed open",
				"identity", req.Identity, "endpoint", req.Endpoint, "error", err)
			FailOpenTotal.Inc()
		} else {
			return nil, e.failClosed(ctx, req, "usage", err)
		}
	} else {
		decision.RateLimit = u
		if !u.Allowed {
			decision.Allowed = false
			decision.Reason = ReasonRateLimited
			DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonRateLimited)).Inc()
			return decision, nil
		}
	}

	if req.Kind == KindAPICall {
		status, err := e.budgetStatus(ctx, req, now)
		if err != nil {
			return nil, e.failClosed(ctx, req, "budget", err)
		}
		decision.Budget = status
		if status != nil && status.OverLimit {
			decision.Allowed = false
			decision.Reason = ReasonBudgetExceeded
			DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonBudgetExceeded)).Inc()
			return decision, nil
		}
	}

	DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonOK)).Inc()
	return decision, nil
}

// Commit performs the atomic state transitions for a completed action and
// writes one audit event. It assumes the caller already evaluated; the
// usage increment still re-checks the limits atomically, so a commit racing
// past a stale evaluation is denied here rather than overcounting.
func (e *Evaluator) Commit(ctx context.Context, req *Request) (*Decision, error) {
	defer observeOp("commit")()

	req, err := e.normalize(req)
	if err != nil {
		return nil, err
	}
	if req.Kind == KindLoginAttempt && req.Outcome == "" {
		return nil, fmt.Errorf("%w: login_attempt commit requires an outcome", ErrInvalidInput)
	}
	ctx, span := traces.StartSpan(ctx, "quota.Commit",
		traces.RequestKind(string(req.Kind)),
		traces.Endpoint(req.Endpoint),
		traces.Environment(string(req.Environment)),
	)
	defer span.End()
	now := e.now()

	if req.Fingerprint != "" && e.devices != nil {
		e.observeDevice(ctx, req, now)
	}

	switch req.Kind {
	case KindLoginAttempt:
		return e.commitLogin(ctx, req, now)
	default:
		return e.commitAPICall(ctx, req, now)
	}
}

// EvaluateAndCommit is the single-call path: it performs the same checks as
// Evaluate but with the usage increment done atomically, so there is no
// window between the check and the count.
func (e *Evaluator) EvaluateAndCommit(ctx context.Context, req *Request) (*Decision, error) {
	defer observeOp("evaluate_and_commit")()

	req, err := e.normalize(req)
	if err != nil {
		return nil, err
	}

	// A null outcome means the caller is pre-checking only: nothing is
	// counted and the answer is advisory.
	if req.Outcome == "" {
		return e.Evaluate(ctx, req)
	}
	ctx, span := traces.StartSpan(ctx, "quota.EvaluateAndCommit",
		traces.RequestKind(string(req.Kind)),
		traces.Endpoint(req.Endpoint),
		traces.Environment(string(req.Environment)),
	)
	defer span.End()
	now := e.now()

	// Lockout gates login attempts before anything is counted.
	if req.Kind == KindLoginAttempt {
		status, err := e.checkLockout(ctx, req.Identity, now)
		if err != nil {
			return nil, e.failClosed(ctx, req, "lockout", err)
		}
		if status.Locked {
			d := deny(ReasonLockedOut)
			d.Lockout = status
			DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonLockedOut)).Inc()
			e.auditDenied(ctx, req, d)
			return d, nil
		}
	}

	// An exhausted budget denies cost-bearing calls before they count
	// against the rate windows.
	if req.Kind == KindAPICall {
		status, err := e.budgetStatus(ctx, req, now)
		if err != nil {
			return nil, e.failClosed(ctx, req, "budget", err)
		}
		if status != nil && status.OverLimit {
			d := deny(ReasonBudgetExceeded)
			d.Budget = status
			DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonBudgetExceeded)).Inc()
			e.auditDenied(ctx, req, d)
			return d, nil
		}
	}

	if req.Fingerprint != "" && e.devices != nil {
		e.observeDevice(ctx, req, now)
	}

	switch req.Kind {
	case KindLoginAttempt:
		return e.commitLogin(ctx, req, now)
	default:
		return e.commitAPICall(ctx, req, now)
	}
}

// commitLogin counts the attempt against the rate windows and records the
// outcome on the lockout machine.
func (e *Evaluator) commitLogin(ctx context.Context, req *Request, now time.Time) (*Decision, error) {
	cfg, err := e.rateConfig(ctx, req)
	if err != nil {
		return e.denyOnConfigError(ctx, req, err)
	}

	u, err := e.incrementUsage(ctx, req, cfg, now)
	if err != nil {
		// Login attempts always fail closed.
		return nil, e.failClosed(ctx, req, "usage", err)
	}
	if !u.Allowed {
		d := deny(ReasonRateLimited)
		d.RateLimit = u
		DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonRateLimited)).Inc()
		e.auditDenied(ctx, req, d)
		return d, nil
	}

	decision := &Decision{Allowed: true, Reason: ReasonOK, RateLimit: u}

	switch req.Outcome {
	case OutcomeFailure:
		status, err := e.recordFailure(ctx, req.Identity, now)
		if err != nil {
			return nil, e.failClosed(ctx, req, "lockout", err)
		}
		decision.Lockout = status

		kind := audit.KindLoginFailure
		meta := map[string]string{
			"endpoint":        req.Endpoint,
			"environment":     string(req.Environment),
			"identity_type":   identityType(req.Identity),
			"failed_attempts": strconv.FormatUint(uint64(status.FailedAttempts), 10),
		}
		if status.Locked && status.FailedAttempts == status.MaxAttempts {
			kind = audit.KindLockout
			meta["locked_until"] = status.LockedUntil.Format(time.RFC3339)
		}
		if err := e.record(ctx, req.Identity, kind, meta); err != nil {
			return nil, err
		}

	case OutcomeSuccess:
		if err := e.recordSuccess(ctx, req.Identity); err != nil {
			return nil, e.failClosed(ctx, req, "lockout", err)
		}
		decision.Lockout = &lockout.Status{
			Identity:          req.Identity,
			MaxAttempts:       e.lockouts.Policy().MaxAttempts,
			RemainingAttempts: e.lockouts.Policy().MaxAttempts,
		}
		if err := e.record(ctx, req.Identity, audit.KindLoginSuccess, map[string]string{
			"endpoint":    req.Endpoint,
			"environment": string(req.Environment),
		}); err != nil {
			return nil, err
		}
	}

	DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonOK)).Inc()
	return decision, nil
}

// commitAPICall counts the call and records its cost.
func (e *Evaluator) commitAPICall(ctx context.Context, req *Request, now time.Time) (*Decision, error) {
	cfg, err := e.rateConfig(ctx, req)
	if err != nil {
		return e.denyOnConfigError(ctx, req, err)
	}

	u, err := e.incrementUsage(ctx, req, cfg, now)
	if err != nil {
		if e.failOpenUsage && Unavailable(err) {
			logging.FromContext(ctx).Warn("usage increment failed open",
				"identity", req.Identity, "endpoint", req.Endpoint, "error", err)
			FailOpenTotal.Inc()
			u = nil
		} else {
			return nil, e.failClosed(ctx, req, "usage", err)
		}
	}
	if u != nil && !u.Allowed {
		d := deny(ReasonRateLimited)
		d.RateLimit = u
		DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonRateLimited)).Inc()
		e.auditDenied(ctx, req, d)
		return d, nil
	}

	decision := &Decision{Allowed: true, Reason: ReasonOK, RateLimit: u}

	if req.CostAmount > 0 {
		status, err := e.addCost(ctx, req, now)
		if err != nil {
			// The action already ran; losing its cost would corrupt the
			// budget, so this is never failed open.
			return nil, e.failClosed(ctx, req, "budget", err)
		}
		decision.Budget = status
		if err := e.record(ctx, req.Identity, audit.KindCostAdded, map[string]string{
			"endpoint":    req.Endpoint,
			"environment": string(req.Environment),
			"amount":      strconv.FormatFloat(req.CostAmount, 'f', -1, 64),
		}); err != nil {
			return nil, err
		}
	} else {
		if err := e.record(ctx, req.Identity, audit.KindUsageIncrement, map[string]string{
			"endpoint":    req.Endpoint,
			"environment": string(req.Environment),
		}); err != nil {
			return nil, err
		}
	}

	DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonOK)).Inc()
	return decision, nil
}

// normalize validates and canonicalizes a request. No state is touched on
// rejection.
func (e *Evaluator) normalize(req *Request) (*Request, error) {
	identity := validation.NormalizeIdentity(req.Identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: malformed identity", ErrInvalidInput)
	}
	if !validation.IsValidEndpoint(req.Endpoint) {
		return nil, fmt.Errorf("%w: malformed endpoint", ErrInvalidInput)
	}
	env, err := limits.ParseEnvironment(string(req.Environment))
	if err != nil {
		return nil, fmt.Errorf("%w: unknown environment %q", ErrInvalidInput, req.Environment)
	}
	if _, err := ParseKind(string(req.Kind)); err != nil {
		return nil, err
	}
	if _, err := ParseOutcome(string(req.Outcome)); err != nil {
		return nil, err
	}
	if req.CostAmount < 0 {
		return nil, fmt.Errorf("%w: costAmount must not be negative", ErrInvalidInput)
	}
	if req.Fingerprint != "" && !validation.IsValidFingerprint(req.Fingerprint) {
		return nil, fmt.Errorf("%w: malformed fingerprint", ErrInvalidInput)
	}

	cp := *req
	cp.Identity = identity
	cp.Environment = env
	cp.UserAgent = validation.SanitizeString(req.UserAgent, 256)
	return &cp, nil
}

// identityType distinguishes pre-auth email identities from post-auth
// user ids in audit metadata.
func identityType(identity string) string {
	if validation.IsEmail(identity) {
		return "email"
	}
	return "user_id"
}

func (e *Evaluator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opTimeout)
}

func (e *Evaluator) rateConfig(ctx context.Context, req *Request) (*limits.RateLimitConfig, error) {
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.configs.GetRateLimit(opCtx, req.Endpoint, req.Environment)
}

func (e *Evaluator) checkLockout(ctx context.Context, identity string, now time.Time) (*lockout.Status, error) {
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.lockouts.CheckStatus(opCtx, identity, now)
}

func (e *Evaluator) recordFailure(ctx context.Context, identity string, now time.Time) (*lockout.Status, error) {
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.lockouts.RecordFailure(opCtx, identity, now)
}

func (e *Evaluator) recordSuccess(ctx context.Context, identity string) error {
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.lockouts.RecordSuccess(opCtx, identity)
}

func (e *Evaluator) peekUsage(ctx context.Context, req *Request, cfg *limits.RateLimitConfig, now time.Time) (*usage.Usage, error) {
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.ledger.Peek(opCtx, req.Identity, req.Endpoint, req.Environment, cfg, now)
}

func (e *Evaluator) incrementUsage(ctx context.Context, req *Request, cfg *limits.RateLimitConfig, now time.Time) (*usage.Usage, error) {
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.ledger.IncrementAndCheck(opCtx, req.Identity, req.Endpoint, req.Environment, cfg, now)
}

// budgetStatus reads the spend position. A missing budget config means the
// identity is not budget-tracked and returns nil without error.
func (e *Evaluator) budgetStatus(ctx context.Context, req *Request, now time.Time) (*budget.Status, error) {
	cfg, err := e.budgetConfig(ctx, req)
	if err != nil || cfg == nil {
		return nil, err
	}
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.budgets.Status(opCtx, cfg, now)
}

func (e *Evaluator) addCost(ctx context.Context, req *Request, now time.Time) (*budget.Status, error) {
	cfg, err := e.budgetConfig(ctx, req)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: cost reported for unbudgeted identity %s", limits.ErrConfigMissing, req.Identity)
	}
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.budgets.AddCost(opCtx, cfg, req.CostAmount, now)
}

func (e *Evaluator) budgetConfig(ctx context.Context, req *Request) (*limits.BudgetConfig, error) {
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	cfg, err := e.configs.GetBudget(opCtx, req.Identity, req.Environment)
	if err != nil {
		if Classify(err) == ClassConfigMissing {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

// observeDevice records a sighting. Failures are logged, never fatal: the
// registry is bookkeeping, not a gate.
func (e *Evaluator) observeDevice(ctx context.Context, req *Request, now time.Time) {
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	if _, err := e.devices.Observe(opCtx, req.Identity, req.Fingerprint, device.Metadata{UserAgent: req.UserAgent}, now); err != nil {
		logging.FromContext(ctx).Warn("device observe failed",
			"identity", req.Identity, "error", err)
	}
}

func (e *Evaluator) record(ctx context.Context, identity string, kind audit.Kind, meta map[string]string) error {
	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.recorder.Record(opCtx, &audit.Event{
		Identity: identity,
		Kind:     kind,
		Metadata: meta,
	})
}

// auditDenied records a denial. Informational, so a failed append never
// changes the decision.
func (e *Evaluator) auditDenied(ctx context.Context, req *Request, d *Decision) {
	meta := map[string]string{
		"endpoint":    req.Endpoint,
		"environment": string(req.Environment),
		"kind":        string(req.Kind),
		"reason":      string(d.Reason),
	}
	if d.RateLimit != nil {
		if w := d.RateLimit.LimitedWindow(); w != "" {
			meta["window"] = w
		}
	}
	_ = e.record(ctx, req.Identity, audit.KindDecisionDenied, meta)
}

// denyOnConfigError turns a missing config into a fail-closed denial and
// everything else into an error.
func (e *Evaluator) denyOnConfigError(ctx context.Context, req *Request, err error) (*Decision, error) {
	if Classify(err) == ClassConfigMissing {
		logging.FromContext(ctx).Error("no rate limit config, failing closed",
			"endpoint", req.Endpoint, "environment", string(req.Environment))
		DecisionsTotal.WithLabelValues(string(req.Kind), string(ReasonConfigMissing)).Inc()
		return deny(ReasonConfigMissing), nil
	}
	return nil, e.failClosed(ctx, req, "config", err)
}

// failClosed classifies and logs a store failure, then surfaces it as an
// indeterminate result. Callers must treat this as a denial.
func (e *Evaluator) failClosed(ctx context.Context, req *Request, component string, err error) error {
	class := Classify(err)
	logging.FromContext(ctx).Error("engine store failure",
		"component", component,
		"class", string(class),
		"identity", req.Identity,
		"endpoint", req.Endpoint,
		"error", err)
	StoreFailuresTotal.WithLabelValues(component, string(class)).Inc()
	return fmt.Errorf("%w: %s: %v", ErrIndeterminate, component, err)
}
