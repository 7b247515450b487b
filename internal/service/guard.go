package service

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/estoqueflow/sessiongate/config"
	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	errs "github.com/estoqueflow/sessiongate/internal/errors"
)

// Decision is the route guard's verdict for a request against a guarded
// route.
type Decision int

const (
	// DecisionWait renders the loading state; auth or profile is still
	// resolving.
	DecisionWait Decision = iota
	// DecisionReconnecting renders a distinct reconnecting state while
	// automatic background retries are still budgeted.
	DecisionReconnecting
	// DecisionRedirectLogin sends an unauthenticated user to sign-in.
	DecisionRedirectLogin
	// DecisionErrorCard renders an actionable error with a manual retry.
	DecisionErrorCard
	// DecisionRedirectPending parks a not-yet-approved user on the pending
	// page.
	DecisionRedirectPending
	// DecisionRedirectForbidden sends an under-privileged user to the
	// access-denied page.
	DecisionRedirectForbidden
	// DecisionRender lets the requested content through.
	DecisionRender
)

// String returns the decision name for logs.
func (d Decision) String() string {
	switch d {
	case DecisionWait:
		return "wait"
	case DecisionReconnecting:
		return "reconnecting"
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionErrorCard:
		return "error_card"
	case DecisionRedirectPending:
		return "redirect_pending"
	case DecisionRedirectForbidden:
		return "redirect_forbidden"
	case DecisionRender:
		return "render"
	default:
		return "unknown"
	}
}

// GuardInput is everything the decision depends on. Pure data: Decide has no
// access to the coordinator.
type GuardInput struct {
	Loading          bool
	SessionPresent   bool
	Profile          *domainauth.Profile
	ErrKind          errs.Kind
	RetriesExhausted bool
	// RequiredRole is the minimum role for the route; empty means any role.
	RequiredRole domainauth.Role
}

// Decide evaluates the guard policy table in order.
func Decide(in GuardInput) Decision {
	if in.Loading {
		return DecisionWait
	}

	// A transient error with no profile is shown as "reconnecting" while the
	// automatic retry budget lasts; only after exhaustion does it fall
	// through to the error card.
	if in.ErrKind.Transient() && in.Profile == nil && !in.RetriesExhausted {
		return DecisionReconnecting
	}

	if !in.SessionPresent {
		return DecisionRedirectLogin
	}

	if in.ErrKind != "" && in.Profile == nil {
		return DecisionErrorCard
	}

	// No profile and no recorded error should not happen in steady state,
	// but it must not crash or mis-redirect to the pending page.
	if in.Profile == nil {
		return DecisionErrorCard
	}

	if !in.Profile.Active() {
		return DecisionRedirectPending
	}

	if in.RequiredRole != "" && !in.Profile.Role.AtLeast(in.RequiredRole) {
		return DecisionRedirectForbidden
	}

	return DecisionRender
}

// HasPermission reports whether the snapshot's profile satisfies the
// required role. Always false while loading or without a profile.
func HasPermission(snap Snapshot, required domainauth.Role) bool {
	if snap.Loading || snap.Profile == nil {
		return false
	}
	return snap.Profile.Role.AtLeast(required)
}

// GuardOptions groups dependencies for Guard.
type GuardOptions struct {
	Coordinator *Coordinator
	Config      config.SessionConfig
	Logger      *slog.Logger
}

// Guard applies the decision policy against live coordinator state and owns
// the bounded background-retry budget for transient errors. The budget
// resets whenever the state is healthy again.
type Guard struct {
	coord  *Coordinator
	cfg    config.SessionConfig
	logger *slog.Logger

	mu      sync.Mutex
	retries int
}

// NewGuard constructs a Guard.
func NewGuard(opts GuardOptions) (*Guard, error) {
	if opts.Coordinator == nil {
		return nil, errors.New("Coordinator is required")
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "route_guard")
	}
	return &Guard{
		coord:  opts.Coordinator,
		cfg:    opts.Config,
		logger: logger,
	}, nil
}

// Evaluate decides for the current state and required role, scheduling a
// background refresh when the decision is "reconnecting".
func (g *Guard) Evaluate(requiredRole domainauth.Role) Decision {
	snap := g.coord.Snapshot()

	g.mu.Lock()
	if snap.Profile != nil || !snap.ErrKind.Transient() {
		g.retries = 0
	}
	exhausted := g.retries >= g.cfg.GuardMaxRetries
	g.mu.Unlock()

	decision := Decide(GuardInput{
		Loading:          snap.Loading,
		SessionPresent:   snap.Session != nil,
		Profile:          snap.Profile,
		ErrKind:          snap.ErrKind,
		RetriesExhausted: exhausted,
		RequiredRole:     requiredRole,
	})

	switch decision {
	case DecisionReconnecting:
		g.scheduleRetry()
	case DecisionRedirectPending:
		g.coord.EnsurePendingPoll()
	}

	if g.logger != nil {
		g.logger.Debug("guard decision",
			"decision", decision,
			"loading", snap.Loading,
			"err_kind", snap.ErrKind,
			"required_role", requiredRole,
		)
	}
	return decision
}

// scheduleRetry arms one background refresh and spends one unit of the retry
// budget. Re-evaluations while a retry is already armed do not spend more.
func (g *Guard) scheduleRetry() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retries >= g.cfg.GuardMaxRetries {
		return
	}
	if g.coord.timers.Armed(timerGuardRetry) {
		return
	}
	g.retries++
	if g.logger != nil {
		g.logger.Debug("scheduling background profile retry",
			"attempt", g.retries,
			"max", g.cfg.GuardMaxRetries,
			"delay", g.cfg.GuardRetryDelay,
		)
	}
	g.coord.ScheduleRefresh(timerGuardRetry, g.cfg.GuardRetryDelay, nil)
}
