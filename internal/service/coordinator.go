package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/estoqueflow/sessiongate/config"
	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	errs "github.com/estoqueflow/sessiongate/internal/errors"
	"github.com/estoqueflow/sessiongate/internal/ports"
)

// Snapshot is the coordinator's externally visible state. It is the entire
// contract consumed by the route guard and by page handlers.
type Snapshot struct {
	Session *domainauth.Session
	Profile *domainauth.Profile
	Loading bool
	ErrKind errs.Kind
}

// CoordinatorOptions groups dependencies for Coordinator.
type CoordinatorOptions struct {
	Provider ports.AuthProvider   // Required: auth provider
	Store    ports.ProfileStore   // Required: profile store (self-service updates)
	Fetcher  *ProfileFetcher      // Required: profile fetch orchestrator
	Config   config.SessionConfig // Tuning (safety timeout, poll intervals)
	Logger   *slog.Logger         // Optional: structured logger

	// ResetRedirectURL is the deep link placed in password recovery emails.
	ResetRedirectURL string
}

// Coordinator reconciles the auth provider's event stream with the
// separately-fetched authorization profile. It subscribes to the provider
// exactly once, keeps {session, profile, loading, error} coherent across
// unreliable fetches, and exposes the imperative auth actions.
type Coordinator struct {
	provider      ports.AuthProvider
	store         ports.ProfileStore
	fetcher       *ProfileFetcher
	cfg           config.SessionConfig
	logger        *slog.Logger
	resetRedirect string

	timers *timerRegistry

	// ctx is the lifetime of the coordinator; Close cancels it, which
	// abandons every in-flight fetch and timer-triggered refresh.
	ctx    context.Context
	cancel context.CancelFunc

	// fetchGen distinguishes the latest loading-bearing fetch from earlier
	// ones, so a superseded fetch cannot lower the loading flag for its
	// successor.
	fetchGen atomic.Uint64

	mu      sync.Mutex
	session *domainauth.Session
	loading bool
	started bool
	closed  bool
	unsub   ports.Unsubscribe
}

// NewCoordinator constructs a Coordinator. Call Start to subscribe.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Provider == nil {
		return nil, errors.New("AuthProvider is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ProfileStore is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("ProfileFetcher is required")
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "session_coordinator")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		provider:      opts.Provider,
		store:         opts.Store,
		fetcher:       opts.Fetcher,
		cfg:           opts.Config,
		logger:        logger,
		resetRedirect: opts.ResetRedirectURL,
		timers:        newTimerRegistry(),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start subscribes to the provider's event stream. It may be called once;
// the subscription is the single source of truth for session state (no
// separate initial getSession read, which would race the INITIAL_SESSION
// event).
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	c.loading = true
	c.mu.Unlock()

	// Boot safety: if the provider never delivers a first event (backend
	// completely unreachable), unstick the UI with a BLOCKED error.
	c.timers.Arm(timerBootSafety, c.cfg.SafetyTimeout, func() {
		if c.logger != nil {
			c.logger.Warn("no auth event within boot safety timeout", "timeout", c.cfg.SafetyTimeout)
		}
		c.fetcher.MarkError(errs.KindBlocked)
		c.setLoading(false)
	})

	unsub, err := c.provider.Subscribe(c.handleEvent)
	if err != nil {
		c.timers.Cancel(timerBootSafety)
		c.setLoading(false)
		return fmt.Errorf("subscribe to auth provider: %w", err)
	}
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()
	return nil
}

// Snapshot returns the current externally visible state.
func (c *Coordinator) Snapshot() Snapshot {
	fetch := c.fetcher.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Session: c.session,
		Profile: fetch.Profile,
		Loading: c.loading,
		ErrKind: fetch.ErrKind,
	}
}

// handleEvent processes one auth provider event. It never panics outward:
// unexpected failures are classified and recorded as if the profile fetch
// had failed.
func (c *Coordinator) handleEvent(evt domainauth.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			if c.logger != nil {
				c.logger.Error("auth event handler panic", "event", evt.Kind, "panic", rec)
			}
			c.fetcher.MarkError(errs.Classify(fmt.Errorf("event handler: %v", rec)))
			c.setLoading(false)
		}
	}()

	if !c.alive() {
		return
	}

	// Any event proves the provider is reachable.
	c.timers.Cancel(timerBootSafety)

	if c.logger != nil {
		c.logger.Debug("auth event", "event", evt.Kind, "has_session", evt.Session != nil)
	}

	if evt.Kind == domainauth.EventSignedOut {
		c.clearLocalState()
		return
	}

	if evt.Session == nil {
		// A nil session outside SIGNED_OUT can be a brief provider blip
		// right before a TOKEN_REFRESHED. Only wipe state when there is no
		// confirmed profile worth preserving.
		if c.fetcher.State().Profile != nil {
			if c.logger != nil {
				c.logger.Warn("nil session with cached profile, waiting for next event")
			}
			return
		}
		c.clearLocalState()
		return
	}

	c.mu.Lock()
	c.session = evt.Session
	c.mu.Unlock()

	switch evt.Kind {
	case domainauth.EventSignedIn, domainauth.EventInitialSession:
		c.beginProfileFetch(evt.Session.UserID)

	case domainauth.EventTokenRefreshed:
		// Token material rotated; profile data is assumed unchanged. But a
		// missing or errored profile makes this event a free recovery
		// opportunity. Never show a spinner here: a visible loading state on
		// every silent token rotation is exactly the defect this path
		// replaces.
		state := c.fetcher.State()
		if state.Profile == nil || state.ErrKind != "" {
			userID := evt.Session.UserID
			go c.fetcher.RefreshProfile(c.ctx, userID)
		}
	}
}

// beginProfileFetch runs the fetch sequence for a signed-in user with the
// loading flag raised and a per-call safety timer armed. The provider keeps
// delivering events while the fetch is in flight; ordering is enforced
// entirely by the fetcher's ticket, and only the latest fetch may lower the
// loading flag or disarm the safety timer.
func (c *Coordinator) beginProfileFetch(userID string) {
	gen := c.fetchGen.Add(1)
	c.setLoading(true)

	c.timers.Arm(timerFetchSafety, c.cfg.SafetyTimeout, func() {
		if c.logger != nil {
			c.logger.Warn("profile fetch exceeded safety timeout", "user_id", userID, "timeout", c.cfg.SafetyTimeout)
		}
		c.fetcher.MarkError(errs.KindBlocked)
		c.setLoading(false)
	})

	go func() {
		defer func() {
			if gen == c.fetchGen.Load() {
				c.timers.Cancel(timerFetchSafety)
				c.setLoading(false)
			}
		}()
		c.fetcher.FetchProfile(c.ctx, userID)
	}()
}

// clearLocalState drops session, profile and error, and cancels the fetch
// safety timer. Used on SIGNED_OUT and on a confirmed absent session.
func (c *Coordinator) clearLocalState() {
	c.timers.Cancel(timerFetchSafety)
	c.fetcher.Reset()
	c.mu.Lock()
	c.session = nil
	c.loading = false
	c.mu.Unlock()
}

// ---- Actions ----

// SignIn authenticates with email and password. On success the provider
// emits SIGNED_IN, which drives the profile fetch.
func (c *Coordinator) SignIn(ctx context.Context, email, password string) error {
	return c.provider.SignInWithPassword(ctx, email, password)
}

// SignUp registers a new account. The profile row is created out-of-band;
// the subsequent SIGNED_IN fetch tolerates its latency.
func (c *Coordinator) SignUp(ctx context.Context, email, password, fullName string) error {
	return c.provider.SignUp(ctx, email, password, fullName)
}

// SignOut clears local state immediately and notifies the provider in the
// background: the local clear must never wait on the network.
func (c *Coordinator) SignOut(ctx context.Context) {
	c.clearLocalState()

	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.provider.SignOut(notifyCtx); err != nil && c.logger != nil {
			c.logger.Warn("provider sign-out failed", "error", err)
		}
	}()
}

// UpdateProfile writes through the self-service fields and re-fetches so
// server-side defaults and triggers are reflected locally.
func (c *Coordinator) UpdateProfile(ctx context.Context, upd domainauth.ProfileUpdate) error {
	sess := c.currentSession()
	if sess == nil {
		return errs.ErrSessionExpired
	}
	if err := c.store.Update(ctx, sess.UserID, upd); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	c.fetcher.FetchProfile(ctx, sess.UserID)
	return nil
}

// ResetPassword requests a recovery email with the configured deep link.
func (c *Coordinator) ResetPassword(ctx context.Context, email string) error {
	return c.provider.ResetPasswordForEmail(ctx, email, c.resetRedirect)
}

// UpdatePassword sets a new password. It re-validates the session against
// the provider first and fails with ErrSessionExpired when none is active,
// so the recovery flow can tell the user to request a fresh link.
func (c *Coordinator) UpdatePassword(ctx context.Context, password string) error {
	sess, err := c.provider.GetSession(ctx)
	if err != nil {
		return fmt.Errorf("validate session: %w", err)
	}
	if sess == nil {
		return errs.ErrSessionExpired
	}
	return c.provider.UpdateUser(ctx, password)
}

// RecoverSession establishes a session from URL-delivered tokens (password
// reset deep-link flow).
func (c *Coordinator) RecoverSession(ctx context.Context, accessToken, refreshToken string) error {
	if _, err := c.provider.SetSession(ctx, accessToken, refreshToken); err != nil {
		return fmt.Errorf("establish recovery session: %w", err)
	}
	return nil
}

// RefreshProfile re-fetches the profile once, silently. Used by the manual
// retry button and background pollers.
func (c *Coordinator) RefreshProfile(ctx context.Context) *domainauth.Profile {
	sess := c.currentSession()
	if sess == nil {
		return nil
	}
	return c.fetcher.RefreshProfile(ctx, sess.UserID)
}

// ScheduleRefresh arms a named one-shot background refresh. Re-arming the
// same purpose replaces the previous timer, so callers may invoke this on
// every evaluation without accumulating timers.
func (c *Coordinator) ScheduleRefresh(purpose string, d time.Duration, after func()) {
	c.timers.Arm(purpose, d, func() {
		if !c.alive() {
			return
		}
		c.RefreshProfile(c.ctx)
		if after != nil {
			after()
		}
	})
}

// EnsurePendingPoll keeps a slow background poll running while the profile
// awaits approval, so a freshly approved user gets in without re-logging.
func (c *Coordinator) EnsurePendingPoll() {
	if c.timers.Armed(timerPendingPoll) {
		return
	}
	snap := c.Snapshot()
	if snap.Profile == nil || snap.Profile.Active() {
		return
	}
	c.ScheduleRefresh(timerPendingPoll, c.cfg.PendingPollInterval, nil)
}

// Close tears the coordinator down: no further state commits occur from
// fetches issued before teardown. Idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub := c.unsub
	c.mu.Unlock()

	c.cancel()
	c.timers.Shutdown()
	c.fetcher.Close()
	if unsub != nil {
		unsub()
	}
}

func (c *Coordinator) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Coordinator) currentSession() *domainauth.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Coordinator) setLoading(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.loading = v
}
