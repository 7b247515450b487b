package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/estoqueflow/sessiongate/config"
	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	errs "github.com/estoqueflow/sessiongate/internal/errors"
	"github.com/estoqueflow/sessiongate/internal/ports"
)

// FetchState is a point-in-time view of the profile fetch state. The
// last-good profile survives transient errors: the UI can show
// "reconnecting" without logging the user out.
type FetchState struct {
	Profile *domainauth.Profile
	ErrKind errs.Kind
}

// ProfileFetcherOptions groups dependencies for ProfileFetcher.
type ProfileFetcherOptions struct {
	Store  ports.ProfileStore   // Required: profile store
	Config config.SessionConfig // Tuning (attempt timeout, retry delay)
	Logger *slog.Logger         // Optional: structured logger
}

// ProfileFetcher sequences profile fetch attempts and owns the committed
// fetch state. It guarantees:
//   - an attempt always returns within the attempt timeout (never hangs,
//     never propagates a panic or raw error);
//   - out-of-order completions never commit (monotonic ticket
//     compare-and-discard);
//   - a transient failure never wipes the last-good profile.
type ProfileFetcher struct {
	store  ports.ProfileStore
	cfg    config.SessionConfig
	logger *slog.Logger

	// ticket is incremented on every FetchProfile call; only the holder of
	// the latest ticket may commit. This is the sole ordering guarantee
	// against out-of-order completion.
	ticket atomic.Uint64

	// group collapses concurrent background refreshes for the same user
	// (guard retries, pending-page polls) into one query.
	group singleflight.Group

	mu       sync.Mutex
	lastGood *domainauth.Profile
	errKind  errs.Kind
	closed   bool
}

// NewProfileFetcher constructs a ProfileFetcher.
func NewProfileFetcher(opts ProfileFetcherOptions) (*ProfileFetcher, error) {
	if opts.Store == nil {
		return nil, errors.New("ProfileStore is required")
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "profile_fetcher")
	}
	return &ProfileFetcher{
		store:  opts.Store,
		cfg:    opts.Config,
		logger: logger,
	}, nil
}

// State returns the committed fetch state.
func (f *ProfileFetcher) State() FetchState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FetchState{Profile: f.lastGood, ErrKind: f.errKind}
}

// attempt performs one profile lookup with a hard timeout. It always returns:
// timeouts and panics inside the store are converted into ordinary errors for
// the classifier.
func (f *ProfileFetcher) attempt(ctx context.Context, userID string) (profile *domainauth.Profile, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			profile = nil
			err = fmt.Errorf("profile lookup panicked: %v", rec)
		}
	}()

	profile, err = f.store.FetchByUserID(attemptCtx, userID)
	if err != nil {
		// Surface our own deadline as the cause so the classifier sees an
		// abort, not whatever partial error the driver wrapped it in.
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("attempt aborted after %s: %w", f.cfg.AttemptTimeout, context.DeadlineExceeded)
		}
		return nil, err
	}
	return profile, nil
}

// FetchProfile runs the full fetch sequence for a user: attempt, bounded
// retry after the configured delay, stale-ticket discard, commit. Returns the
// fetched profile, or nil when nothing was committed (failure or stale).
func (f *ProfileFetcher) FetchProfile(ctx context.Context, userID string) *domainauth.Profile {
	myTicket := f.ticket.Add(1)
	started := time.Now()

	profile, err := f.attempt(ctx, userID)

	// Retry once when no row came back: the profile row is created
	// out-of-band after sign-up, and a short grace period absorbs that race
	// without indefinite polling.
	if profile == nil && ctx.Err() == nil {
		if f.logger != nil {
			f.logger.Debug("profile fetch retrying",
				"user_id", userID,
				"ticket", myTicket,
				"first_error", errMessage(err),
			)
		}
		select {
		case <-time.After(f.cfg.RetryDelay):
			profile, err = f.attempt(ctx, userID)
		case <-ctx.Done():
		}
	}

	// Discard stale results: if a newer call was issued while we were
	// waiting, committing now would clobber its outcome.
	if myTicket != f.ticket.Load() {
		if f.logger != nil {
			f.logger.Debug("stale profile fetch discarded", "ticket", myTicket)
		}
		return nil
	}

	return f.commit(userID, profile, err, &myTicket, started)
}

// RefreshProfile performs a single silent attempt with no retry delay and no
// ticket gating. Used for the manual retry button, guard background retries,
// and pending-page polling; concurrent refreshes for the same user collapse
// into one lookup.
func (f *ProfileFetcher) RefreshProfile(ctx context.Context, userID string) *domainauth.Profile {
	v, _, _ := f.group.Do(userID, func() (any, error) {
		profile, err := f.attempt(ctx, userID)
		return f.commit(userID, profile, err, nil, time.Now()), nil
	})
	profile, _ := v.(*domainauth.Profile)
	return profile
}

// commit applies the commit rules to the fetch state. A non-nil ticket is
// re-checked under the lock so a near-simultaneous newer call cannot be
// overwritten; refreshes pass a nil ticket and are not sequence-gated.
// Returns the committed profile, or nil when nothing good was committed.
func (f *ProfileFetcher) commit(userID string, profile *domainauth.Profile, err error, ticket *uint64, started time.Time) *domainauth.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	if ticket != nil && *ticket != f.ticket.Load() {
		return nil
	}

	switch {
	case profile != nil:
		f.lastGood = profile
		f.errKind = ""
		if f.logger != nil {
			f.logger.Debug("profile committed",
				"user_id", userID,
				"status", profile.Status,
				"role", profile.Role,
				"elapsed", time.Since(started),
			)
		}
		return profile

	case err == nil:
		// Zero rows on both attempts: the row definitively does not exist.
		f.lastGood = nil
		f.errKind = errs.KindNotFound
		if f.logger != nil {
			f.logger.Warn("profile row missing", "user_id", userID)
		}
		return nil

	default:
		kind := errs.KindOf(err)
		f.errKind = kind
		if f.lastGood != nil {
			// Transient or not, a cached profile stays: the session must
			// survive a momentary blip.
			if f.logger != nil {
				f.logger.Warn("profile fetch failed, preserving last-good",
					"user_id", userID,
					"kind", kind,
					"error", err,
				)
			}
		} else if f.logger != nil {
			f.logger.Warn("profile fetch failed",
				"user_id", userID,
				"kind", kind,
				"error", err,
				"elapsed", time.Since(started),
			)
		}
		return nil
	}
}

// MarkError records an error kind without touching the last-good profile.
// Used by the coordinator's safety timers when a fetch sequence overruns.
func (f *ProfileFetcher) MarkError(kind errs.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.errKind = kind
}

// Reset clears the whole fetch state. Used on sign-out.
func (f *ProfileFetcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGood = nil
	f.errKind = ""
	// Invalidate any in-flight call so it cannot commit after the reset.
	f.ticket.Add(1)
}

// Close permanently stops all future commits. In-flight calls return without
// observable effect.
func (f *ProfileFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func errMessage(err error) string {
	if err == nil {
		return "none"
	}
	return err.Error()
}
