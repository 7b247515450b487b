package ports

// Package ports defines interfaces (hexagonal ports) for the session
// reconciliation core's external collaborators. Implementations live in
// internal/adapters; orchestration in internal/service.

import (
	"context"

	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
)

// EventHandler receives auth provider events. The provider delivers events
// one at a time, in arrival order; a handler must not be invoked concurrently
// with itself.
type EventHandler func(evt domainauth.Event)

// Unsubscribe detaches a previously registered event handler. Safe to call
// more than once.
type Unsubscribe func()

// AuthProvider is the external authentication service (sign-in/sign-up/
// sign-out, token refresh) consumed by the session coordinator.
//
// Subscribe must deliver an INITIAL_SESSION event exactly once after
// registration, even when no session could be restored.
type AuthProvider interface {
	Subscribe(handler EventHandler) (Unsubscribe, error)

	SignInWithPassword(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password, fullName string) error

	// SignOut is best-effort: callers clear local state before invoking it
	// and must not depend on its outcome.
	SignOut(ctx context.Context) error

	// GetSession returns the provider's current session, or nil when there is
	// none. Used only for explicit re-validation (e.g. before a password
	// change), never for steady-state reads.
	GetSession(ctx context.Context) (*domainauth.Session, error)

	// UpdateUser changes the password of the currently authenticated user.
	UpdateUser(ctx context.Context, password string) error

	// ResetPasswordForEmail requests a recovery email with a deep link back
	// to redirectTo.
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error

	// SetSession establishes a session from URL-delivered token material
	// (password-reset deep-link flow) and emits a SIGNED_IN event on success.
	SetSession(ctx context.Context, accessToken, refreshToken string) (*domainauth.Session, error)
}

// ProfileStore reads and writes authorization profiles in the relational
// store.
type ProfileStore interface {
	// FetchByUserID returns the profile for a user id, or (nil, nil) when no
	// row exists; zero rows is a valid, non-error outcome. The lookup must
	// honor ctx cancellation so callers can enforce a hard timeout.
	FetchByUserID(ctx context.Context, userID string) (*domainauth.Profile, error)

	// Update applies the non-nil fields of upd to the user's profile row.
	Update(ctx context.Context, userID string, upd domainauth.ProfileUpdate) error
}

// TokenStore persists the session token pair across process restarts so the
// provider can emit INITIAL_SESSION with a restored session.
type TokenStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	// Load returns (nil, nil) when no token pair is stored.
	Load(ctx context.Context) (*domainauth.Session, error)
	Delete(ctx context.Context) error
}
