package auth

// Package auth contains domain-level types for sessions, profiles, and the
// auth provider event stream. It is pure and free of adapter concerns.

import (
	"fmt"
	"strings"
	"time"
)

// Role represents an application authorization role persisted on the profile
// row. Roles form a total privilege order: ADMIN > EXPEDICAO > LEITOR.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleExpedicao Role = "EXPEDICAO"
	RoleLeitor    Role = "LEITOR"
)

// UnmarshalText implements encoding.TextUnmarshaler for Role.
func (r *Role) UnmarshalText(text []byte) error {
	v := strings.ToUpper(string(text))
	switch Role(v) {
	case RoleAdmin, RoleExpedicao, RoleLeitor:
		*r = Role(v)
		return nil
	default:
		return fmt.Errorf("invalid Role: %q (valid options: ADMIN, EXPEDICAO, LEITOR)", string(text))
	}
}

// Level returns the numeric privilege level of the role.
// Unknown roles map to 0 and therefore satisfy no requirement.
func (r Role) Level() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleExpedicao:
		return 2
	case RoleLeitor:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r carries at least the privilege of required.
func (r Role) AtLeast(required Role) bool {
	return required.Level() > 0 && r.Level() >= required.Level()
}

// Status represents the approval state of a profile. Only ATIVO profiles may
// reach guarded content; everything else is parked on the pending page.
type Status string

const (
	StatusPendente  Status = "PENDENTE"
	StatusAtivo     Status = "ATIVO"
	StatusBloqueado Status = "BLOQUEADO"
)

// UnmarshalText implements encoding.TextUnmarshaler for Status.
func (s *Status) UnmarshalText(text []byte) error {
	v := strings.ToUpper(string(text))
	switch Status(v) {
	case StatusPendente, StatusAtivo, StatusBloqueado:
		*s = Status(v)
		return nil
	default:
		return fmt.Errorf("invalid Status: %q (valid options: PENDENTE, ATIVO, BLOQUEADO)", string(text))
	}
}

// Profile is the authorization record for a user, stored in the relational
// store and keyed by user id. At most one profile exists per user id. The row
// is created out-of-band shortly after sign-up, which is why a fetch must
// treat "not visible yet" as a transient condition.
type Profile struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the profile has been approved.
func (p Profile) Active() bool { return p.Status == StatusAtivo }

// ProfileUpdate carries the self-service mutable fields of a profile.
// Nil fields are left untouched.
type ProfileUpdate struct {
	FullName  *string
	AvatarURL *string
}

// Session represents an authenticated principal as known to the external auth
// provider. Token material is opaque to the reconciliation core.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// EventKind identifies an auth provider event.
type EventKind string

const (
	// EventInitialSession is delivered exactly once at startup, with or
	// without a restored session.
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Event is one entry of the provider's ordered, single-threaded event stream.
type Event struct {
	Kind    EventKind
	Session *Session
}
