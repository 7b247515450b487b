package devauth

// Package devauth provides a simple, config-driven AuthProvider for local
// development. It keeps accounts in memory and delivers events synchronously,
// one at a time, exactly like the real provider stream.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	errs "github.com/estoqueflow/sessiongate/internal/errors"
	"github.com/estoqueflow/sessiongate/internal/ports"
)

// Config controls the dev auth provider behavior.
type Config struct {
	UserID          string
	Email           string
	Password        string        // default "dev" when empty
	SessionDuration time.Duration // default 8h when zero
}

// Provider implements ports.AuthProvider for local development. Any sign-in
// with the configured credentials succeeds; sign-up registers additional
// in-memory accounts.
type Provider struct {
	sessionDuration time.Duration

	mu       sync.Mutex
	accounts map[string]account
	handler  ports.EventHandler
	session  *domainauth.Session
	emitted  bool
}

type account struct {
	userID   string
	password string
}

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	password := cfg.Password
	if password == "" {
		password = "dev"
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	return &Provider{
		sessionDuration: dur,
		accounts: map[string]account{
			cfg.Email: {userID: cfg.UserID, password: password},
		},
	}, nil
}

// Subscribe registers the handler and delivers INITIAL_SESSION once.
func (p *Provider) Subscribe(handler ports.EventHandler) (ports.Unsubscribe, error) {
	p.mu.Lock()
	if p.handler != nil {
		p.mu.Unlock()
		return nil, errors.New("dev auth: already subscribed")
	}
	p.handler = handler
	first := !p.emitted
	p.emitted = true
	sess := p.session
	p.mu.Unlock()

	if first {
		handler(domainauth.Event{Kind: domainauth.EventInitialSession, Session: sess})
	}
	return func() {
		p.mu.Lock()
		p.handler = nil
		p.mu.Unlock()
	}, nil
}

func (p *Provider) emit(evt domainauth.Event) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

// SignInWithPassword validates against the in-memory accounts and emits
// SIGNED_IN.
func (p *Provider) SignInWithPassword(_ context.Context, email, password string) error {
	p.mu.Lock()
	acc, ok := p.accounts[email]
	if !ok || acc.password != password {
		p.mu.Unlock()
		return &errs.APIError{Status: 400, Code: "invalid_grant", Message: "invalid login credentials"}
	}
	sess := p.newSession(acc.userID, email)
	p.session = sess
	p.mu.Unlock()

	p.emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return nil
}

// SignUp registers a new in-memory account. No event: like the real
// provider with email confirmation on, sign-up alone does not authenticate.
func (p *Provider) SignUp(_ context.Context, email, password, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[email]; exists {
		return &errs.APIError{Status: 422, Code: "user_exists", Message: "user already registered"}
	}
	userID, err := randomString(16)
	if err != nil {
		return fmt.Errorf("generate user id: %w", err)
	}
	p.accounts[email] = account{userID: "dev-" + userID, password: password}
	return nil
}

// SignOut drops the session and emits SIGNED_OUT.
func (p *Provider) SignOut(context.Context) error {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	p.emit(domainauth.Event{Kind: domainauth.EventSignedOut})
	return nil
}

// GetSession returns the current session, or nil.
func (p *Provider) GetSession(context.Context) (*domainauth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, nil
}

// UpdateUser changes the current account's password.
func (p *Provider) UpdateUser(_ context.Context, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return &errs.APIError{Status: 401, Message: "not authenticated"}
	}
	acc := p.accounts[p.session.Email]
	acc.password = password
	p.accounts[p.session.Email] = acc
	return nil
}

// ResetPasswordForEmail is a no-op in dev mode.
func (p *Provider) ResetPasswordForEmail(context.Context, string, string) error { return nil }

// SetSession accepts any token pair and emits SIGNED_IN with it.
func (p *Provider) SetSession(_ context.Context, accessToken, refreshToken string) (*domainauth.Session, error) {
	p.mu.Lock()
	sess := &domainauth.Session{
		UserID:       "dev-recovered",
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(p.sessionDuration),
	}
	p.session = sess
	p.mu.Unlock()
	p.emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return sess, nil
}

// RotateToken simulates a provider token refresh, emitting TOKEN_REFRESHED.
// Useful in development to exercise the silent-rotation path.
func (p *Provider) RotateToken() {
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return
	}
	sess := p.newSession(p.session.UserID, p.session.Email)
	p.session = sess
	p.mu.Unlock()
	p.emit(domainauth.Event{Kind: domainauth.EventTokenRefreshed, Session: sess})
}

func (p *Provider) newSession(userID, email string) *domainauth.Session {
	access, _ := randomString(24)
	refresh, _ := randomString(24)
	return &domainauth.Session{
		UserID:       userID,
		Email:        email,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(p.sessionDuration),
	}
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	if len(s) > n {
		s = s[:n]
	}
	return s, nil
}
