package service

// Hand-written test doubles for the auth ports. Scriptable outcomes keep
// the coordinator and fetcher tests deterministic without a mock framework.

import (
	"context"
	"sync"
	"time"

	"github.com/estoqueflow/sessiongate/config"
	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	"github.com/estoqueflow/sessiongate/internal/ports"
)

var (
	_ ports.ProfileStore = (*scriptedStore)(nil)
	_ ports.AuthProvider = (*fakeProvider)(nil)
)

// storeResponse scripts one FetchByUserID outcome.
type storeResponse struct {
	profile *domainauth.Profile
	err     error
	delay   time.Duration
	// block makes the call hang until the caller's context is cancelled,
	// simulating a request swallowed by a VPN/extension.
	block bool
}

// scriptedStore replays a fixed sequence of fetch outcomes; the last entry
// repeats once the script is exhausted.
type scriptedStore struct {
	mu        sync.Mutex
	responses []storeResponse
	calls     int
	updates   []domainauth.ProfileUpdate
	updateErr error
}

func (s *scriptedStore) FetchByUserID(ctx context.Context, _ string) (*domainauth.Profile, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	var r storeResponse
	if len(s.responses) > 0 {
		if idx >= len(s.responses) {
			idx = len(s.responses) - 1
		}
		r = s.responses[idx]
	}
	s.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.profile, r.err
}

func (s *scriptedStore) Update(_ context.Context, _ string, upd domainauth.ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, upd)
	return s.updateErr
}

func (s *scriptedStore) fetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeProvider is a scriptable auth provider delivering events on demand.
type fakeProvider struct {
	mu            sync.Mutex
	handler       ports.EventHandler
	unsubscribed  bool
	session       *domainauth.Session
	signInErr     error
	signOutDelay  time.Duration
	signOutCalls  int
	resetEmails   []string
	passwordCalls []string
}

func (p *fakeProvider) Subscribe(h ports.EventHandler) (ports.Unsubscribe, error) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.unsubscribed = true
		p.handler = nil
		p.mu.Unlock()
	}, nil
}

// emit delivers an event synchronously, as the real provider does: one event
// at a time, in order.
func (p *fakeProvider) emit(evt domainauth.Event) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

func (p *fakeProvider) SignInWithPassword(context.Context, string, string) error {
	return p.signInErr
}

func (p *fakeProvider) SignUp(context.Context, string, string, string) error { return nil }

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.signOutCalls++
	delay := p.signOutDelay
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *fakeProvider) GetSession(context.Context) (*domainauth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, nil
}

func (p *fakeProvider) UpdateUser(_ context.Context, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwordCalls = append(p.passwordCalls, password)
	return nil
}

func (p *fakeProvider) ResetPasswordForEmail(_ context.Context, email, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetEmails = append(p.resetEmails, email)
	return nil
}

func (p *fakeProvider) SetSession(_ context.Context, access, refresh string) (*domainauth.Session, error) {
	sess := &domainauth.Session{UserID: "recovered", AccessToken: access, RefreshToken: refresh}
	p.emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return sess, nil
}

// fastConfig returns session tuning scaled down so tests run in
// milliseconds instead of product time.
func fastConfig() config.SessionConfig {
	return config.SessionConfig{
		AttemptTimeout:      40 * time.Millisecond,
		RetryDelay:          10 * time.Millisecond,
		SafetyTimeout:       150 * time.Millisecond,
		GuardMaxRetries:     3,
		GuardRetryDelay:     10 * time.Millisecond,
		PendingPollInterval: 50 * time.Millisecond,
	}
}

func activeProfile(userID string, role domainauth.Role) *domainauth.Profile {
	return &domainauth.Profile{
		UserID:   userID,
		Email:    userID + "@estoqueflow.local",
		FullName: "Test User",
		Role:     role,
		Status:   domainauth.StatusAtivo,
	}
}

func testSession(userID string) *domainauth.Session {
	return &domainauth.Session{
		UserID:       userID,
		Email:        userID + "@estoqueflow.local",
		AccessToken:  "at-" + userID,
		RefreshToken: "rt-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
