package gotrue

// Package gotrue implements the AuthProvider port against a GoTrue
// authentication server (the Supabase auth API): password and refresh
// grants, signup, logout, password recovery and user updates. The
// provider owns the token lifecycle: it restores a persisted session on
// Subscribe, rotates the access token before expiry and announces every
// transition through the event stream.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	errs "github.com/estoqueflow/sessiongate/internal/errors"
	"github.com/estoqueflow/sessiongate/internal/ports"
)

const (
	defaultRefreshMargin  = time.Minute
	refreshRetryInterval  = 10 * time.Second
	restoreTimeout        = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// Config holds configuration for the GoTrue provider.
type Config struct {
	// URL is the GoTrue base URL, e.g. https://<project>.supabase.co/auth/v1.
	URL     string
	AnonKey string

	// JWTSecret verifies HS256 access tokens. JWKSURL verifies RS256 tokens
	// via a remote key set. At least one must be set.
	JWTSecret string
	JWKSURL   string

	ResetRedirectURL string

	HTTPClient *http.Client // optional, defaults to a 30s-timeout client

	// Tokens persists the session token pair across restarts so Subscribe
	// can restore a session. Optional.
	Tokens ports.TokenStore

	Logger *slog.Logger

	// RefreshMargin is how long before access token expiry the provider
	// rotates it. Defaults to one minute.
	RefreshMargin time.Duration
}

// Provider implements ports.AuthProvider against a GoTrue server.
type Provider struct {
	baseURL       string
	anonKey       string
	resetRedirect string
	refreshMargin time.Duration
	httpClient    *http.Client
	tokens        ports.TokenStore
	logger        *slog.Logger

	hmacSecret []byte
	keySet     *gooidc.RemoteKeySet

	ctx    context.Context
	cancel context.CancelFunc

	// emitMu serializes handler invocation. Events are delivered one at a
	// time, never concurrently.
	emitMu sync.Mutex

	mu           sync.Mutex
	handler      ports.EventHandler
	session      *domainauth.Session
	refreshTimer *time.Timer
}

// NewProvider creates a GoTrue provider. A missing or placeholder URL or
// anon key means the environment was never configured; that surfaces as
// ErrEnvMissing so callers can classify it.
func NewProvider(cfg Config) (*Provider, error) {
	if placeholder(cfg.URL) || placeholder(cfg.AnonKey) {
		return nil, fmt.Errorf("gotrue: %w", errs.ErrEnvMissing)
	}
	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		return nil, errors.New("gotrue: JWT secret or JWKS URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		baseURL:       strings.TrimSuffix(cfg.URL, "/"),
		anonKey:       cfg.AnonKey,
		resetRedirect: cfg.ResetRedirectURL,
		refreshMargin: margin,
		httpClient:    httpClient,
		tokens:        cfg.Tokens,
		logger:        logger.With("component", "gotrue"),
		ctx:           ctx,
		cancel:        cancel,
	}
	if cfg.JWTSecret != "" {
		p.hmacSecret = []byte(cfg.JWTSecret)
	}
	if cfg.JWKSURL != "" {
		keyCtx := gooidc.ClientContext(ctx, httpClient)
		p.keySet = gooidc.NewRemoteKeySet(keyCtx, cfg.JWKSURL)
	}
	return p, nil
}

func placeholder(v string) bool {
	if v == "" {
		return true
	}
	lower := strings.ToLower(v)
	return strings.Contains(lower, "placeholder") || strings.Contains(lower, "your-project")
}

// Subscribe registers the handler and restores any persisted session in the
// background. INITIAL_SESSION is delivered exactly once, with a nil session
// when nothing could be restored.
func (p *Provider) Subscribe(handler ports.EventHandler) (ports.Unsubscribe, error) {
	p.mu.Lock()
	if p.handler != nil {
		p.mu.Unlock()
		return nil, errors.New("gotrue: already subscribed")
	}
	p.handler = handler
	p.mu.Unlock()

	go p.restore()

	return func() {
		p.mu.Lock()
		p.handler = nil
		if p.refreshTimer != nil {
			p.refreshTimer.Stop()
			p.refreshTimer = nil
		}
		p.mu.Unlock()
	}, nil
}

// restore loads the persisted token pair and exchanges the refresh token for
// a fresh session. Any failure degrades to an unauthenticated initial event.
func (p *Provider) restore() {
	ctx, cancel := context.WithTimeout(p.ctx, restoreTimeout)
	defer cancel()

	var restored *domainauth.Session
	if p.tokens != nil {
		saved, err := p.tokens.Load(ctx)
		if err != nil {
			p.logger.Warn("load persisted session", "error", err)
		} else if saved != nil {
			sess, refreshErr := p.refreshGrant(ctx, saved.RefreshToken)
			if refreshErr != nil {
				p.logger.Info("persisted session not restorable", "error", refreshErr)
			} else {
				restored = sess
			}
		}
	}

	if restored != nil {
		p.setSession(restored)
		p.persist(restored)
	}
	p.emit(domainauth.Event{Kind: domainauth.EventInitialSession, Session: restored})
}

func (p *Provider) emit(evt domainauth.Event) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return
	}
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	h(evt)
}

// setSession stores sess as current and arms the rotation timer.
func (p *Provider) setSession(sess *domainauth.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = sess
	if p.refreshTimer != nil {
		p.refreshTimer.Stop()
		p.refreshTimer = nil
	}
	if sess == nil {
		return
	}
	d := time.Until(sess.ExpiresAt) - p.refreshMargin
	if d < time.Second {
		d = time.Second
	}
	p.refreshTimer = time.AfterFunc(d, p.rotate)
}

// rotate exchanges the current refresh token for a new pair. Network errors
// retry on a short interval; a definitive rejection signs the session out.
func (p *Provider) rotate() {
	p.mu.Lock()
	current := p.session
	p.mu.Unlock()
	if current == nil {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, defaultRequestTimeout)
	defer cancel()

	sess, err := p.refreshGrant(ctx, current.RefreshToken)
	if err != nil {
		var apiErr *errs.APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			p.logger.Warn("refresh token rejected, signing out", "status", apiErr.Status)
			p.dropSession(context.Background())
			p.emit(domainauth.Event{Kind: domainauth.EventSignedOut})
			return
		}
		if p.ctx.Err() != nil {
			return
		}
		p.logger.Warn("token rotation failed, will retry", "error", err)
		p.mu.Lock()
		p.refreshTimer = time.AfterFunc(refreshRetryInterval, p.rotate)
		p.mu.Unlock()
		return
	}

	p.setSession(sess)
	p.persist(sess)
	p.emit(domainauth.Event{Kind: domainauth.EventTokenRefreshed, Session: sess})
}

func (p *Provider) persist(sess *domainauth.Session) {
	if p.tokens == nil || sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()
	if err := p.tokens.Save(ctx, *sess); err != nil {
		p.logger.Warn("persist session tokens", "error", err)
	}
}

func (p *Provider) dropSession(ctx context.Context) {
	p.mu.Lock()
	p.session = nil
	if p.refreshTimer != nil {
		p.refreshTimer.Stop()
		p.refreshTimer = nil
	}
	p.mu.Unlock()
	if p.tokens != nil {
		if err := p.tokens.Delete(ctx); err != nil {
			p.logger.Warn("delete persisted tokens", "error", err)
		}
	}
}

// SignInWithPassword performs the password grant and emits SIGNED_IN.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	var resp sessionResponse
	if err := p.post(ctx, "/token?grant_type=password", body, "", &resp); err != nil {
		return err
	}
	sess, err := p.toSession(ctx, resp)
	if err != nil {
		return err
	}
	p.setSession(sess)
	p.persist(sess)
	p.emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return nil
}

// SignUp registers a new account. With email confirmation enabled the server
// returns no session, so no event is emitted.
func (p *Provider) SignUp(ctx context.Context, email, password, fullName string) error {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if fullName != "" {
		body["data"] = map[string]string{"full_name": fullName}
	}
	return p.post(ctx, "/signup", body, "", nil)
}

// SignOut revokes the session server-side, drops local token state and emits
// SIGNED_OUT. The network call is best-effort.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	current := p.session
	p.mu.Unlock()

	if current != nil {
		if err := p.post(ctx, "/logout", nil, current.AccessToken, nil); err != nil {
			p.logger.Warn("server-side logout failed", "error", err)
		}
	}
	p.dropSession(ctx)
	p.emit(domainauth.Event{Kind: domainauth.EventSignedOut})
	return nil
}

// GetSession returns the current session, refreshing it first when the
// access token is at or past expiry.
func (p *Provider) GetSession(ctx context.Context) (*domainauth.Session, error) {
	p.mu.Lock()
	current := p.session
	p.mu.Unlock()
	if current == nil {
		return nil, nil
	}
	tok := &oauth2.Token{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
		Expiry:       current.ExpiresAt,
	}
	if tok.Valid() {
		return current, nil
	}
	sess, err := p.refreshGrant(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}
	p.setSession(sess)
	p.persist(sess)
	return sess, nil
}

// UpdateUser changes the authenticated user's password.
func (p *Provider) UpdateUser(ctx context.Context, password string) error {
	p.mu.Lock()
	current := p.session
	p.mu.Unlock()
	if current == nil {
		return errs.ErrSessionExpired
	}
	return p.put(ctx, "/user", map[string]string{"password": password}, current.AccessToken)
}

// ResetPasswordForEmail requests a recovery email with a deep link back to
// redirectTo.
func (p *Provider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	if redirectTo == "" {
		redirectTo = p.resetRedirect
	}
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return p.post(ctx, path, map[string]string{"email": email}, "", nil)
}

// SetSession establishes a session from a URL-delivered token pair (the
// recovery deep-link flow). An expired access token is exchanged via the
// refresh grant; a live one is verified and adopted as-is.
func (p *Provider) SetSession(ctx context.Context, accessToken, refreshToken string) (*domainauth.Session, error) {
	claims, err := p.verifyAccessToken(ctx, accessToken)
	if err == nil && time.Until(claims.expiresAt) > p.refreshMargin {
		sess := &domainauth.Session{
			UserID:       claims.subject,
			Email:        claims.email,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresAt:    claims.expiresAt,
		}
		p.setSession(sess)
		p.persist(sess)
		p.emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
		return sess, nil
	}

	sess, err := p.refreshGrant(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	p.setSession(sess)
	p.persist(sess)
	p.emit(domainauth.Event{Kind: domainauth.EventSignedIn, Session: sess})
	return sess, nil
}

// Close stops the rotation timer and any in-flight background work.
func (p *Provider) Close() {
	p.cancel()
	p.mu.Lock()
	if p.refreshTimer != nil {
		p.refreshTimer.Stop()
		p.refreshTimer = nil
	}
	p.mu.Unlock()
}

// refreshGrant exchanges a refresh token for a fresh session.
func (p *Provider) refreshGrant(ctx context.Context, refreshToken string) (*domainauth.Session, error) {
	if refreshToken == "" {
		return nil, errors.New("gotrue: empty refresh token")
	}
	var resp sessionResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := p.post(ctx, "/token?grant_type=refresh_token", body, "", &resp); err != nil {
		return nil, err
	}
	return p.toSession(ctx, resp)
}

// sessionResponse is the GoTrue token endpoint payload.
type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// toSession verifies the access token and builds the domain session. Claims
// win over the user object when both are present.
func (p *Provider) toSession(ctx context.Context, resp sessionResponse) (*domainauth.Session, error) {
	claims, err := p.verifyAccessToken(ctx, resp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	userID := claims.subject
	if userID == "" {
		userID = resp.User.ID
	}
	email := claims.email
	if email == "" {
		email = resp.User.Email
	}
	expiresAt := claims.expiresAt
	if expiresAt.IsZero() && resp.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return &domainauth.Session{
		UserID:       userID,
		Email:        email,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

type accessClaims struct {
	subject   string
	email     string
	expiresAt time.Time
}

type gotrueClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// verifyAccessToken checks the token signature with the HS256 secret or the
// remote JWKS key set, whichever is configured, and extracts the identity
// claims.
func (p *Provider) verifyAccessToken(ctx context.Context, raw string) (accessClaims, error) {
	if p.hmacSecret != nil {
		var claims gotrueClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			return p.hmacSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			return accessClaims{}, err
		}
		out := accessClaims{subject: claims.Subject, email: claims.Email}
		if claims.ExpiresAt != nil {
			out.expiresAt = claims.ExpiresAt.Time
		}
		return out, nil
	}

	payload, err := p.keySet.VerifySignature(ctx, raw)
	if err != nil {
		return accessClaims{}, err
	}
	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Exp   int64  `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return accessClaims{}, fmt.Errorf("decode access token claims: %w", err)
	}
	out := accessClaims{subject: claims.Sub, email: claims.Email}
	if claims.Exp > 0 {
		out.expiresAt = time.Unix(claims.Exp, 0)
		if time.Now().After(out.expiresAt) {
			return accessClaims{}, errors.New("access token expired")
		}
	}
	return out, nil
}

// errorResponse covers the error payload shapes GoTrue has shipped over time.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Code             string `json:"error_code"`
}

func (e errorResponse) text() string {
	for _, v := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (p *Provider) post(ctx context.Context, path string, body any, bearer string, out any) error {
	return p.do(ctx, http.MethodPost, path, body, bearer, out)
}

func (p *Provider) put(ctx context.Context, path string, body any, bearer string) error {
	return p.do(ctx, http.MethodPut, path, body, bearer, nil)
}

func (p *Provider) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", p.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := p.httpClient
	if bearer != "" {
		// Route authenticated calls through an oauth2 transport so the
		// bearer header handling matches the rest of the stack.
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"})
		clientCtx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
		client = oauth2.NewClient(clientCtx, src)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr errorResponse
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.text()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &errs.APIError{Status: resp.StatusCode, Code: apiErr.Code, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
