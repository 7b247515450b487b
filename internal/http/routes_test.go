package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/estoqueflow/sessiongate/config"
	"github.com/estoqueflow/sessiongate/internal/adapters/devauth"
	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	"github.com/estoqueflow/sessiongate/internal/mocks"
	"github.com/estoqueflow/sessiongate/internal/service"
)

func fastSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		AttemptTimeout:      200 * time.Millisecond,
		RetryDelay:          10 * time.Millisecond,
		SafetyTimeout:       500 * time.Millisecond,
		GuardMaxRetries:     3,
		GuardRetryDelay:     10 * time.Millisecond,
		PendingPollInterval: 50 * time.Millisecond,
	}
}

func activeProfile(role domainauth.Role) *domainauth.Profile {
	return &domainauth.Profile{
		UserID:   "dev-user",
		Email:    "dev@local",
		FullName: "Dev User",
		Role:     role,
		Status:   domainauth.StatusAtivo,
	}
}

type testApp struct {
	srv      *httptest.Server
	client   *http.Client
	coord    *service.Coordinator
	store    *mocks.MockProfileStore
	provider *devauth.Provider
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockProfileStore(ctrl)

	provider, err := devauth.NewProvider(devauth.Config{
		UserID: "dev-user", Email: "dev@local", Password: "dev",
	})
	require.NoError(t, err)

	cfg := fastSessionConfig()
	fetcher, err := service.NewProfileFetcher(service.ProfileFetcherOptions{
		Store:  store,
		Config: cfg,
	})
	require.NoError(t, err)

	coord, err := service.NewCoordinator(service.CoordinatorOptions{
		Provider: provider,
		Store:    store,
		Fetcher:  fetcher,
		Config:   cfg,
	})
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	guard, err := service.NewGuard(service.GuardOptions{
		Coordinator: coord,
		Config:      cfg,
	})
	require.NoError(t, err)

	var httpCfg config.HTTPConfig
	httpCfg.LoginPath = "/login"
	httpCfg.PendingPath = "/pending"
	httpCfg.DeniedPath = "/acesso-negado"

	handler := NewRouter(RouterServices{
		Coordinator: coord,
		Guard:       guard,
		HTTP:        httpCfg,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	require.NoError(t, coord.Start())
	return &testApp{srv: srv, client: client, coord: coord, store: store, provider: provider}
}

func (a *testApp) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := a.client.Post(a.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (a *testApp) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := a.client.Get(a.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) snapshotResponse {
	t.Helper()
	defer resp.Body.Close()
	var snap snapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func waitForProfile(t *testing.T, a *testApp) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := a.coord.Snapshot()
		if snap.Profile != nil && !snap.Loading {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("profile never loaded")
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	resp := app.get(t, "/health")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestSessionSnapshotUnauthenticated(t *testing.T) {
	app := newTestApp(t)

	snap := decodeSnapshot(t, app.get(t, "/api/session"))
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Profile)
	assert.False(t, snap.Loading)
}

func TestLoginLoadsProfileAndHidesTokens(t *testing.T) {
	app := newTestApp(t)
	app.store.EXPECT().FetchByUserID(gomock.Any(), "dev-user").
		Return(activeProfile(domainauth.RoleExpedicao), nil).AnyTimes()

	resp := app.post(t, "/api/auth/login", `{"email":"dev@local","password":"dev"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	waitForProfile(t, app)

	raw, err := app.client.Get(app.srv.URL + "/api/session")
	require.NoError(t, err)
	body := new(strings.Builder)
	var snap snapshotResponse
	dec := json.NewDecoder(io.TeeReader(raw.Body, body))
	require.NoError(t, dec.Decode(&snap))
	raw.Body.Close()

	require.NotNil(t, snap.Session)
	assert.Equal(t, "dev-user", snap.Session.UserID)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, domainauth.RoleExpedicao, snap.Profile.Role)
	// Token material never crosses the API boundary.
	assert.NotContains(t, body.String(), "access_token")
	assert.NotContains(t, body.String(), "refresh_token")
}

func TestLoginBadCredentials(t *testing.T) {
	app := newTestApp(t)

	resp := app.post(t, "/api/auth/login", `{"email":"dev@local","password":"nope"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	app := newTestApp(t)

	resp := app.post(t, "/api/auth/login", `{"email":`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGuardRedirectsAnonymousToLogin(t *testing.T) {
	app := newTestApp(t)

	resp := app.get(t, "/app/")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestGuardAllowsSufficientRole(t *testing.T) {
	app := newTestApp(t)
	app.store.EXPECT().FetchByUserID(gomock.Any(), "dev-user").
		Return(activeProfile(domainauth.RoleExpedicao), nil).AnyTimes()

	app.post(t, "/api/auth/login", `{"email":"dev@local","password":"dev"}`).Body.Close()
	waitForProfile(t, app)

	resp := app.get(t, "/app/expedicao/")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGuardForbidsInsufficientRole(t *testing.T) {
	app := newTestApp(t)
	app.store.EXPECT().FetchByUserID(gomock.Any(), "dev-user").
		Return(activeProfile(domainauth.RoleLeitor), nil).AnyTimes()

	app.post(t, "/api/auth/login", `{"email":"dev@local","password":"dev"}`).Body.Close()
	waitForProfile(t, app)

	resp := app.get(t, "/app/admin/")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/acesso-negado", resp.Header.Get("Location"))
}

func TestGuardParksPendingUser(t *testing.T) {
	app := newTestApp(t)
	pending := activeProfile(domainauth.RoleAdmin)
	pending.Status = domainauth.StatusPendente
	app.store.EXPECT().FetchByUserID(gomock.Any(), "dev-user").
		Return(pending, nil).AnyTimes()

	app.post(t, "/api/auth/login", `{"email":"dev@local","password":"dev"}`).Body.Close()
	waitForProfile(t, app)

	resp := app.get(t, "/app/admin/")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/pending", resp.Header.Get("Location"))
}

func TestGuardAnswersRetryAfterWhileResolving(t *testing.T) {
	app := newTestApp(t)
	block := make(chan struct{})
	app.store.EXPECT().FetchByUserID(gomock.Any(), "dev-user").
		DoAndReturn(func(ctx any, _ string) (*domainauth.Profile, error) {
			<-block
			return activeProfile(domainauth.RoleAdmin), nil
		}).AnyTimes()
	t.Cleanup(func() { close(block) })

	app.post(t, "/api/auth/login", `{"email":"dev@local","password":"dev"}`).Body.Close()

	resp := app.get(t, "/app/")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestUpdateProfileWritesThrough(t *testing.T) {
	app := newTestApp(t)
	app.store.EXPECT().FetchByUserID(gomock.Any(), "dev-user").
		Return(activeProfile(domainauth.RoleLeitor), nil).AnyTimes()
	app.store.EXPECT().
		Update(gomock.Any(), "dev-user", gomock.Any()).
		DoAndReturn(func(_ any, _ string, upd domainauth.ProfileUpdate) error {
			require.NotNil(t, upd.FullName)
			assert.Equal(t, "New Name", *upd.FullName)
			return nil
		})

	app.post(t, "/api/auth/login", `{"email":"dev@local","password":"dev"}`).Body.Close()
	waitForProfile(t, app)

	resp := app.post(t, "/api/profile", `{"full_name":"New Name"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateProfileWithoutSession(t *testing.T) {
	app := newTestApp(t)

	resp := app.post(t, "/api/profile", `{"full_name":"X"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpdateProfileEmptyBodyRejected(t *testing.T) {
	app := newTestApp(t)

	resp := app.post(t, "/api/profile", `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogoutClearsSessionImmediately(t *testing.T) {
	app := newTestApp(t)
	app.store.EXPECT().FetchByUserID(gomock.Any(), "dev-user").
		Return(activeProfile(domainauth.RoleLeitor), nil).AnyTimes()

	app.post(t, "/api/auth/login", `{"email":"dev@local","password":"dev"}`).Body.Close()
	waitForProfile(t, app)

	resp := app.post(t, "/api/auth/logout", ``)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := decodeSnapshot(t, app.get(t, "/api/session"))
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Profile)
}

func TestRefreshProfileRecoversAfterError(t *testing.T) {
	app := newTestApp(t)
	calls := 0
	app.store.EXPECT().FetchByUserID(gomock.Any(), "dev-user").
		DoAndReturn(func(_ any, _ string) (*domainauth.Profile, error) {
			calls++
			if calls <= 2 {
				return nil, errStoreOffline
			}
			return activeProfile(domainauth.RoleLeitor), nil
		}).AnyTimes()

	app.post(t, "/api/auth/login", `{"email":"dev@local","password":"dev"}`).Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := app.coord.Snapshot(); !snap.Loading {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := app.post(t, "/api/profile/refresh", ``)
	snap := decodeSnapshot(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, snap.Profile)
	assert.Empty(t, snap.ErrKind)
}

var errStoreOffline = errors.New("store offline")
