package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	errs "github.com/estoqueflow/sessiongate/internal/errors"
)

func newFetcher(t *testing.T, store *scriptedStore) *ProfileFetcher {
	t.Helper()
	f, err := NewProfileFetcher(ProfileFetcherOptions{Store: store, Config: fastConfig()})
	require.NoError(t, err)
	return f
}

func TestNewProfileFetcher_RequiresStore(t *testing.T) {
	_, err := NewProfileFetcher(ProfileFetcherOptions{})
	require.Error(t, err)
}

func TestFetchProfile_Success(t *testing.T) {
	p := activeProfile("u1", domainauth.RoleLeitor)
	store := &scriptedStore{responses: []storeResponse{{profile: p}}}
	f := newFetcher(t, store)

	got := f.FetchProfile(context.Background(), "u1")

	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	state := f.State()
	assert.Equal(t, p, state.Profile)
	assert.Equal(t, errs.Kind(""), state.ErrKind)
	assert.Equal(t, 1, store.fetchCalls())
}

// Sign-up immediately followed by a fetch: the profile row is created by a
// slow out-of-band trigger, so the first attempt sees zero rows and the
// second sees the row.
func TestFetchProfile_RowAppearsOnSecondAttempt(t *testing.T) {
	p := activeProfile("u1", domainauth.RoleLeitor)
	store := &scriptedStore{responses: []storeResponse{
		{profile: nil, err: nil},
		{profile: p},
	}}
	f := newFetcher(t, store)

	got := f.FetchProfile(context.Background(), "u1")

	require.NotNil(t, got)
	state := f.State()
	assert.Equal(t, p, state.Profile)
	assert.Equal(t, errs.Kind(""), state.ErrKind)
	assert.Equal(t, 2, store.fetchCalls())
}

func TestFetchProfile_ConfirmedMissingIsNotFound(t *testing.T) {
	store := &scriptedStore{responses: []storeResponse{{}, {}}}
	f := newFetcher(t, store)

	got := f.FetchProfile(context.Background(), "u1")

	assert.Nil(t, got)
	state := f.State()
	assert.Nil(t, state.Profile)
	assert.Equal(t, errs.KindNotFound, state.ErrKind)
	assert.Equal(t, 2, store.fetchCalls(), "exactly two attempts per fetch")
}

// A lookup that never resolves must be aborted by the attempt timeout and
// classified as BLOCKED; the whole sequence stays bounded.
func TestFetchProfile_BlockedLookupNeverHangs(t *testing.T) {
	store := &scriptedStore{responses: []storeResponse{{block: true}}}
	f := newFetcher(t, store)
	cfg := fastConfig()

	start := time.Now()
	got := f.FetchProfile(context.Background(), "u1")
	elapsed := time.Since(start)

	assert.Nil(t, got)
	state := f.State()
	assert.Equal(t, errs.KindBlocked, state.ErrKind)
	assert.Nil(t, state.Profile)

	bound := 2*cfg.AttemptTimeout + cfg.RetryDelay + 100*time.Millisecond
	assert.Less(t, elapsed, bound, "fetch sequence must stay within timeout budget")
}

// Last-good stickiness: a committed profile survives any transient failure;
// only confirmed absence or a fresh success replaces it.
func TestFetchProfile_TransientErrorPreservesLastGood(t *testing.T) {
	p := activeProfile("u1", domainauth.RoleAdmin)
	store := &scriptedStore{responses: []storeResponse{{profile: p}}}
	f := newFetcher(t, store)
	require.NotNil(t, f.FetchProfile(context.Background(), "u1"))

	// Connectivity failure on both attempts.
	store.mu.Lock()
	store.responses = []storeResponse{{err: &url.Error{Op: "Get", URL: "https://db", Err: context.DeadlineExceeded}}}
	store.calls = 0
	store.mu.Unlock()

	got := f.FetchProfile(context.Background(), "u1")

	assert.Nil(t, got)
	state := f.State()
	require.NotNil(t, state.Profile, "transient error must not wipe last-good profile")
	assert.Equal(t, p, state.Profile)
	assert.True(t, state.ErrKind.Transient())
}

func TestFetchProfile_ConfirmedAbsenceClearsLastGood(t *testing.T) {
	p := activeProfile("u1", domainauth.RoleAdmin)
	store := &scriptedStore{responses: []storeResponse{{profile: p}}}
	f := newFetcher(t, store)
	require.NotNil(t, f.FetchProfile(context.Background(), "u1"))

	store.mu.Lock()
	store.responses = []storeResponse{{}, {}}
	store.calls = 0
	store.mu.Unlock()

	f.FetchProfile(context.Background(), "u1")

	state := f.State()
	assert.Nil(t, state.Profile, "confirmed absence clears last-good")
	assert.Equal(t, errs.KindNotFound, state.ErrKind)
}

// Only the holder of the latest ticket may commit: a slow older fetch that
// resolves after a newer one must be discarded wholesale, even on success.
func TestFetchProfile_StaleResultDiscarded(t *testing.T) {
	older := activeProfile("u1", domainauth.RoleLeitor)
	newer := activeProfile("u1", domainauth.RoleAdmin)
	store := &scriptedStore{responses: []storeResponse{
		{profile: older, delay: 60 * time.Millisecond},
		{profile: newer},
	}}
	f := newFetcher(t, store)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.FetchProfile(context.Background(), "u1") // slow, ticket 1
	}()
	time.Sleep(10 * time.Millisecond)
	got := f.FetchProfile(context.Background(), "u1") // fast, ticket 2
	require.NotNil(t, got)
	assert.Equal(t, domainauth.RoleAdmin, got.Role)

	wg.Wait()

	state := f.State()
	require.NotNil(t, state.Profile)
	assert.Equal(t, domainauth.RoleAdmin, state.Profile.Role,
		"older ticket must not clobber the newer result")
}

func TestRefreshProfile_SingleAttemptNoDelay(t *testing.T) {
	p := activeProfile("u1", domainauth.RoleLeitor)
	store := &scriptedStore{responses: []storeResponse{{profile: p}}}
	f := newFetcher(t, store)

	got := f.RefreshProfile(context.Background(), "u1")

	require.NotNil(t, got)
	assert.Equal(t, 1, store.fetchCalls(), "refresh is a single attempt")
	assert.Equal(t, p, f.State().Profile)
}

func TestRefreshProfile_ErrorCommitsKind(t *testing.T) {
	store := &scriptedStore{responses: []storeResponse{{err: &errs.APIError{Status: 403, Message: "rls"}}}}
	f := newFetcher(t, store)

	got := f.RefreshProfile(context.Background(), "u1")

	assert.Nil(t, got)
	assert.Equal(t, errs.KindAccessDenied, f.State().ErrKind)
}

func TestMarkError_KeepsLastGood(t *testing.T) {
	p := activeProfile("u1", domainauth.RoleLeitor)
	store := &scriptedStore{responses: []storeResponse{{profile: p}}}
	f := newFetcher(t, store)
	require.NotNil(t, f.FetchProfile(context.Background(), "u1"))

	f.MarkError(errs.KindBlocked)

	state := f.State()
	assert.Equal(t, errs.KindBlocked, state.ErrKind)
	assert.Equal(t, p, state.Profile)
}

func TestReset_ClearsStateAndInvalidatesInFlight(t *testing.T) {
	p := activeProfile("u1", domainauth.RoleLeitor)
	store := &scriptedStore{responses: []storeResponse{{profile: p, delay: 40 * time.Millisecond}}}
	f := newFetcher(t, store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.FetchProfile(context.Background(), "u1")
	}()
	time.Sleep(10 * time.Millisecond)
	f.Reset()
	<-done

	state := f.State()
	assert.Nil(t, state.Profile, "fetch issued before reset must not commit after it")
	assert.Equal(t, errs.Kind(""), state.ErrKind)
}

func TestClose_PreventsCommits(t *testing.T) {
	p := activeProfile("u1", domainauth.RoleLeitor)
	store := &scriptedStore{responses: []storeResponse{{profile: p}}}
	f := newFetcher(t, store)

	f.Close()
	got := f.FetchProfile(context.Background(), "u1")

	assert.Nil(t, got)
	assert.Nil(t, f.State().Profile)
}
