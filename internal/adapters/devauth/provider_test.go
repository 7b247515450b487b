package devauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	errs "github.com/estoqueflow/sessiongate/internal/errors"
)

func newDevProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider(Config{UserID: "dev-user", Email: "dev@local", Password: "dev"})
	require.NoError(t, err)
	return p
}

func collect(p *Provider, t *testing.T) *[]domainauth.Event {
	t.Helper()
	var events []domainauth.Event
	unsub, err := p.Subscribe(func(evt domainauth.Event) {
		events = append(events, evt)
	})
	require.NoError(t, err)
	t.Cleanup(unsub)
	return &events
}

func TestNewProviderValidation(t *testing.T) {
	_, err := NewProvider(Config{Email: "dev@local"})
	require.Error(t, err)
	_, err = NewProvider(Config{UserID: "dev-user"})
	require.Error(t, err)
}

func TestSubscribeDeliversInitialSessionOnce(t *testing.T) {
	p := newDevProvider(t)
	events := collect(p, t)

	require.Len(t, *events, 1)
	assert.Equal(t, domainauth.EventInitialSession, (*events)[0].Kind)
	assert.Nil(t, (*events)[0].Session)
}

func TestSignInEmitsSignedIn(t *testing.T) {
	p := newDevProvider(t)
	events := collect(p, t)

	require.NoError(t, p.SignInWithPassword(context.Background(), "dev@local", "dev"))

	require.Len(t, *events, 2)
	evt := (*events)[1]
	assert.Equal(t, domainauth.EventSignedIn, evt.Kind)
	require.NotNil(t, evt.Session)
	assert.Equal(t, "dev-user", evt.Session.UserID)
	assert.Equal(t, "dev@local", evt.Session.Email)

	sess, err := p.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, evt.Session, sess)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	p := newDevProvider(t)

	err := p.SignInWithPassword(context.Background(), "dev@local", "wrong")
	var apiErr *errs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
}

func TestSignUpThenSignIn(t *testing.T) {
	p := newDevProvider(t)
	events := collect(p, t)

	require.NoError(t, p.SignUp(context.Background(), "new@local", "pw", "New User"))
	// Sign-up alone does not authenticate.
	require.Len(t, *events, 1)

	require.NoError(t, p.SignInWithPassword(context.Background(), "new@local", "pw"))
	require.Len(t, *events, 2)
	assert.Equal(t, domainauth.EventSignedIn, (*events)[1].Kind)

	err := p.SignUp(context.Background(), "new@local", "pw", "")
	require.Error(t, err)
}

func TestSignOutClearsSession(t *testing.T) {
	p := newDevProvider(t)
	events := collect(p, t)

	require.NoError(t, p.SignInWithPassword(context.Background(), "dev@local", "dev"))
	require.NoError(t, p.SignOut(context.Background()))

	require.Len(t, *events, 3)
	assert.Equal(t, domainauth.EventSignedOut, (*events)[2].Kind)

	sess, err := p.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestRotateTokenEmitsTokenRefreshed(t *testing.T) {
	p := newDevProvider(t)
	events := collect(p, t)

	// No session, nothing to rotate.
	p.RotateToken()
	require.Len(t, *events, 1)

	require.NoError(t, p.SignInWithPassword(context.Background(), "dev@local", "dev"))
	before := (*events)[1].Session.AccessToken

	p.RotateToken()
	require.Len(t, *events, 3)
	evt := (*events)[2]
	assert.Equal(t, domainauth.EventTokenRefreshed, evt.Kind)
	require.NotNil(t, evt.Session)
	assert.NotEqual(t, before, evt.Session.AccessToken)
	assert.Equal(t, "dev-user", evt.Session.UserID)
}

func TestUpdateUserChangesPassword(t *testing.T) {
	p := newDevProvider(t)

	require.Error(t, p.UpdateUser(context.Background(), "next"))

	require.NoError(t, p.SignInWithPassword(context.Background(), "dev@local", "dev"))
	require.NoError(t, p.UpdateUser(context.Background(), "next"))
	require.NoError(t, p.SignOut(context.Background()))

	require.Error(t, p.SignInWithPassword(context.Background(), "dev@local", "dev"))
	require.NoError(t, p.SignInWithPassword(context.Background(), "dev@local", "next"))
}

func TestSetSessionAdoptsTokens(t *testing.T) {
	p := newDevProvider(t)
	events := collect(p, t)

	sess, err := p.SetSession(context.Background(), "at", "rt")
	require.NoError(t, err)
	assert.Equal(t, "at", sess.AccessToken)

	require.Len(t, *events, 2)
	assert.Equal(t, domainauth.EventSignedIn, (*events)[1].Kind)
}
