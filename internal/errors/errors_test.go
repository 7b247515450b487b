package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchError_WrapAndUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	fe := Wrap(cause, KindNetwork, "fetch profile")

	require.NotNil(t, fe)
	assert.Equal(t, KindNetwork, fe.Kind)
	assert.ErrorIs(t, fe, cause)
	assert.Contains(t, fe.Error(), "fetch profile")
	assert.Contains(t, fe.Error(), "socket closed")
}

func TestWrap_NilCause(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindNetwork, "nothing"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindAccessDenied, KindOf(New(KindAccessDenied, "rls denied")))

	// Wrapped FetchError keeps its kind through fmt wrapping.
	wrapped := fmt.Errorf("handler: %w", New(KindNotFound, "missing row"))
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	// Unclassified errors are classified on the fly.
	assert.Equal(t, KindBlocked, KindOf(errors.New("connection refused")))
}

func TestAPIError_Error(t *testing.T) {
	e := &APIError{Status: 401, Code: "invalid_grant", Message: "bad credentials"}
	assert.Contains(t, e.Error(), "401")
	assert.Contains(t, e.Error(), "invalid_grant")

	noCode := &APIError{Status: 500, Message: "boom"}
	assert.Contains(t, noCode.Error(), "500")
}
