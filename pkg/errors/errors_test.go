package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromErrorPreservesAppError(t *testing.T) {
	err := New("TEAM_NOT_FOUND", "Team not found", http.StatusNotFound)

	wrapped := FromError(err)
	require.Equal(t, "TEAM_NOT_FOUND", wrapped.Code)
	require.Equal(t, http.StatusNotFound, wrapped.StatusCode)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	cause := errors.New("boom")

	wrapped := FromError(cause)
	require.Equal(t, ErrInternalServer.Code, wrapped.Code)
	require.ErrorIs(t, wrapped, cause)
}

func TestWithInternalDoesNotMutateOriginal(t *testing.T) {
	cause := errors.New("dial failed")

	copied := ErrConflict.WithInternal(cause)
	require.ErrorIs(t, copied, cause)
	require.Nil(t, ErrConflict.Internal)
	require.Equal(t, ErrConflict.Code, copied.Code)
}

func TestNewConflictMessage(t *testing.T) {
	err := NewConflict("invitation was sent to a different email address")
	require.Equal(t, http.StatusConflict, err.StatusCode)
	require.Equal(t, "CONFLICT", err.Code)
	require.Contains(t, err.Error(), "different email")
}
