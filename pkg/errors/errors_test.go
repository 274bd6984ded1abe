package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeUnknownPeer, "no entry for v1")
	assert.Equal(t, "UNKNOWN_PEER: no entry for v1", err.Error())

	cause := stderrors.New("dial tcp: refused")
	wrapped := NewAppError(ErrCodeTransportOpen, "open signaling").WithCause(cause)
	assert.Contains(t, wrapped.Error(), "caused by: dial tcp: refused")
	assert.ErrorIs(t, wrapped, cause)
}

func TestAppError_IsMatchesCode(t *testing.T) {
	sentinel := NewAppError(ErrCodeAlreadyActive, "session already active")
	err := fmt.Errorf("start: %w", NewAppErrorf(ErrCodeAlreadyActive, "role %s", "MASTER"))

	assert.True(t, stderrors.Is(err, sentinel))
	assert.False(t, stderrors.Is(err, NewAppError(ErrCodeUnknownPeer, "")))
}

func TestAsAppError_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewAppError(ErrCodeInvalidConfig, "missing region"))

	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidConfig, appErr.Code)
	assert.True(t, IsAppError(err))
	assert.False(t, IsAppError(stderrors.New("plain")))
}

func TestIsFatalStart(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"media", NewAppError(ErrCodeMediaAcquisition, "camera busy"), true},
		{"transport", NewAppError(ErrCodeTransportOpen, "dial failed"), true},
		{"config", NewAppError(ErrCodeInvalidConfig, "bad role"), true},
		{"channel", NewAppError(ErrCodeChannelLookup, "no such channel"), true},
		{"role", NewAppError(ErrCodeInvalidRole, "OBSERVER"), true},
		{"already active", NewAppError(ErrCodeAlreadyActive, "running"), false},
		{"plain", stderrors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatalStart(tt.err))
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusCode(NewAppError(ErrCodeAlreadyActive, "")))
	assert.Equal(t, http.StatusBadRequest, StatusCode(NewAppError(ErrCodeInvalidConfig, "")))
	assert.Equal(t, http.StatusBadGateway, StatusCode(NewAppError(ErrCodeTransportOpen, "")))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(stderrors.New("x")))
}

func TestWithDetails(t *testing.T) {
	err := NewAppError(ErrCodeNegotiationFailed, "set remote description").
		WithDetails("remote_id", "v1").
		WithDetails("state", "OFFER_RECEIVED")
	assert.Equal(t, "v1", err.Details["remote_id"])
	assert.Len(t, err.Details, 2)
	assert.True(t, HasCode(err, ErrCodeNegotiationFailed))
}
