package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())

	cause := errors.New("redis down")
	wrapped := WrapError(cause, ErrCodeServiceUnavailable, "store unavailable", http.StatusServiceUnavailable)
	assert.Contains(t, wrapped.Error(), "redis down")
	assert.ErrorIs(t, wrapped, cause)
}

func TestAppError_Body(t *testing.T) {
	err := NewPreconditionFailedError("session already completed").WithContext("room_id", "r1")

	body := err.Body()
	assert.Equal(t, "PRECONDITION_FAILED", body["error"])
	assert.Equal(t, "session already completed", body["message"])
	assert.Equal(t, map[string]interface{}{"room_id": "r1"}, body["details"])

	assert.NotContains(t, NewRateLimitError().Body(), "details")
}

func TestConstructors_Status(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("x"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("room"), ErrCodeNotFound, http.StatusNotFound},
		{NewUnauthorizedError("x"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewForbiddenError("x"), ErrCodeForbidden, http.StatusForbidden},
		{NewConflictError("x"), ErrCodeConflict, http.StatusConflict},
		{NewPreconditionFailedError("x"), ErrCodePreconditionFailed, http.StatusPreconditionFailed},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewPayloadTooLargeError(10), ErrCodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{NewInternalError("x"), ErrCodeInternal, http.StatusInternalServerError},
		{NewServiceUnavailableError("x"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.HTTPStatus)
		})
	}
	assert.Equal(t, "room not found", NewNotFoundError("room").Message)
}

func TestGetAppError(t *testing.T) {
	assert.Nil(t, GetAppError(nil))
	assert.Nil(t, GetAppError(errors.New("plain")))

	appErr := NewNotFoundError("room")
	wrapped := fmt.Errorf("handler: %w", appErr)

	got := GetAppError(wrapped)
	require.NotNil(t, got)
	assert.Same(t, appErr, got)
	assert.True(t, IsAppError(appErr))
	assert.False(t, IsAppError(wrapped))
}
