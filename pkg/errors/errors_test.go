package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesOnCode(t *testing.T) {
	sentinel := New(ErrCodeEmailUnavailable, "email address is unavailable")
	enriched := sentinel.WithDetail("reason", "grace_period").WithMessage("in grace period")

	assert.True(t, errors.Is(enriched, sentinel))
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", enriched), sentinel))
	assert.False(t, errors.Is(enriched, New(ErrCodeTokenExpired, "expired")))

	// sentinel stays untouched
	assert.Empty(t, sentinel.Details)
	assert.Equal(t, "email address is unavailable", sentinel.Message)
	assert.Equal(t, "grace_period", GetDetails(enriched)["reason"])
}

func TestGetMessage(t *testing.T) {
	assert.Equal(t, "in use", GetMessage(New(ErrCodeEmailUnavailable, "in use")))
	assert.Equal(t, "an internal error occurred", GetMessage(errors.New("pq: connection reset")))
	assert.Equal(t, "an internal error occurred", GetMessage(Internal("db down")))
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidOrExpiredToken, http.StatusBadRequest},
		{ErrCodeTokenExpired, http.StatusGone},
		{ErrCodeEmailUnavailable, http.StatusConflict},
		{ErrCodeVerificationAlreadyPending, http.StatusConflict},
		{ErrCodeTooManyAttempts, http.StatusTooManyRequests},
		{ErrCodeAccountNotFound, http.StatusNotFound},
		{ErrCodeInvalidCredentials, http.StatusUnauthorized},
		{ErrCodeMailDeliveryFailed, http.StatusBadGateway},
		{ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, MapErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeTooManyAttempts, GetCode(fmt.Errorf("x: %w", New(ErrCodeTooManyAttempts, "slow down"))))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("plain")))
	assert.True(t, IsCode(InvalidInput("email", "missing"), ErrCodeInvalidInput))
}
