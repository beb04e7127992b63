package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Status(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
		kind   string
	}{
		{ErrNotAuthenticated(), http.StatusUnauthorized, "authentication"},
		{ErrValidation(CodeToInvalid), http.StatusBadRequest, "validation"},
		{ErrOfficialNotFound(), http.StatusNotFound, "not_found"},
		{ErrRateLimited(time.Second), http.StatusTooManyRequests, "rate_limit"},
		{ErrProviderAuth("consent_required", nil), http.StatusUnauthorized, "provider_auth"},
		{ErrSendFailed("quota", nil), http.StatusBadGateway, "provider_send"},
		{ErrInternal(errors.New("boom")), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status())
			assert.Equal(t, tt.kind, tt.err.Kind.String())
		})
	}
}

func TestError_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, ErrNotAuthenticated().RetryAfterSeconds())
	assert.Equal(t, 1, ErrRateLimited(200*time.Millisecond).RetryAfterSeconds())
	assert.Equal(t, 40, ErrRateLimited(40*time.Second).RetryAfterSeconds())
	assert.Equal(t, 41, ErrRateLimited(40*time.Second+time.Millisecond).RetryAfterSeconds())
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "to_required", ErrValidation(CodeToRequired).Error())
	assert.Equal(t, "send_failed: quota exceeded", ErrSendFailed("quota exceeded", nil).Error())
}

func TestAsError(t *testing.T) {
	cause := errors.New("db down")
	wrapped := fmt.Errorf("handler: %w", ErrInternal(cause))

	de, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeInternal, de.Code)
	assert.ErrorIs(t, wrapped, cause)

	_, ok = AsError(cause)
	assert.False(t, ok)
}
