package errmap_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/errmap"
)

func TestToHTTPError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"nil", nil, http.StatusOK, ""},
		{"invalid input", domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"invalid phone", domain.ErrInvalidPhoneNumber, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"method disabled", domain.ErrMethodDisabled, http.StatusForbidden, "METHOD_DISABLED"},
		{"bad credentials", domain.ErrBadCredentials, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"code mismatch", domain.ErrCodeMismatch, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"code expired", domain.ErrCodeExpired, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"bad signature", domain.ErrSignatureInvalid, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"blocked", domain.ErrBlocked, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"cooldown", domain.ErrCooldownActive, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"send rate", domain.ErrSendRateLimit, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"provider failure", domain.ErrProviderFailure, http.StatusBadGateway, "UPSTREAM_FAILURE"},
		{"directory failure", domain.ErrDirectoryFailure, http.StatusBadGateway, "UPSTREAM_FAILURE"},
		{"store unavailable", domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := errmap.ToHTTPError(tc.err)
			assert.Equal(t, tc.wantStatus, got.StatusCode)
			assert.Equal(t, tc.wantCode, got.Code)
		})
	}
}

func TestWrappedErrorsStillMatch(t *testing.T) {
	err := fmt.Errorf("request code: %w", domain.ErrCooldownActive)
	assert.Equal(t, http.StatusTooManyRequests, errmap.ToHTTPStatusCode(err))
}

func TestRetryAfterPropagates(t *testing.T) {
	err := domain.WithRetryAfter(domain.ErrBlocked, 900)
	got := errmap.ToHTTPError(err)
	assert.Equal(t, 900, got.RetryAfterSeconds)
}

func TestInternalDetailNeverLeaks(t *testing.T) {
	got := errmap.ToHTTPError(errors.New("pq: connection refused at 10.1.2.3"))
	assert.Equal(t, "internal error", got.Message)

	got = errmap.ToHTTPError(fmt.Errorf("twilio: error 401: %w", domain.ErrProviderFailure))
	assert.NotContains(t, got.Message, "twilio")
}
