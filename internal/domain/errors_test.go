package domain_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kossrlive/isignin/internal/domain"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, domain.IsRetryable(domain.ErrStoreUnavailable))
	assert.True(t, domain.IsRetryable(domain.ErrCooldownActive))
	assert.True(t, domain.IsRetryable(fmt.Errorf("send: %w", domain.ErrProviderFailure)))
	assert.False(t, domain.IsRetryable(domain.ErrBadCredentials))
	assert.False(t, domain.IsRetryable(domain.ErrInvalidInput))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, domain.IsClientError(domain.ErrInvalidPhoneNumber))
	assert.True(t, domain.IsClientError(domain.ErrCodeMismatch))
	assert.True(t, domain.IsClientError(fmt.Errorf("verify: %w", domain.ErrBlocked)))
	assert.False(t, domain.IsClientError(domain.ErrStoreUnavailable))
	assert.False(t, domain.IsClientError(domain.ErrDirectoryFailure))
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, domain.IsAuthFailure(domain.ErrCodeExpired))
	assert.True(t, domain.IsAuthFailure(domain.ErrSignatureInvalid))
	assert.False(t, domain.IsAuthFailure(domain.ErrRateLimited))
}
