// Package errmap is the single site converting domain sentinels into HTTP
// status codes and response bodies.
package errmap

import (
	"errors"
	"net/http"

	"github.com/kossrlive/isignin/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`

	// RetryAfterSeconds, when non-zero, is emitted as the Retry-After header.
	RetryAfterSeconds int `json:"-"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// ToHTTPError converts a domain error to an HTTP error. External-service
// detail is sanitized to a generic message: provider identity and upstream
// errors never leak outward.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidPhoneNumber),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrInvalidCode):
		return HTTPError{
			StatusCode: http.StatusBadRequest,
			Code:       "INVALID_ARGUMENT",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrMethodDisabled):
		return HTTPError{
			StatusCode: http.StatusForbidden,
			Code:       "METHOD_DISABLED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrBadCredentials):
		// Never distinguish "no such account" from "wrong password".
		return HTTPError{
			StatusCode: http.StatusUnauthorized,
			Code:       "UNAUTHENTICATED",
			Message:    "invalid credentials",
		}

	case errors.Is(err, domain.ErrCodeMismatch),
		errors.Is(err, domain.ErrCodeExpired),
		errors.Is(err, domain.ErrSignatureMissing),
		errors.Is(err, domain.ErrSignatureInvalid):
		return HTTPError{
			StatusCode: http.StatusUnauthorized,
			Code:       "UNAUTHENTICATED",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrBlocked),
		errors.Is(err, domain.ErrCooldownActive),
		errors.Is(err, domain.ErrSendRateLimit),
		errors.Is(err, domain.ErrRateLimited):
		return HTTPError{
			StatusCode:        http.StatusTooManyRequests,
			Code:              "RATE_LIMITED",
			Message:           err.Error(),
			RetryAfterSeconds: domain.RetryAfterSeconds(err),
		}

	case errors.Is(err, domain.ErrNotFound):
		return HTTPError{
			StatusCode: http.StatusNotFound,
			Code:       "NOT_FOUND",
			Message:    err.Error(),
		}

	case errors.Is(err, domain.ErrProviderFailure),
		errors.Is(err, domain.ErrDirectoryFailure),
		errors.Is(err, domain.ErrOAuthFailure):
		return HTTPError{
			StatusCode: http.StatusBadGateway,
			Code:       "UPSTREAM_FAILURE",
			Message:    "an upstream service failed, please retry",
		}

	case errors.Is(err, domain.ErrStoreUnavailable):
		return HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Code:       "UNAVAILABLE",
			Message:    "service temporarily unavailable",
		}

	default:
		// Never expose internal error details to clients.
		return HTTPError{
			StatusCode: http.StatusInternalServerError,
			Code:       "INTERNAL",
			Message:    "internal error",
		}
	}
}

// ToHTTPStatusCode extracts just the HTTP status code for a domain error.
func ToHTTPStatusCode(err error) int {
	return ToHTTPError(err).StatusCode
}
