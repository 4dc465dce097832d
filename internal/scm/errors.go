// errors.go defines sentinel error values shared across all code-host
// connector implementations, covering configuration, OAuth, webhook, and
// repository operation failures.
package scm

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrInvalidProviderKind  = errors.New("invalid provider kind")
	ErrProviderNotSupported = errors.New("provider not supported")
	ErrMissingClientID      = errors.New("missing OAuth client ID")
	ErrMissingClientSecret  = errors.New("missing OAuth client secret")
	ErrMissingRedirectURL   = errors.New("missing OAuth redirect URL")

	// Remote API errors. Connectors map well-known HTTP statuses onto
	// these so callers can branch with errors.Is without knowing which
	// platform produced the response.
	ErrUnauthorized      = errors.New("code host rejected credentials")
	ErrForbidden         = errors.New("access forbidden by code host")
	ErrNotFound          = errors.New("resource not found on code host")
	ErrConflict          = errors.New("resource conflict on code host")
	ErrRateLimited       = errors.New("code host rate limit exceeded")
	ErrRemoteUnavailable = errors.New("code host unavailable")

	// OAuth errors
	ErrAuthCodeExchangeFailed = errors.New("failed to exchange authorization code")
	ErrTokenRefreshFailed     = errors.New("failed to refresh OAuth token")
	ErrNoRefreshToken         = errors.New("connection has no refresh token")

	// Run log errors. Hosts garbage-collect CI logs after a retention
	// window, so a missing log archive is an expected condition.
	ErrLogsExpired = errors.New("run logs expired or deleted")

	// Webhook errors
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
	ErrMalformedDelivery = errors.New("malformed webhook delivery")
)

// APIError represents an error response from a code-host API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("code host API error (status %d): %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("code host API error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("code host API error (status %d)", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new API error
func NewAPIError(statusCode int, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// WrapRemoteError converts an HTTP error response into an APIError wrapping
// the sentinel that matches the status code. A non-nil err takes precedence
// over the status mapping so transport failures stay inspectable.
func WrapRemoteError(statusCode int, message string, err error) error {
	if err == nil {
		switch {
		case statusCode == 401:
			err = ErrUnauthorized
		case statusCode == 403:
			err = ErrForbidden
		case statusCode == 404:
			err = ErrNotFound
		case statusCode == 409 || statusCode == 422:
			err = ErrConflict
		case statusCode == 429:
			err = ErrRateLimited
		case statusCode >= 500:
			err = ErrRemoteUnavailable
		}
	}
	return NewAPIError(statusCode, message, err)
}

// Retryable reports whether the operation that produced err is worth
// retrying. Network-level failures (no status), rate limits, and server
// errors qualify; auth failures and missing resources do not.
func Retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == 0 {
		return true
	}
	return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
}
