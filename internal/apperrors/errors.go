package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("username or email already in use")

	ErrTokenExpired = errors.New("access token expired")
	ErrTokenInvalid = errors.New("access token malformed")
	ErrNotLoggedIn  = errors.New("not logged in")

	ErrNoRefreshToken     = errors.New("no refresh token stored")
	ErrRefreshRejected    = errors.New("refresh token rejected")
	ErrRefreshUnavailable = errors.New("refresh endpoint unavailable")

	ErrProfileRejected = errors.New("profile request rejected")

	ErrNetwork     = errors.New("cannot reach server")
	ErrServerError = errors.New("server error")
)

// APIError carries the message the backend returned alongside the sentinel
// that classifies it. The server message is user facing and should be shown
// verbatim (e.g. on a failed login form).
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %v", e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError wraps sentinel with the status code and server message of the
// response that produced it.
func NewAPIError(status int, message string, sentinel error) *APIError {
	return &APIError{
		StatusCode: status,
		Message:    message,
		Err:        sentinel,
	}
}

// ServerMessage extracts the backend provided message from err, or returns
// fallback when err carries none.
func ServerMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
