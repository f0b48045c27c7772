package errors

import "errors"

// Session errors.
var (
	ErrNoSession          = errors.New("no active session, sign in again")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Refresh errors.
var (
	ErrRefreshFailed    = errors.New("access token refresh failed")
	ErrMalformedRefresh = errors.New("refresh response has no access token")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
