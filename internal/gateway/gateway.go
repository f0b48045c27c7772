// Package gateway wraps outgoing API requests with the session's bearer
// token and recovers from expired access tokens. A 401 on any request
// other than a login triggers one shared token refresh; every request
// that failed while that refresh was pending is replayed exactly once
// with the token it produced.
package gateway

import "context"

//go:generate mockgen -source=gateway.go -destination=mock_gateway.go -package=gateway

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// RefreshFunc adapts a function to the Refresher interface.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, error)

func (f RefreshFunc) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return f(ctx, refreshToken)
}

// Redirector sends the user back to the sign-in entry point once the
// session cannot be recovered. It is fire-and-forget.
type Redirector interface {
	Redirect()
}

// RedirectFunc adapts a function to the Redirector interface.
type RedirectFunc func()

func (f RedirectFunc) Redirect() { f() }
