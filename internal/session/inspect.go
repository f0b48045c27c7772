package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo describes the readable claims of an access token.
type TokenInfo struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token expiry has passed at now. Tokens
// without an expiry never expire.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Inspect decodes the claims of a JWT access token without verifying its
// signature. The result is for display only; the gateway treats tokens as
// opaque. The second return value is false when token is not a JWT.
func Inspect(token string) (TokenInfo, bool) {
	if token == "" {
		return TokenInfo{}, false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, false
	}

	info := TokenInfo{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}

	return info, true
}
