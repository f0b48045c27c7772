package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const (
	ctxEmail contextKey = iota
	ctxRemoteIP
)

// RequestEmail returns the authenticated user's email from the context, or "".
func RequestEmail(ctx context.Context) string {
	v, _ := ctx.Value(ctxEmail).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// Middleware returns HTTP middleware that validates Bearer access tokens.
// Missing, malformed and expired tokens all get a 401 with the API's
// error body, which is what tells clients to refresh.
func Middleware(issuer *Issuer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)
			authHeader := r.Header.Get("Authorization")

			if !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "authentication required")

				return
			}

			email, err := issuer.Validate(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				logger.Debug("middleware: invalid bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "invalid or expired access token")

				return
			}

			logger.Debug("middleware: authenticated",
				slog.String("email", email),
				slog.String("ip", ip),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxEmail, email)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
