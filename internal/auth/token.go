package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/alexjbarnes/tokengate/internal/errors"
	"github.com/alexjbarnes/tokengate/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// issuerName is the "iss" claim of every access token.
	issuerName = "tokengate-dev"

	// maxRequestBody caps login and refresh request bodies.
	maxRequestBody = 64 * 1024
)

// Issuer signs and validates HS256 access tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer whose tokens live for ttl.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed access token for email.
func (i *Issuer) Issue(email string) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   NormalizeEmail(email),
		Issuer:    issuerName,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}

	return signed, nil
}

// Validate checks the signature, issuer and expiry of token and returns
// its subject.
func (i *Issuer) Validate(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	if !parsed.Valid || claims.Subject == "" {
		return "", apperrors.ErrInvalidToken
	}

	return claims.Subject, nil
}

// HandleLogin returns the login handler. It exchanges an email and
// password for an access token and a refresh token.
func HandleLogin(store *Store, issuer *Issuer, logger *slog.Logger) http.HandlerFunc {
	limiter := newLoginRateLimiter()

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		ip := remoteIP(r)
		if limiter.limited(ip) {
			logger.Warn("login rate limited", slog.String("ip", ip))
			writeError(w, http.StatusTooManyRequests, "too many failed login attempts, try again later")

			return
		}

		var req models.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		if !store.CheckPassword(req.Email, req.Password) {
			logger.Warn("login failed", slog.String("email", NormalizeEmail(req.Email)), slog.String("ip", ip))
			limiter.record(ip)
			writeError(w, http.StatusUnauthorized, "invalid email or password")

			return
		}

		access, err := issuer.Issue(req.Email)
		if err != nil {
			logger.Error("issuing access token", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "could not issue token")

			return
		}

		rt := store.IssueRefresh(req.Email)

		logger.Info("login successful", slog.String("email", rt.Email))

		writeJSON(w, http.StatusOK, models.LoginResponse{
			AccessToken:  access,
			RefreshToken: rt.Token,
		})
	}
}

// HandleRefresh returns the refresh handler. It exchanges a refresh
// token for a new access token. The refresh token itself is not rotated.
func HandleRefresh(store *Store, issuer *Issuer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store.countRefresh()

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		var req models.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rt := store.ValidateRefresh(req.RefreshToken)
		if rt == nil {
			logger.Debug("refresh rejected", slog.String("ip", remoteIP(r)))
			writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")

			return
		}

		access, err := issuer.Issue(rt.Email)
		if err != nil {
			logger.Error("issuing access token", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "could not issue token")

			return
		}

		logger.Debug("access token refreshed", slog.String("email", rt.Email))

		writeJSON(w, http.StatusOK, models.RefreshResponse{AccessToken: access})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the API's error body for status.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorBody{
		Message:    message,
		Error:      http.StatusText(status),
		StatusCode: status,
	})
}

// WriteError is writeError for handlers outside this package.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeError(w, status, message)
}

// WriteJSON is writeJSON for handlers outside this package.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}
