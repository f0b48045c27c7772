package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/tokengate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testStore(t *testing.T, users map[string]string) *Store {
	t.Helper()
	if users == nil {
		users = map[string]string{"alice@example.com": "password123"}
	}
	s, err := NewStore(users, time.Hour, testLogger())
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorBody {
	t.Helper()
	var body models.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func postJSON(handler http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// --- NormalizeEmail ---

func TestNormalizeEmail(t *testing.T) {
	tests := map[string]string{
		"alice@example.com":       "alice@example.com",
		"  Alice@Example.COM ":    "alice@example.com",
		"ａlice@example.com":  "alice@example.com",
		"bob+tag@EXAMPLE.org":     "bob+tag@example.org",
		"":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeEmail(in), "input %q", in)
	}
}

// --- Store ---

func TestStore_CheckPassword(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	s := testStore(t, map[string]string{
		"alice@example.com": "password123",
		"Bob@Example.com":   string(hashed),
	})

	assert.True(t, s.CheckPassword("alice@example.com", "password123"))
	assert.True(t, s.CheckPassword("ALICE@example.com", "password123"), "email is case-insensitive")
	assert.True(t, s.CheckPassword("bob@example.com", "hunter2"), "pre-hashed passwords are used as-is")
	assert.False(t, s.CheckPassword("alice@example.com", "wrong"))
	assert.False(t, s.CheckPassword("carol@example.com", "password123"))
	assert.False(t, s.CheckPassword("bob@example.com", string(hashed)), "the hash itself is not the password")
}

func TestStore_RefreshLifecycle(t *testing.T) {
	s := testStore(t, nil)

	rt := s.IssueRefresh("Alice@Example.com")
	assert.Equal(t, "alice@example.com", rt.Email)
	assert.Len(t, rt.Token, 36, "uuid string")

	got := s.ValidateRefresh(rt.Token)
	require.NotNil(t, got)
	assert.Equal(t, rt.Email, got.Email)

	assert.Nil(t, s.ValidateRefresh(""))
	assert.Nil(t, s.ValidateRefresh("unknown"))

	assert.True(t, s.Revoke(rt.Token))
	assert.False(t, s.Revoke(rt.Token))
	assert.Nil(t, s.ValidateRefresh(rt.Token))
}

func TestStore_RevokeUser(t *testing.T) {
	s := testStore(t, nil)

	a1 := s.IssueRefresh("alice@example.com")
	a2 := s.IssueRefresh("alice@example.com")
	b := s.IssueRefresh("bob@example.com")

	assert.Equal(t, 2, s.RevokeUser("ALICE@example.com"))
	assert.Nil(t, s.ValidateRefresh(a1.Token))
	assert.Nil(t, s.ValidateRefresh(a2.Token))
	assert.NotNil(t, s.ValidateRefresh(b.Token))
}

func TestStore_ExpiredRefreshIsRejectedAndCleaned(t *testing.T) {
	s, err := NewStore(nil, -time.Second, testLogger())
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	rt := s.IssueRefresh("alice@example.com")
	assert.Nil(t, s.ValidateRefresh(rt.Token))

	assert.Equal(t, 1, s.cleanup())
	assert.Equal(t, 0, s.cleanup())
}

func TestStore_StopIsIdempotent(t *testing.T) {
	s := testStore(t, nil)
	s.Stop()
	s.Stop()
}

// --- Issuer ---

func TestIssuer_RoundTrip(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Minute)

	token, err := issuer.Issue("Alice@Example.com")
	require.NoError(t, err)

	email, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
}

func TestIssuer_RejectsExpired(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Minute)
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return issued }

	token, err := issuer.Issue("alice@example.com")
	require.NoError(t, err)

	issuer.now = func() time.Time { return issued.Add(2 * time.Minute) }

	_, err = issuer.Validate(token)
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid or expired token")
}

func TestIssuer_RejectsForeignTokens(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Minute)

	other, err := NewIssuer(strings.Repeat("x", 32), time.Minute).Issue("alice@example.com")
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Subject:   "alice@example.com",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	claims.Issuer = issuerName
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": other,
		"wrong issuer": wrongIssuer,
		"alg none":     unsigned,
		"garbage":      "not.a.jwt",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Validate(token)
			assert.Error(t, err)
		})
	}
}

// --- HandleLogin ---

func TestHandleLogin_Success(t *testing.T) {
	s := testStore(t, nil)
	issuer := NewIssuer(testSecret, time.Minute)
	handler := HandleLogin(s, issuer, testLogger())

	rec := postJSON(handler, "/auth/login", `{"email":"alice@example.com","password":"password123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp models.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	email, err := issuer.Validate(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
	assert.NotNil(t, s.ValidateRefresh(resp.RefreshToken))
}

func TestHandleLogin_Rejections(t *testing.T) {
	s := testStore(t, nil)
	handler := HandleLogin(s, NewIssuer(testSecret, time.Minute), testLogger())

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"wrong password", `{"email":"alice@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"email":"eve@example.com","password":"password123"}`, http.StatusUnauthorized},
		{"missing password", `{"email":"alice@example.com"}`, http.StatusBadRequest},
		{"invalid json", `{"email":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(handler, "/auth/login", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			body := decodeError(t, rec)
			assert.Equal(t, tt.status, body.StatusCode)
			assert.Equal(t, http.StatusText(tt.status), body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestHandleLogin_RateLimited(t *testing.T) {
	s := testStore(t, nil)
	handler := HandleLogin(s, NewIssuer(testSecret, time.Minute), testLogger())

	for range rateLimitMaxFail {
		rec := postJSON(handler, "/auth/login", `{"email":"alice@example.com","password":"nope"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := postJSON(handler, "/auth/login", `{"email":"alice@example.com","password":"password123"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoginRateLimiter_WindowExpires(t *testing.T) {
	rl := newLoginRateLimiter()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for range rateLimitMaxFail {
		rl.record("10.0.0.1")
	}
	assert.True(t, rl.limited("10.0.0.1"))
	assert.False(t, rl.limited("10.0.0.2"))

	now = now.Add(rateLimitWindow + time.Second)
	assert.False(t, rl.limited("10.0.0.1"))
	assert.NotContains(t, rl.failures, "10.0.0.1")
}

// --- HandleRefresh ---

func TestHandleRefresh(t *testing.T) {
	s := testStore(t, nil)
	issuer := NewIssuer(testSecret, time.Minute)
	handler := HandleRefresh(s, issuer, testLogger())
	rt := s.IssueRefresh("alice@example.com")

	rec := postJSON(handler, "/auth/refresh-access-token", `{"refreshToken":"`+rt.Token+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.RefreshResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	email, err := issuer.Validate(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	rec = postJSON(handler, "/auth/refresh-access-token", `{"refreshToken":"bogus"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, decodeError(t, rec).StatusCode)

	rec = postJSON(handler, "/auth/refresh-access-token", `nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, int64(3), s.RefreshCalls(), "every call is counted")
}

// --- Middleware ---

func TestMiddleware(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Minute)

	var seen string
	protected := Middleware(issuer, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestEmail(r.Context())
		assert.NotEmpty(t, RequestRemoteIP(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := issuer.Issue("alice@example.com")
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "alice@example.com", seen)
	})

	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"bad token":  "Bearer nope",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			assert.Equal(t, http.StatusUnauthorized, decodeError(t, rec).StatusCode)
		})
	}
}
