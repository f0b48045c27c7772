package e2e_test

import (
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexjbarnes/tokengate/internal/api"
	"github.com/alexjbarnes/tokengate/internal/auth"
	"github.com/alexjbarnes/tokengate/internal/gateway"
	"github.com/alexjbarnes/tokengate/internal/server"
	"github.com/alexjbarnes/tokengate/internal/state"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-horse"
	jwtSecret    = "e2e-secret-that-is-at-least-32-bytes"

	// devIssuer is the "iss" claim the dev server puts on access tokens.
	devIssuer = "tokengate-dev"
)

// harness holds the full e2e stack: the dev API server on a real
// listener, a bbolt-backed session, and the gateway client in front of it.
type harness struct {
	URL         string
	Store       *auth.Store
	Session     *state.State
	Raw         *api.Client
	Client      *api.Client
	Coordinator *gateway.Coordinator
	Redirects   *atomic.Int32
}

type harnessOption func(*gateway.TransportConfig)

func redirectOnly() harnessOption {
	return func(cfg *gateway.TransportConfig) {
		cfg.RedirectOnlyOnMissingAccessToken = true
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	store, err := auth.NewStore(map[string]string{testEmail: testPassword}, time.Hour, logger)
	require.NoError(t, err)
	t.Cleanup(store.Stop)

	ts := httptest.NewServer(server.NewMux(server.MuxConfig{
		Store:  store,
		Issuer: auth.NewIssuer(jwtSecret, time.Minute),
		Logger: logger,
	}))
	t.Cleanup(ts.Close)

	sess, err := state.LoadAt(filepath.Join(t.TempDir(), "session.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	raw := api.NewClient(ts.URL, ts.Client(), api.DefaultEndpoints)
	coordinator := gateway.NewCoordinator(sess, gateway.RefreshFunc(raw.RefreshAccessToken), logger)

	var redirects atomic.Int32

	cfg := gateway.TransportConfig{
		Base:        ts.Client().Transport,
		Host:        ts.Listener.Addr().String(),
		Store:       sess,
		Coordinator: coordinator,
		Redirector:  gateway.RedirectFunc(func() { redirects.Add(1) }),
		Logger:      logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := gateway.NewTransport(cfg)

	return &harness{
		URL:         ts.URL,
		Store:       store,
		Session:     sess,
		Raw:         raw,
		Client:      api.NewClient(ts.URL, transport.Client(10*time.Second), api.DefaultEndpoints),
		Coordinator: coordinator,
		Redirects:   &redirects,
	}
}

// signIn logs in over HTTP and stores the tokens in the session.
func (h *harness) signIn(t *testing.T) {
	t.Helper()

	tokens, err := h.Raw.Login(t.Context(), testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, h.Session.SetTokens(tokens.AccessToken, tokens.RefreshToken))
}

// expireAccessToken replaces the stored access token with a correctly
// signed one that expired a minute ago.
func (h *harness) expireAccessToken(t *testing.T) string {
	t.Helper()

	past := time.Now().Add(-2 * time.Minute)
	claims := jwt.RegisteredClaims{
		Subject:   testEmail,
		Issuer:    devIssuer,
		IssuedAt:  jwt.NewNumericDate(past),
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
	}

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	require.NoError(t, h.Session.SetAccessToken(expired))

	return expired
}
