package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/tokengate/internal/errors"
	"github.com/alexjbarnes/tokengate/internal/session"
)

const (
	// defaultLoginSegment marks requests that are never refreshed: a 401
	// from the login endpoint means bad credentials, not an expired token.
	defaultLoginSegment = "login"

	// maxDrainBytes bounds how much of a discarded 401 body is read so
	// the connection can be reused.
	maxDrainBytes = 64 * 1024
)

// TransportConfig holds the collaborators of a Transport.
type TransportConfig struct {
	// Base sends the actual requests. Defaults to http.DefaultTransport.
	Base         http.RoundTripper
	Store        session.Store
	Coordinator  *Coordinator
	Redirector   Redirector
	LoginSegment string

	// Host is the API's host[:port]. Requests to any other host, such as
	// redirect targets, are sent without the access token and are never
	// refreshed. Empty means every host is the API.
	Host string

	// RedirectOnlyOnMissingAccessToken keeps the stored credentials when
	// a 401 arrives and no access token is stored, redirecting without
	// clearing. By default the session is cleared first.
	RedirectOnlyOnMissingAccessToken bool

	Logger *slog.Logger
}

// Transport is an http.RoundTripper that authenticates requests with the
// session's access token and refreshes it on 401 responses.
//
// Requests for hosts other than the configured API host pass through
// untouched. Responses other than 401, and any response to a request whose path
// contains the login segment, are returned untouched. A 401 with no
// stored access or refresh token ends the session (clear, redirect) and
// is returned as-is. Otherwise the request is replayed once with a
// refreshed token and the replay's outcome is returned, whatever it is.
// If the refresh fails the session is ended and RoundTrip returns an
// error wrapping ErrRefreshFailed.
type Transport struct {
	base         http.RoundTripper
	store        session.Store
	coordinator  *Coordinator
	redirector   Redirector
	loginSegment string
	host         string
	redirectOnly bool
	logger       *slog.Logger
}

// NewTransport creates a Transport from cfg.
func NewTransport(cfg TransportConfig) *Transport {
	t := &Transport{
		base:         cfg.Base,
		store:        cfg.Store,
		coordinator:  cfg.Coordinator,
		redirector:   cfg.Redirector,
		loginSegment: cfg.LoginSegment,
		host:         cfg.Host,
		redirectOnly: cfg.RedirectOnlyOnMissingAccessToken,
		logger:       cfg.Logger,
	}

	if t.base == nil {
		t.base = http.DefaultTransport
	}

	if t.loginSegment == "" {
		t.loginSegment = defaultLoginSegment
	}

	if t.logger == nil {
		t.logger = slog.Default()
	}

	if t.redirector == nil {
		t.redirector = RedirectFunc(func() {})
	}

	return t
}

// Client returns an http.Client that sends every request through t.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// modified.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.forAPI(req) {
		return t.base.RoundTrip(req)
	}

	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	sent := t.store.AccessToken()

	resp, err := t.base.RoundTrip(withBearer(req, sent))
	if err != nil {
		return nil, err
	}

	if !t.isAuthFailure(req, resp) {
		return resp, nil
	}

	return t.recoverSession(req, resp, sent)
}

// forAPI reports whether req is addressed to the API host.
func (t *Transport) forAPI(req *http.Request) bool {
	return t.host == "" || strings.EqualFold(req.URL.Host, t.host)
}

// isAuthFailure reports whether resp is a 401 on a non-login request.
func (t *Transport) isAuthFailure(req *http.Request, resp *http.Response) bool {
	return resp.StatusCode == http.StatusUnauthorized &&
		!strings.Contains(req.URL.Path, t.loginSegment)
}

func (t *Transport) recoverSession(req *http.Request, resp *http.Response, sent string) (*http.Response, error) {
	log := t.logger.With(
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
	)

	current := t.store.AccessToken()
	if current == "" {
		if t.redirectOnly {
			log.Info("unauthorized without access token, redirecting to sign-in")
			t.redirector.Redirect()

			return resp, nil
		}

		t.endSession(log, "unauthorized without access token")

		return resp, nil
	}

	// Another request refreshed the token after this one was sent.
	if current != sent {
		log.Debug("replaying with newer access token")
		drain(resp)

		return t.replay(req, current)
	}

	if t.store.RefreshToken() == "" {
		t.endSession(log, "unauthorized without refresh token")
		return resp, nil
	}

	drain(resp)

	token, err := t.coordinator.RefreshFrom(req.Context(), sent)
	if err != nil {
		if errors.Is(err, apperrors.ErrRefreshFailed) {
			t.endSession(log, "token refresh failed")
		}

		return nil, err
	}

	log.Debug("replaying with refreshed access token")

	return t.replay(req, token)
}

// replay sends req once more straight to the base transport, so a second
// 401 is returned to the caller instead of triggering another refresh.
func (t *Transport) replay(req *http.Request, token string) (*http.Response, error) {
	out := withBearer(req, token)

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}

		out.Body = body
	}

	return t.base.RoundTrip(out)
}

// endSession clears the stored credentials and redirects to sign-in.
// Running it more than once leaves the same cleared state.
func (t *Transport) endSession(log *slog.Logger, reason string) {
	log.Info("session ended, redirecting to sign-in", slog.String("reason", reason))

	if err := t.store.Clear(); err != nil {
		log.Warn("failed to clear session", slog.String("error", err.Error()))
	}

	t.redirector.Redirect()
}

// replayable returns a request whose body can be read twice. Requests
// without a body, or that already provide GetBody, are returned as-is.
// Otherwise the body is buffered into a shallow copy of req.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()

	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.ContentLength = int64(len(data))

	return out, nil
}

// withBearer clones req and sets its Authorization header to token. An
// empty token leaves the headers as the caller set them.
func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if out.Header == nil {
		out.Header = make(http.Header)
	}

	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	return out
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	resp.Body.Close()
}
