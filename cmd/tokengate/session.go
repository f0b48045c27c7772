package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/alexjbarnes/tokengate/internal/api"
	apperrors "github.com/alexjbarnes/tokengate/internal/errors"
	"github.com/alexjbarnes/tokengate/internal/gateway"
	"github.com/alexjbarnes/tokengate/internal/state"
)

// signInRedirect is the CLI's stand-in for navigating to the sign-in
// page: it tells the user where to re-authenticate and makes the running
// command fail with ErrNoSession.
type signInRedirect struct {
	url    string
	logger *slog.Logger
	fired  atomic.Bool
}

func (r *signInRedirect) Redirect() {
	if r.fired.Swap(true) {
		return
	}

	r.logger.Warn("session ended, sign in again with `tokengate login`",
		slog.String("redirect", r.url),
	)
}

// result folds the redirect into the command's error.
func (r *signInRedirect) result(err error) error {
	if !r.fired.Load() {
		return err
	}

	if err == nil {
		return apperrors.ErrNoSession
	}

	return fmt.Errorf("%w: %w", apperrors.ErrNoSession, err)
}

// apiSession is an open session database plus the two API clients built
// on it: raw for sign-in and refresh, authed for everything else.
type apiSession struct {
	state       *state.State
	raw         *api.Client
	authed      *api.Client
	coordinator *gateway.Coordinator
	redirect    *signInRedirect
}

func (a *app) openSession() (*apiSession, error) {
	if err := a.cfg.RequireClient(); err != nil {
		return nil, err
	}

	st, err := state.LoadAt(a.cfg.SessionDB, a.logger)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	endpoints := api.Endpoints{Login: a.cfg.LoginPath, Refresh: a.cfg.RefreshPath}
	raw := api.NewClient(a.cfg.APIBaseURL, &http.Client{Timeout: a.cfg.HTTPTimeout}, endpoints)

	redirectURL := a.cfg.AuthRedirectURL
	if strings.HasPrefix(redirectURL, "/") {
		redirectURL = a.cfg.URL(redirectURL)
	}

	redirect := &signInRedirect{url: redirectURL, logger: a.logger}
	coordinator := gateway.NewCoordinator(st, gateway.RefreshFunc(raw.RefreshAccessToken), a.logger)

	transport := gateway.NewTransport(gateway.TransportConfig{
		Store:                            st,
		Coordinator:                      coordinator,
		Redirector:                       redirect,
		LoginSegment:                     a.cfg.LoginSegment,
		Host:                             a.cfg.APIHost(),
		RedirectOnlyOnMissingAccessToken: !a.cfg.ClearOnMissingAccessToken,
		Logger:                           a.logger,
	})

	return &apiSession{
		state:       st,
		raw:         raw,
		authed:      api.NewClient(a.cfg.APIBaseURL, transport.Client(a.cfg.HTTPTimeout), endpoints),
		coordinator: coordinator,
		redirect:    redirect,
	}, nil
}

func (s *apiSession) Close() error {
	return s.state.Close()
}
