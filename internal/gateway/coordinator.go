package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	apperrors "github.com/alexjbarnes/tokengate/internal/errors"
	"github.com/alexjbarnes/tokengate/internal/session"
	"golang.org/x/sync/singleflight"
)

// refreshKey is the single singleflight key: there is only ever one
// session per coordinator, so every refresh shares it.
const refreshKey = "access-token"

// Coordinator runs at most one token refresh at a time. Callers that
// arrive while a refresh is pending wait for it and observe its result
// instead of starting their own.
type Coordinator struct {
	store     session.Store
	refresher Refresher
	logger    *slog.Logger

	group singleflight.Group
	calls atomic.Int64
}

// NewCoordinator creates a coordinator that reads the refresh token from
// store and persists refreshed access tokens back into it.
func NewCoordinator(store session.Store, refresher Refresher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		store:     store,
		refresher: refresher,
		logger:    logger,
	}
}

// Refresh returns a new access token, joining the pending refresh if one
// is in flight. The refresh itself runs detached from ctx so one caller
// giving up does not fail the others; ctx only bounds how long this
// caller waits. Errors from the refresh wrap ErrRefreshFailed and leave
// the store cleared.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	return c.RefreshFrom(ctx, "")
}

// RefreshFrom is Refresh for a caller whose request was rejected while
// carrying stale. If the store already holds a different access token by
// the time a refresh would start, that token is returned and no refresh
// call is made.
//
// A flight that skipped the refresh did so for its leader's stale token.
// A caller that joined it and gets back its own stale token starts one
// more flight, which then refreshes.
func (c *Coordinator) RefreshFrom(ctx context.Context, stale string) (string, error) {
	token, err := c.join(ctx, stale)
	if err == nil && stale != "" && token == stale {
		return c.join(ctx, stale)
	}

	return token, err
}

func (c *Coordinator) join(ctx context.Context, stale string) (string, error) {
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		if stale != "" {
			if current := c.store.AccessToken(); current != "" && current != stale {
				return current, nil
			}
		}

		return c.refresh(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Refreshes returns how many refresh calls have reached the Refresher.
func (c *Coordinator) Refreshes() int64 {
	return c.calls.Load()
}

func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		c.clear()
		return "", fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, apperrors.ErrNoSession)
	}

	c.calls.Add(1)
	c.logger.Debug("refreshing access token")

	token, err := c.refresher.Refresh(ctx, refreshToken)
	if err == nil && token == "" {
		err = apperrors.ErrMalformedRefresh
	}

	if err != nil {
		c.logger.Warn("access token refresh failed", slog.String("error", err.Error()))
		c.clear()

		return "", fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}

	if err := c.store.SetAccessToken(token); err != nil {
		// The refreshed token is still good for the waiting requests.
		c.logger.Warn("failed to save refreshed access token", slog.String("error", err.Error()))
	}

	c.logger.Info("access token refreshed")

	return token, nil
}

func (c *Coordinator) clear() {
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear session", slog.String("error", err.Error()))
	}
}
