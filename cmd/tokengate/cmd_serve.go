package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alexjbarnes/tokengate/internal/auth"
	"github.com/alexjbarnes/tokengate/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveDevCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-dev",
		Short: "Run a local API server to try the client against",
		Long: `Run a development API server with password sign-in, refresh tokens,
short-lived JWT access tokens, /api/me and a /api/jobs resource. Users
come from DEV_USERS as email:password pairs; passwords may be bcrypt
hashes from "tokengate hash-password".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.IsProduction() {
				return fmt.Errorf("serve-dev does not run with ENVIRONMENT=production")
			}

			if err := a.cfg.RequireDevServer(); err != nil {
				return err
			}

			users, err := a.cfg.ParseDevUsers()
			if err != nil {
				return fmt.Errorf("parsing DEV_USERS: %w", err)
			}

			store, err := auth.NewStore(users, a.cfg.DevRefreshTTL, a.logger)
			if err != nil {
				return err
			}
			defer store.Stop()

			srv := server.New(a.cfg.DevListenAddr, server.NewMux(server.MuxConfig{
				Store:       store,
				Issuer:      auth.NewIssuer(a.cfg.DevJWTSecret, a.cfg.DevAccessTTL),
				Logger:      a.logger,
				LoginPath:   a.cfg.LoginPath,
				RefreshPath: a.cfg.RefreshPath,
			}))

			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", srv.Addr, err)
			}

			a.logger.Info("dev server starting",
				slog.String("version", Version),
				slog.String("listen", ln.Addr().String()),
				slog.Int("users", len(users)),
				slog.Duration("access_ttl", a.cfg.DevAccessTTL),
			)

			return serve(cmd.Context(), srv, ln, a.logger)
		},
	}
}

// serve runs srv on ln until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
