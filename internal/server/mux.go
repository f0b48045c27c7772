// Package server provides the development API server: the HTTP mux and
// the resources behind the bearer-token middleware.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/tokengate/internal/auth"
)

const maxRequestBody = 64 * 1024

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Store       *auth.Store
	Issuer      *auth.Issuer
	Jobs        *Jobs
	Logger      *slog.Logger
	LoginPath   string
	RefreshPath string
}

// NewMux builds the HTTP mux with the login and refresh endpoints and the
// /api resources. The resources are protected by Bearer token middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/auth/login"
	}

	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/auth/refresh-access-token"
	}

	if cfg.Jobs == nil {
		cfg.Jobs = NewJobs()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cfg.LoginPath, auth.HandleLogin(cfg.Store, cfg.Issuer, cfg.Logger))
	mux.HandleFunc("POST "+cfg.RefreshPath, auth.HandleRefresh(cfg.Store, cfg.Issuer, cfg.Logger))

	authMiddleware := auth.Middleware(cfg.Issuer, cfg.Logger)
	mux.Handle("GET /api/me", authMiddleware(http.HandlerFunc(handleMe)))
	mux.Handle("POST /api/jobs", authMiddleware(handleCreateJob(cfg.Jobs, cfg.Logger)))
	mux.Handle("GET /api/jobs/{id}", authMiddleware(handleGetJob(cfg.Jobs)))

	return mux
}

// New wraps handler in an http.Server with the timeouts used for the dev
// server.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
