package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Sidrek1992/CFT-App-sub001/internal/dispatch"
	"github.com/Sidrek1992/CFT-App-sub001/internal/google"
	"github.com/Sidrek1992/CFT-App-sub001/internal/instrumentation"
	"github.com/Sidrek1992/CFT-App-sub001/internal/observability"
	"github.com/Sidrek1992/CFT-App-sub001/internal/ratelimit"
	"github.com/Sidrek1992/CFT-App-sub001/internal/session"
	"github.com/Sidrek1992/CFT-App-sub001/internal/store"
	"github.com/Sidrek1992/CFT-App-sub001/internal/tokenmeta"
)

// HTTP server timeouts.
const (
	DefaultHTTPAddr          = ":4000"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 120 * time.Second

	// revokeTimeout bounds the best-effort revocation on logout.
	revokeTimeout = 5 * time.Second
)

// Config wires a Server.
type Config struct {
	Codec     *session.Codec
	Store     store.Store
	TokenMeta tokenmeta.Store
	Dispatch  *dispatch.Service

	// Google is nil when no OAuth client is configured; sign-in endpoints
	// then answer 500 missing_google_credentials.
	Google *google.Provider

	// AuthLimiter throttles the sign-in endpoints per client IP. Optional.
	AuthLimiter *ratelimit.IPLimiter

	// BaseURL is APP_BASE_URL. When empty it is derived per request.
	BaseURL string

	// CookieSecure marks the OAuth state cookie Secure.
	CookieSecure bool

	Metrics       *instrumentation.Metrics
	ServerContext *ServerContext
	Version       string
	Logger        *slog.Logger
	Now           func() time.Time
}

// Server is the cftmail HTTP API.
type Server struct {
	codec       *session.Codec
	store       store.Store
	tokenMeta   tokenmeta.Store
	dispatch    *dispatch.Service
	google      *google.Provider
	authLimiter *ratelimit.IPLimiter
	baseURL     string
	secure      bool
	metrics     *instrumentation.Metrics
	health      *HealthChecker
	logger      *slog.Logger
	now         func() time.Time

	handler    http.Handler
	httpServer *http.Server
}

// New validates cfg and builds the routes.
func New(cfg Config) (*Server, error) {
	if cfg.Codec == nil {
		return nil, errors.New("session codec is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.TokenMeta == nil {
		return nil, errors.New("token meta store is required")
	}
	if cfg.Dispatch == nil {
		return nil, errors.New("dispatch service is required")
	}
	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
	}

	s := &Server{
		codec:       cfg.Codec,
		store:       cfg.Store,
		tokenMeta:   cfg.TokenMeta,
		dispatch:    cfg.Dispatch,
		google:      cfg.Google,
		authLimiter: cfg.AuthLimiter,
		baseURL:     cfg.BaseURL,
		secure:      cfg.CookieSecure,
		metrics:     cfg.Metrics,
		health:      NewHealthChecker(cfg.ServerContext),
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.health.SetVersion(cfg.Version)

	s.handler = otelhttp.NewHandler(
		observability.Middleware(s.logger, s.instrumentationMiddleware(s.routes())),
		"cftmail.http",
	)
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	auth := func(h http.HandlerFunc) http.Handler {
		if s.authLimiter == nil {
			return h
		}
		return s.authLimiter.Middleware(h)
	}

	mux.Handle("GET /api/auth/google", auth(s.handleGoogleAuth))
	mux.Handle("GET /api/auth/google/callback", auth(s.handleGoogleCallback))
	mux.HandleFunc("GET /api/auth/status", s.handleStatus)
	mux.Handle("POST /api/auth/refresh", auth(s.handleRefresh))
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/token-meta", s.handleGetTokenMeta)
	mux.HandleFunc("PUT /api/auth/token-meta", s.handlePutTokenMeta)

	mux.HandleFunc("POST /api/gmail/send", s.handleSend)
	mux.HandleFunc("GET /api/user/sent-history", s.handleSentHistory)

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	s.health.RegisterHealthEndpoints(mux)

	return mux
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Health returns the health checker, for readiness toggling on shutdown.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = DefaultHTTPAddr
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	s.logger.Info("starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// validateHTTPSRequirement ensures OAuth redirect and app URLs use HTTPS.
// Allows HTTP only for loopback addresses (localhost, 127.0.0.1, ::1)
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	// Parse URL to properly validate scheme and host
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	// Allow HTTP only for loopback addresses
	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("OAuth requires HTTPS outside development (got: %s). Use HTTPS or localhost for development", baseURL)
		}
	} else if u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}

	return nil
}

// ValidateRedirectURL checks an OAuth redirect URL before the server starts.
func ValidateRedirectURL(redirectURL string) error {
	return validateHTTPSRequirement(redirectURL)
}
