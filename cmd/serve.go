package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/Sidrek1992/CFT-App-sub001/internal/dispatch"
	"github.com/Sidrek1992/CFT-App-sub001/internal/gmail"
	"github.com/Sidrek1992/CFT-App-sub001/internal/google"
	"github.com/Sidrek1992/CFT-App-sub001/internal/instrumentation"
	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
	"github.com/Sidrek1992/CFT-App-sub001/internal/ratelimit"
	"github.com/Sidrek1992/CFT-App-sub001/internal/server"
	"github.com/Sidrek1992/CFT-App-sub001/internal/session"
	"github.com/Sidrek1992/CFT-App-sub001/internal/store"
	"github.com/Sidrek1992/CFT-App-sub001/internal/tokenmeta"
)

// janitorInterval is how often idle rate limit entries are swept.
const janitorInterval = time.Minute

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the cftmail HTTP API.

Sign-in with Google:
  --google-client-id, --google-client-secret and --google-redirect-uri
  (or GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, GOOGLE_REDIRECT_URI).
  Without them the server starts, but sign-in answers missing_google_credentials.

Sessions:
  --session-secret or SESSION_SECRET is required; the server refuses to start
  without it.

Storage:
  --database-url / DATABASE_URL selects Postgres (see "cftmail migrate").
  --redis-url / REDIS_URL stores token metadata in Redis.
  Both fall back to in-memory storage, which does not survive restarts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, newLogger())
		},
	}

	addServeFlags(cmd.Flags())
	return cmd
}

// staticTokens is the TokenSourcer used when no OAuth client is configured:
// session tokens are used as-is and never refreshed.
type staticTokens struct{}

func (staticTokens) TokenSource(_ context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return oauth2.StaticTokenSource(tok)
}

func runServe(parent context.Context, cfg ServeConfig, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	codec, err := session.NewCodec(session.Config{
		Secret: []byte(cfg.SessionSecret),
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	})
	if err != nil {
		return fmt.Errorf("invalid session configuration: %w", err)
	}

	instrConfig, err := instrumentation.LoadConfig(version)
	if err != nil {
		return err
	}
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	serverContext := server.NewServerContext(ctx)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	serverContext.AddCheck("store", st.Ping)

	meta, closeMeta, err := openTokenMeta(ctx, cfg, logger, serverContext)
	if err != nil {
		return err
	}
	defer closeMeta()

	var googleProvider *google.Provider
	var tokens dispatch.TokenSourcer = staticTokens{}
	if cfg.GoogleConfigured() {
		googleProvider, err = google.NewProvider(google.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			Scopes:       parseCommaSeparatedList(cfg.GoogleScopes),
		})
		if err != nil {
			return fmt.Errorf("invalid Google OAuth configuration: %w", err)
		}
		tokens = googleProvider
	} else {
		logger.Warn("Google OAuth is not configured: sign-in is disabled and expired tokens cannot be refreshed")
	}

	sendLimiter := ratelimit.NewFixedWindow()
	sendLimiter.StartJanitor(ctx, janitorInterval)
	authLimiter := ratelimit.NewIPLimiter(ratelimit.DefaultIPRate, ratelimit.DefaultIPBurst, cfg.TrustProxy)
	authLimiter.StartJanitor(ctx, janitorInterval)

	svc, err := dispatch.NewService(dispatch.Config{
		Officials: st,
		Audit:     st,
		Limiter:   sendLimiter,
		Tokens:    tokens,
		NewSender: func(ctx context.Context, ts oauth2.TokenSource) (dispatch.Sender, error) {
			return gmail.NewClient(ctx, ts)
		},
		Metrics:     metrics,
		AuditLogger: instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.Audit),
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatch service: %w", err)
	}

	srv, err := server.New(server.Config{
		Codec:         codec,
		Store:         st,
		TokenMeta:     meta,
		Dispatch:      svc,
		Google:        googleProvider,
		AuthLimiter:   authLimiter,
		BaseURL:       cfg.AppBaseURL,
		CookieSecure:  cfg.CookieSecure,
		Metrics:       metrics,
		ServerContext: serverContext,
		Version:       version,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.MetricsHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			Enabled:                 true,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- err
			}
		}()

		// Wait for metrics server to be ready or fail
		select {
		case <-metricsServer.Ready():
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := serverContext.Shutdown(); err != nil {
		logger.Error("error shutting down server context", logging.Err(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down metrics server", logging.Err(err))
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg ServeConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is not set: using in-memory storage")
		return store.NewMemory(), nil
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(cfg.DatabaseURL, store.MigrateUp); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func openTokenMeta(ctx context.Context, cfg ServeConfig, logger *slog.Logger, sc *server.ServerContext) (tokenmeta.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL is not set: token metadata is kept in memory")
		return tokenmeta.NewMemoryStore(), func() {}, nil
	}
	rdb, err := tokenmeta.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rs := tokenmeta.NewRedisStore(rdb)
	if err := rs.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	sc.AddCheck("redis", rs.Ping)
	return rs, func() { _ = rdb.Close() }, nil
}
