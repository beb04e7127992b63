package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sidrek1992/CFT-App-sub001/internal/server"
	"github.com/Sidrek1992/CFT-App-sub001/internal/session"
)

// ServeConfig holds the serve command configuration. Every field can be set
// with a flag or with the environment variable named in its tag; flags win.
type ServeConfig struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	// AppBaseURL is where the browser is sent after sign-in. Derived from
	// the request when empty.
	AppBaseURL string `mapstructure:"APP_BASE_URL"`

	SessionSecret string        `mapstructure:"SESSION_SECRET"`
	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`
	CookieSecure  bool          `mapstructure:"COOKIE_SECURE"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string `mapstructure:"GOOGLE_REDIRECT_URI"`
	// GoogleScopes is a comma-separated override of the requested scopes.
	GoogleScopes string `mapstructure:"GOOGLE_SCOPES"`

	// DatabaseURL selects Postgres; empty means in-memory storage.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`

	// RedisURL selects Redis for TokenMeta; empty means in-memory.
	RedisURL string `mapstructure:"REDIS_URL"`

	TrustProxy bool `mapstructure:"TRUST_PROXY"`

	MetricsEnabled bool   `mapstructure:"METRICS_ENABLED"`
	MetricsAddr    string `mapstructure:"METRICS_ADDR"`
}

// serveFlags maps flag names to configuration keys.
var serveFlags = map[string]string{
	"http-addr":            "HTTP_ADDR",
	"app-base-url":         "APP_BASE_URL",
	"session-secret":       "SESSION_SECRET",
	"session-ttl":          "SESSION_TTL",
	"cookie-secure":        "COOKIE_SECURE",
	"google-client-id":     "GOOGLE_CLIENT_ID",
	"google-client-secret": "GOOGLE_CLIENT_SECRET",
	"google-redirect-uri":  "GOOGLE_REDIRECT_URI",
	"google-scopes":        "GOOGLE_SCOPES",
	"database-url":         "DATABASE_URL",
	"auto-migrate":         "AUTO_MIGRATE",
	"redis-url":            "REDIS_URL",
	"trust-proxy":          "TRUST_PROXY",
	"metrics-enabled":      "METRICS_ENABLED",
	"metrics-addr":         "METRICS_ADDR",
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", server.DefaultHTTPAddr, "HTTP listen address. Can also use HTTP_ADDR env var.")
	fs.String("app-base-url", "", "Public URL of the web app, e.g. https://cft.example.cl. Can also use APP_BASE_URL env var.")
	fs.String("session-secret", "", "Secret used to sign and encrypt session cookies (at least 32 bytes). REQUIRED. Can also use SESSION_SECRET env var.")
	fs.Duration("session-ttl", session.DefaultTTL, "Session lifetime. Can also use SESSION_TTL env var.")
	fs.Bool("cookie-secure", true, "Mark cookies Secure. Disable only for plain-HTTP development. Can also use COOKIE_SECURE env var.")
	fs.String("google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	fs.String("google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	fs.String("google-redirect-uri", "", "OAuth redirect URI registered with Google. Can also use GOOGLE_REDIRECT_URI env var.")
	fs.String("google-scopes", "", "Comma-separated OAuth scopes (default: gmail.send, openid, email, profile). Can also use GOOGLE_SCOPES env var.")
	fs.String("database-url", "", "Postgres connection URL. In-memory storage when empty. Can also use DATABASE_URL env var.")
	fs.Bool("auto-migrate", false, "Apply database migrations at startup. Can also use AUTO_MIGRATE env var.")
	fs.String("redis-url", "", "Redis URL for token metadata, e.g. redis://localhost:6379/0. In-memory when empty. Can also use REDIS_URL env var.")
	fs.Bool("trust-proxy", false, "Trust X-Forwarded-For for client IPs. Can also use TRUST_PROXY env var.")
	fs.Bool("metrics-enabled", true, "Serve Prometheus metrics on a dedicated port. Can also use METRICS_ENABLED env var.")
	fs.String("metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
}

// loadServeConfig resolves the configuration from fs and the environment.
func loadServeConfig(fs *pflag.FlagSet) (ServeConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	for flag, key := range serveFlags {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return ServeConfig{}, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	var cfg ServeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ServeConfig{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.AppBaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.AppBaseURL), "/")
	return cfg, cfg.Validate()
}

// Validate reports configuration errors that must stop the process.
func (c ServeConfig) Validate() error {
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if len(c.SessionSecret) < session.MinSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", session.MinSecretLength)
	}

	set := 0
	for _, s := range []string{c.GoogleClientID, c.GoogleClientSecret, c.GoogleRedirectURI} {
		if s != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URI must be set together")
	}
	if c.GoogleRedirectURI != "" {
		if err := server.ValidateRedirectURL(c.GoogleRedirectURI); err != nil {
			return fmt.Errorf("GOOGLE_REDIRECT_URI: %w", err)
		}
	}
	if c.AppBaseURL != "" {
		if err := server.ValidateRedirectURL(c.AppBaseURL); err != nil {
			return fmt.Errorf("APP_BASE_URL: %w", err)
		}
	}
	return nil
}

// GoogleConfigured reports whether sign-in with Google is available.
func (c ServeConfig) GoogleConfigured() bool {
	return c.GoogleClientID != ""
}

// parseCommaSeparatedList splits a comma-separated string into a slice,
// trimming whitespace and dropping empty entries.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
