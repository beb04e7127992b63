package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sidrek1992/CFT-App-sub001/internal/client"
	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
	"github.com/Sidrek1992/CFT-App-sub001/internal/tokenlife"
	"github.com/Sidrek1992/CFT-App-sub001/internal/tokenmeta"
)

// ClientConfig selects the server and the local token file for client commands.
type ClientConfig struct {
	ServerURL string `mapstructure:"CFTMAIL_SERVER"`
	Session   string `mapstructure:"CFTMAIL_SESSION"`
	TokenFile string `mapstructure:"CFTMAIL_TOKEN_FILE"`
}

func addClientFlags(fs *pflag.FlagSet) {
	fs.String("server", "http://localhost:4000", "cftmail server URL. Can also use CFTMAIL_SERVER env var.")
	fs.String("session", "", "Session cookie value copied from a browser sign-in. Only needed the first time. Can also use CFTMAIL_SESSION env var.")
	fs.String("token-file", tokenlife.DefaultPath(), "Local token state file. Can also use CFTMAIL_TOKEN_FILE env var.")
}

func loadClientConfig(fs *pflag.FlagSet) (ClientConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	for flag, key := range map[string]string{
		"server":     "CFTMAIL_SERVER",
		"session":    "CFTMAIL_SESSION",
		"token-file": "CFTMAIL_TOKEN_FILE",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return ClientConfig{}, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.TokenFile == "" {
		return ClientConfig{}, errors.New("no token file: set --token-file or CFTMAIL_TOKEN_FILE")
	}
	return cfg, nil
}

// clientEnv is what every client command needs.
type clientEnv struct {
	client *client.Client
	local  *tokenlife.FileStore
	token  *tokenlife.Token
}

// signedIn reports whether there is a session to present to the server. A
// session without a local token can still renew one.
func (e *clientEnv) signedIn() bool {
	return e.client.Session() != ""
}

// openClient prepares a client for the stored session, or for the one given
// with --session, which is then stored for later runs. Sessions the server
// re-issues are stored as they arrive.
func openClient(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*clientEnv, error) {
	local := tokenlife.NewFileStore(cfg.TokenFile)
	credential, err := local.LoadCredential(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := local.LoadToken(ctx)
	if err != nil {
		return nil, err
	}

	c, err := client.New(client.Config{
		BaseURL: cfg.ServerURL,
		Session: credential,
		Logger:  logger,
		OnSession: func(ctx context.Context, value string) {
			if err := local.SaveCredential(ctx, value); err != nil {
				logger.Warn("failed to store re-issued session", logging.Err(err))
			}
		},
	})
	if err != nil {
		return nil, err
	}

	if cfg.Session != "" && cfg.Session != credential {
		c.SetSession(cfg.Session)
		st, err := c.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to check session: %w", err)
		}
		if !st.Authenticated {
			return nil, client.ErrNotAuthenticated
		}
		if err := local.SaveCredential(ctx, c.Session()); err != nil {
			return nil, err
		}

		// The previous token may belong to another identity.
		tok = nil
		if st.TokenExpiresAt != nil {
			tok = &tokenlife.Token{UserID: st.UserID, Email: st.Email, ExpiresAt: *st.TokenExpiresAt}
			err = local.SaveToken(ctx, *tok)
		} else {
			err = local.ClearToken(ctx)
		}
		if err != nil {
			return nil, err
		}
	}

	return &clientEnv{client: c, local: local, token: tok}, nil
}

// newTokenManager runs the token lifecycle of env against its server.
func newTokenManager(env *clientEnv, out io.Writer, logger *slog.Logger, threshold, interval time.Duration) (*tokenlife.Manager, error) {
	return tokenlife.NewManager(tokenlife.Config{
		Local:         env.local,
		Remote:        env.client,
		Renewer:       env.client,
		Prompter:      consentPrompter(out, env),
		Threshold:     threshold,
		CheckInterval: interval,
		Logger:        logger,
	})
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the provider token of the CLI session",
	}
	cmd.AddCommand(newTokenWatchCmd())
	cmd.AddCommand(newTokenStatusCmd())
	cmd.AddCommand(newTokenSignOutCmd())
	return cmd
}

func newTokenWatchCmd() *cobra.Command {
	var (
		threshold time.Duration
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the provider token fresh until interrupted",
		Long: `Run the token lifecycle: check the token every interval, renew it silently
when it is about to expire, and print a sign-in link when Google needs the user
again. The link is printed at most once per cooldown period, across every
process sharing the token file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			cfg, err := loadClientConfig(cmd.Flags())
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			env, err := openClient(ctx, cfg, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			manager, err := newTokenManager(env, out, logger, threshold, interval)
			if err != nil {
				return err
			}

			state, err := manager.Bootstrap(ctx)
			if err != nil {
				return err
			}
			logger.Info("token lifecycle started", "state", state.String(), logging.Operation("token.watch"))
			if state == tokenlife.NoToken {
				fmt.Fprintln(out, "No usable token. Sign in first:", env.client.ConsentURL(""))
			}

			manager.Start(ctx)
			<-ctx.Done()
			manager.Stop()
			return nil
		},
	}

	addClientFlags(cmd.Flags())
	cmd.Flags().DurationVar(&threshold, "threshold", tokenlife.Threshold, "Renew when the token expires within this duration")
	cmd.Flags().DurationVar(&interval, "interval", tokenlife.CheckInterval, "How often to check the token")
	return cmd
}

// consentPrompter prints the sign-in link for the stored identity.
func consentPrompter(out io.Writer, env *clientEnv) tokenlife.Prompter {
	return tokenlife.PrompterFunc(func(ctx context.Context) error {
		hint := ""
		if tok, err := env.local.LoadToken(ctx); err == nil && tok != nil {
			hint = tok.Email
		}
		_, err := fmt.Fprintln(out, "Google needs you to sign in again:", env.client.ConsentURL(hint))
		return err
	})
}

// tokenStatus is printed by "token status".
type tokenStatus struct {
	State     string          `json:"state"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Email     string          `json:"email,omitempty"`
	Remote    *tokenmeta.Meta `json:"remote,omitempty"`
	RemoteErr string          `json:"remoteError,omitempty"`
}

func newTokenStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the local token state and the server's token metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			cfg, err := loadClientConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			env, err := openClient(ctx, cfg, logger)
			if err != nil {
				return err
			}

			st := tokenStatus{State: tokenlife.StateAt(env.token, time.Now(), tokenlife.Threshold).String()}
			if env.token != nil {
				if !env.token.ExpiresAt.IsZero() {
					exp := env.token.ExpiresAt
					st.ExpiresAt = &exp
				}
				st.Email = env.token.Email
			}
			if env.signedIn() {
				meta, err := env.client.LoadMeta(ctx)
				switch {
				case err == nil:
					st.Remote = &meta
				case errors.Is(err, tokenmeta.ErrNotFound):
				default:
					st.RemoteErr = err.Error()
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}

	addClientFlags(cmd.Flags())
	return cmd
}

func newTokenSignOutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signout",
		Short: "End the session on the server and forget the local session and token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			cfg, err := loadClientConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			env, err := openClient(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if env.signedIn() {
				if err := env.client.Logout(ctx); err != nil {
					logger.Warn("server logout failed", logging.Err(err))
				}
			}
			return env.local.Forget(ctx)
		},
	}

	addClientFlags(cmd.Flags())
	return cmd
}
