package tokenlife

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sidrek1992/CFT-App-sub001/internal/google"
	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
	"github.com/Sidrek1992/CFT-App-sub001/internal/tokenmeta"
)

// LocalStore holds the token and the prompt cooldown for this client.
type LocalStore interface {
	// LoadToken returns nil without error when no token is stored.
	LoadToken(ctx context.Context) (*Token, error)
	SaveToken(ctx context.Context, tok Token) error
	ClearToken(ctx context.Context) error

	// LastPrompt returns the zero time when no prompt was ever offered.
	LastPrompt(ctx context.Context) (time.Time, error)
	MarkPrompt(ctx context.Context, at time.Time) error
}

// MetaStore is the remote TokenMeta of the signed-in identity.
type MetaStore interface {
	// LoadMeta returns tokenmeta.ErrNotFound when there is no record.
	LoadMeta(ctx context.Context) (tokenmeta.Meta, error)
	SaveMeta(ctx context.Context, m tokenmeta.Meta) error
}

// Renewer renews the provider token without user interaction. Failures that
// need the user return an error for which google.IsSilentAuthError is true.
type Renewer interface {
	Renew(ctx context.Context) (Token, error)
}

// Prompter shows the interactive re-consent prompt.
type Prompter interface {
	Prompt(ctx context.Context) error
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context) error

// Prompt calls f.
func (f PrompterFunc) Prompt(ctx context.Context) error { return f(ctx) }

// Config wires a Manager. Zero durations take the package defaults.
type Config struct {
	Local    LocalStore
	Remote   MetaStore // optional
	Renewer  Renewer
	Prompter Prompter // optional

	Threshold         time.Duration
	CheckInterval     time.Duration
	BootstrapWindow   time.Duration
	ReconsentCooldown time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager runs the token lifecycle for one signed-in identity.
type Manager struct {
	local    LocalStore
	remote   MetaStore
	renewer  Renewer
	prompter Prompter

	threshold       time.Duration
	interval        time.Duration
	bootstrapWindow time.Duration
	cooldown        time.Duration

	logger *slog.Logger
	now    func() time.Time

	// renewMu serializes renewals and prompts.
	renewMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager validates cfg and returns a stopped Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Local == nil {
		return nil, errors.New("tokenlife: local store is required")
	}
	if cfg.Renewer == nil {
		return nil, errors.New("tokenlife: renewer is required")
	}

	m := &Manager{
		local:           cfg.Local,
		remote:          cfg.Remote,
		renewer:         cfg.Renewer,
		prompter:        cfg.Prompter,
		threshold:       orDefault(cfg.Threshold, Threshold),
		interval:        orDefault(cfg.CheckInterval, CheckInterval),
		bootstrapWindow: orDefault(cfg.BootstrapWindow, BootstrapWindow),
		cooldown:        orDefault(cfg.ReconsentCooldown, ReconsentCooldown),
		logger:          cfg.Logger,
		now:             cfg.Now,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = logging.WithService(m.logger, "tokenlife")
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Current returns the stored token and its state. It never renews.
func (m *Manager) Current(ctx context.Context) (*Token, State, error) {
	tok, err := m.local.LoadToken(ctx)
	if err != nil {
		return nil, NoToken, fmt.Errorf("failed to load local token: %w", err)
	}
	return tok, StateAt(tok, m.now(), m.threshold), nil
}

// Check renews a NearExpiry or Stale token. Renewal failures that need the
// user leave the state unchanged and are not returned as errors.
func (m *Manager) Check(ctx context.Context) (State, error) {
	_, state, err := m.Current(ctx)
	if err != nil {
		return NoToken, err
	}
	if state != NearExpiry && state != Stale {
		return state, nil
	}

	if err := m.renew(ctx); err != nil {
		if isUserActionRequired(err) {
			m.logger.Info("silent renewal needs the user",
				slog.String("state", state.String()),
				logging.Code(google.ReconsentCode(err)))
			return state, nil
		}
		return state, err
	}
	return Fresh, nil
}

// Bootstrap runs once at client start. With a local token it behaves like
// Check. Without one, it makes a single silent renewal attempt when the
// remote TokenMeta was renewed within the bootstrap window.
func (m *Manager) Bootstrap(ctx context.Context) (State, error) {
	tok, _, err := m.Current(ctx)
	if err != nil {
		return NoToken, err
	}
	if tok != nil {
		return m.Check(ctx)
	}
	if m.remote == nil {
		return NoToken, nil
	}

	meta, err := m.remote.LoadMeta(ctx)
	if errors.Is(err, tokenmeta.ErrNotFound) {
		return NoToken, nil
	}
	if err != nil {
		m.logger.Warn("failed to load remote token meta", logging.Err(err))
		return NoToken, nil
	}
	if !meta.RenewedWithin(m.now(), m.bootstrapWindow) {
		m.logger.Debug("remote token meta too old for silent renewal",
			slog.Time("updated_at", meta.UpdatedAt))
		return NoToken, nil
	}

	if err := m.renew(ctx); err != nil {
		if isUserActionRequired(err) {
			return NoToken, nil
		}
		return NoToken, err
	}
	return Fresh, nil
}

// RequestInteractive offers the re-consent prompt unless one was offered
// less than the cooldown ago. It reports whether the prompt was offered.
func (m *Manager) RequestInteractive(ctx context.Context) (bool, error) {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	now := m.now()
	last, err := m.local.LastPrompt(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load last prompt time: %w", err)
	}
	if !last.IsZero() && now.Sub(last) < m.cooldown {
		m.logger.Debug("re-consent prompt suppressed",
			slog.Duration("wait", m.cooldown-now.Sub(last)))
		return false, nil
	}

	if err := m.local.MarkPrompt(ctx, now); err != nil {
		return false, fmt.Errorf("failed to record prompt time: %w", err)
	}
	if m.prompter != nil {
		if err := m.prompter.Prompt(ctx); err != nil {
			return true, fmt.Errorf("failed to show re-consent prompt: %w", err)
		}
	}
	return true, nil
}

// Start launches the background check. Calling Start on a running manager
// does nothing. The check stops when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Stop cancels the background check and waits for it to exit. It is safe to
// call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the background check is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// SignOut stops the background check, then clears the local token.
func (m *Manager) SignOut(ctx context.Context) error {
	m.Stop()
	if err := m.local.ClearToken(ctx); err != nil {
		return fmt.Errorf("failed to clear local token: %w", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	state, err := m.Check(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("token check failed", slog.String("state", state.String()), logging.Err(err))
		return
	}
	if state == Stale {
		if _, err := m.RequestInteractive(ctx); err != nil {
			m.logger.Warn("re-consent prompt failed", logging.Err(err))
		}
	}
}

// renew runs one silent renewal and persists its result locally and
// remotely. The remote write is best-effort.
func (m *Manager) renew(ctx context.Context) error {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	tok, err := m.renewer.Renew(ctx)
	if err != nil {
		return err
	}
	if err := m.local.SaveToken(ctx, tok); err != nil {
		return fmt.Errorf("failed to save renewed token: %w", err)
	}

	if m.remote != nil {
		meta := tokenmeta.Meta{
			UserID:    tok.UserID,
			TokenHash: tok.Hash,
			ExpiresAt: tok.ExpiresAt.UTC(),
			UpdatedAt: m.now().UTC(),
			Email:     tok.Email,
		}
		if err := m.remote.SaveMeta(ctx, meta); err != nil {
			m.logger.Warn("failed to persist remote token meta", logging.Err(err))
		}
	}

	m.logger.Info("token renewed", slog.Time("expires_at", tok.ExpiresAt))
	return nil
}

func isUserActionRequired(err error) bool {
	return google.IsSilentAuthError(err) || google.ReconsentCode(err) != ""
}
