package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Sidrek1992/CFT-App-sub001/internal/google"
	"github.com/Sidrek1992/CFT-App-sub001/internal/session"
	"github.com/Sidrek1992/CFT-App-sub001/internal/tokenlife"
	"github.com/Sidrek1992/CFT-App-sub001/internal/tokenmeta"
)

// DefaultTimeout bounds every call to the server.
const DefaultTimeout = 30 * time.Second

// maxResponseBody bounds how much of a response is read.
const maxResponseBody = 1 << 20

// ErrNotAuthenticated is returned when the server does not accept the session.
var ErrNotAuthenticated = errors.New("session is not authenticated")

// Config configures a Client.
type Config struct {
	// BaseURL is the server origin, e.g. https://cft.example.cl.
	BaseURL string

	// Session is the session cookie value.
	Session string

	// CookieName defaults to session.DefaultCookieName.
	CookieName string

	// OnSession is called with the new value whenever the server re-issues
	// the session cookie, so the caller can persist it.
	OnSession func(ctx context.Context, value string)

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the cftmail HTTP API with a session cookie.
type Client struct {
	baseURL    *url.URL
	cookieName string
	onSession  func(ctx context.Context, value string)
	http       *http.Client
	logger     *slog.Logger

	mu      sync.RWMutex
	session string
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:    u,
		cookieName: cfg.CookieName,
		onSession:  cfg.OnSession,
		http:       cfg.HTTPClient,
		logger:     cfg.Logger,
		session:    cfg.Session,
	}
	if c.cookieName == "" {
		c.cookieName = session.DefaultCookieName
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Session returns the current session cookie value. It changes when the
// server re-issues the session.
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetSession replaces the session cookie value.
func (c *Client) SetSession(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = value
}

// ConsentURL is where the user goes to sign in again.
func (c *Client) ConsentURL(loginHint string) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/auth/google"
	if loginHint != "" {
		u.RawQuery = url.Values{"login_hint": {loginHint}}.Encode()
	}
	return u.String()
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status    int
	Code      string `json:"error"`
	Message   string `json:"message"`
	Reconsent string `json:"code"`
	RequestID string `json:"requestId"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d", e.Status)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	return msg
}

// Unwrap maps authentication failures to typed errors: ErrNotAuthenticated
// for a missing session, and a silent auth error when the provider wants
// consent again.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status != http.StatusUnauthorized:
		return nil
	case e.Reconsent != "":
		return google.ParseOAuthError(e.Reconsent, e.Message)
	case e.Code == "not_authenticated":
		return ErrNotAuthenticated
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s := c.Session(); s != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: s})
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("server call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	for _, ck := range resp.Cookies() {
		if ck.Name != c.cookieName || ck.Value == "" || ck.Value == c.Session() {
			continue
		}
		c.SetSession(ck.Value)
		if c.onSession != nil {
			c.onSession(ctx, ck.Value)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Status is the server's view of the session.
type Status struct {
	Authenticated  bool       `json:"authenticated"`
	UserID         string     `json:"userId"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt"`
}

// Status returns who the session belongs to.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/api/auth/status", nil, &st)
	return st, err
}

// RefreshResult is the response of a server-side renewal.
type RefreshResult struct {
	ExpiresAt time.Time `json:"expiresAt"`
	TokenHash string    `json:"tokenHash"`
}

// Refresh asks the server to renew the provider token. The session cookie is
// replaced with the one the server re-issues.
func (c *Client) Refresh(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	err := c.do(ctx, http.MethodPost, "/api/auth/refresh", nil, &res)
	return res, err
}

// Renew implements tokenlife.Renewer. The re-issued session reaches
// Config.OnSession before Renew returns.
func (c *Client) Renew(ctx context.Context) (tokenlife.Token, error) {
	res, err := c.Refresh(ctx)
	if err != nil {
		return tokenlife.Token{}, err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return tokenlife.Token{}, err
	}
	if !st.Authenticated {
		return tokenlife.Token{}, ErrNotAuthenticated
	}
	return tokenlife.Token{
		Hash:      res.TokenHash,
		ExpiresAt: res.ExpiresAt,
		UserID:    st.UserID,
		Email:     st.Email,
	}, nil
}

// Logout ends the session on the server and forgets it locally.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.SetSession("")
	return err
}

// LoadMeta implements tokenlife.MetaStore.
func (c *Client) LoadMeta(ctx context.Context) (tokenmeta.Meta, error) {
	var m tokenmeta.Meta
	err := c.do(ctx, http.MethodGet, "/api/auth/token-meta", nil, &m)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return tokenmeta.Meta{}, tokenmeta.ErrNotFound
	}
	return m, err
}

// SaveMeta implements tokenlife.MetaStore.
func (c *Client) SaveMeta(ctx context.Context, m tokenmeta.Meta) error {
	return c.do(ctx, http.MethodPut, "/api/auth/token-meta", m, nil)
}

// Attachment is a file to send, already base64 encoded.
type Attachment struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	ContentBase64 string `json:"contentBase64"`
}

// Message is a dispatch request.
type Message struct {
	To          string       `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	OfficialID  string       `json:"officialId,omitempty"`
}

// SendResult identifies the accepted message.
type SendResult struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId"`
}

// Send dispatches msg through the server.
func (c *Client) Send(ctx context.Context, msg Message) (SendResult, error) {
	var res SendResult
	err := c.do(ctx, http.MethodPost, "/api/gmail/send", msg, &res)
	return res, err
}

// SentHistory returns the official ids already written to.
func (c *Client) SentHistory(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.do(ctx, http.MethodGet, "/api/user/sent-history", nil, &ids)
	return ids, err
}

var (
	_ tokenlife.Renewer   = (*Client)(nil)
	_ tokenlife.MetaStore = (*Client)(nil)
)
