package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultCookieName is the name of the session cookie.
	DefaultCookieName = "cft_session"

	// DefaultTTL is how long an issued session stays valid.
	DefaultTTL = 7 * 24 * time.Hour

	// DefaultIssuer is the iss claim of issued sessions.
	DefaultIssuer = "cftmail"

	// MinSecretLength is the minimum accepted signing secret length in bytes.
	MinSecretLength = 32
)

var (
	// ErrMissingSecret is returned by NewCodec when no signing secret is configured.
	ErrMissingSecret = errors.New("session secret is not configured")

	// ErrWeakSecret is returned by NewCodec when the secret is too short.
	ErrWeakSecret = fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)

	// ErrMissingUser is returned by Issue for a session without a user id.
	ErrMissingUser = errors.New("session has no user id")
)

// Config holds the codec settings.
type Config struct {
	// Secret is the HMAC signing secret. Required.
	Secret []byte

	// TTL is the session lifetime (default: 7 days).
	TTL time.Duration

	// CookieName defaults to DefaultCookieName.
	CookieName string

	// Issuer defaults to DefaultIssuer.
	Issuer string

	// Secure marks the cookie Secure. Required when SameSite is None.
	Secure bool

	// SameSite defaults to Lax.
	SameSite http.SameSite
}

type claims struct {
	jwt.RegisteredClaims
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Sealed string `json:"tok,omitempty"`
}

// Codec signs, verifies and serializes sessions.
type Codec struct {
	cfg    Config
	sealer *sealer
	now    func() time.Time
}

// NewCodec validates cfg and returns a ready codec. A configuration error here
// is meant to stop the process at startup.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.SameSite == 0 || cfg.SameSite == http.SameSiteDefaultMode {
		cfg.SameSite = http.SameSiteLaxMode
	}
	if cfg.SameSite == http.SameSiteNoneMode && !cfg.Secure {
		return nil, errors.New("SameSite=None session cookies must be Secure")
	}

	s, err := newSealer(cfg.Secret)
	if err != nil {
		return nil, err
	}

	return &Codec{cfg: cfg, sealer: s, now: time.Now}, nil
}

// CookieName returns the configured cookie name.
func (c *Codec) CookieName() string {
	return c.cfg.CookieName
}

// TTL returns the configured session lifetime.
func (c *Codec) TTL() time.Duration {
	return c.cfg.TTL
}

// Issue signs s and returns the token for the session cookie.
func (c *Codec) Issue(s Session) (string, error) {
	if s.UserID == "" {
		return "", ErrMissingUser
	}

	var sealed string
	if !s.Tokens.Empty() {
		payload, err := json.Marshal(s.Tokens)
		if err != nil {
			return "", fmt.Errorf("failed to encode token set: %w", err)
		}
		sealed, err = c.sealer.Seal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to seal token set: %w", err)
		}
	}

	now := c.now()
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.TTL)),
		},
		Email:  s.Email,
		Name:   s.Name,
		Sealed: sealed,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return token, nil
}

// Verify returns the session in token and true, or a zero Session and false
// when the token cannot be fully trusted.
func (c *Codec) Verify(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}

	var cl claims
	parsed, err := jwt.ParseWithClaims(token, &cl,
		func(*jwt.Token) (any, error) { return c.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid || cl.Subject == "" {
		return Session{}, false
	}

	s := Session{
		UserID: cl.Subject,
		Email:  cl.Email,
		Name:   cl.Name,
	}
	if cl.IssuedAt != nil {
		s.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		s.ExpiresAt = cl.ExpiresAt.Time
	}

	if cl.Sealed != "" {
		payload, err := c.sealer.Open(cl.Sealed)
		if err != nil {
			return Session{}, false
		}
		if err := json.Unmarshal(payload, &s.Tokens); err != nil {
			return Session{}, false
		}
	}

	return s, true
}

// FromRequest verifies the session cookie on r.
func (c *Codec) FromRequest(r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(c.cfg.CookieName)
	if err != nil {
		return Session{}, false
	}
	return c.Verify(cookie.Value)
}

// Cookie returns the session cookie for an issued token.
func (c *Codec) Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     c.cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: c.cfg.SameSite,
	}
}

// RevokeCookie returns the cookie that clears the session on the client:
// same name, empty value, immediate expiry.
func (c *Codec) RevokeCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: c.cfg.SameSite,
	}
}

// SetSession issues s and writes the cookie to w.
func (c *Codec) SetSession(w http.ResponseWriter, s Session) (string, error) {
	token, err := c.Issue(s)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, c.Cookie(token))
	return token, nil
}

// ClearSession writes the revoking cookie to w.
func (c *Codec) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.RevokeCookie())
}
