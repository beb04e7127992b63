package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleendpoint "golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// DefaultRevokeURL is Google's token revocation endpoint.
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// Config configures a Provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scopes defaults to DefaultOAuthScopes.
	Scopes []string

	// Endpoint overrides the Google authorization and token endpoints.
	Endpoint *oauth2.Endpoint

	// RevokeURL defaults to DefaultRevokeURL.
	RevokeURL string

	// UserinfoEndpoint overrides the base URL of the userinfo API.
	UserinfoEndpoint string

	// HTTPClient is used for every call to Google. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client
}

// UserInfo is the identity returned by Google after consent.
type UserInfo struct {
	ID            string
	Email         string
	Name          string
	VerifiedEmail bool
}

// Provider talks to Google's OAuth endpoints for one registered client.
type Provider struct {
	oauth            *oauth2.Config
	httpClient       *http.Client
	revokeURL        string
	userinfoEndpoint string
	now              func() time.Time
}

// NewProvider validates cfg and returns a Provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("google client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("google client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("google redirect url is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultOAuthScopes
	}
	endpoint := googleendpoint.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = DefaultRevokeURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		httpClient:       hc,
		revokeURL:        revokeURL,
		userinfoEndpoint: cfg.UserinfoEndpoint,
		now:              time.Now,
	}, nil
}

// OAuth2Config returns the underlying oauth2 configuration.
func (p *Provider) OAuth2Config() *oauth2.Config {
	return p.oauth
}

func (p *Provider) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// AuthURL returns the consent URL. Offline access is always requested so the
// callback yields a refresh token. Without options the consent screen is
// forced (prompt=consent).
func (p *Provider) AuthURL(state string, opts *AuthorizationURLOptions) string {
	params := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}

	prompt := PromptConsent
	if opts != nil {
		if opts.Prompt != "" {
			prompt = opts.Prompt
		}
		if opts.LoginHint != "" {
			params = append(params, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
		}
		if opts.IDTokenHint != "" {
			params = append(params, oauth2.SetAuthURLParam("id_token_hint", opts.IDTokenHint))
		}
		if opts.MaxAge != nil {
			params = append(params, oauth2.SetAuthURLParam("max_age", fmt.Sprint(*opts.MaxAge)))
		}
		for k, v := range opts.Extra {
			params = append(params, oauth2.SetAuthURLParam(k, v))
		}
	}
	params = append(params, oauth2.SetAuthURLParam("prompt", prompt))

	return p.oauth.AuthCodeURL(state, params...)
}

// Exchange trades an authorization code for a token set.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	tok, err := p.oauth.Exchange(p.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return tok, nil
}

// UserInfo fetches the identity the token was issued for.
func (p *Provider) UserInfo(ctx context.Context, tok *oauth2.Token) (*UserInfo, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(p.context(ctx), oauth2.StaticTokenSource(tok))),
	}
	if p.userinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.userinfoEndpoint))
	}

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	if info.Id == "" || info.Email == "" {
		return nil, errors.New("userinfo response is missing id or email")
	}

	u := &UserInfo{ID: info.Id, Email: info.Email, Name: info.Name}
	if info.VerifiedEmail != nil {
		u.VerifiedEmail = *info.VerifiedEmail
	}
	return u, nil
}

// Refresh obtains a new access token with the refresh token of tok, whether
// or not the current access token has expired. The returned token keeps the
// old refresh token when Google does not rotate it.
func (p *Provider) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil || tok.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	ts := p.oauth.TokenSource(p.context(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken})
	newToken, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = tok.RefreshToken
	}
	return newToken, nil
}

// TokenSource returns a source that refreshes tok when it expires.
func (p *Provider) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return p.oauth.TokenSource(p.context(ctx), tok)
}

// IsExpired reports whether tok has expired or will within threshold.
// Tokens without an expiry never expire.
func (p *Provider) IsExpired(tok *oauth2.Token, threshold time.Duration) bool {
	if tok == nil {
		return true
	}
	if tok.Expiry.IsZero() {
		return false
	}
	return p.now().Add(threshold).After(tok.Expiry)
}

// Revoke revokes token at Google. Revoking a refresh token also invalidates
// the access tokens issued from it. An already invalid token is not an error.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		// invalid_token: already revoked or expired.
		return nil
	default:
		return fmt.Errorf("token revocation failed with status %d", resp.StatusCode)
	}
}
