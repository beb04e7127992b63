package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	cfg := Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example.cl/api/auth/google/callback",
	}
	if srv != nil {
		cfg.Endpoint = &oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}
		cfg.RevokeURL = srv.URL + "/revoke"
		cfg.UserinfoEndpoint = srv.URL + "/"
		cfg.HTTPClient = srv.Client()
	}
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewProvider_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing client id", cfg: Config{ClientSecret: "s", RedirectURL: "r"}, wantErr: "client id"},
		{name: "missing secret", cfg: Config{ClientID: "c", RedirectURL: "r"}, wantErr: "client secret"},
		{name: "missing redirect", cfg: Config{ClientID: "c", ClientSecret: "s"}, wantErr: "redirect url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	p := newTestProvider(t, nil)
	assert.Equal(t, DefaultOAuthScopes, p.OAuth2Config().Scopes)
}

func TestProvider_AuthURL(t *testing.T) {
	p := newTestProvider(t, nil)

	t.Run("defaults force consent and offline access", func(t *testing.T) {
		u, err := url.Parse(p.AuthURL("state-123", nil))
		require.NoError(t, err)
		q := u.Query()

		assert.Equal(t, "state-123", q.Get("state"))
		assert.Equal(t, "offline", q.Get("access_type"))
		assert.Equal(t, PromptConsent, q.Get("prompt"))
		assert.Equal(t, "client-id", q.Get("client_id"))
		assert.Contains(t, q.Get("scope"), "https://www.googleapis.com/auth/gmail.send")
		assert.Contains(t, q.Get("scope"), "openid")
		assert.Empty(t, q.Get("login_hint"))
	})

	t.Run("silent with login hint", func(t *testing.T) {
		u, err := url.Parse(p.AuthURL("s", &AuthorizationURLOptions{
			Prompt:    PromptNone,
			LoginHint: "ana@example.cl",
		}))
		require.NoError(t, err)
		q := u.Query()

		assert.Equal(t, PromptNone, q.Get("prompt"))
		assert.Equal(t, "ana@example.cl", q.Get("login_hint"))
		assert.Equal(t, "offline", q.Get("access_type"))
	})
}

func TestProvider_ExchangeAndUserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			require.NoError(t, r.ParseForm())
			if r.Form.Get("code") != "good-code" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
			assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case strings.HasSuffix(r.URL.Path, "/userinfo"):
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{
				"id":             "g-42",
				"email":          "ana@example.cl",
				"name":           "Ana",
				"verified_email": true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	ctx := context.Background()

	tok, err := p.Exchange(ctx, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.False(t, tok.Expiry.IsZero())

	info, err := p.UserInfo(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, &UserInfo{ID: "g-42", Email: "ana@example.cl", Name: "Ana", VerifiedEmail: true}, info)

	_, err = p.Exchange(ctx, "bad-code")
	require.Error(t, err)
	assert.Equal(t, ErrorCodeInteractionRequired, ReconsentCode(err))

	_, err = p.Exchange(ctx, "")
	require.Error(t, err)
}

func TestProvider_Refresh(t *testing.T) {
	var rotate bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		if r.Form.Get("refresh_token") == "revoked" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Token has been expired or revoked."})
			return
		}
		resp := map[string]any{"access_token": "access-2", "token_type": "Bearer", "expires_in": 3600}
		if rotate {
			resp["refresh_token"] = "refresh-2"
		}
		writeJSON(w, http.StatusOK, resp)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	ctx := context.Background()

	_, err := p.Refresh(ctx, &oauth2.Token{AccessToken: "a"})
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, ErrorCodeConsentRequired, ReconsentCode(err))

	// Not expired yet: Refresh still renews.
	tok, err := p.Refresh(ctx, &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)

	rotate = true
	tok, err = p.Refresh(ctx, &oauth2.Token{RefreshToken: "refresh-1"})
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", tok.RefreshToken)

	_, err = p.Refresh(ctx, &oauth2.Token{RefreshToken: "revoked"})
	require.Error(t, err)
	var retrieveErr *oauth2.RetrieveError
	assert.True(t, errors.As(err, &retrieveErr))
	assert.Equal(t, ErrorCodeInteractionRequired, ReconsentCode(err))
}

func TestProvider_Revoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.Form.Get("token") {
		case "live":
			w.WriteHeader(http.StatusOK)
		case "gone":
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_token"})
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	ctx := context.Background()

	assert.NoError(t, p.Revoke(ctx, ""))
	assert.NoError(t, p.Revoke(ctx, "live"))
	assert.NoError(t, p.Revoke(ctx, "gone"))
	assert.Error(t, p.Revoke(ctx, "outage"))
}

func TestProvider_IsExpired(t *testing.T) {
	p := newTestProvider(t, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	tests := []struct {
		name string
		tok  *oauth2.Token
		want bool
	}{
		{name: "nil", tok: nil, want: true},
		{name: "no expiry", tok: &oauth2.Token{AccessToken: "a"}, want: false},
		{name: "expired", tok: &oauth2.Token{Expiry: now.Add(-time.Second)}, want: true},
		{name: "within threshold", tok: &oauth2.Token{Expiry: now.Add(time.Minute)}, want: true},
		{name: "fresh", tok: &oauth2.Token{Expiry: now.Add(time.Hour)}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsExpired(tt.tok, 5*time.Minute))
		})
	}
}

func TestReconsentCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "network", err: errors.New("dial tcp: connection refused"), want: ""},
		{name: "no refresh token", err: fmt.Errorf("renew: %w", ErrNoRefreshToken), want: ErrorCodeConsentRequired},
		{name: "silent auth", err: ParseOAuthError("login_required", "no session"), want: ErrorCodeLoginRequired},
		{name: "invalid grant", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, want: ErrorCodeInteractionRequired},
		{name: "invalid scope", err: &oauth2.RetrieveError{ErrorCode: "invalid_scope"}, want: ErrorCodeConsentRequired},
		{name: "server error", err: &oauth2.RetrieveError{ErrorCode: "server_error"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReconsentCode(tt.err))
		})
	}
}

func TestCallbackQuery(t *testing.T) {
	ok := ParseCallbackQuery("code", "state", "", "", "")
	assert.NoError(t, ok.Err())

	denied := ParseCallbackQuery("", "state", "access_denied", "user said no", "")
	require.Error(t, denied.Err())
	assert.False(t, IsSilentAuthError(denied.Err()))

	silent := ParseCallbackQuery("", "state", ErrorCodeLoginRequired, "", "")
	assert.True(t, IsSilentAuthError(silent.Err()))
}
