package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sidrek1992/CFT-App-sub001/internal/google"
	"github.com/Sidrek1992/CFT-App-sub001/internal/session"
	"github.com/Sidrek1992/CFT-App-sub001/internal/tokenmeta"
)

var expiry = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeServer mimics the cftmail API for one user.
type fakeServer struct {
	refreshCode string
	meta        *tokenmeta.Meta
	sent        []Message
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reply := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	ck, err := r.Cookie(session.DefaultCookieName)
	if err != nil || (ck.Value != "cookie-1" && ck.Value != "cookie-2") {
		reply(http.StatusUnauthorized, map[string]string{"error": "not_authenticated"})
		return
	}

	switch r.Method + " " + r.URL.Path {
	case "GET /api/auth/status":
		reply(http.StatusOK, map[string]any{"authenticated": true, "userId": "u-1", "email": "ana@example.cl", "name": "Ana"})
	case "POST /api/auth/refresh":
		if f.refreshCode != "" {
			reply(http.StatusUnauthorized, map[string]string{"error": "provider_auth", "code": f.refreshCode})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: session.DefaultCookieName, Value: "cookie-2"})
		reply(http.StatusOK, map[string]any{"expiresAt": expiry, "tokenHash": "abcd1234"})
	case "GET /api/auth/token-meta":
		if f.meta == nil {
			reply(http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		reply(http.StatusOK, f.meta)
	case "PUT /api/auth/token-meta":
		var m tokenmeta.Meta
		_ = json.NewDecoder(r.Body).Decode(&m)
		m.UserID = "u-1"
		f.meta = &m
		reply(http.StatusOK, m)
	case "POST /api/gmail/send":
		var msg Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		if msg.To == "" {
			reply(http.StatusBadRequest, map[string]string{"error": "to_required", "requestId": "req-9"})
			return
		}
		f.sent = append(f.sent, msg)
		reply(http.StatusOK, map[string]string{"id": "msg-1", "requestId": "req-1"})
	case "GET /api/user/sent-history":
		reply(http.StatusOK, []string{"off-1"})
	case "POST /api/auth/logout":
		http.SetCookie(w, &http.Cookie{Name: session.DefaultCookieName, Value: "", MaxAge: -1})
		reply(http.StatusOK, map[string]bool{"ok": true})
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeServer, cookie string) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", Session: cookie, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "https", baseURL: "https://cft.example.cl"},
		{name: "empty", baseURL: "", wantErr: true},
		{name: "no scheme", baseURL: "cft.example.cl", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{BaseURL: tt.baseURL})
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestClient_ConsentURL(t *testing.T) {
	c, err := New(Config{BaseURL: "https://cft.example.cl/"})
	require.NoError(t, err)
	assert.Equal(t, "https://cft.example.cl/api/auth/google", c.ConsentURL(""))
	assert.Equal(t, "https://cft.example.cl/api/auth/google?login_hint=ana%40example.cl", c.ConsentURL("ana@example.cl"))
}

func TestClient_Renew(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	var issued []string
	c, err := New(Config{
		BaseURL:    srv.URL,
		Session:    "cookie-1",
		HTTPClient: srv.Client(),
		OnSession:  func(_ context.Context, v string) { issued = append(issued, v) },
	})
	require.NoError(t, err)

	tok, err := c.Renew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cookie-2"}, issued)
	assert.Equal(t, "cookie-2", c.Session())
	assert.Equal(t, "abcd1234", tok.Hash)
	assert.True(t, expiry.Equal(tok.ExpiresAt))
	assert.Equal(t, "u-1", tok.UserID)
	assert.Equal(t, "ana@example.cl", tok.Email)
}

func TestClient_RenewNeedsConsent(t *testing.T) {
	fake := &fakeServer{refreshCode: google.ErrorCodeConsentRequired}
	c := newTestClient(t, fake, "cookie-1")

	_, err := c.Renew(context.Background())
	require.Error(t, err)
	assert.True(t, google.IsSilentAuthError(err))
	assert.Equal(t, google.ErrorCodeConsentRequired, google.ReconsentCode(err))
	assert.Equal(t, "cookie-1", c.Session())
}

func TestClient_NotAuthenticated(t *testing.T) {
	c := newTestClient(t, &fakeServer{}, "stale")

	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.False(t, google.IsSilentAuthError(err))
}

func TestClient_Meta(t *testing.T) {
	c := newTestClient(t, &fakeServer{}, "cookie-1")
	ctx := context.Background()

	_, err := c.LoadMeta(ctx)
	assert.ErrorIs(t, err, tokenmeta.ErrNotFound)

	require.NoError(t, c.SaveMeta(ctx, tokenmeta.Meta{TokenHash: "abcd1234", ExpiresAt: expiry}))

	m, err := c.LoadMeta(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-1", m.UserID)
	assert.Equal(t, "abcd1234", m.TokenHash)
}

func TestClient_Send(t *testing.T) {
	fake := &fakeServer{}
	c := newTestClient(t, fake, "cookie-1")
	ctx := context.Background()

	res, err := c.Send(ctx, Message{To: "jefe@example.cl", Subject: "Hola", OfficialID: "off-1"})
	require.NoError(t, err)
	assert.Equal(t, SendResult{ID: "msg-1", RequestID: "req-1"}, res)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "off-1", fake.sent[0].OfficialID)

	_, err = c.Send(ctx, Message{Subject: "sin destinatario"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "to_required", apiErr.Code)
	assert.Equal(t, "req-9", apiErr.RequestID)

	ids, err := c.SentHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"off-1"}, ids)
}

func TestClient_Logout(t *testing.T) {
	c := newTestClient(t, &fakeServer{}, "cookie-1")
	require.NoError(t, c.Logout(context.Background()))
	assert.Empty(t, c.Session())
}
