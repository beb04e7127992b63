package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/Sidrek1992/CFT-App-sub001/internal/dispatch"
	"github.com/Sidrek1992/CFT-App-sub001/internal/google"
	"github.com/Sidrek1992/CFT-App-sub001/internal/instrumentation"
	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
	"github.com/Sidrek1992/CFT-App-sub001/internal/observability"
	"github.com/Sidrek1992/CFT-App-sub001/internal/session"
	"github.com/Sidrek1992/CFT-App-sub001/internal/tokenmeta"
)

const (
	stateCookieName = "cft_oauth_state"
	stateCookieTTL  = 10 * time.Minute
	stateBytes      = 32

	// maxTokenMetaBody bounds PUT /api/auth/token-meta.
	maxTokenMetaBody = 4 << 10
)

// Callback failure reasons appended to the redirect.
const (
	reasonInvalidState   = "invalid_state"
	reasonMissingCode    = "missing_code"
	reasonExchangeFailed = "exchange_failed"
	reasonUserinfoFailed = "userinfo_failed"
	reasonStoreFailed    = "store_failed"
	reasonSessionFailed  = "session_failed"
)

var allowedPrompts = map[string]bool{
	google.PromptNone:          true,
	google.PromptLogin:         true,
	google.PromptConsent:       true,
	google.PromptSelectAccount: true,
}

func newState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Server) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     stateCookieName,
		Value:    value,
		Path:     "/api/auth/google",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) requireGoogle(w http.ResponseWriter, r *http.Request) bool {
	if s.google != nil {
		return true
	}
	writeError(w, r, http.StatusInternalServerError, errorResponse{Error: codeMissingGoogleCredentials})
	return false
}

// handleGoogleAuth redirects the browser to Google's consent screen.
func (s *Server) handleGoogleAuth(w http.ResponseWriter, r *http.Request) {
	if !s.requireGoogle(w, r) {
		return
	}

	state, err := newState()
	if err != nil {
		observability.Logger(r.Context()).Error("OAuth state generation failed", logging.Err(err))
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: dispatch.CodeInternal})
		return
	}

	opts := &google.AuthorizationURLOptions{LoginHint: r.URL.Query().Get("login_hint")}
	if prompt := r.URL.Query().Get("prompt"); allowedPrompts[prompt] {
		opts.Prompt = prompt
	}

	http.SetCookie(w, s.stateCookie(state, int(stateCookieTTL.Seconds())))
	http.Redirect(w, r, s.google.AuthURL(state, opts), http.StatusFound)
}

// handleGoogleCallback completes sign-in and sends the browser back to the app.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.requireGoogle(w, r) {
		return
	}

	ctx := r.Context()
	logger := logging.WithOperation(observability.Logger(ctx), "oauth.callback")
	base := BaseURL(r, s.baseURL)

	fail := func(reason string, err error) {
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		logger.Warn("sign-in failed", slog.String("reason", reason), logging.Err(err))
		http.Redirect(w, r, withQuery(base, map[string]string{"gmail": "error", "reason": reason}), http.StatusFound)
	}

	q := r.URL.Query()
	result := google.ParseCallbackQuery(q.Get("code"), q.Get("state"), q.Get("error"), q.Get("error_description"), q.Get("error_uri"))

	expected, _ := r.Cookie(stateCookieName)
	http.SetCookie(w, s.stateCookie("", -1))

	if result.IsError() {
		fail(result.Error, result.Err())
		return
	}
	if expected == nil || expected.Value == "" || result.State == "" ||
		subtle.ConstantTimeCompare([]byte(expected.Value), []byte(result.State)) != 1 {
		fail(reasonInvalidState, nil)
		return
	}
	if result.Code == "" {
		fail(reasonMissingCode, nil)
		return
	}

	var tok *oauth2.Token
	err := s.metrics.ObserveGoogleCall(ctx, instrumentation.ServiceOAuth, instrumentation.OperationExchange, func(ctx context.Context) error {
		var err error
		tok, err = s.google.Exchange(ctx, result.Code)
		return err
	})
	if err != nil {
		fail(reasonExchangeFailed, err)
		return
	}
	var info *google.UserInfo
	err = s.metrics.ObserveGoogleCall(ctx, instrumentation.ServiceUserinfo, instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		info, err = s.google.UserInfo(ctx, tok)
		return err
	})
	if err != nil {
		fail(reasonUserinfoFailed, err)
		return
	}
	user, err := s.store.GetOrCreateUser(ctx, info.ID, info.Email, info.Name)
	if err != nil {
		fail(reasonStoreFailed, err)
		return
	}

	sess := session.Session{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Tokens: session.TokenSetFromOAuth2(tok),
	}
	if _, err := s.codec.SetSession(w, sess); err != nil {
		fail(reasonSessionFailed, err)
		return
	}
	s.metrics.RecordSessionIssued(ctx, instrumentation.SessionReasonLogin)
	s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	s.putTokenMeta(ctx, logger, sess)

	logger.Info("user signed in", logging.UserHash(user.Email), logging.Domain(user.Email))
	http.Redirect(w, r, withQuery(base, map[string]string{"gmail": "connected"}), http.StatusFound)
}

func (s *Server) putTokenMeta(ctx context.Context, logger *slog.Logger, sess session.Session) tokenmeta.Meta {
	meta := tokenmeta.New(sess.UserID, sess.Email, sess.Tokens.AccessToken, sess.Tokens.Expiry, s.now())
	if err := s.tokenMeta.Put(ctx, meta); err != nil {
		logger.Warn("failed to write token meta", logging.Err(err))
	}
	return meta
}

// statusResponse is the body of GET /api/auth/status. Absent values are null.
type statusResponse struct {
	Authenticated  bool       `json:"authenticated"`
	UserID         *string    `json:"userId"`
	Email          *string    `json:"email"`
	Name           *string    `json:"name"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.codec.FromRequest(r)
	if !ok {
		writeJSON(w, http.StatusOK, statusResponse{})
		return
	}

	resp := statusResponse{
		Authenticated: true,
		UserID:        &sess.UserID,
		Email:         &sess.Email,
	}
	if sess.Name != "" {
		resp.Name = &sess.Name
	}
	if !sess.Tokens.Expiry.IsZero() {
		exp := sess.Tokens.Expiry.UTC()
		resp.TokenExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
	TokenHash string    `json:"tokenHash"`
}

// handleRefresh renews the provider token held in the session without user
// interaction and re-issues the session cookie.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.codec.FromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, errorResponse{Error: dispatch.CodeNotAuthenticated})
		return
	}
	if !s.requireGoogle(w, r) {
		return
	}

	ctx := r.Context()
	logger := logging.WithOperation(observability.Logger(ctx), "oauth.refresh")

	var refreshed *oauth2.Token
	err := s.metrics.ObserveGoogleCall(ctx, instrumentation.ServiceOAuth, instrumentation.OperationRefresh, func(ctx context.Context) error {
		var err error
		refreshed, err = s.google.Refresh(ctx, sess.Tokens.OAuth2())
		return err
	})
	if err != nil {
		s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		if code := google.ReconsentCode(err); code != "" {
			logger.Info("token renewal needs consent", logging.Code(code), logging.UserHash(sess.Email))
			writeError(w, r, http.StatusUnauthorized, errorResponse{Error: dispatch.CodeProviderAuth, Code: code})
			return
		}
		logger.Warn("token renewal failed", logging.Err(err), logging.UserHash(sess.Email))
		writeError(w, r, http.StatusBadGateway, errorResponse{Error: codeRefreshFailed})
		return
	}

	next := sess.WithTokens(sess.Tokens.Merge(refreshed))
	if _, err := s.codec.SetSession(w, next); err != nil {
		logger.Error("failed to issue session", logging.Err(err))
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: dispatch.CodeInternal})
		return
	}
	s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
	s.metrics.RecordSessionIssued(ctx, instrumentation.SessionReasonRefresh)

	meta := s.putTokenMeta(ctx, logger, next)
	writeJSON(w, http.StatusOK, refreshResponse{ExpiresAt: meta.ExpiresAt, TokenHash: meta.TokenHash})
}

// handleLogout always clears the cookie. Revocation and meta cleanup are
// best effort.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.codec.FromRequest(r)
	s.codec.ClearSession(w)

	if ok {
		ctx := r.Context()
		logger := logging.WithOperation(observability.Logger(ctx), "oauth.logout")

		if s.google != nil {
			token := sess.Tokens.AccessToken
			if token == "" {
				token = sess.Tokens.RefreshToken
			}
			revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
			err := s.metrics.ObserveGoogleCall(revokeCtx, instrumentation.ServiceOAuth, instrumentation.OperationRevoke, func(ctx context.Context) error {
				return s.google.Revoke(ctx, token)
			})
			if err != nil {
				logger.Warn("token revocation failed", logging.Err(err))
			}
			cancel()
		}
		if err := s.tokenMeta.Delete(ctx, sess.UserID); err != nil && !errors.Is(err, tokenmeta.ErrNotFound) {
			logger.Warn("failed to delete token meta", logging.Err(err))
		}
		logger.Info("user signed out", logging.UserHash(sess.Email))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetTokenMeta(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.codec.FromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, errorResponse{Error: dispatch.CodeNotAuthenticated})
		return
	}

	meta, err := s.tokenMeta.Get(r.Context(), sess.UserID)
	switch {
	case errors.Is(err, tokenmeta.ErrNotFound):
		writeError(w, r, http.StatusNotFound, errorResponse{Error: codeNotFound})
	case err != nil:
		observability.Logger(r.Context()).Error("failed to read token meta", logging.Err(err))
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: dispatch.CodeInternal})
	default:
		writeJSON(w, http.StatusOK, meta)
	}
}

// handlePutTokenMeta stores the caller's TokenMeta. The uid and email are
// always the session's; a body naming another user is rejected.
func (s *Server) handlePutTokenMeta(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.codec.FromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, errorResponse{Error: dispatch.CodeNotAuthenticated})
		return
	}

	var meta tokenmeta.Meta
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTokenMetaBody)).Decode(&meta); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: codeInvalidTokenMeta})
		return
	}
	if meta.UserID != "" && meta.UserID != sess.UserID {
		writeError(w, r, http.StatusForbidden, errorResponse{Error: "forbidden"})
		return
	}
	meta.UserID = sess.UserID
	meta.Email = sess.Email
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = s.now().UTC()
	}
	if err := meta.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: codeInvalidTokenMeta, Message: err.Error()})
		return
	}

	if err := s.tokenMeta.Put(r.Context(), meta); err != nil {
		observability.Logger(r.Context()).Error("failed to write token meta", logging.Err(err))
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: dispatch.CodeInternal})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
