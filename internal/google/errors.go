package google

import (
	"errors"

	oauth "github.com/giantswarm/mcp-oauth"
	"github.com/giantswarm/mcp-oauth/providers"
	"golang.org/x/oauth2"
)

// AuthorizationURLOptions carries the optional OIDC parameters of the consent
// redirect (prompt, login_hint).
type AuthorizationURLOptions = providers.AuthorizationURLOptions

// SilentAuthError means the provider needs the user in the loop: the only way
// forward is an interactive consent.
type SilentAuthError = oauth.SilentAuthError

// ErrNoRefreshToken is returned when a renewal is requested for a session that
// was granted without offline access.
var ErrNoRefreshToken = errors.New("no refresh token available")

// OIDC prompt values.
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

// Silent authentication error codes (OIDC Core 3.1.2.6).
var (
	ErrorCodeLoginRequired            = string(oauth.ErrorCodeLoginRequired)
	ErrorCodeConsentRequired          = string(oauth.ErrorCodeConsentRequired)
	ErrorCodeInteractionRequired      = string(oauth.ErrorCodeInteractionRequired)
	ErrorCodeAccountSelectionRequired = string(oauth.ErrorCodeAccountSelectionRequired)
)

// IsSilentAuthError reports whether err means interactive consent is required.
func IsSilentAuthError(err error) bool {
	return oauth.IsSilentAuthError(err)
}

// ParseOAuthError turns an OAuth error code into a typed error. Silent auth
// codes yield a *SilentAuthError. An empty code yields nil.
func ParseOAuthError(errorCode, errorDescription string) error {
	return oauth.ParseOAuthError(errorCode, errorDescription)
}

// CallbackResult holds the query parameters of the consent redirect.
type CallbackResult = oauth.CallbackResult

// ParseCallbackQuery reads the consent redirect parameters. Use Err on the
// result to get a typed error for error responses.
func ParseCallbackQuery(code, state, errorCode, errorDescription, errorURI string) *CallbackResult {
	return oauth.ParseCallbackQuery(code, state, errorCode, errorDescription, errorURI)
}

// ReconsentCode maps a refresh failure to the silent auth error code a client
// should act on. It returns "" when the failure is not the user's to fix
// (network errors, provider outages).
func ReconsentCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoRefreshToken) {
		return ErrorCodeConsentRequired
	}
	var silent *SilentAuthError
	if errors.As(err, &silent) && silent.Code != "" {
		return string(silent.Code)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "unauthorized_client":
			return ErrorCodeInteractionRequired
		case "invalid_scope":
			return ErrorCodeConsentRequired
		}
	}
	return ""
}
