package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a dispatch failure. Each kind maps to one HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindValidation
	KindNotFound
	KindRateLimit
	KindProviderAuth
	KindProviderSend
)

// Error codes that are not validation codes.
const (
	CodeNotAuthenticated = "not_authenticated"
	CodeOfficialNotFound = "official_not_found"
	CodeRateLimited      = "rate_limited"
	CodeProviderAuth     = "provider_auth"
	CodeSendFailed       = "send_failed"
	CodeInternal         = "internal_error"
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindProviderAuth:
		return "provider_auth"
	case KindProviderSend:
		return "provider_send"
	default:
		return "internal"
	}
}

// Error is the typed failure of the dispatch pipeline.
type Error struct {
	Kind    Kind
	Code    string // stable, machine-readable
	Message string // human-readable; provider text for send failures

	// RetryAfter is set for KindRateLimit.
	RetryAfter time.Duration

	// ReconsentCode is the silent auth code for KindProviderAuth, if known.
	ReconsentCode string

	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	switch e.Kind {
	case KindAuthentication, KindProviderAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindProviderSend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ErrNotAuthenticated is returned when the request carries no valid session.
func ErrNotAuthenticated() *Error {
	return &Error{Kind: KindAuthentication, Code: CodeNotAuthenticated}
}

// ErrValidation is returned by Sanitize.
func ErrValidation(code string) *Error {
	return &Error{Kind: KindValidation, Code: code}
}

// ErrOfficialNotFound is returned when the officialId does not belong to the user.
func ErrOfficialNotFound() *Error {
	return &Error{Kind: KindNotFound, Code: CodeOfficialNotFound}
}

// ErrRateLimited is returned when the sender exhausted the dispatch window.
func ErrRateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Code: CodeRateLimited, RetryAfter: retryAfter}
}

// ErrProviderAuth is returned when the provider rejected the sender's credentials.
func ErrProviderAuth(reconsentCode string, err error) *Error {
	return &Error{Kind: KindProviderAuth, Code: CodeProviderAuth, ReconsentCode: reconsentCode, Err: err}
}

// ErrSendFailed is returned when the provider refused or failed the send.
func ErrSendFailed(message string, err error) *Error {
	return &Error{Kind: KindProviderSend, Code: CodeSendFailed, Message: message, Err: err}
}

// ErrInternal wraps failures of cftmail's own dependencies.
func ErrInternal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Err: err}
}
