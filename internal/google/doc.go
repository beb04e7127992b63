// Package google handles the Google side of sign-in: the consent redirect,
// the authorization-code exchange, user info, silent token refresh and
// revocation.
//
// Errors from the identity provider that require the user to go through the
// consent screen again are reported as SilentAuthError values, so callers can
// tell "ask the user" apart from transient failures with IsSilentAuthError.
package google
