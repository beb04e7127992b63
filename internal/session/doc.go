// Package session issues and verifies the signed session carried in the
// cftmail cookie.
//
// A session is an HS256 JWT holding the user's identity and the Google token
// set obtained at sign-in. The token set is sealed with AES-256-GCM before it
// is embedded, so a leaked cookie does not expose a readable provider
// credential. Sessions are immutable: renewing the provider token means
// issuing a new session.
//
// Verify never returns a partially trusted payload. Any signature, algorithm,
// structure, expiry or sealing failure is reported as "no session".
package session
