// Package tokenmeta keeps a remote, cross-device fingerprint of a user's
// provider token.
//
// A Meta record never holds the token itself: only an 8 character hash of
// the access token, its expiry and the time it was last renewed. Clients use
// it to decide whether a silent renewal is worth attempting when they start
// without a local token. The record is overwritten on every successful token
// acquisition and removed on sign-out.
package tokenmeta
