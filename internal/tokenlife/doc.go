// Package tokenlife keeps a client's provider token fresh without getting in
// the way of sending.
//
// The Manager classifies the local token as NoToken, Fresh, NearExpiry or
// Stale. A background check renews NearExpiry and Stale tokens silently
// through a Renewer and mirrors each renewal to a remote TokenMeta record.
// When a client starts without a local token, Bootstrap makes at most one
// silent attempt, and only when the remote record shows a recent renewal.
//
// Interactive re-consent is never automatic. RequestInteractive offers it at
// most once per cooldown, and the time of the last offer is kept in the
// LocalStore so processes sharing the store observe the same cooldown.
//
// Nothing in the manager sits on the send path. A send uses whatever token is
// stored and the server has the final word on whether it is valid.
package tokenlife
