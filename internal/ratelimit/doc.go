// Package ratelimit holds the two throttles used by the HTTP surface.
//
// FixedWindow is the per-identity action limiter that guards outbound mail.
// It counts calls in fixed windows keyed by (action, identity) and reports how
// long a denied caller has to wait. Windows are coarse on purpose: a burst at
// a window boundary can briefly double the rate.
//
// IPLimiter is a token bucket per client IP placed in front of the sign-in
// endpoints, where there is no authenticated identity to key on yet.
//
// Both keep process-local state. Several server instances each enforce their
// own limits, so the effective global limit is a loose upper bound.
package ratelimit
