// Package server exposes cftmail over HTTP.
//
// # Routes
//
// Sign-in with Google and session management:
//   - GET  /api/auth/google: redirect to Google consent
//   - GET  /api/auth/google/callback: finish sign-in, set the session cookie
//   - GET  /api/auth/status: who the session belongs to
//   - POST /api/auth/refresh: renew the provider token server-side
//   - POST /api/auth/logout: clear the cookie, then revoke at Google
//   - GET, PUT /api/auth/token-meta: the caller's TokenMeta record
//
// Mail and history:
//   - POST /api/gmail/send: run the dispatch pipeline
//   - GET  /api/user/sent-history: official ids already written to
//
// Probes: /api/health, /healthz, /readyz and /healthz/detailed.
//
// Every response carries an X-Request-Id. Errors are JSON objects with an
// "error" code; the code set is stable and clients branch on it.
//
// MetricsServer serves Prometheus metrics on a separate port so operational
// data never shares a listener with user traffic.
package server
