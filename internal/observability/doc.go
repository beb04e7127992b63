// Package observability carries the request correlation id through a request:
// Middleware assigns it, RequestID reads it back, and Logger returns a logger
// that tags every line with it.
package observability
