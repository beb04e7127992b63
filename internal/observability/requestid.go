package observability

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
)

// HeaderRequestID is the request and response header carrying the id.
const HeaderRequestID = "X-Request-Id"

// MaxRequestIDLength bounds client supplied ids.
const MaxRequestIDLength = 128

type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
)

// NewRequestID returns a fresh random id.
func NewRequestID() string {
	return uuid.NewString()
}

// ValidRequestID reports whether a client supplied id can be propagated:
// non-empty, bounded, printable ASCII without spaces.
func ValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores the base logger used by Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the logger stored in ctx (or slog.Default) tagged with the
// request id of ctx.
func Logger(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok || logger == nil {
		logger = slog.Default()
	}
	return logging.WithRequestID(logger, RequestID(ctx))
}

// Middleware assigns every request a correlation id before next runs. A valid
// incoming X-Request-Id is kept; otherwise a UUID is generated. The id is set
// on the response header and stored in the request context with base.
func Middleware(base *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if !ValidRequestID(id) {
			id = NewRequestID()
		}

		w.Header().Set(HeaderRequestID, id)

		ctx := WithRequestID(r.Context(), id)
		if base != nil {
			ctx = WithLogger(ctx, base)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
