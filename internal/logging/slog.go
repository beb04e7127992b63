package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation  = "operation"
	KeyService    = "service"
	KeyUserHash   = "user_hash"
	KeyRequestID  = "request_id"
	KeyOfficialID = "official_id"
	KeyDuration   = "duration"
	KeyStatus     = "status"
	KeyCode       = "code"
	KeyError      = "error"
)

// Status values for consistent logging.
// Note: These are intentionally duplicated from instrumentation package
// to avoid circular dependencies (instrumentation imports logging).
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Format selects the slog handler used by New.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// New builds the process logger. JSON is the default so log lines can be
// shipped as-is; text is meant for local development.
func New(w io.Writer, format Format, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if format == FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithService returns a logger with the service attribute set.
func WithService(logger *slog.Logger, service string) *slog.Logger {
	return logger.With(slog.String(KeyService, service))
}

// WithRequestID returns a logger carrying the request correlation id.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	if requestID == "" {
		return logger
	}
	return logger.With(slog.String(KeyRequestID, requestID))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Service returns a slog attribute for the service name.
func Service(svc string) slog.Attr {
	return slog.String(KeyService, svc)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Code returns a slog attribute for a machine-readable error code.
func Code(code string) slog.Attr {
	return slog.String(KeyCode, code)
}

// OfficialID returns a slog attribute for the referenced official record.
func OfficialID(id string) slog.Attr {
	return slog.String(KeyOfficialID, id)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
// This allows safely passing Err(maybeNilErr) without adding empty attributes.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a hashed representation of an email for logging purposes.
// This allows correlation of log entries without exposing PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(strings.ToLower(email)))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user email.
//
// Usage:
//
//	logger.Info("message sent", logging.UserHash(sess.Email))
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content,
// as even partial token prefixes (like JWT headers) can aid attacks.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// ExtractDomain extracts the domain part from an email address.
func ExtractDomain(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// Domain returns a slog attribute for the email domain (lower cardinality than full email).
func Domain(email string) slog.Attr {
	return slog.String("user_domain", ExtractDomain(email))
}
