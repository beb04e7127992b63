package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
)

// DispatchEvent captures one pass through the dispatch pipeline for the
// audit trail.
//
// # Privacy Considerations
//
// UserEmail and Recipient contain PII. They are only logged in full when the
// AuditLogger is configured with IncludePII; otherwise the sender is reduced
// to its domain and the recipient is omitted.
type DispatchEvent struct {
	UserID     string
	UserEmail  string
	Recipient  string
	OfficialID string
	RequestID  string

	// Outcome is OutcomeSent or the failure kind.
	Outcome   string
	Code      string
	MessageID string

	Attachments int

	StartTime time.Time
	Duration  time.Duration

	TraceID string
	SpanID  string
}

// NewDispatchEvent creates a DispatchEvent with timing started.
// Call Complete when the pipeline finishes.
func NewDispatchEvent(requestID string) *DispatchEvent {
	return &DispatchEvent{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// WithUser sets the sender identity.
func (e *DispatchEvent) WithUser(userID, email string) *DispatchEvent {
	e.UserID = userID
	e.UserEmail = email
	return e
}

// WithMessage sets what was being sent.
func (e *DispatchEvent) WithMessage(recipient, officialID string, attachments int) *DispatchEvent {
	e.Recipient = recipient
	e.OfficialID = officialID
	e.Attachments = attachments
	return e
}

// WithSpanContext extracts trace context from the current span.
func (e *DispatchEvent) WithSpanContext(ctx context.Context) *DispatchEvent {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		e.TraceID = span.SpanContext().TraceID().String()
		e.SpanID = span.SpanContext().SpanID().String()
	}
	return e
}

// Complete records the outcome and calculates the duration.
func (e *DispatchEvent) Complete(outcome, code, messageID string) *DispatchEvent {
	e.Duration = time.Since(e.StartTime)
	e.Outcome = outcome
	e.Code = code
	e.MessageID = messageID
	return e
}

// Sent reports whether the message reached the provider.
func (e *DispatchEvent) Sent() bool {
	return e.Outcome == OutcomeSent
}

// UserDomain returns the domain portion of the sender's email.
func (e *DispatchEvent) UserDomain() string {
	return logging.ExtractDomain(e.UserEmail)
}

// LogAttrs returns slog attributes without PII.
func (e *DispatchEvent) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("outcome", e.Outcome),
		slog.String("user_domain", e.UserDomain()),
		slog.Duration("duration", e.Duration),
		slog.Int("attachments", e.Attachments),
	}
	return append(attrs, e.commonAttrs()...)
}

// LogAuditAttrs returns slog attributes including the sender and recipient.
//
// # Security Warning
//
// Route these logs to storage with appropriate access controls.
func (e *DispatchEvent) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("outcome", e.Outcome),
		slog.String("user", e.UserEmail),
		slog.Duration("duration", e.Duration),
		slog.Int("attachments", e.Attachments),
	}
	if e.Recipient != "" {
		attrs = append(attrs, slog.String("recipient", e.Recipient))
	}
	return append(attrs, e.commonAttrs()...)
}

func (e *DispatchEvent) commonAttrs() []slog.Attr {
	var attrs []slog.Attr
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.OfficialID != "" {
		attrs = append(attrs, slog.String("official_id", e.OfficialID))
	}
	if e.Code != "" {
		attrs = append(attrs, slog.String("code", e.Code))
	}
	if e.MessageID != "" {
		attrs = append(attrs, slog.String("message_id", e.MessageID))
	}
	if e.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.TraceID))
	}
	if e.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", e.SpanID))
	}
	return attrs
}

// AuditLogger writes the dispatch audit trail.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, PII is not included in logs.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:  logger,
		enabled: true,
	}
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogDispatch logs a completed dispatch. A nil AuditLogger logs nothing.
func (al *AuditLogger) LogDispatch(e *DispatchEvent) {
	if al == nil || !al.enabled || e == nil {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = e.LogAuditAttrs()
	} else {
		attrs = e.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if e.Sent() {
		al.logger.Info("dispatch_sent", args...)
	} else {
		al.logger.Warn("dispatch_rejected", args...)
	}
}
