package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the default tracer name for cftmail.
const TracerName = "github.com/Sidrek1992/CFT-App-sub001"

// Google API operations, reported as span and metric attributes.
const (
	OperationSend     = "send"
	OperationExchange = "exchange"
	OperationRefresh  = "refresh"
	OperationRevoke   = "revoke"
	OperationGet      = "get"
)

// Span attribute keys.
const (
	// SpanAttrService is the Google service name attribute.
	SpanAttrService = "google.service"

	// SpanAttrOperation is the operation type attribute.
	SpanAttrOperation = "google.operation"

	// SpanAttrUserHash is the anonymized sender attribute. Raw emails are never
	// attached to spans.
	SpanAttrUserHash = "cftmail.user_hash"

	// SpanAttrRequestID is the correlation id of the HTTP request.
	SpanAttrRequestID = "cftmail.request_id"

	// SpanAttrOfficialID is the audited recipient record.
	SpanAttrOfficialID = "cftmail.official_id"

	// SpanAttrOutcome is the dispatch outcome.
	SpanAttrOutcome = "cftmail.outcome"

	// SpanAttrAttachments is the number of attachments in a message.
	SpanAttrAttachments = "cftmail.attachments"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 8),
	}
}

// WithService adds the Google service name attribute.
func (b *SpanAttributeBuilder) WithService(service string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrService, service))
	return b
}

// WithOperation adds the operation type attribute.
func (b *SpanAttributeBuilder) WithOperation(operation string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrOperation, operation))
	return b
}

// WithUserHash adds the anonymized sender.
func (b *SpanAttributeBuilder) WithUserHash(hash string) *SpanAttributeBuilder {
	if hash != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrUserHash, hash))
	}
	return b
}

// WithRequestID adds the request correlation id.
func (b *SpanAttributeBuilder) WithRequestID(id string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrRequestID, id))
	}
	return b
}

// WithOfficialID adds the audited recipient record id.
func (b *SpanAttributeBuilder) WithOfficialID(id string) *SpanAttributeBuilder {
	if id != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrOfficialID, id))
	}
	return b
}

// WithAttachments adds the attachment count.
func (b *SpanAttributeBuilder) WithAttachments(n int) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Int(SpanAttrAttachments, n))
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartDispatchSpan starts the server span covering one dispatch request.
func StartDispatchSpan(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "dispatch.send",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartGoogleAPISpan starts a span for Google API operations.
// Includes service and operation attributes.
func StartGoogleAPISpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "google."+service+"."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context.
// Returns empty string if no valid span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
