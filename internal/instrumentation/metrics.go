package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
)

// Metric attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrOutcome   = "outcome"
	attrAction    = "action"
	attrDomain    = "user_domain"
	attrReason    = "reason"
)

// Dispatch outcomes besides the failure kinds reported by the dispatch package.
const (
	OutcomeSent = "sent"
)

// Google API call status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Sign-in and provider refresh results.
const (
	OAuthResultSuccess = "success"
	OAuthResultFailure = "failure"
)

// Google services cftmail calls.
const (
	ServiceGmail    = "gmail"
	ServiceOAuth    = "oauth2"
	ServiceUserinfo = "userinfo"
)

// Session issuance reasons.
const (
	SessionReasonLogin   = "login"
	SessionReasonRefresh = "refresh"
	SessionReasonSend    = "send"
)

// Metrics provides methods for recording observability metrics. A nil
// *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Google API metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// OAuth metrics
	oauthAuthTotal         metric.Int64Counter
	oauthTokenRefreshTotal metric.Int64Counter
	sessionsIssuedTotal    metric.Int64Counter

	// Dispatch metrics
	dispatchTotal      metric.Int64Counter
	dispatchDuration   metric.Float64Histogram
	rateLimitDenied    metric.Int64Counter
	auditWriteFailures metric.Int64Counter

	// senderDomains adds the sender's email domain to dispatch metrics.
	senderDomains bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter, senderDomains bool) (*Metrics, error) {
	m := &Metrics{
		senderDomains: senderDomains,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.oauthAuthTotal, err = meter.Int64Counter(
		"oauth_auth_total",
		metric.WithDescription("Total number of Google sign-in attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of provider token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.sessionsIssuedTotal, err = meter.Int64Counter(
		"sessions_issued_total",
		metric.WithDescription("Total number of session cookies issued"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_issued_total counter: %w", err)
	}

	m.dispatchTotal, err = meter.Int64Counter(
		"dispatch_total",
		metric.WithDescription("Total number of dispatch requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_total counter: %w", err)
	}

	m.dispatchDuration, err = meter.Float64Histogram(
		"dispatch_duration_seconds",
		metric.WithDescription("Dispatch pipeline duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_duration_seconds histogram: %w", err)
	}

	m.rateLimitDenied, err = meter.Int64Counter(
		"rate_limit_denied_total",
		metric.WithDescription("Total number of requests denied by a rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit_denied_total counter: %w", err)
	}

	m.auditWriteFailures, err = meter.Int64Counter(
		"audit_write_failures_total",
		metric.WithDescription("Sent mail whose audit record could not be written"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_write_failures_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordGoogleAPIOperation records a Google API operation.
//
// Parameters:
//   - service: Google service name (gmail, oauth2, userinfo)
//   - operation: Operation type (send, exchange, refresh, revoke, get)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// ObserveGoogleCall runs fn inside a client span for service and operation
// and records its duration and status. fn's error is returned unchanged. A
// nil *Metrics still traces the call.
func (m *Metrics) ObserveGoogleCall(ctx context.Context, service, operation string, fn func(context.Context) error) error {
	ctx, span := StartGoogleAPISpan(ctx, service, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := StatusSuccess
	if err != nil {
		status = StatusError
		SetSpanError(span, err)
	} else {
		SetSpanSuccess(span)
	}
	m.RecordGoogleAPIOperation(ctx, service, operation, status, time.Since(start))
	return err
}

// RecordOAuthAuth records a sign-in attempt. Result is "success" or "failure".
func (m *Metrics) RecordOAuthAuth(ctx context.Context, result string) {
	if m == nil || m.oauthAuthTotal == nil {
		return
	}
	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthTokenRefresh records a provider token refresh. Result is
// "success" or "failure".
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return
	}
	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordSessionIssued records a session cookie being issued for reason.
func (m *Metrics) RecordSessionIssued(ctx context.Context, reason string) {
	if m == nil || m.sessionsIssuedTotal == nil {
		return
	}
	m.sessionsIssuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
}

// RecordDispatch records one pass through the dispatch pipeline. outcome is
// OutcomeSent or the failure kind. userEmail is only reported, as a domain,
// when sender domains are enabled.
func (m *Metrics) RecordDispatch(ctx context.Context, outcome, userEmail string, duration time.Duration) {
	if m == nil || m.dispatchTotal == nil || m.dispatchDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOutcome, outcome),
	}
	if domain := logging.ExtractDomain(userEmail); m.senderDomains && domain != "" {
		attrs = append(attrs, attribute.String(attrDomain, domain))
	}

	m.dispatchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied records a request denied by the limiter for action.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, action string) {
	if m == nil || m.rateLimitDenied == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attribute.String(attrAction, action)))
}

// RecordAuditWriteFailure records a sent message whose audit upsert failed.
func (m *Metrics) RecordAuditWriteFailure(ctx context.Context) {
	if m == nil || m.auditWriteFailures == nil {
		return
	}
	m.auditWriteFailures.Add(ctx, 1)
}
