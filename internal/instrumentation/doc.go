// Package instrumentation provides OpenTelemetry instrumentation for the
// cftmail server.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//
// Google API Metrics:
//   - google_api_operations_total: Counter of Google API operations by service, operation, status
//   - google_api_operation_duration_seconds: Histogram of Google API operation durations
//
// Authentication Metrics:
//   - oauth_auth_total: Counter of Google sign-ins by result
//   - oauth_token_refresh_total: Counter of token refresh attempts by result
//   - sessions_issued_total: Counter of session cookies issued by reason
//
// Dispatch Metrics:
//   - dispatch_total: Counter of dispatch requests by outcome
//   - dispatch_duration_seconds: Histogram of dispatch pipeline durations
//   - rate_limit_denied_total: Counter of requests denied by a rate limiter
//   - audit_write_failures_total: Counter of sent mail whose audit record failed
//
// # Tracing
//
// Spans are created for dispatch requests (dispatch.send) and Google API
// calls (google.<service>.<operation>). Metrics.ObserveGoogleCall wraps a
// call in its span and records the google_api_* metrics for it.
//
// # Configuration
//
// LoadConfig reads the environment:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus or otlp (default: prometheus)
//   - TRACING_EXPORTER: none, otlp or stdout (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: cftmail)
//   - METRICS_SENDER_DOMAINS: label dispatch metrics with the sender domain
//   - AUDIT_LOGGING_ENABLED / AUDIT_LOGGING_INCLUDE_PII: dispatch audit trail
//
// Prometheus metrics live in a registry owned by the Provider and are
// served through Provider.MetricsHandler.
//
// # Example Usage
//
//	cfg, err := instrumentation.LoadConfig(version)
//	if err != nil {
//		return err
//	}
//	provider, err := instrumentation.NewProvider(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	m := provider.Metrics()
//	m.RecordDispatch(ctx, instrumentation.OutcomeSent, "", time.Since(start))
package instrumentation
