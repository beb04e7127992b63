package instrumentation

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

const (
	testEmail     = "jane@example.com"
	testDomain    = "example.com"
	testRecipient = "official@agency.cl"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestDispatchEvent_Complete(t *testing.T) {
	e := NewDispatchEvent("req-1").
		WithUser("u-1", testEmail).
		WithMessage(testRecipient, "off-1", 2)

	if e.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}

	e.Complete(OutcomeSent, "", "msg-1")

	if !e.Sent() {
		t.Error("expected event to be sent")
	}
	if e.Duration < 0 {
		t.Error("Duration should not be negative")
	}
	if e.MessageID != "msg-1" {
		t.Errorf("MessageID = %q, want msg-1", e.MessageID)
	}
	if e.UserDomain() != testDomain {
		t.Errorf("UserDomain() = %q, want %q", e.UserDomain(), testDomain)
	}
}

func TestDispatchEvent_WithSpanContext_NoSpan(t *testing.T) {
	e := NewDispatchEvent("req-1").WithSpanContext(context.Background())
	if e.TraceID != "" || e.SpanID != "" {
		t.Errorf("expected empty trace context, got %q/%q", e.TraceID, e.SpanID)
	}
}

func TestAuditLogger_LogDispatch_WithoutPII(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(newJSONLogger(&buf))

	al.LogDispatch(NewDispatchEvent("req-7").
		WithUser("u-1", testEmail).
		WithMessage(testRecipient, "off-1", 0).
		Complete(OutcomeSent, "", "msg-1"))

	out := buf.String()
	if strings.Contains(out, testEmail) {
		t.Errorf("log contains sender email: %s", out)
	}
	if strings.Contains(out, testRecipient) {
		t.Errorf("log contains recipient: %s", out)
	}

	entry := decodeLogLine(t, &buf)
	if entry["msg"] != "dispatch_sent" {
		t.Errorf("msg = %v, want dispatch_sent", entry["msg"])
	}
	if entry["user_domain"] != testDomain {
		t.Errorf("user_domain = %v, want %s", entry["user_domain"], testDomain)
	}
	if entry["request_id"] != "req-7" {
		t.Errorf("request_id = %v, want req-7", entry["request_id"])
	}
	if entry["official_id"] != "off-1" {
		t.Errorf("official_id = %v, want off-1", entry["official_id"])
	}
}

func TestAuditLogger_LogDispatch_WithPII(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLoggerWithConfig(newJSONLogger(&buf), AuditConfig{Enabled: true, IncludePII: true})

	al.LogDispatch(NewDispatchEvent("req-8").
		WithUser("u-1", testEmail).
		WithMessage(testRecipient, "", 1).
		Complete("rate_limit", "rate_limited", ""))

	entry := decodeLogLine(t, &buf)
	if entry["msg"] != "dispatch_rejected" {
		t.Errorf("msg = %v, want dispatch_rejected", entry["msg"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["user"] != testEmail {
		t.Errorf("user = %v, want %s", entry["user"], testEmail)
	}
	if entry["recipient"] != testRecipient {
		t.Errorf("recipient = %v, want %s", entry["recipient"], testRecipient)
	}
	if entry["code"] != "rate_limited" {
		t.Errorf("code = %v, want rate_limited", entry["code"])
	}
}

func TestAuditLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLoggerWithConfig(newJSONLogger(&buf), AuditConfig{Enabled: false})

	al.LogDispatch(NewDispatchEvent("req-9").Complete(OutcomeSent, "", "m"))

	if buf.Len() != 0 {
		t.Errorf("expected no output when disabled, got %s", buf.String())
	}

	var nilLogger *AuditLogger
	nilLogger.LogDispatch(NewDispatchEvent("req-10"))
}
