package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, FormatJSON, false)
		logger.Info("hello", Status(StatusSuccess))

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
		}
		if line[KeyStatus] != StatusSuccess {
			t.Errorf("status = %v, want %q", line[KeyStatus], StatusSuccess)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, FormatText, false)
		logger.Info("hello")
		if !strings.Contains(buf.String(), "msg=hello") {
			t.Errorf("expected text output, got %q", buf.String())
		}
	})

	t.Run("debug level", func(t *testing.T) {
		var buf bytes.Buffer
		New(&buf, FormatJSON, false).Debug("hidden")
		if buf.Len() != 0 {
			t.Errorf("debug line written without debug flag: %q", buf.String())
		}
		New(&buf, FormatJSON, true).Debug("visible")
		if buf.Len() == 0 {
			t.Error("debug line missing with debug flag")
		}
	})
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithRequestID(logger, "req-123").Info("x")
	if !strings.Contains(buf.String(), `"request_id":"req-123"`) {
		t.Errorf("request id missing from %q", buf.String())
	}

	if got := WithRequestID(logger, ""); got != logger {
		t.Error("empty request id should return the same logger")
	}
}

func TestWithOperation(t *testing.T) {
	if WithOperation(slog.Default(), "gmail.send") == nil {
		t.Error("WithOperation returned nil")
	}
	if WithService(slog.Default(), "gmail") == nil {
		t.Error("WithService returned nil")
	}
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value string
	}{
		{"operation", Operation("send"), KeyOperation, "send"},
		{"service", Service("gmail"), KeyService, "gmail"},
		{"status", Status(StatusRejected), KeyStatus, "rejected"},
		{"code", Code("to_invalid"), KeyCode, "to_invalid"},
		{"official", OfficialID("off-1"), KeyOfficialID, "off-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.key)
			}
			if tt.attr.Value.String() != tt.value {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.value)
			}
		})
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	if attr.Key != KeyError || attr.Value.String() != "boom" {
		t.Errorf("Err() = %v, want error=boom", attr)
	}

	attr = Err(nil)
	if attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty string (empty group)", attr.Key)
	}
}

func TestAnonymizeEmail(t *testing.T) {
	tests := []struct {
		email    string
		wantLen  int
		hasValue bool
	}{
		{"jane@example.com", 21, true}, // "user:" + 16 hex chars
		{"user@gmail.com", 21, true},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			result := AnonymizeEmail(tt.email)
			if !tt.hasValue {
				if result != "" {
					t.Errorf("AnonymizeEmail(%q) = %q, want empty string", tt.email, result)
				}
				return
			}
			if len(result) != tt.wantLen {
				t.Errorf("AnonymizeEmail(%q) length = %d, want %d", tt.email, len(result), tt.wantLen)
			}
			if !strings.HasPrefix(result, "user:") {
				t.Errorf("AnonymizeEmail(%q) should start with 'user:', got %q", tt.email, result)
			}
		})
	}

	if AnonymizeEmail("Test@Example.com") != AnonymizeEmail("test@example.com") {
		t.Error("AnonymizeEmail should be case-insensitive")
	}
	if AnonymizeEmail("test@example.com") == AnonymizeEmail("other@example.com") {
		t.Error("Different emails should produce different hashes")
	}
}

func TestUserHash(t *testing.T) {
	attr := UserHash("jane@example.com")
	if attr.Key != KeyUserHash {
		t.Errorf("UserHash key = %q, want %q", attr.Key, KeyUserHash)
	}
	if len(attr.Value.String()) != 21 {
		t.Errorf("UserHash value length = %d, want 21", len(attr.Value.String()))
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "<empty>"},
		{"abc123", "[token:6 chars]"},
		{"ya29.a_very_long_token", "[token:22 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := SanitizeToken(tt.token); result != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, result, tt.expected)
			}
		})
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		email    string
		expected string
	}{
		{"jane@example.com", "example.com"},
		{"invalid", ""},
		{"", ""},
		{"user@", ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if result := ExtractDomain(tt.email); result != tt.expected {
				t.Errorf("ExtractDomain(%q) = %q, want %q", tt.email, result, tt.expected)
			}
		})
	}

	attr := Domain("jane@example.com")
	if attr.Key != "user_domain" || attr.Value.String() != "example.com" {
		t.Errorf("Domain() = %v", attr)
	}
}
