package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated when absent", incoming: "", keep: false},
		{name: "kept when valid", incoming: "abc-123", keep: true},
		{name: "trimmed", incoming: "  abc-123  ", keep: true},
		{name: "replaced when too long", incoming: strings.Repeat("a", MaxRequestIDLength+1), keep: false},
		{name: "replaced when it has spaces", incoming: "abc 123", keep: false},
		{name: "replaced when not ascii", incoming: "ñandú", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := Middleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestID(r.Context())
				assert.Equal(t, seen, w.Header().Get(HeaderRequestID), "header set before handler runs")
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(HeaderRequestID)
			assert.Equal(t, seen, got)
			if tt.keep {
				assert.Equal(t, strings.TrimSpace(tt.incoming), got)
			} else {
				_, err := uuid.Parse(got)
				assert.NoError(t, err, "expected a generated UUID, got %q", got)
			}
		})
	}
}

func TestMiddleware_DistinctIDs(t *testing.T) {
	h := Middleware(nil, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	ids := make(map[string]bool)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		ids[rec.Header().Get(HeaderRequestID)] = true
	}
	assert.Len(t, ids, 50)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Middleware(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Logger(r.Context()).Info("handled")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "handled", entry["msg"])
	assert.Equal(t, "req-42", entry["request_id"])
}

func TestLogger_WithoutMiddleware(t *testing.T) {
	assert.NotNil(t, Logger(context.Background()))
	assert.Empty(t, RequestID(context.Background()))
}
