package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Sidrek1992/CFT-App-sub001/internal/dispatch"
	"github.com/Sidrek1992/CFT-App-sub001/internal/observability"
)

// Error codes of the HTTP surface that are not dispatch codes.
const (
	codeMissingGoogleCredentials = "missing_google_credentials"
	codeInvalidTokenMeta         = "invalid_token_meta"
	codeNotFound                 = "not_found"
	codePayloadTooLarge          = "payload_too_large"
	codeRefreshFailed            = "refresh_failed"
)

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp errorResponse) {
	resp.RequestID = observability.RequestID(r.Context())
	writeJSON(w, status, resp)
}

func writeDispatchError(w http.ResponseWriter, r *http.Request, de *dispatch.Error) {
	if de.Kind == dispatch.KindRateLimit {
		w.Header().Set("Retry-After", strconv.Itoa(max(de.RetryAfterSeconds(), 1)))
	}
	resp := errorResponse{Error: de.Code}
	switch de.Kind {
	case dispatch.KindProviderSend:
		resp.Message = de.Message
	case dispatch.KindProviderAuth:
		resp.Code = de.ReconsentCode
	}
	writeError(w, r, de.Status(), resp)
}
