package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/Sidrek1992/CFT-App-sub001/internal/dispatch"
	"github.com/Sidrek1992/CFT-App-sub001/internal/instrumentation"
	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
	"github.com/Sidrek1992/CFT-App-sub001/internal/observability"
	"github.com/Sidrek1992/CFT-App-sub001/internal/session"
)

// handleSend dispatches one message for the signed-in user.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Without a session the body is never read.
	var (
		sess *session.Session
		raw  []byte
	)
	if v, ok := s.codec.FromRequest(r); ok {
		sess = &v
	}

	var err error
	if sess != nil {
		raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, dispatch.MaxRequestBody))
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: codePayloadTooLarge})
			return
		}
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: dispatch.CodeInvalidJSON})
		return
	}

	result, err := s.dispatch.Send(ctx, sess, raw)
	if err != nil {
		de, ok := dispatch.AsError(err)
		if !ok {
			de = dispatch.ErrInternal(err)
		}
		writeDispatchError(w, r, de)
		return
	}

	if result.Refreshed != nil && sess != nil {
		if _, err := s.codec.SetSession(w, sess.WithTokens(*result.Refreshed)); err != nil {
			observability.Logger(ctx).Warn("failed to re-issue session after refresh", logging.Err(err))
		} else {
			s.metrics.RecordSessionIssued(ctx, instrumentation.SessionReasonSend)
			s.putTokenMeta(ctx, observability.Logger(ctx), sess.WithTokens(*result.Refreshed))
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// handleSentHistory lists the officials the user has already written to.
func (s *Server) handleSentHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.codec.FromRequest(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, errorResponse{Error: dispatch.CodeNotAuthenticated})
		return
	}

	ids, err := s.store.SentHistory(r.Context(), sess.UserID)
	if err != nil {
		observability.Logger(r.Context()).Error("failed to load sent history", logging.Err(err))
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: dispatch.CodeInternal})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}
