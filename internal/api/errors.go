// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/subhogram/riskobot/internal/audit"
	"github.com/subhogram/riskobot/internal/knowledge"
	"github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/ollama"
	"github.com/subhogram/riskobot/internal/persistence/sqlite"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes the JSON error envelope with request correlation.
func respondError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{
		Error:     msg,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// respondDomainError maps domain errors onto HTTP status codes.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, knowledge.ErrNotTrained):
		respondError(w, r, http.StatusConflict, "knowledge base is not trained")
	case errors.Is(err, knowledge.ErrNoContent), errors.Is(err, audit.ErrNoEvidence):
		respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, knowledge.ErrNoSavedIndex):
		respondError(w, r, http.StatusNotFound, "no saved knowledge base")
	case errors.Is(err, knowledge.ErrModelMismatch):
		respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, sqlite.ErrRunNotFound):
		respondError(w, r, http.StatusNotFound, "run not found")
	case errors.Is(err, ollama.ErrModelNotFound):
		respondError(w, r, http.StatusBadGateway, "model not found on ollama server")
	case errors.Is(err, ollama.ErrUnavailable), errors.Is(err, ollama.ErrTimeout), errors.Is(err, ollama.ErrUpstreamError):
		respondError(w, r, http.StatusBadGateway, "model server unavailable")
	default:
		log.FromContext(r.Context()).Error().Err(err).
			Str(log.FieldEvent, "api.internal_error").
			Msg("request failed")
		respondError(w, r, http.StatusInternalServerError, "internal server error")
	}
}
