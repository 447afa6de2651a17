// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/subhogram/riskobot/internal/audit"
	"github.com/subhogram/riskobot/internal/cache"
	"github.com/subhogram/riskobot/internal/metrics"
	"github.com/subhogram/riskobot/internal/types"
)

const chatAnswerTTL = time.Hour

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer string `json:"answer"`
	Cached bool   `json:"cached,omitempty"`
}

// handleChat answers a question grounded in knowledge base context and the
// most recent completed assessment.
// POST /api/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		respondError(w, r, http.StatusBadRequest, "question must not be empty")
		return
	}

	// The key carries the index generation so answers grounded in a retrained
	// or deleted knowledge base are never served from cache.
	generation := s.index.MetaInfo().TrainedAt.UnixNano()
	key := cache.Key("chat", fmt.Sprintf("%d|%s", generation, question))
	if cached, ok := s.cache.Get(key); ok {
		metrics.IncCacheOp("chat", "hit")
		writeJSON(w, http.StatusOK, chatResponse{Answer: string(cached), Cached: true})
		return
	}
	metrics.IncCacheOp("chat", "miss")

	answer, err := s.assessor.Answer(r.Context(), question, s.recentResults(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	s.cache.Set(key, []byte(answer), chatAnswerTTL)
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}

// recentResults fetches the results of the newest completed run, or nil when
// no run has completed yet. Chat still works without assessments.
func (s *Server) recentResults(r *http.Request) []audit.Result {
	runs, err := s.runs.ListRuns(r.Context(), 10)
	if err != nil {
		return nil
	}
	for _, run := range runs {
		if run.Status != types.JobStatusCompleted {
			continue
		}
		full, err := s.runs.GetRun(r.Context(), run.ID)
		if err != nil {
			return nil
		}
		return full.Results
	}
	return nil
}

// handleVersion reports the daemon version.
// GET /api/version
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
