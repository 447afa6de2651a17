// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/subhogram/riskobot/internal/audit"
	"github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/types"
	"github.com/subhogram/riskobot/internal/workbook"
)

type startRunResponse struct {
	ID     string          `json:"id"`
	Status types.JobStatus `json:"status"`
}

// handleStartRun launches an asynchronous assessment of the uploaded
// evidence against the trained knowledge base.
// POST /api/runs
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if !s.index.Ready() {
		respondError(w, r, http.StatusConflict, "knowledge base is not trained")
		return
	}

	names, err := listDir(s.evidenceDir)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if len(names) == 0 {
		respondError(w, r, http.StatusConflict, "no evidence files uploaded")
		return
	}

	runID := uuid.NewString()
	if err := s.runs.CreateRun(r.Context(), runID, types.JobStatusPending, len(names)); err != nil {
		respondDomainError(w, r, err)
		return
	}

	policies := s.currentPolicies()
	if err := s.jobs.Start(runID, func(ctx context.Context) error {
		return s.executeRun(ctx, runID, names, policies)
	}); err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/runs/"+runID)
	writeJSON(w, http.StatusAccepted, startRunResponse{ID: runID, Status: types.JobStatusRunning})
}

// executeRun is the body of one audit run: extract, assess, report, persist.
func (s *Server) executeRun(ctx context.Context, runID string, names []string, policies []audit.Policy) error {
	logger := log.WithComponentFromContext(ctx, "run")

	var docs []audit.EvidenceDocument
	for _, name := range names {
		text, err := s.extractor.Text(ctx, filepath.Join(s.evidenceDir, name))
		if err != nil {
			logger.Warn().Err(err).
				Str(log.FieldEvent, "run.extract_failed").
				Str(log.FieldFilename, name).
				Msg("evidence extraction failed, skipping file")
			continue
		}
		docs = append(docs, audit.EvidenceDocument{Source: name, Text: text})
	}

	results, err := s.assessor.Assess(ctx, docs, policies)
	if err != nil {
		return fmt.Errorf("assess evidence: %w", err)
	}

	workbookPath := filepath.Join(s.workbookDir, runID+".xlsx")
	if err := workbook.Write(ctx, workbookPath, results); err != nil {
		if errors.Is(err, workbook.ErrNoResults) {
			workbookPath = ""
		} else {
			// Results still get persisted; the workbook is a convenience artifact.
			logger.Error().Err(err).
				Str(log.FieldEvent, "run.workbook_failed").
				Msg("workbook generation failed")
			workbookPath = ""
		}
	}

	if err := s.runs.SaveResults(ctx, runID, workbookPath, results); err != nil {
		return fmt.Errorf("persist results: %w", err)
	}
	return nil
}

// handleListRuns lists runs newest-first.
// GET /api/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			respondError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns one run with its results.
// GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleWorkbook streams the xlsx workbook of a completed run.
// GET /api/runs/{id}/workbook
func (s *Server) handleWorkbook(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if run.Status != types.JobStatusCompleted || run.WorkbookPath == "" {
		respondError(w, r, http.StatusNotFound, "no workbook for this run")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_results.xlsx"`)
	http.ServeFile(w, r, run.WorkbookPath)
}

// handleCancelRun requests cancellation of an in-flight run.
// DELETE /api/runs/{id}
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.runs.GetRun(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if !s.jobs.Cancel(id) {
		respondError(w, r, http.StatusConflict, "run is not cancellable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}
