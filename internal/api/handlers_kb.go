// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/subhogram/riskobot/internal/audit"
	"github.com/subhogram/riskobot/internal/extract"
	"github.com/subhogram/riskobot/internal/fsutil"
	"github.com/subhogram/riskobot/internal/knowledge"
	"github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/metrics"
)

type uploadResponse struct {
	Saved   []string `json:"saved"`
	Skipped []string `json:"skipped,omitempty"`
}

// handleUploadPolicy accepts multipart policy documents.
// POST /api/kb/documents
func (s *Server) handleUploadPolicy(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.policyDir, "policy")
}

// handleUploadEvidence accepts multipart evidence files.
// POST /api/evidence
func (s *Server) handleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.evidenceDir, "evidence")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, dir, kind string) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		respondError(w, r, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, r, http.StatusBadRequest, "no files in upload")
		return
	}

	var resp uploadResponse
	for _, fh := range files {
		name, err := fsutil.SanitizeFilename(fh.Filename)
		if err != nil || !extract.Supported(name) {
			logger.Warn().
				Str(log.FieldEvent, "upload.skipped").
				Str(log.FieldFilename, fh.Filename).
				Str(log.FieldKind, kind).
				Msg("unsupported or unusable filename")
			resp.Skipped = append(resp.Skipped, fh.Filename)
			metrics.IncDocumentIngested(kind, "skipped")
			continue
		}

		dst, err := fsutil.SafeJoin(dir, name)
		if err != nil {
			resp.Skipped = append(resp.Skipped, fh.Filename)
			metrics.IncDocumentIngested(kind, "skipped")
			continue
		}

		src, err := fh.Open()
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		err = fsutil.WriteReaderAtomic(dst, src)
		_ = src.Close()
		if err != nil {
			respondDomainError(w, r, err)
			return
		}

		logger.Info().
			Str(log.FieldEvent, "upload.stored").
			Str(log.FieldFilename, name).
			Str(log.FieldKind, kind).
			Int64("bytes", fh.Size).
			Msg("document stored")
		resp.Saved = append(resp.Saved, name)
		metrics.IncDocumentIngested(kind, "stored")
	}

	if len(resp.Saved) == 0 {
		respondError(w, r, http.StatusBadRequest, "no supported files in upload")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// listDir returns the sorted filenames in dir.
func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// extractAll extracts every file in dir, recording per-file failures instead
// of aborting the batch.
func (s *Server) extractAll(r *http.Request, dir string) ([]knowledge.Document, map[string]string, error) {
	names, err := listDir(dir)
	if err != nil {
		return nil, nil, err
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	var docs []knowledge.Document
	failures := make(map[string]string)
	for _, name := range names {
		text, err := s.extractor.Text(r.Context(), filepath.Join(dir, name))
		if err != nil {
			logger.Warn().Err(err).
				Str(log.FieldEvent, "extract.failed").
				Str(log.FieldFilename, name).
				Msg("extraction failed for document")
			failures[name] = err.Error()
			continue
		}
		docs = append(docs, knowledge.Document{Source: name, Text: text})
	}
	return docs, failures, nil
}

type trainResponse struct {
	Chunks   int               `json:"chunks"`
	Policies int               `json:"policies"`
	Failures map[string]string `json:"failures,omitempty"`
}

// handleTrain builds the knowledge base from the uploaded policy documents
// and extracts the policy roster.
// POST /api/kb/train
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	docs, failures, err := s.extractAll(r, s.policyDir)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if len(docs) == 0 {
		respondError(w, r, http.StatusConflict, "no policy documents uploaded")
		return
	}

	chunks, err := s.index.Train(r.Context(), docs)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	policies, err := audit.ExtractPolicies(r.Context(), s.llm, texts)
	if err != nil && !errors.Is(err, audit.ErrNoPolicies) {
		respondDomainError(w, r, err)
		return
	}
	s.setPolicies(policies)

	writeJSON(w, http.StatusOK, trainResponse{
		Chunks:   chunks,
		Policies: len(policies),
		Failures: failures,
	})
}

// handleSaveKB persists the trained knowledge base.
// POST /api/kb/save
func (s *Server) handleSaveKB(w http.ResponseWriter, r *http.Request) {
	if err := s.kbStore.Save(r.Context(), s.index); err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true, "chunks": s.index.Count()})
}

// handleDeleteKB clears the in-memory index and removes the saved copy.
// DELETE /api/kb
func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	s.index.Clear()
	s.setPolicies(nil)
	if err := s.kbStore.Delete(r.Context()); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type kbStatusResponse struct {
	Trained   bool            `json:"trained"`
	Chunks    int             `json:"chunks"`
	Model     string          `json:"model"`
	Policies  []audit.Policy  `json:"policies,omitempty"`
	Saved     bool            `json:"saved"`
	SavedMeta *knowledge.Meta `json:"saved_meta,omitempty"`
}

// handleKBStatus reports the state of the knowledge base.
// GET /api/kb
func (s *Server) handleKBStatus(w http.ResponseWriter, r *http.Request) {
	meta := s.index.MetaInfo()
	resp := kbStatusResponse{
		Trained:  s.index.Ready(),
		Chunks:   meta.Chunks,
		Model:    meta.Model,
		Policies: s.currentPolicies(),
	}
	if saved, found, err := s.kbStore.SavedMeta(); err == nil && found {
		resp.Saved = true
		resp.SavedMeta = &saved
	}
	writeJSON(w, http.StatusOK, resp)
}
