// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhogram/riskobot/internal/audit"
	"github.com/subhogram/riskobot/internal/cache"
	"github.com/subhogram/riskobot/internal/config"
	"github.com/subhogram/riskobot/internal/extract"
	"github.com/subhogram/riskobot/internal/health"
	"github.com/subhogram/riskobot/internal/jobs"
	"github.com/subhogram/riskobot/internal/knowledge"
	"github.com/subhogram/riskobot/internal/persistence/sqlite"
	"github.com/subhogram/riskobot/internal/types"
)

const testToken = "test-token"

// stubLLM answers deterministically based on prompt shape.
type stubLLM struct{}

func (stubLLM) Generate(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "List of Policies"):
		return "POL-1: Passwords rotate every 90 days.\nPOL-2: Firewalls deny inbound by default.", nil
	case strings.Contains(prompt, "determine which policy"):
		return "POL-1", nil
	case strings.Contains(prompt, "information security auditor"):
		return "Control Statement: Passwords rotate every 90 days\nAssessment: Non-Compliant\nRationale: rotation overdue", nil
	case strings.Contains(prompt, "audit assistant"):
		return "The password rotation policy is not being followed.", nil
	default:
		return "Assessment: Compliant", nil
	}
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := []float32{0.1, 0.1}
	if strings.Contains(strings.ToLower(text), "password") {
		v[0] = 1
	}
	if strings.Contains(strings.ToLower(text), "firewall") {
		v[1] = 1
	}
	return v, nil
}

func (stubEmbedder) Model() string { return "stub-embed" }

type testEnv struct {
	server *Server
	http   http.Handler
	runs   *sqlite.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()

	cfg := config.Defaults()
	cfg.DataDir = dataDir
	cfg.APIToken = testToken
	cfg.MetricsEnabled = false
	cfg.RateLimitEnabled = false
	cfg.MaxUploadBytes = 1 << 20

	splitter := knowledge.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	index := knowledge.NewIndex(stubEmbedder{}, splitter, cache.NewNoOpCache())

	kbStore, err := knowledge.OpenStore(filepath.Join(dataDir, "kb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kbStore.Close() })

	runs, err := sqlite.Open(filepath.Join(dataDir, "riskobot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	manager := jobs.NewManager(func(id string, status types.JobStatus, errText string) {
		_ = runs.UpdateRunStatus(context.Background(), id, status, errText)
	})
	t.Cleanup(manager.Stop)

	llm := stubLLM{}
	assessor := audit.NewAssessor(llm, index, splitter, audit.Options{Workers: 2, TopK: 2})

	srv, err := New(Deps{
		Config:    cfg,
		Extractor: extract.New(extract.Options{PDFPageLimit: cfg.PDFPageLimit}),
		Index:     index,
		KBStore:   kbStore,
		Assessor:  assessor,
		LLM:       llm,
		Runs:      runs,
		Jobs:      manager,
		Health:    health.NewManager("test"),
		Cache:     cache.NewMemoryCache(0),
		Version:   "test",
	})
	require.NoError(t, err)

	return &testEnv{server: srv, http: srv.Router(), runs: runs}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.http.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) uploadPolicies(t *testing.T) {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{
		"password_policy.txt": "All passwords must rotate every 90 days.",
		"firewall_policy.txt": "The firewall must deny inbound traffic by default.",
	})
	rec := e.do(t, "POST", "/api/kb/documents", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *testEnv) train(t *testing.T) {
	t.Helper()
	rec := e.do(t, "POST", "/api/kb/train", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (e *testEnv) waitRun(t *testing.T, id string) map[string]any {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("run %s did not finish", id)
		case <-time.After(10 * time.Millisecond):
			rec := e.do(t, "GET", "/api/runs/"+id, nil, "")
			require.Equal(t, http.StatusOK, rec.Code)
			var run map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
			status := types.JobStatus(run["status"].(string))
			if status.IsTerminal() {
				return run
			}
		}
	}
}

func TestAuthFailClosed(t *testing.T) {
	env := newTestEnv(t)
	env.server.cfg.APIToken = ""
	env.server.cfg.AuthAnonymous = false
	handler := env.server.Router()

	req := httptest.NewRequest("GET", "/api/kb", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAnonymousExplicitlyAllowed(t *testing.T) {
	env := newTestEnv(t)
	env.server.cfg.APIToken = ""
	env.server.cfg.AuthAnonymous = true
	handler := env.server.Router()

	req := httptest.NewRequest("GET", "/api/kb", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/api/kb", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	env.http.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpointsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/api/version"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		env.http.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestUploadRejectsUnsupported(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{"malware.exe": "MZ"})
	rec := env.do(t, "POST", "/api/kb/documents", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadConfinesTraversalNames(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{
		"../../etc/passwd.txt": "root:x:0:0",
		"ok.txt":               "a harmless policy",
	})
	rec := env.do(t, "POST", "/api/kb/documents", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// The traversal name is reduced to its base name, never written outside.
	for _, name := range resp.Saved {
		assert.NotContains(t, name, "..")
		assert.NotContains(t, name, "/")
	}
}

func TestTrainWithoutDocuments(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/kb/train", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTrainAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.uploadPolicies(t)
	env.train(t)

	rec := env.do(t, "GET", "/api/kb", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status kbStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Trained)
	assert.Equal(t, 2, status.Chunks)
	assert.Equal(t, "stub-embed", status.Model)
	assert.Len(t, status.Policies, 2)
	assert.False(t, status.Saved)
}

func TestSaveAndDeleteKB(t *testing.T) {
	env := newTestEnv(t)
	env.uploadPolicies(t)
	env.train(t)

	rec := env.do(t, "POST", "/api/kb/save", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/kb", nil, "")
	var status kbStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Saved)

	rec = env.do(t, "DELETE", "/api/kb", nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, "GET", "/api/kb", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Trained)
	assert.False(t, status.Saved)
}

func TestSaveUntrainedKB(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/kb/save", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartRunWithoutTrainedKB(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/runs", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartRunWithoutEvidence(t *testing.T) {
	env := newTestEnv(t)
	env.uploadPolicies(t)
	env.train(t)

	rec := env.do(t, "POST", "/api/runs", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFullAuditRun(t *testing.T) {
	env := newTestEnv(t)
	env.uploadPolicies(t)
	env.train(t)

	body, ct := multipartBody(t, map[string]string{
		"pwd.txt": "password last changed 400 days ago",
	})
	rec := env.do(t, "POST", "/api/evidence", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, "POST", "/api/runs", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started startRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.ID)

	run := env.waitRun(t, started.ID)
	assert.Equal(t, "completed", run["status"])

	results := run["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "pwd.txt", first["evidence_file"])
	assert.Equal(t, "POL-1", first["policy"])
	assert.Equal(t, "Non-Compliant", first["verdict"])

	// Workbook download.
	rec = env.do(t, "GET", "/api/runs/"+started.ID+"/workbook", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotEmpty(t, rec.Body.Bytes())

	// Run listing includes the completed run.
	rec = env.do(t, "GET", "/api/runs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), started.ID)
}

func TestGetRunNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/runs/no-such-run", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRunNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "DELETE", "/api/runs/no-such-run", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelCompletedRun(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.runs.CreateRun(t.Context(), "run-done", types.JobStatusPending, 1))
	require.NoError(t, env.runs.UpdateRunStatus(t.Context(), "run-done", types.JobStatusCompleted, ""))

	rec := env.do(t, "DELETE", "/api/runs/run-done", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWorkbookForIncompleteRun(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.runs.CreateRun(t.Context(), "run-x", types.JobStatusRunning, 1))

	rec := env.do(t, "GET", "/api/runs/run-x/workbook", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRequiresQuestion(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/chat", strings.NewReader(`{"question":"  "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUntrainedKB(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/chat", strings.NewReader(`{"question":"is it safe?"}`), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestChatGroundedAnswer(t *testing.T) {
	env := newTestEnv(t)
	env.uploadPolicies(t)
	env.train(t)

	rec := env.do(t, "POST", "/api/chat", strings.NewReader(`{"question":"is the password policy enforced?"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Answer, "password rotation")
	assert.False(t, resp.Cached)

	// Second identical question is served from the cache.
	rec = env.do(t, "POST", "/api/chat", strings.NewReader(`{"question":"is the password policy enforced?"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
}

func TestChatCacheInvalidatedWithKnowledgeBase(t *testing.T) {
	env := newTestEnv(t)
	env.uploadPolicies(t)
	env.train(t)

	const body = `{"question":"is the password policy enforced?"}`
	rec := env.do(t, "POST", "/api/chat", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	// Deleting the knowledge base must also retire cached answers: the same
	// question is now rejected, not replayed.
	rec = env.do(t, "DELETE", "/api/kb", nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, "POST", "/api/chat", strings.NewReader(body), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Retraining starts a fresh cache generation.
	env.uploadPolicies(t)
	env.train(t)

	rec = env.do(t, "POST", "/api/chat", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Cached)
}

func TestRequestIDPropagated(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/api/version", nil)
	rec := httptest.NewRecorder()
	env.http.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
