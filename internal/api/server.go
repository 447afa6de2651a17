// SPDX-License-Identifier: MIT

// Package api implements the riskobot HTTP API: knowledge base management,
// evidence ingestion, audit runs and grounded chat.
package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/subhogram/riskobot/internal/api/middleware"
	"github.com/subhogram/riskobot/internal/audit"
	"github.com/subhogram/riskobot/internal/cache"
	"github.com/subhogram/riskobot/internal/config"
	"github.com/subhogram/riskobot/internal/extract"
	"github.com/subhogram/riskobot/internal/fsutil"
	"github.com/subhogram/riskobot/internal/health"
	"github.com/subhogram/riskobot/internal/jobs"
	"github.com/subhogram/riskobot/internal/knowledge"
	"github.com/subhogram/riskobot/internal/ollama"
	"github.com/subhogram/riskobot/internal/persistence/sqlite"
)

// Deps bundles everything the server needs. The model side is behind the
// small LLMClient interface so tests can stub it.
type Deps struct {
	Config    config.AppConfig
	Extractor *extract.Extractor
	Index     *knowledge.Index
	KBStore   *knowledge.Store
	Assessor  *audit.Assessor
	LLM       ollama.LLMClient
	Runs      *sqlite.Store
	Jobs      *jobs.Manager
	Health    *health.Manager
	Cache     cache.Cache
	Version   string
}

// Server is the riskobot HTTP API server.
type Server struct {
	cfg       config.AppConfig
	extractor *extract.Extractor
	index     *knowledge.Index
	kbStore   *knowledge.Store
	assessor  *audit.Assessor
	llm       ollama.LLMClient
	runs      *sqlite.Store
	jobs      *jobs.Manager
	health    *health.Manager
	cache     cache.Cache
	version   string

	policyDir   string
	evidenceDir string
	workbookDir string

	mu       sync.RWMutex
	policies []audit.Policy
}

// New creates a Server and its upload directories under the data dir.
func New(deps Deps) (*Server, error) {
	s := &Server{
		cfg:         deps.Config,
		extractor:   deps.Extractor,
		index:       deps.Index,
		kbStore:     deps.KBStore,
		assessor:    deps.Assessor,
		llm:         deps.LLM,
		runs:        deps.Runs,
		jobs:        deps.Jobs,
		health:      deps.Health,
		cache:       deps.Cache,
		version:     deps.Version,
		policyDir:   filepath.Join(deps.Config.DataDir, "uploads", "policy"),
		evidenceDir: filepath.Join(deps.Config.DataDir, "uploads", "evidence"),
		workbookDir: filepath.Join(deps.Config.DataDir, "workbooks"),
	}
	if s.cache == nil {
		s.cache = cache.NewNoOpCache()
	}
	for _, dir := range []string{s.policyDir, s.evidenceDir, s.workbookDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("api: create %s: %w", dir, err)
		}
	}
	return s, nil
}

// Router builds the HTTP handler with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        s.cfg.AllowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         s.cfg.MetricsEnabled,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
		EnableRateLimit:       s.cfg.RateLimitEnabled,
		RateLimitPerMin:       s.cfg.RateLimitRPM,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Get("/api/version", s.handleVersion)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/kb", func(r chi.Router) {
			r.Post("/documents", s.handleUploadPolicy)
			r.Post("/train", s.handleTrain)
			r.Post("/save", s.handleSaveKB)
			r.Delete("/", s.handleDeleteKB)
			r.Get("/", s.handleKBStatus)
		})

		r.Post("/evidence", s.handleUploadEvidence)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleStartRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/workbook", s.handleWorkbook)
			r.Delete("/{id}", s.handleCancelRun)
		})

		r.Post("/chat", s.handleChat)
	})

	return r
}

func (s *Server) setPolicies(policies []audit.Policy) {
	s.mu.Lock()
	s.policies = policies
	s.mu.Unlock()
}

func (s *Server) currentPolicies() []audit.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policies
}
