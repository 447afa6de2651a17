// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/subhogram/riskobot/internal/api"
	"github.com/subhogram/riskobot/internal/audit"
	"github.com/subhogram/riskobot/internal/cache"
	"github.com/subhogram/riskobot/internal/config"
	"github.com/subhogram/riskobot/internal/extract"
	"github.com/subhogram/riskobot/internal/fsutil"
	"github.com/subhogram/riskobot/internal/health"
	"github.com/subhogram/riskobot/internal/jobs"
	"github.com/subhogram/riskobot/internal/knowledge"
	rblog "github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/ollama"
	"github.com/subhogram/riskobot/internal/persistence/sqlite"
	"github.com/subhogram/riskobot/internal/types"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the real config is loaded.
	rblog.Configure(rblog.Config{
		Level:   "info",
		Service: "riskobot",
		Version: version,
	})
	logger := rblog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise ${RISKOBOT_DATA}/config.yaml
	// if it exists.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("RISKOBOT_DATA", ""))
		if dataDir != "" {
			autoPath := filepath.Join(dataDir, "config.yaml")
			if _, err := os.Stat(autoPath); err == nil {
				effectiveConfigPath = autoPath
			}
		}
	}

	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(rblog.FieldEvent, "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	rblog.Reconfigure(rblog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version,
	})

	if effectiveConfigPath != "" {
		logger.Info().
			Str(rblog.FieldEvent, "config.loaded").
			Str("source", "file").
			Str(rblog.FieldPath, effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str(rblog.FieldEvent, "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := run(ctx, cfg, effectiveConfigPath, loader, logger); err != nil {
		logger.Fatal().
			Err(err).
			Str(rblog.FieldEvent, "daemon.failed").
			Msg("daemon failed")
	}
	logger.Info().Msg("server exiting")
}

func run(ctx context.Context, cfg config.AppConfig, configPath string, loader *config.Loader, logger zerolog.Logger) error {
	// Pre-flight: the data dir must exist and be writable before anything
	// else comes up.
	if err := preflight(ctx, cfg, logger); err != nil {
		return err
	}

	llm, err := ollama.New(cfg.Ollama.BaseURL, ollama.Options{
		Model:      cfg.Ollama.Model,
		EmbedModel: cfg.Ollama.EmbedModel,
		Timeout:    cfg.Ollama.Timeout,
		MaxRPS:     cfg.Ollama.MaxRPS,
	})
	if err != nil {
		return fmt.Errorf("ollama client: %w", err)
	}

	appCache, closeCache, err := buildCache(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	splitter := knowledge.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	index := knowledge.NewIndex(llm, splitter, appCache)

	kbStore, err := knowledge.OpenStore(filepath.Join(cfg.DataDir, "kb"))
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer func() { _ = kbStore.Close() }()

	// Restore a previously saved knowledge base so the daemon comes back
	// trained after a restart.
	if meta, err := kbStore.Load(ctx, index); err != nil {
		switch {
		case errors.Is(err, knowledge.ErrNoSavedIndex):
			logger.Info().
				Str(rblog.FieldEvent, "kb.no_saved_index").
				Msg("no saved knowledge base, starting untrained")
		case errors.Is(err, knowledge.ErrModelMismatch):
			logger.Warn().
				Err(err).
				Str(rblog.FieldEvent, "kb.model_mismatch").
				Msg("saved knowledge base was built with a different embed model, starting untrained")
		default:
			return fmt.Errorf("load knowledge base: %w", err)
		}
	} else {
		logger.Info().
			Str(rblog.FieldEvent, "kb.restored").
			Int(rblog.FieldChunks, meta.Chunks).
			Str("model", meta.Model).
			Msg("restored saved knowledge base")
	}

	runStore, err := sqlite.Open(filepath.Join(cfg.DataDir, "riskobot.db"))
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer func() { _ = runStore.Close() }()

	// Run state transitions are mirrored into sqlite so runs survive the
	// in-memory job registry.
	jobMgr := jobs.NewManager(func(id string, status types.JobStatus, runErr string) {
		if err := runStore.UpdateRunStatus(context.Background(), id, status, runErr); err != nil {
			logger.Error().
				Err(err).
				Str(rblog.FieldEvent, "run.status_persist_failed").
				Str("run_id", id).
				Msg("failed to persist run status")
		}
	})
	defer jobMgr.Stop()

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewOllamaChecker(llm.Ping))
	healthMgr.RegisterChecker(health.NewKnowledgeChecker(index.Ready, index.Count))
	healthMgr.RegisterChecker(health.NewDatabaseChecker(runStore.Ping))
	healthMgr.RegisterChecker(health.NewLastRunChecker(runStore.LastCompletedAt, 0))

	assessor := audit.NewAssessor(llm, index, splitter, audit.Options{
		Workers: cfg.AssessWorkers,
		TopK:    cfg.TopK,
	})

	server, err := api.New(api.Deps{
		Config:    cfg,
		Extractor: extract.New(extract.Options{PDFPageLimit: cfg.PDFPageLimit, TesseractBin: cfg.TesseractBin}),
		Index:     index,
		KBStore:   kbStore,
		Assessor:  assessor,
		LLM:       llm,
		Runs:      runStore,
		Jobs:      jobMgr,
		Health:    healthMgr,
		Cache:     appCache,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	if cfg.APIToken != "" {
		logger.Info().Msg("→ API token: configured")
	} else if cfg.AuthAnonymous {
		logger.Warn().
			Str("security", "weak").
			Msg("→ API token: NOT configured, anonymous access explicitly enabled")
	} else {
		logger.Warn().
			Msg("→ API token: NOT configured. Set RISKOBOT_API_TOKEN or RISKOBOT_AUTH_ANONYMOUS=true.")
	}
	logger.Info().Msgf("→ Ollama: %s (model: %s, embed: %s)", cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.EmbedModel)
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)

	holder := config.NewHolder(cfg, loader, configPath)
	holder.OnSwap(func(next config.AppConfig) {
		rblog.Reconfigure(rblog.Config{
			Level:   next.LogLevel,
			Service: next.LogService,
			Version: version,
		})
	})

	logger.Info().
		Str(rblog.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting riskobot")

	return serve(ctx, cfg, server.Router(), holder)
}

// buildCache returns the Redis cache when an address is configured, the
// in-memory cache otherwise.
func buildCache(cfg config.AppConfig, logger zerolog.Logger) (cache.Cache, func(), error) {
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, func() { _ = rc.Close() }, nil
	}
	mc := cache.NewMemoryCache(5 * time.Minute)
	closer := func() {}
	if s, ok := mc.(cache.Stopper); ok {
		closer = s.Stop
	}
	return mc, closer, nil
}

// serve runs the API server, the optional metrics server, the config watcher
// and the SIGHUP reload loop until ctx is cancelled, then shuts down cleanly.
func serve(ctx context.Context, cfg config.AppConfig, handler http.Handler, holder *config.Holder) error {
	apiSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.MetricsEnabled && strings.TrimSpace(cfg.MetricsAddr) != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return holder.Watch(gctx)
	})

	// SIGHUP triggers a config reload without restarting the daemon.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				_ = holder.Reload(gctx)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return apiSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// preflight fails fast on a broken environment: the data directory must be
// writable, and the Ollama server should be reachable (warn-only, the daemon
// can come up before the model server).
func preflight(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) error {
	if err := fsutil.EnsureDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	probe := filepath.Join(cfg.DataDir, ".write-check")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	_ = os.Remove(probe)

	client, err := ollama.New(cfg.Ollama.BaseURL, ollama.Options{
		Model:   cfg.Ollama.Model,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("ollama config: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn().
			Err(err).
			Str(rblog.FieldEvent, "startup.ollama_unreachable").
			Msg("ollama server not reachable yet, continuing startup")
	}
	return nil
}
