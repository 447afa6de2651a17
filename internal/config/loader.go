// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader builds an AppConfig from defaults, an optional YAML file and the
// environment, in ascending precedence.
type Loader struct {
	path    string
	version string
}

// NewLoader creates a Loader. An empty path skips the file layer.
func NewLoader(path, version string) *Loader {
	return &Loader{path: path, version: version}
}

// Load resolves the effective configuration and validates it.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	cfg.Version = l.version

	if l.path != "" {
		if err := mergeFile(&cfg, l.path); err != nil {
			return AppConfig{}, err
		}
	}
	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// mergeFile overlays values from a YAML config file onto cfg.
// A missing file is not an error; a malformed one is.
func mergeFile(cfg *AppConfig, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var file AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	overlay(cfg, &file)
	return nil
}

// overlay copies non-zero file values onto cfg.
func overlay(dst, src *AppConfig) {
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if len(src.AllowedOrigins) > 0 {
		dst.AllowedOrigins = src.AllowedOrigins
	}
	if src.APIToken != "" {
		dst.APIToken = src.APIToken
	}
	if src.AuthAnonymous {
		dst.AuthAnonymous = true
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogService != "" {
		dst.LogService = src.LogService
	}
	if src.Ollama.BaseURL != "" {
		dst.Ollama.BaseURL = src.Ollama.BaseURL
	}
	if src.Ollama.Model != "" {
		dst.Ollama.Model = src.Ollama.Model
	}
	if src.Ollama.EmbedModel != "" {
		dst.Ollama.EmbedModel = src.Ollama.EmbedModel
	}
	if src.Ollama.Timeout > 0 {
		dst.Ollama.Timeout = src.Ollama.Timeout
	}
	if src.Ollama.MaxRPS > 0 {
		dst.Ollama.MaxRPS = src.Ollama.MaxRPS
	}
	if src.ChunkSize > 0 {
		dst.ChunkSize = src.ChunkSize
	}
	if src.ChunkOverlap > 0 {
		dst.ChunkOverlap = src.ChunkOverlap
	}
	if src.TopK > 0 {
		dst.TopK = src.TopK
	}
	if src.AssessWorkers > 0 {
		dst.AssessWorkers = src.AssessWorkers
	}
	if src.PDFPageLimit > 0 {
		dst.PDFPageLimit = src.PDFPageLimit
	}
	if src.MaxUploadBytes > 0 {
		dst.MaxUploadBytes = src.MaxUploadBytes
	}
	if src.TesseractBin != "" {
		dst.TesseractBin = src.TesseractBin
	}
	if src.Redis.Addr != "" {
		dst.Redis = src.Redis
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.TracingService != "" {
		dst.TracingService = src.TracingService
	}
	if src.RateLimitRPM > 0 {
		dst.RateLimitRPM = src.RateLimitRPM
	}
}

// mergeEnv overlays environment variables onto cfg. ENV wins over file values.
func mergeEnv(cfg *AppConfig) {
	cfg.ListenAddr = ParseString("RISKOBOT_LISTEN", cfg.ListenAddr)
	cfg.DataDir = ParseString("RISKOBOT_DATA", cfg.DataDir)
	cfg.AllowedOrigins = ParseStringSlice("RISKOBOT_ALLOWED_ORIGINS", cfg.AllowedOrigins)

	cfg.APIToken = ParseString("RISKOBOT_API_TOKEN", cfg.APIToken)
	cfg.AuthAnonymous = ParseBool("RISKOBOT_AUTH_ANONYMOUS", cfg.AuthAnonymous)

	cfg.LogLevel = ParseString("RISKOBOT_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("RISKOBOT_LOG_SERVICE", cfg.LogService)

	cfg.Ollama.BaseURL = ParseString("RISKOBOT_OLLAMA_BASE", cfg.Ollama.BaseURL)
	cfg.Ollama.Model = ParseString("RISKOBOT_OLLAMA_MODEL", cfg.Ollama.Model)
	cfg.Ollama.EmbedModel = ParseString("RISKOBOT_OLLAMA_EMBED_MODEL", cfg.Ollama.EmbedModel)
	cfg.Ollama.Timeout = ParseDuration("RISKOBOT_OLLAMA_TIMEOUT", cfg.Ollama.Timeout)
	cfg.Ollama.MaxRPS = ParseFloat("RISKOBOT_OLLAMA_MAX_RPS", cfg.Ollama.MaxRPS)

	cfg.ChunkSize = ParseInt("RISKOBOT_CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = ParseInt("RISKOBOT_CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.TopK = ParseInt("RISKOBOT_TOP_K", cfg.TopK)
	cfg.AssessWorkers = ParseInt("RISKOBOT_ASSESS_WORKERS", cfg.AssessWorkers)
	cfg.PDFPageLimit = ParseInt("RISKOBOT_PDF_PAGE_LIMIT", cfg.PDFPageLimit)

	cfg.MaxUploadBytes = ParseInt64("RISKOBOT_MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.TesseractBin = ParseString("RISKOBOT_TESSERACT_BIN", cfg.TesseractBin)

	cfg.Redis.Addr = ParseString("RISKOBOT_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("RISKOBOT_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("RISKOBOT_REDIS_DB", cfg.Redis.DB)

	cfg.MetricsEnabled = ParseBool("RISKOBOT_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsAddr = ParseString("RISKOBOT_METRICS_ADDR", cfg.MetricsAddr)
	cfg.TracingService = ParseString("RISKOBOT_TRACING_SERVICE", cfg.TracingService)

	cfg.RateLimitEnabled = ParseBool("RISKOBOT_RATELIMIT_ENABLED", cfg.RateLimitEnabled)
	cfg.RateLimitRPM = ParseInt("RISKOBOT_RATELIMIT_RPM", cfg.RateLimitRPM)
}
