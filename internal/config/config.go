// SPDX-License-Identifier: MIT

// Package config loads and validates the riskobot configuration with the
// precedence ENV > config file > defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the complete runtime configuration of the daemon.
type AppConfig struct {
	// Server
	ListenAddr     string   `yaml:"listenAddr"`
	DataDir        string   `yaml:"dataDir"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// Auth
	APIToken      string `yaml:"apiToken"`
	AuthAnonymous bool   `yaml:"authAnonymous"`

	// Logging
	LogLevel   string `yaml:"logLevel"`
	LogService string `yaml:"logService"`
	Version    string `yaml:"-"`

	// Ollama upstream
	Ollama OllamaConfig `yaml:"ollama"`

	// Knowledge base / assessment tuning
	ChunkSize     int `yaml:"chunkSize"`
	ChunkOverlap  int `yaml:"chunkOverlap"`
	TopK          int `yaml:"topK"`
	AssessWorkers int `yaml:"assessWorkers"`
	PDFPageLimit  int `yaml:"pdfPageLimit"`

	// Upload handling
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
	TesseractBin   string `yaml:"tesseractBin"`

	// Cache
	Redis RedisConfig `yaml:"redis"`

	// Observability
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	MetricsAddr    string `yaml:"metricsAddr"`
	TracingService string `yaml:"tracingService"`

	// Rate limiting
	RateLimitEnabled bool `yaml:"rateLimitEnabled"`
	RateLimitRPM     int  `yaml:"rateLimitRPM"`
}

// OllamaConfig holds connection settings for the Ollama server.
type OllamaConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	Model      string        `yaml:"model"`
	EmbedModel string        `yaml:"embedModel"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRPS     float64       `yaml:"maxRPS"`
}

// UnmarshalYAML decodes OllamaConfig with the timeout given in Go duration
// syntax ("90s", "2m").
func (o *OllamaConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseURL    string  `yaml:"baseURL"`
		Model      string  `yaml:"model"`
		EmbedModel string  `yaml:"embedModel"`
		Timeout    string  `yaml:"timeout"`
		MaxRPS     float64 `yaml:"maxRPS"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	o.BaseURL = raw.BaseURL
	o.Model = raw.Model
	o.EmbedModel = raw.EmbedModel
	o.MaxRPS = raw.MaxRPS
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("ollama.timeout: %w", err)
		}
		o.Timeout = d
	}
	return nil
}

// RedisConfig holds optional Redis cache settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr: ":8080",
		DataDir:    "/var/lib/riskobot",
		LogLevel:   "info",
		LogService: "riskobot",
		Ollama: OllamaConfig{
			BaseURL:    "http://127.0.0.1:11434",
			Model:      "llama2",
			EmbedModel: "llama2",
			Timeout:    2 * time.Minute,
			MaxRPS:     4,
		},
		ChunkSize:        512,
		ChunkOverlap:     64,
		TopK:             3,
		AssessWorkers:    4,
		PDFPageLimit:     20,
		MaxUploadBytes:   64 << 20,
		MetricsEnabled:   true,
		MetricsAddr:      ":9090",
		RateLimitEnabled: true,
		RateLimitRPM:     120,
	}
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *AppConfig) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ListenAddr) == "" {
		problems = append(problems, "listen address must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "data directory must not be empty")
	}
	if strings.TrimSpace(c.Ollama.BaseURL) == "" {
		problems = append(problems, "ollama base URL must not be empty")
	}
	if strings.TrimSpace(c.Ollama.Model) == "" {
		problems = append(problems, "ollama model must not be empty")
	}
	if strings.TrimSpace(c.Ollama.EmbedModel) == "" {
		problems = append(problems, "ollama embed model must not be empty")
	}
	if c.ChunkSize < 1 {
		problems = append(problems, fmt.Sprintf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 {
		problems = append(problems, fmt.Sprintf("chunk overlap must not be negative, got %d", c.ChunkOverlap))
	}
	if c.ChunkOverlap >= c.ChunkSize && c.ChunkSize > 0 {
		problems = append(problems, fmt.Sprintf("chunk overlap (%d) must be smaller than chunk size (%d)", c.ChunkOverlap, c.ChunkSize))
	}
	if c.TopK < 1 {
		problems = append(problems, fmt.Sprintf("top-k must be at least 1, got %d", c.TopK))
	}
	if c.AssessWorkers < 1 {
		problems = append(problems, fmt.Sprintf("assessment workers must be at least 1, got %d", c.AssessWorkers))
	}
	if c.PDFPageLimit < 1 {
		problems = append(problems, fmt.Sprintf("pdf page limit must be at least 1, got %d", c.PDFPageLimit))
	}
	if c.MaxUploadBytes < 1 {
		problems = append(problems, fmt.Sprintf("max upload bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.RateLimitEnabled && c.RateLimitRPM < 1 {
		problems = append(problems, fmt.Sprintf("rate limit RPM must be positive, got %d", c.RateLimitRPM))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
