// SPDX-License-Identifier: MIT

// Package ollama implements a client for the Ollama HTTP API: text generation,
// embeddings and reachability probing.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/metrics"
)

// LLMClient is the generation surface consumed by the audit and chat layers.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder is the embedding surface consumed by the knowledge base.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Options configures a Client.
type Options struct {
	Model      string        // generation model (e.g. "llama2")
	EmbedModel string        // embedding model, defaults to Model
	Timeout    time.Duration // per-request timeout
	MaxRPS     float64       // upstream request budget, 0 disables throttling
}

var (
	_ LLMClient = (*Client)(nil)
	_ Embedder  = (*Client)(nil)
)

// Client talks to a single Ollama server.
type Client struct {
	base       string
	model      string
	embedModel string
	http       *http.Client
	limiter    *rate.Limiter
}

// New creates a Client for the given base URL (scheme://host:port).
func New(base string, opts Options) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("ollama: invalid base URL %q", base)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	model := opts.Model
	if model == "" {
		model = "llama2"
	}
	embedModel := opts.EmbedModel
	if embedModel == "" {
		embedModel = model
	}

	var limiter *rate.Limiter
	if opts.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}

	return &Client{
		base:       parsed.String(),
		model:      model,
		embedModel: embedModel,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
	}, nil
}

// Model returns the configured embedding model name.
func (c *Client) Model() string {
	return c.embedModel
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate produces a completion for prompt using the configured model.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	var out generateResponse
	err := c.post(ctx, "generate", "/api/generate", generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}, &out)
	metrics.ObserveLLMRequest("generate", time.Since(start))
	if err != nil {
		metrics.IncLLMRequest("generate", "error")
		return "", err
	}
	metrics.IncLLMRequest("generate", "success")
	return out.Response, nil
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for text using the embed model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var out embeddingsResponse
	err := c.post(ctx, "embed", "/api/embeddings", embeddingsRequest{
		Model:  c.embedModel,
		Prompt: text,
	}, &out)
	metrics.ObserveLLMRequest("embed", time.Since(start))
	if err != nil {
		metrics.IncLLMRequest("embed", "error")
		return nil, err
	}
	if len(out.Embedding) == 0 {
		metrics.IncLLMRequest("embed", "error")
		return nil, &APIError{Sentinel: ErrEmptyEmbedding, Operation: "embed"}
	}
	metrics.IncLLMRequest("embed", "success")

	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Ping verifies the server is reachable via /api/tags.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/tags", nil)
	if err != nil {
		return &APIError{Sentinel: ErrUnavailable, Operation: "ping", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncLLMRequest("ping", "error")
		return c.transportError("ping", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		metrics.IncLLMRequest("ping", "error")
		return &APIError{Sentinel: ErrUpstreamError, Operation: "ping", Status: resp.StatusCode}
	}
	metrics.IncLLMRequest("ping", "success")
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &APIError{Sentinel: ErrTimeout, Operation: op, Err: err}
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return &APIError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	logger := log.WithComponentFromContext(ctx, "ollama")
	logger.Debug().
		Str(log.FieldEvent, "ollama.request").
		Str("op", op).
		Str(log.FieldModel, c.model).
		Msg("sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &APIError{Sentinel: ErrModelNotFound, Operation: op, Status: resp.StatusCode, Body: snippet(payload)}
	case resp.StatusCode >= 500:
		return &APIError{Sentinel: ErrUpstreamError, Operation: op, Status: resp.StatusCode, Body: snippet(payload)}
	case resp.StatusCode != http.StatusOK:
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Status: resp.StatusCode, Body: snippet(payload)}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	return nil
}

func (c *Client) transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &APIError{Sentinel: ErrTimeout, Operation: op, Err: err}
	}
	return &APIError{Sentinel: ErrUnavailable, Operation: op, Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
