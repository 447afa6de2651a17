// SPDX-License-Identifier: MIT

// Package knowledge implements the policy knowledge base: chunking,
// embedding, cosine-similarity retrieval and on-disk persistence.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subhogram/riskobot/internal/cache"
	"github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/metrics"
)

// ErrNotTrained is returned when retrieval is attempted before training.
var ErrNotTrained = errors.New("knowledge: index not trained")

// ErrNoContent is returned when training input contains no usable text.
var ErrNoContent = errors.New("knowledge: no valid content found in input documents")

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Document is one extracted source document to index.
type Document struct {
	Source string // original filename
	Text   string
}

// Chunk is one embedded slice of a document.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`

	norm float64
}

// Scored pairs a chunk with its similarity to a query.
type Scored struct {
	Chunk Chunk
	Score float64
}

// Meta describes a trained index.
type Meta struct {
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Chunks    int       `json:"chunks"`
	TrainedAt time.Time `json:"trained_at"`
}

// Index is the in-memory vector index over policy chunks.
type Index struct {
	mu        sync.RWMutex
	splitter  *Splitter
	embedder  Embedder
	cache     cache.Cache
	chunks    []Chunk
	dim       int
	trainedAt time.Time
}

// NewIndex creates an empty Index. The cache may be a no-op cache.
func NewIndex(embedder Embedder, splitter *Splitter, c cache.Cache) *Index {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Index{splitter: splitter, embedder: embedder, cache: c}
}

// Train replaces the index contents with embeddings of the given documents.
// Empty documents are skipped with a warning; zero usable chunks is an error.
func (ix *Index) Train(ctx context.Context, docs []Document) (int, error) {
	logger := log.WithComponentFromContext(ctx, "knowledge")
	start := time.Now()

	var texts []string
	var sources []string
	for i, doc := range docs {
		chunks := ix.splitter.Split(doc.Text)
		if len(chunks) == 0 {
			logger.Warn().
				Str(log.FieldEvent, "kb.document_empty").
				Str(log.FieldFilename, doc.Source).
				Int("index", i).
				Msg("document is empty and skipped")
			continue
		}
		texts = append(texts, chunks...)
		for range chunks {
			sources = append(sources, doc.Source)
		}
		logger.Info().
			Str(log.FieldEvent, "kb.document_split").
			Str(log.FieldFilename, doc.Source).
			Int(log.FieldChunks, len(chunks)).
			Msg("document split into chunks")
	}

	if len(texts) == 0 {
		return 0, ErrNoContent
	}

	logger.Info().
		Str(log.FieldEvent, "kb.embedding").
		Int(log.FieldChunks, len(texts)).
		Str(log.FieldModel, ix.embedder.Model()).
		Msg("embedding chunks")

	chunks := make([]Chunk, 0, len(texts))
	dim := 0
	for i, text := range texts {
		vec, err := ix.embed(ctx, text)
		if err != nil {
			return 0, fmt.Errorf("knowledge: embed chunk %d: %w", i, err)
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return 0, fmt.Errorf("knowledge: inconsistent embedding dimension: got %d, want %d", len(vec), dim)
		}
		chunks = append(chunks, Chunk{
			ID:        uuid.NewString(),
			Source:    sources[i],
			Text:      text,
			Embedding: vec,
			norm:      norm(vec),
		})
	}

	ix.mu.Lock()
	ix.chunks = chunks
	ix.dim = dim
	ix.trainedAt = time.Now()
	ix.mu.Unlock()

	metrics.SetKBChunks(len(chunks))
	metrics.ObserveKBTrain(time.Since(start))
	logger.Info().
		Str(log.FieldEvent, "kb.trained").
		Int(log.FieldChunks, len(chunks)).
		Int("dimension", dim).
		Dur("duration", time.Since(start)).
		Msg("knowledge base trained")
	return len(chunks), nil
}

func (ix *Index) embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.Key("embedding:"+ix.embedder.Model(), text)
	if data, ok := ix.cache.Get(key); ok {
		if vec, ok := cache.DecodeEmbedding(data); ok {
			metrics.IncCacheOp("embedding", "hit")
			return vec, nil
		}
	}
	metrics.IncCacheOp("embedding", "miss")

	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	ix.cache.Set(key, cache.EncodeEmbedding(vec), 24*time.Hour)
	return vec, nil
}

// Search returns the k most similar chunks to the query by cosine similarity.
// Searching an untrained index returns ErrNotTrained.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Scored, error) {
	ix.mu.RLock()
	trained := len(ix.chunks) > 0
	ix.mu.RUnlock()
	if !trained {
		return nil, ErrNotTrained
	}

	qvec, err := ix.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}
	return ix.SearchVector(qvec, k)
}

// SearchVector performs retrieval with a pre-computed query vector.
func (ix *Index) SearchVector(qvec []float32, k int) ([]Scored, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.chunks) == 0 {
		return nil, ErrNotTrained
	}
	if len(qvec) != ix.dim {
		return nil, fmt.Errorf("knowledge: query dimension %d does not match index dimension %d", len(qvec), ix.dim)
	}
	if k < 1 {
		k = 1
	}

	qnorm := norm(qvec)
	scored := make([]Scored, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		scored = append(scored, Scored{Chunk: c, Score: cosine(qvec, qnorm, c.Embedding, c.norm)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// Ready reports whether the index holds embedded chunks.
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks) > 0
}

// Count returns the number of indexed chunks.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// MetaInfo returns metadata about the trained index.
func (ix *Index) MetaInfo() Meta {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Meta{
		Model:     ix.embedder.Model(),
		Dimension: ix.dim,
		Chunks:    len(ix.chunks),
		TrainedAt: ix.trainedAt,
	}
}

// Clear drops all indexed chunks.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.chunks = nil
	ix.dim = 0
	ix.trainedAt = time.Time{}
	ix.mu.Unlock()
	metrics.SetKBChunks(0)
}

// snapshot returns a copy of the chunk slice and meta for persistence.
func (ix *Index) snapshot() ([]Chunk, Meta) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	chunks := make([]Chunk, len(ix.chunks))
	copy(chunks, ix.chunks)
	return chunks, Meta{
		Model:     ix.embedder.Model(),
		Dimension: ix.dim,
		Chunks:    len(ix.chunks),
		TrainedAt: ix.trainedAt,
	}
}

// restore replaces the index contents from persisted chunks.
func (ix *Index) restore(chunks []Chunk, meta Meta) {
	for i := range chunks {
		chunks[i].norm = norm(chunks[i].Embedding)
	}
	ix.mu.Lock()
	ix.chunks = chunks
	ix.dim = meta.Dimension
	ix.trainedAt = meta.TrainedAt
	ix.mu.Unlock()
	metrics.SetKBChunks(len(chunks))
}

func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}
