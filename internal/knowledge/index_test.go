// SPDX-License-Identifier: MIT

package knowledge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhogram/riskobot/internal/cache"
)

// stubEmbedder maps each text to a deterministic 3-dimensional vector so
// similarity ordering in tests is predictable.
type stubEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	// Crude lexical fallback: axis per keyword.
	v := []float32{0.01, 0.01, 0.01}
	if strings.Contains(text, "password") {
		v[0] = 1
	}
	if strings.Contains(text, "firewall") {
		v[1] = 1
	}
	if strings.Contains(text, "backup") {
		v[2] = 1
	}
	return v, nil
}

func (s *stubEmbedder) Model() string { return "stub-embed" }

func newTestIndex(t *testing.T) (*Index, *stubEmbedder) {
	t.Helper()
	emb := &stubEmbedder{}
	return NewIndex(emb, NewSplitter(512, 64), cache.NewNoOpCache()), emb
}

func TestTrainAndSearch(t *testing.T) {
	ix, _ := newTestIndex(t)

	n, err := ix.Train(t.Context(), []Document{
		{Source: "policy.txt", Text: "All password changes require approval."},
		{Source: "network.txt", Text: "The firewall denies inbound traffic by default."},
		{Source: "dr.txt", Text: "Nightly backup jobs replicate to offsite storage."},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, ix.Ready())
	assert.Equal(t, 3, ix.Count())

	results, err := ix.Search(t.Context(), "how often is the password rotated", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "policy.txt", results[0].Chunk.Source)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchUntrained(t *testing.T) {
	ix, _ := newTestIndex(t)
	_, err := ix.Search(t.Context(), "anything", 3)
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestTrainSkipsEmptyDocuments(t *testing.T) {
	ix, _ := newTestIndex(t)

	n, err := ix.Train(t.Context(), []Document{
		{Source: "blank.txt", Text: "   \n"},
		{Source: "real.txt", Text: "The firewall logs are retained for one year."},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTrainAllEmptyFails(t *testing.T) {
	ix, _ := newTestIndex(t)

	_, err := ix.Train(t.Context(), []Document{
		{Source: "a.txt", Text: ""},
		{Source: "b.txt", Text: "\n\n"},
	})
	assert.ErrorIs(t, err, ErrNoContent)
	assert.False(t, ix.Ready())
}

func TestTrainReplacesPreviousContents(t *testing.T) {
	ix, _ := newTestIndex(t)

	_, err := ix.Train(t.Context(), []Document{{Source: "old.txt", Text: "password policy v1"}})
	require.NoError(t, err)
	_, err = ix.Train(t.Context(), []Document{{Source: "new.txt", Text: "firewall policy v2"}})
	require.NoError(t, err)

	assert.Equal(t, 1, ix.Count())
	results, err := ix.Search(t.Context(), "firewall", 1)
	require.NoError(t, err)
	assert.Equal(t, "new.txt", results[0].Chunk.Source)
}

func TestSearchKExceedsCount(t *testing.T) {
	ix, _ := newTestIndex(t)
	_, err := ix.Train(t.Context(), []Document{{Source: "a.txt", Text: "backup schedule"}})
	require.NoError(t, err)

	results, err := ix.Search(t.Context(), "backup", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestEmbeddingCacheAvoidsRecompute(t *testing.T) {
	emb := &stubEmbedder{}
	ix := NewIndex(emb, NewSplitter(512, 64), cache.NewMemoryCache(0))

	_, err := ix.Train(t.Context(), []Document{{Source: "a.txt", Text: "password rotation policy"}})
	require.NoError(t, err)
	calls := emb.calls

	// Same document again: the chunk embedding comes from the cache.
	_, err = ix.Train(t.Context(), []Document{{Source: "a.txt", Text: "password rotation policy"}})
	require.NoError(t, err)
	assert.Equal(t, calls, emb.calls)
}

func TestClear(t *testing.T) {
	ix, _ := newTestIndex(t)
	_, err := ix.Train(t.Context(), []Document{{Source: "a.txt", Text: "firewall policy"}})
	require.NoError(t, err)

	ix.Clear()
	assert.False(t, ix.Ready())
	assert.Equal(t, 0, ix.Count())
}

func TestMetaInfo(t *testing.T) {
	ix, _ := newTestIndex(t)
	_, err := ix.Train(t.Context(), []Document{{Source: "a.txt", Text: "backup policy"}})
	require.NoError(t, err)

	meta := ix.MetaInfo()
	assert.Equal(t, "stub-embed", meta.Model)
	assert.Equal(t, 3, meta.Dimension)
	assert.Equal(t, 1, meta.Chunks)
	assert.False(t, meta.TrainedAt.IsZero())
}
