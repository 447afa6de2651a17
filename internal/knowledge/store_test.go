// SPDX-License-Identifier: MIT

package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhogram/riskobot/internal/cache"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ix, _ := newTestIndex(t)

	_, err := ix.Train(t.Context(), []Document{
		{Source: "policy.txt", Text: "Password rotation happens every 90 days."},
		{Source: "network.txt", Text: "The firewall blocks all inbound ports."},
	})
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), ix))

	fresh := NewIndex(&stubEmbedder{}, NewSplitter(512, 64), cache.NewNoOpCache())
	meta, err := store.Load(t.Context(), fresh)
	require.NoError(t, err)
	assert.Equal(t, "stub-embed", meta.Model)
	assert.Equal(t, 2, fresh.Count())

	results, err := fresh.Search(t.Context(), "firewall rules", 1)
	require.NoError(t, err)
	assert.Equal(t, "network.txt", results[0].Chunk.Source)
}

func TestSaveUntrained(t *testing.T) {
	store := openTestStore(t)
	ix, _ := newTestIndex(t)
	assert.ErrorIs(t, store.Save(t.Context(), ix), ErrNotTrained)
}

func TestLoadMissing(t *testing.T) {
	store := openTestStore(t)
	ix, _ := newTestIndex(t)
	_, err := store.Load(t.Context(), ix)
	assert.ErrorIs(t, err, ErrNoSavedIndex)
}

func TestLoadModelMismatch(t *testing.T) {
	store := openTestStore(t)
	ix, _ := newTestIndex(t)
	_, err := ix.Train(t.Context(), []Document{{Source: "a.txt", Text: "backup policy"}})
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), ix))

	other := NewIndex(&renamedEmbedder{}, NewSplitter(512, 64), cache.NewNoOpCache())
	_, err = store.Load(t.Context(), other)
	assert.ErrorIs(t, err, ErrModelMismatch)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	ix, _ := newTestIndex(t)
	_, err := ix.Train(t.Context(), []Document{{Source: "a.txt", Text: "firewall policy"}})
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), ix))

	require.NoError(t, store.Delete(t.Context()))

	_, found, err := store.SavedMeta()
	require.NoError(t, err)
	assert.False(t, found)

	fresh, _ := newTestIndex(t)
	_, err = store.Load(t.Context(), fresh)
	assert.ErrorIs(t, err, ErrNoSavedIndex)
}

func TestDeleteWithoutSaveIsNoOp(t *testing.T) {
	store := openTestStore(t)
	assert.NoError(t, store.Delete(t.Context()))
}

func TestSaveReplacesPreviousSave(t *testing.T) {
	store := openTestStore(t)
	ix, _ := newTestIndex(t)

	_, err := ix.Train(t.Context(), []Document{
		{Source: "a.txt", Text: "password policy"},
		{Source: "b.txt", Text: "firewall policy"},
	})
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), ix))

	_, err = ix.Train(t.Context(), []Document{{Source: "c.txt", Text: "backup policy"}})
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), ix))

	fresh, _ := newTestIndex(t)
	_, err = store.Load(t.Context(), fresh)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Count())
}

type renamedEmbedder struct{ stubEmbedder }

func (r *renamedEmbedder) Model() string { return "other-model" }

var _ Embedder = (*renamedEmbedder)(nil)
