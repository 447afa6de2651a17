// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("k", []byte("v"), time.Minute)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("k", []byte("v"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCacheDeleteAndClear(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestMemoryCacheJanitorStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewMemoryCache(5 * time.Millisecond)

	stopper, ok := c.(Stopper)
	require.True(t, ok)

	c.Set("k", []byte("v"), time.Minute)
	stopper.Stop()
	// Stop is idempotent.
	stopper.Stop()
}

func TestMemoryCacheStats(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("k", []byte("v"), time.Minute)
	c.Get("k")
	c.Get("nope")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	c.Set("k", []byte("v"), time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestKeyIsStableAndNamespaced(t *testing.T) {
	k1 := Key("embedding", "same content")
	k2 := Key("embedding", "same content")
	k3 := Key("answer", "same content")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Contains(t, k1, "embedding:")
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.0625, 0}

	got, ok := DecodeEmbedding(EncodeEmbedding(vec))
	require.True(t, ok)
	assert.Equal(t, vec, got)

	_, ok = DecodeEmbedding([]byte{1, 2, 3})
	assert.False(t, ok)
	_, ok = DecodeEmbedding(nil)
	assert.False(t, ok)
}
