// SPDX-License-Identifier: MIT

package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitterEmptyInput(t *testing.T) {
	s := NewSplitter(512, 64)
	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("   \n\n  "))
}

func TestSplitterShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(512, 64)
	chunks := s.Split("Access reviews run quarterly.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Access reviews run quarterly.", chunks[0])
}

func TestSplitterRespectsChunkSize(t *testing.T) {
	s := NewSplitter(100, 20)
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("Sentence about firewall rules and change management.\n\n")
	}

	chunks := s.Split(b.String())
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), 100, "chunk %d exceeds size", i)
	}
}

func TestSplitterPrefersParagraphBoundaries(t *testing.T) {
	s := NewSplitter(40, 10)
	text := "First policy paragraph here.\n\nSecond policy paragraph here."

	chunks := s.Split(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, "First policy paragraph here.", chunks[0])
	assert.Equal(t, "Second policy paragraph here.", chunks[1])
}

func TestSplitterOverlapCarriesContext(t *testing.T) {
	s := NewSplitter(40, 15)
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)
	// The tail words of one chunk should reappear at the start of the next.
	firstTail := chunks[0][strings.LastIndex(chunks[0], " ")+1:]
	assert.Contains(t, chunks[1], firstTail)
}

func TestSplitterNoSeparators(t *testing.T) {
	s := NewSplitter(32, 8)
	text := strings.Repeat("x", 100)

	chunks := s.Split(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 32)
	}
	// Stepping size-overlap bytes must cover the whole input.
	assert.Contains(t, chunks[len(chunks)-1], "x")
	var covered int
	for i, c := range chunks {
		if i == 0 {
			covered = len(c)
			continue
		}
		covered += len(c) - 8
	}
	assert.GreaterOrEqual(t, covered, 100)
}

func TestNewSplitterDefaults(t *testing.T) {
	s := NewSplitter(0, -1)
	assert.Equal(t, 512, s.ChunkSize)
	assert.Equal(t, 64, s.ChunkOverlap)

	s = NewSplitter(200, 300)
	assert.Equal(t, 200, s.ChunkSize)
	assert.Equal(t, 25, s.ChunkOverlap)
}
