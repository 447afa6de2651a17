// SPDX-License-Identifier: MIT

package knowledge

import (
	"strings"
)

// defaultSeparators is the hierarchy tried when splitting: paragraph breaks
// first, then lines, then words, then raw characters.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter breaks document text into overlapping chunks along natural
// boundaries. Chunks never exceed ChunkSize bytes; consecutive chunks share
// up to ChunkOverlap bytes of trailing context.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewSplitter creates a Splitter with validated parameters.
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 8
	}
	return &Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}
}

// Split chunks text. Whitespace-only input yields no chunks.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, defaultSeparators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := ""
	rest := []string{}
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var splits []string
	if sep == "" {
		return splitEvery(text, s.ChunkSize, s.ChunkOverlap)
	}
	splits = strings.Split(text, sep)

	var final []string
	var good []string
	for _, piece := range splits {
		if piece == "" {
			continue
		}
		if len(piece) <= s.ChunkSize {
			good = append(good, piece)
			continue
		}
		// Oversized piece: flush what we have, then recurse with finer separators.
		final = append(final, s.merge(good, sep)...)
		good = nil
		if len(rest) == 0 {
			final = append(final, splitEvery(piece, s.ChunkSize, s.ChunkOverlap)...)
		} else {
			final = append(final, s.split(piece, rest)...)
		}
	}
	final = append(final, s.merge(good, sep)...)
	return final
}

// merge joins small splits into chunks of at most ChunkSize, retaining a
// tail window of up to ChunkOverlap as the start of the following chunk.
func (s *Splitter) merge(splits []string, sep string) []string {
	if len(splits) == 0 {
		return nil
	}

	sepLen := len(sep)
	var chunks []string
	var cur []string
	curLen := 0

	joinedLen := func(extra int) int {
		total := curLen + extra
		if len(cur) > 0 {
			total += sepLen
		}
		return total
	}

	for _, piece := range splits {
		if len(cur) > 0 && joinedLen(len(piece)) > s.ChunkSize {
			chunks = append(chunks, strings.Join(cur, sep))
			// Drop leading pieces until the retained tail fits the overlap
			// window and leaves room for the incoming piece.
			for len(cur) > 0 && (curLen > s.ChunkOverlap || joinedLen(len(piece)) > s.ChunkSize) {
				curLen -= len(cur[0])
				if len(cur) > 1 {
					curLen -= sepLen
				}
				cur = cur[1:]
			}
		}
		if len(cur) > 0 {
			curLen += sepLen
		}
		cur = append(cur, piece)
		curLen += len(piece)
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, sep))
	}
	return chunks
}

// splitEvery hard-splits text into windows of size bytes with the given
// overlap, for content without any usable separator.
func splitEvery(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}
	step := size - overlap
	if step < 1 {
		step = size
	}
	var out []string
	for start := 0; start < len(text); start += step {
		end := start + size
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		out = append(out, text[start:end])
	}
	return out
}
