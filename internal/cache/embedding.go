// SPDX-License-Identifier: MIT

package cache

import (
	"encoding/binary"
	"math"
)

// EncodeEmbedding serializes an embedding vector for cache storage.
func EncodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding deserializes an embedding vector from cache storage.
// Returns false on malformed input.
func DecodeEmbedding(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, true
}
