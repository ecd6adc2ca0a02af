package utils

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EmbeddingDimension is the only non-empty embedding length the system stores.
const EmbeddingDimension = 768

// ValidEmbedding reports whether vec is either empty or exactly EmbeddingDimension long.
func ValidEmbedding(vec []float32) bool {
	return len(vec) == 0 || len(vec) == EmbeddingDimension
}

// EncodeEmbedding packs vec as little-endian float32s. An empty vector encodes to nil.
func EncodeEmbedding(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if len(vec) != EmbeddingDimension {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), EmbeddingDimension)
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b, nil
}

// DecodeEmbedding reverses EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return []float32{}, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// IsZero reports whether every component of vec is zero. Zero vectors have no direction
// and cannot take part in cosine similarity.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
