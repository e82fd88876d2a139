// Package mock provides a deterministic embedder for tests and demos.
// Vectors are derived from a hash of the text, so equal inputs always
// embed equal; there is no semantic similarity.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// DefaultDimensions matches all-MiniLM-L6-v2 so mock vectors are
// drop-in compatible with the local ONNX embedder.
const DefaultDimensions = 384

// Embedder generates hash-based unit vectors.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with DefaultDimensions.
func New() *Embedder {
	return &Embedder{dimensions: DefaultDimensions}
}

// NewWithDimensions creates a mock embedder of the given size.
func NewWithDimensions(d int) *Embedder {
	return &Embedder{dimensions: d}
}

// Embed derives each component from a hash of the text and the component
// index, then normalizes to a unit vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dimensions)
	var norm float64
	for i := range vec {
		h := fnv.New64a()
		fmt.Fprintf(h, "%s#%d", text, i)
		// Map the hash onto [-1, 1).
		vec[i] = float32(int64(h.Sum64())) / float32(math.MaxInt64)
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
