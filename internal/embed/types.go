// Package embed maps text to fixed-dimension vectors.
//
// Providers report failures as TransientProviderError (rate limits, 5xx,
// timeouts) or PermanentProviderError (bad credentials, invalid requests) so
// that a RetryPolicy can tell them apart.
package embed

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	// MaxBatchSize caps the texts sent in one provider request.
	MaxBatchSize = 256

	// DefaultBatchSize is the default number of texts per provider request.
	DefaultBatchSize = 64

	// DefaultTimeout bounds one provider request.
	DefaultTimeout = 60 * time.Second

	// StaticDimensions is the vector size of the offline hash embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, or 0 if not yet known.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("provider returned %d embeddings for 1 text", len(vecs))
	}
	return vecs[0], nil
}

// batches splits n items into [start, end) ranges of at most size.
func batches(n, size int) [][2]int {
	if size <= 0 || size > MaxBatchSize {
		size = DefaultBatchSize
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// normalizeVector returns v scaled to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
