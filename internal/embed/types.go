// Package embed maps transcript text to fixed-dimension vectors.
//
// Providers are interchangeable behind the Embedder interface. The
// vector dimension is discovered from the first successful load and
// stays fixed for the life of the process.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// MaxBatchSize caps a single request to the runtime
	MaxBatchSize = 256

	// DefaultTimeout is the default timeout for one embedding request
	DefaultTimeout = 60 * time.Second

	// DefaultLoadTimeout bounds the first load, which may pull a cold model into memory
	DefaultLoadTimeout = 180 * time.Second

	// StaticDimensions is the embedding dimension for the static embedder
	StaticDimensions = 256
)

// Provider names accepted by NewEmbedder.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, or 0 before the first load
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
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

// batches splits texts into consecutive slices of at most size entries.
func batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	out := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}
