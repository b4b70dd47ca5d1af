// Package embed turns property text into dense vectors.
//
// Two providers exist: an OpenAI-compatible HTTP client for real
// deployments and a deterministic hash embedder for tests and offline
// evaluation. Both sit behind the Embedder interface; the factory wraps
// whichever one it builds in a TTL+LRU cache whose hits are observable
// by the metrics sink.
package embed

import (
	"context"
	"math"
	"time"
)

// Batch and cache bounds.
const (
	// MinBatchSize is the smallest allowed provider batch.
	MinBatchSize = 1

	// MaxBatchSize caps one provider request; larger sync batches are
	// split before they reach the wire.
	MaxBatchSize = 256

	// DefaultBatchSize is used when the config leaves batch_size unset.
	DefaultBatchSize = 32

	// DefaultTimeout bounds one provider round trip.
	DefaultTimeout = 30 * time.Second

	// DefaultCacheTTL is how long a cached vector stays bit-identical
	// for the same (text, model) pair.
	DefaultCacheTTL = time.Hour

	// DefaultCacheSize bounds the cache entry count. At 768 dims x 4
	// bytes x 10k entries the cache tops out around 30MB.
	DefaultCacheSize = 10000
)

// StaticDimensions is the vector width of the deterministic embedder.
const StaticDimensions = 256

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width, or 0 before the first
	// call when the provider auto-detects it.
	Dimensions() int

	// ModelID returns the model identifier persisted in collection stats.
	ModelID() string

	// Available reports whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// normalizeVector scales a vector to unit length. Zero vectors are
// returned unchanged.
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
