// Package embed turns chunk and query text into unit-length vectors.
//
// Backends (static, ollama) produce raw vectors. The Embedder applies the
// model's task prefixes, batches requests, and normalizes output. Shared
// lazily builds one Embedder per process, and Memo keeps vectors keyed by
// (chunk id, model id) so unchanged chunks are never re-embedded.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the default number of texts per backend call.
	DefaultBatchSize = 32

	// MaxBatchSize caps the batch size to bound request memory.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single backend request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of retries for transient backend failures.
	DefaultMaxRetries = 3

	// DefaultQueryCacheSize is the number of query vectors kept in memory.
	DefaultQueryCacheSize = 1000

	// StaticDimensions is the vector size of the static backend.
	StaticDimensions = 256
)

// Mode selects the task prefix applied before embedding.
type Mode int

const (
	// ModeDocument embeds passages being indexed.
	ModeDocument Mode = iota
	// ModeQuery embeds search queries.
	ModeQuery
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeQuery {
		return "query"
	}
	return "document"
}

// Backend produces raw, possibly unnormalized, vectors.
type Backend interface {
	// EmbedBatch returns one vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector size.
	Dimensions() int

	// ModelName returns the model identifier used for prefixes and cache keys.
	ModelName() string

	// Available checks if the backend is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. ok is false for a zero vector.
func normalizeVector(v []float32) (out []float32, ok bool) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 || math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return v, false
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized, true
}
