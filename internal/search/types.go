// Package search answers similarity queries over the store.
//
// A query is embedded in query mode, over-fetched from the store, cut at
// the similarity threshold, re-ranked with maximal marginal relevance and
// merged into display units. When the embedder is unavailable the engine
// answers from the lexical index and flags every result as degraded.
package search

import (
	"context"
	"time"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/store"
)

const (
	// DefaultLimit is the number of results when a query sets none.
	DefaultLimit = 5

	// MaxLimit caps the number of results.
	MaxLimit = 100

	// DefaultCandidateMultiplier is k'/k for store retrieval.
	DefaultCandidateMultiplier = 3

	// DefaultLambda weights relevance against redundancy in MMR.
	DefaultLambda = 0.7

	// DefaultSimilarityThreshold drops weak vector hits.
	DefaultSimilarityThreshold = 0.1
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.ErrQueryEmpty

// Query is one search request.
type Query struct {
	Text  string
	Limit int

	ContentTypes []chunk.ContentType
	// PathPattern is a glob over document paths, e.g. "docs/widgets/*.md".
	PathPattern string
	PathPrefix  string
	Language    string
}

// Result is one display unit: a chunk, or a run of adjacent chunks of one
// document merged together.
type Result struct {
	Text        string            `json:"text"`
	DocPath     string            `json:"doc_path"`
	Hierarchy   []string          `json:"hierarchy"`
	Breadcrumb  string            `json:"breadcrumb"`
	ContentType chunk.ContentType `json:"content_type"`
	Language    string            `json:"language,omitempty"`
	Score       float32           `json:"score"`
	// Position is the first merged chunk's position, EndPosition the last.
	Position    int      `json:"position"`
	EndPosition int      `json:"end_position"`
	ChunkIDs    []string `json:"chunk_ids"`
	Degraded    bool     `json:"degraded"`
}

// Response is the outcome of a search.
type Response struct {
	Results []Result `json:"results"`
	// Degraded is set when the query could not be embedded and results
	// come from the lexical index alone.
	Degraded       bool          `json:"degraded"`
	DegradedReason string        `json:"degraded_reason,omitempty"`
	Candidates     int           `json:"candidates"`
	Took           time.Duration `json:"took"`
}

// Config tunes ranking.
type Config struct {
	DefaultLimit        int
	SimilarityThreshold float64
	// Lambda is the MMR relevance weight in [0, 1]; 1 disables diversity.
	Lambda              float64
	CandidateMultiplier int
}

// DefaultConfig returns the default ranking configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:        DefaultLimit,
		SimilarityThreshold: DefaultSimilarityThreshold,
		Lambda:              DefaultLambda,
		CandidateMultiplier: DefaultCandidateMultiplier,
	}
}

// QueryEmbedder embeds query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string, mode embed.Mode) ([][]float32, error)
	ModelID() string
}

// Index is the store surface the engine reads.
type Index interface {
	Search(ctx context.Context, vector []float32, k int, filter store.Filter) ([]store.Hit, error)
	SearchLexical(ctx context.Context, query string, k int, filter store.Filter, degradedOnly bool) ([]store.Hit, error)
}
