package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// Embedder wraps a Backend with task prefixes, batching, normalization and
// an LRU of recent query vectors. Safe for concurrent use.
type Embedder struct {
	backend   Backend
	batchSize int
	prefixes  Prefixes
	queries   *lru.Cache[string, []float32]
	logger    *slog.Logger
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithBatchSize sets the number of texts per backend call.
func WithBatchSize(n int) Option {
	return func(e *Embedder) {
		if n < 1 {
			n = DefaultBatchSize
		}
		if n > MaxBatchSize {
			n = MaxBatchSize
		}
		e.batchSize = n
	}
}

// WithQueryCache keeps the last n query vectors. 0 disables the cache.
func WithQueryCache(n int) Option {
	return func(e *Embedder) {
		if n <= 0 {
			e.queries = nil
			return
		}
		e.queries, _ = lru.New[string, []float32](n)
	}
}

// WithPrefixes overrides the prefixes derived from the model name.
func WithPrefixes(p Prefixes) Option {
	return func(e *Embedder) {
		e.prefixes = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Embedder) {
		e.logger = l
	}
}

// New creates an Embedder over backend.
func New(backend Backend, opts ...Option) *Embedder {
	e := &Embedder{
		backend:   backend,
		batchSize: DefaultBatchSize,
		prefixes:  PrefixesFor(backend.ModelName()),
		logger:    slog.Default(),
	}
	e.queries, _ = lru.New[string, []float32](DefaultQueryCacheSize)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ModelID identifies the vectors this Embedder produces.
func (e *Embedder) ModelID() string {
	return e.backend.ModelName()
}

// Dimensions returns the backend vector size.
func (e *Embedder) Dimensions() int {
	return e.backend.Dimensions()
}

// Available checks the backend.
func (e *Embedder) Available(ctx context.Context) bool {
	return e.backend.Available(ctx)
}

// Close closes the backend.
func (e *Embedder) Close() error {
	return e.backend.Close()
}

func queryKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed returns one unit-length vector per text. Any backend failure, and any
// zero-norm result, is reported as ErrEmbedUnavailable; partial output is
// never returned.
func (e *Embedder) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	pending := make([]int, 0, len(texts))
	for i, t := range texts {
		if mode == ModeQuery && e.queries != nil {
			if v, ok := e.queries.Get(queryKey(e.ModelID(), t)); ok {
				out[i] = v
				continue
			}
		}
		pending = append(pending, i)
	}

	prefix := e.prefixes.For(mode)
	for start := 0; start < len(pending); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.batchSize, len(pending))
		batch := pending[start:end]

		inputs := make([]string, len(batch))
		for j, idx := range batch {
			inputs[j] = prefix + texts[idx]
		}

		vecs, err := e.backend.EmbedBatch(ctx, inputs)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if stderrors.Is(err, errors.ErrEmbedUnavailable) {
				return nil, err
			}
			return nil, errors.EmbedUnavailable("embedding backend failed", err)
		}
		if len(vecs) != len(batch) {
			return nil, errors.EmbedUnavailable(
				fmt.Sprintf("backend returned %d vectors for %d texts", len(vecs), len(batch)), nil)
		}

		for j, idx := range batch {
			v, ok := normalizeVector(vecs[j])
			if !ok {
				return nil, errors.EmbedUnavailable(
					fmt.Sprintf("backend returned a zero vector for input %d", idx), nil).
					WithDetail("model", e.ModelID())
			}
			out[idx] = v
			if mode == ModeQuery && e.queries != nil {
				e.queries.Add(queryKey(e.ModelID(), texts[idx]), v)
			}
		}

		e.logger.Debug("embed_batch",
			slog.String("model", e.ModelID()),
			slog.String("mode", mode.String()),
			slog.Int("size", len(batch)))
	}
	return out, nil
}

// EmbedSentences embeds sentences as documents, for semantic chunking.
func (e *Embedder) EmbedSentences(ctx context.Context, sentences []string) ([][]float32, error) {
	return e.Embed(ctx, sentences, ModeDocument)
}
