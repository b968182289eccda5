package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/store"
)

// degradedGap is how far below the weakest vector result a degraded fill
// result lands, scaled by its lexical score.
const degradedGap = 0.05

// Engine answers queries against an Index.
type Engine struct {
	index    Index
	embedder QueryEmbedder
	expander *QueryExpander
	config   Config
	logger   *slog.Logger
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithConfig replaces the ranking configuration. SimilarityThreshold and
// Lambda are taken as given, zero included, so start from DefaultConfig.
// A non-positive DefaultLimit or CandidateMultiplier keeps the default.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.config.SimilarityThreshold = cfg.SimilarityThreshold
		e.config.Lambda = max(0, min(cfg.Lambda, 1))
		if cfg.DefaultLimit > 0 {
			e.config.DefaultLimit = cfg.DefaultLimit
		}
		if cfg.CandidateMultiplier > 0 {
			e.config.CandidateMultiplier = cfg.CandidateMultiplier
		}
	}
}

// WithQueryExpander sets the expander used for lexical queries. Vector
// search always uses the original text.
func WithQueryExpander(exp *QueryExpander) EngineOption {
	return func(e *Engine) {
		e.expander = exp
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine. A nil embedder leaves every query on the
// lexical fallback.
func NewEngine(index Index, embedder QueryEmbedder, opts ...EngineOption) (*Engine, error) {
	if index == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "search engine requires an index", nil)
	}
	e := &Engine{
		index:    index,
		embedder: embedder,
		expander: NewQueryExpander(),
		config:   DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the active ranking configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Search runs q and returns at most q.Limit results.
func (e *Engine) Search(ctx context.Context, q Query) (Response, error) {
	start := time.Now()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Response{}, ErrEmptyQuery
	}
	limit := e.limit(q.Limit)

	filter := store.Filter{
		ContentTypes: q.ContentTypes,
		PathPrefix:   q.PathPrefix,
		PathPattern:  q.PathPattern,
		Language:     q.Language,
	}
	if err := filter.Validate(); err != nil {
		return Response{}, errors.New(errors.ErrCodeInvalidInput, err.Error(), err)
	}

	vec, embedErr := e.embedQuery(ctx, text)
	if embedErr != nil {
		if errors.GetCode(embedErr) != errors.ErrCodeEmbedUnavailable {
			return Response{}, embedErr
		}
		resp, err := e.lexicalFallback(ctx, text, limit, filter, embedErr)
		if err != nil {
			return Response{}, err
		}
		resp.Took = time.Since(start)
		e.logger.Warn("search_degraded",
			slog.String("query", text),
			slog.String("reason", resp.DegradedReason),
			slog.Int("results", len(resp.Results)))
		return resp, nil
	}

	candidates := limit * e.config.CandidateMultiplier
	if q.PathPattern != "" {
		candidates *= 2
	}
	vecFilter := filter
	vecFilter.ModelID = e.embedder.ModelID()

	var vecHits, lexHits []store.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.index.Search(gctx, vec, candidates, vecFilter)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vecHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.index.SearchLexical(gctx, e.expand(text), limit, filter, true)
		if err != nil {
			// Degraded entries are a bonus; losing them is not fatal.
			e.logger.Debug("degraded_lookup_failed", slog.String("error", err.Error()))
			return nil
		}
		lexHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	kept := vecHits[:0:0]
	for _, h := range vecHits {
		if float64(h.Score) >= e.config.SimilarityThreshold {
			kept = append(kept, h)
		}
	}

	selected := make([]scoredHit, 0, limit)
	for _, h := range diversify(kept, limit, e.config.Lambda) {
		selected = append(selected, scoredHit{Hit: h})
	}
	selected = fillDegraded(selected, lexHits, limit)

	results := mergeAdjacent(selected)
	e.logger.Debug("search_completed",
		slog.String("query", text),
		slog.Int("candidates", len(vecHits)),
		slog.Int("kept", len(kept)),
		slog.Int("results", len(results)),
		slog.Duration("took", time.Since(start)))

	return Response{
		Results:    results,
		Candidates: len(vecHits),
		Took:       time.Since(start),
	}, nil
}

func (e *Engine) limit(n int) int {
	switch {
	case n <= 0:
		n = e.config.DefaultLimit
	case n > MaxLimit:
		n = MaxLimit
	}
	return n
}

func (e *Engine) expand(text string) string {
	if e.expander == nil {
		return text
	}
	expanded := e.expander.Expand(text)
	if expanded != text {
		e.logger.Debug("query_expanded",
			slog.String("original", text),
			slog.String("expanded", expanded))
	}
	return expanded
}

// embedQuery returns the query vector. A missing embedder or an empty
// vector is reported as EmbedUnavailable.
func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil {
		return nil, errors.EmbedUnavailable("no embedder configured", nil)
	}
	vecs, err := e.embedder.Embed(ctx, []string{text}, embed.ModeQuery)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, errors.EmbedUnavailable("embedder returned no query vector", nil)
	}
	return vecs[0], nil
}

// lexicalFallback answers from the lexical index alone. When that fails
// too, the embedding error is returned.
func (e *Engine) lexicalFallback(ctx context.Context, text string, limit int, filter store.Filter, embedErr error) (Response, error) {
	hits, err := e.index.SearchLexical(ctx, e.expand(text), limit, filter, false)
	if err != nil {
		e.logger.Warn("lexical_fallback_failed", slog.String("error", err.Error()))
		return Response{}, embedErr
	}

	selected := make([]scoredHit, len(hits))
	for i, h := range hits {
		selected[i] = scoredHit{Hit: h, degraded: true}
	}
	return Response{
		Results:        mergeAdjacent(selected),
		Degraded:       true,
		DegradedReason: embedErr.Error(),
		Candidates:     len(hits),
	}, nil
}

// fillDegraded tops selected up to limit with lexical matches on entries
// that have no vector. Their scores sit strictly below every vector result.
func fillDegraded(selected []scoredHit, lexHits []store.Hit, limit int) []scoredHit {
	if len(selected) >= limit || len(lexHits) == 0 {
		return selected
	}
	floor := float32(1)
	for _, h := range selected {
		if h.Score < floor {
			floor = h.Score
		}
	}
	for _, h := range lexHits {
		if len(selected) == limit {
			break
		}
		h.Score = floor - degradedGap*(2-h.Score)
		selected = append(selected, scoredHit{Hit: h, degraded: true})
	}
	return selected
}
