// Package docsearch is the public entry point: it wires configuration into
// the fetch, chunk, embed, store and search packages and exposes the two
// operations callers need, Search and Reindex.
//
// Usage:
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    return err
//	}
//	c, err := docsearch.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if _, err := c.Reindex(ctx, false); err != nil {
//	    return err
//	}
//	results, err := c.Search(ctx, "how do I style a button", 5, nil, "")
package docsearch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/fetch"
	"github.com/Aman-CERP/docsearch/internal/index"
	"github.com/Aman-CERP/docsearch/internal/parse"
	"github.com/Aman-CERP/docsearch/internal/search"
	"github.com/Aman-CERP/docsearch/internal/store"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
	"github.com/Aman-CERP/docsearch/internal/watcher"
)

// responseCacheSize bounds the per-generation search response cache.
const responseCacheSize = 256

// Result is one search hit.
type Result struct {
	Text        string   `json:"text"`
	DocPath     string   `json:"doc_path"`
	Hierarchy   []string `json:"hierarchy"`
	ContentType string   `json:"content_type"`
	Score       float32  `json:"score"`
	Degraded    bool     `json:"degraded"`
}

// ReindexSummary reports a Reindex call.
type ReindexSummary struct {
	New            int                   `json:"new"`
	Changed        int                   `json:"changed"`
	Unchanged      int                   `json:"unchanged"`
	Deleted        int                   `json:"deleted"`
	DegradedEvents []index.DegradedEvent `json:"degraded_events,omitempty"`
}

// Option configures Open.
type Option func(*Client)

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithProgress receives index run progress.
func WithProgress(fn index.ProgressFunc) Option {
	return func(c *Client) {
		c.progress = fn
	}
}

// WithSource replaces the configured source, e.g. with a test server.
func WithSource(src fetch.Source) Option {
	return func(c *Client) {
		c.source = src
	}
}

// Client owns an open index and the pipeline around it.
type Client struct {
	cfg      *config.Config
	logger   *slog.Logger
	progress index.ProgressFunc

	source   fetch.Source
	store    *store.Store
	shared   *embed.Shared
	indexer  *index.Indexer
	engine   *search.Engine
	dataDir  string
	response *lru.Cache[responseKey, search.Response]
	metrics  *telemetry.QueryMetrics
	queries  *telemetry.SQLiteMetricsStore
}

type responseKey struct {
	generation uint64
	query      string
	limit      int
	types      string
	pattern    string
	prefix     string
	language   string
}

// Open validates cfg, opens the index in cfg.Index.DataDir and builds the
// pipeline. The embedder is not contacted until first use.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(err.Error(), nil)
	}

	c := &Client{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.dataDir = cfg.Index.DataDir
	if c.dataDir == "" {
		c.dataDir = config.DefaultDataDir()
	}

	backend, err := store.ParseLexicalBackend(cfg.Search.LexicalBackend)
	if err != nil {
		return nil, errors.ConfigError("invalid lexical backend", err)
	}
	st, err := store.Open(ctx, filepath.Join(c.dataDir, store.DBFileName), store.Options{
		LexicalBackend: backend,
		ANNThreshold:   cfg.Search.ANNThreshold,
		Logger:         c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.store = st

	if err := c.build(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) build(ctx context.Context) error {
	cfg := c.cfg
	if c.source == nil {
		src, err := NewSource(ctx, cfg, c.logger)
		if err != nil {
			return err
		}
		c.source = src
	}

	docCache, err := fetch.NewSQLiteCache(ctx, c.store.DB())
	if err != nil {
		return err
	}
	fetcher := fetch.NewFetcher(c.source,
		fetch.WithCache(docCache),
		fetch.WithRetry(cfg.Fetch.MaxRetries, config.Duration(cfg.Fetch.InitialDelay, 0)),
		fetch.WithLogger(c.logger))

	c.shared = embed.FromConfig(cfg.Embeddings, c.logger)
	memo := embed.NewMemo(c.shared, c.store, cfg.Embeddings.CacheSize)

	chunker := chunk.New(chunk.Options{
		MaxTokens:             cfg.Chunking.MaxTokens,
		MinTokens:             cfg.Chunking.MinTokens,
		OverlapFraction:       cfg.Chunking.OverlapFraction,
		SemanticThreshold:     cfg.Chunking.SemanticThreshold,
		HeadingSplitLevel:     cfg.Chunking.HeadingSplitLevel,
		ReferenceHeadingLevel: cfg.Chunking.ReferenceHeadingLevel,
	}, chunk.WithSentenceEmbedder(c.shared), chunk.WithLogger(c.logger))

	c.indexer, err = index.New(index.Dependencies{
		Fetcher:    fetcher,
		Parser:     parse.NewParser().WithLogger(c.logger),
		Chunker:    chunker,
		Vectorizer: memo,
		Store:      c.store,
		DataDir:    c.dataDir,
		Workers:    cfg.Index.Workers,
		Logger:     c.logger,
		Progress:   c.progress,
	})
	if err != nil {
		return err
	}

	c.engine, err = search.NewEngine(c.store, c.shared,
		search.WithConfig(search.Config{
			DefaultLimit:        cfg.Search.DefaultLimit,
			SimilarityThreshold: cfg.Search.SimilarityThreshold,
			Lambda:              cfg.Search.DiversityLambda,
			CandidateMultiplier: cfg.Search.CandidateMultiplier,
		}),
		search.WithLogger(c.logger))
	if err != nil {
		return err
	}

	c.response, _ = lru.New[responseKey, search.Response](responseCacheSize)

	c.queries, err = telemetry.NewSQLiteMetricsStore(ctx, c.store.DB())
	if err != nil {
		return errors.StoreFailed("failed to prepare query metrics", err)
	}
	c.metrics = telemetry.NewQueryMetrics(c.queries, telemetry.DefaultConfig(), c.logger)
	return nil
}

// NewSource builds the configured content store.
func NewSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (fetch.Source, error) {
	switch cfg.Source.Kind {
	case "dir":
		return fetch.NewDirSource(cfg.Source.Dir, cfg.Source.Include, cfg.Source.Exclude)
	case "github":
		return fetch.NewGitHubSource(ctx, fetch.GitHubConfig{
			Owner:   cfg.Source.Owner,
			Repo:    cfg.Source.Repo,
			Ref:     cfg.Source.Ref,
			Include: cfg.Source.Include,
			Exclude: cfg.Source.Exclude,
			Token:   cfg.Source.Token,
			Timeout: config.Duration(cfg.Fetch.Timeout, fetch.DefaultHTTPTimeout),
		},
			fetch.WithRateLimiter(fetch.NewRateLimiter(cfg.Fetch.RateLimit, cfg.Fetch.Burst)),
			fetch.WithGitHubLogger(logger))
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown source kind %q", cfg.Source.Kind), nil)
	}
}

// Search returns up to limit results for query. contentTypes and
// pathPattern narrow the candidates; empty values do not filter. A zero
// limit uses the configured default.
func (c *Client) Search(ctx context.Context, query string, limit int, contentTypes []string, pathPattern string) ([]Result, error) {
	q := search.Query{Text: query, Limit: limit, PathPattern: pathPattern}
	for _, s := range contentTypes {
		ct, ok := chunk.ParseContentType(s)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown content type %q", s), nil).
				WithSuggestion("Use one of: code, api, guide, reference, generic")
		}
		q.ContentTypes = append(q.ContentTypes, ct)
	}

	resp, err := c.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = Result{
			Text:        r.Text,
			DocPath:     r.DocPath,
			Hierarchy:   r.Hierarchy,
			ContentType: string(r.ContentType),
			Score:       r.Score,
			Degraded:    r.Degraded,
		}
	}
	return out, nil
}

// Query runs a search and returns the full response. Responses are cached
// until the index changes; degraded responses are not cached.
func (c *Client) Query(ctx context.Context, q search.Query) (search.Response, error) {
	start := time.Now()
	types := make([]string, len(q.ContentTypes))
	for i, ct := range q.ContentTypes {
		types[i] = string(ct)
	}
	key := responseKey{
		generation: c.store.Stats().Generation,
		query:      strings.TrimSpace(q.Text),
		limit:      q.Limit,
		types:      strings.Join(types, ","),
		pattern:    q.PathPattern,
		prefix:     q.PathPrefix,
		language:   q.Language,
	}
	if resp, ok := c.response.Get(key); ok {
		c.record(key.query, resp, start)
		return resp, nil
	}

	resp, err := c.engine.Search(ctx, q)
	if err != nil {
		return search.Response{}, err
	}
	if !resp.Degraded {
		c.response.Add(key, resp)
	}
	c.record(key.query, resp, start)
	return resp, nil
}

func (c *Client) record(query string, resp search.Response, start time.Time) {
	mode := telemetry.ModeSemantic
	if resp.Degraded {
		mode = telemetry.ModeKeyword
	}
	c.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		Mode:        mode,
		ResultCount: len(resp.Results),
		Latency:     time.Since(start),
		Timestamp:   start,
	})
}

// QueryStats returns the recorded query history, including queries of this
// process that were not yet flushed.
func (c *Client) QueryStats(ctx context.Context) (telemetry.Summary, error) {
	if err := c.metrics.Flush(ctx); err != nil {
		return telemetry.Summary{}, err
	}
	return c.queries.Summary(ctx, 5, 5)
}

// Reindex brings the index in line with the source. force reprocesses
// unchanged documents too.
func (c *Client) Reindex(ctx context.Context, force bool) (ReindexSummary, error) {
	s, err := c.Run(ctx, index.Options{Force: force})
	return ReindexSummary{
		New:            s.New,
		Changed:        s.Changed,
		Unchanged:      s.Unchanged,
		Deleted:        s.Deleted,
		DegradedEvents: s.DegradedEvents,
	}, err
}

// Run executes one index run and returns the full summary.
func (c *Client) Run(ctx context.Context, opts index.Options) (index.Summary, error) {
	return c.indexer.Run(ctx, opts)
}

// Watch runs an index pass whenever documents under a directory source
// change, until ctx is canceled. onRun, if set, receives every run result.
func (c *Client) Watch(ctx context.Context, onRun func(index.Summary, error)) error {
	dir, ok := c.source.(*fetch.DirSource)
	if !ok {
		return errors.New(errors.ErrCodeInvalidInput, "watch mode needs a directory source", nil).
			WithSuggestion("Set source.kind to dir, or re-run index on a schedule")
	}

	w, err := watcher.New(watcher.Options{
		DebounceWindow: config.Duration(c.cfg.Index.WatchDebounce, 0),
		Include:        c.cfg.Source.Include,
		Exclude:        c.cfg.Source.Exclude,
		Logger:         c.logger,
	})
	if err != nil {
		return errors.ConfigError("invalid watch configuration", err)
	}
	defer func() { _ = w.Stop() }()

	startErr := make(chan error, 1)
	go func() {
		err := w.Start(ctx, dir.Root())
		if err != nil && ctx.Err() == nil {
			// closes Events so the loop below ends
			_ = w.Stop()
		}
		startErr <- err
	}()
	go func() {
		for err := range w.Errors() {
			c.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}()

	loopErr := watcher.Loop(ctx, w.Events(), func(ctx context.Context, _ []watcher.FileEvent) error {
		s, err := c.Run(ctx, index.Options{})
		if onRun != nil {
			onRun(s, err)
		}
		return err
	}, c.logger)

	_ = w.Stop()
	if err := <-startErr; err != nil && ctx.Err() == nil {
		return err
	}
	return loopErr
}

// SourceName identifies the source, e.g. "github:Textualize/textual@main".
func (c *Client) SourceName() string {
	return c.source.Name()
}

// Stats describes the open index.
func (c *Client) Stats() store.Stats {
	return c.store.Stats()
}

// LastIndexed returns when a document was last written.
func (c *Client) LastIndexed(ctx context.Context) (time.Time, error) {
	return c.store.LastIndexed(ctx)
}

// ModelID is the embedding model vectors are stored under.
func (c *Client) ModelID() string {
	return c.shared.ModelID()
}

// EmbedderStatus initializes the embedder if needed and reports "ready",
// "offline" or "error".
func (c *Client) EmbedderStatus(ctx context.Context) string {
	e, err := c.shared.Get(ctx)
	switch {
	case errors.GetCode(err) == errors.ErrCodeEmbedUnavailable:
		return "offline"
	case err != nil:
		return "error"
	case !e.Available(ctx):
		return "offline"
	default:
		return "ready"
	}
}

// DataDir returns the directory holding the index.
func (c *Client) DataDir() string {
	return c.dataDir
}

// Close releases the embedder and the store.
func (c *Client) Close() error {
	if err := c.metrics.Close(); err != nil {
		c.logger.Warn("query_metrics_flush_failed", slog.String("error", err.Error()))
	}
	embedErr := c.shared.Close()
	if err := c.store.Close(); err != nil {
		return err
	}
	return embedErr
}
