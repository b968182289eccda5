package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// Fetcher serves documents from a Source, skipping the network whenever the
// cached content still matches the last listed hash.
type Fetcher struct {
	source Source
	cache  Cache
	retry  errors.RetryConfig
	logger *slog.Logger

	mu     sync.RWMutex
	listed map[string]string // path -> hash from the last List
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) Option {
	return func(f *Fetcher) {
		f.cache = c
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(maxRetries int, initialDelay time.Duration) Option {
	return func(f *Fetcher) {
		f.retry.MaxRetries = maxRetries
		if initialDelay > 0 {
			f.retry.InitialDelay = initialDelay
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// NewFetcher wraps source.
func NewFetcher(source Source, opts ...Option) *Fetcher {
	f := &Fetcher{
		source: source,
		cache:  NewMemoryCache(),
		retry:  errors.DefaultRetryConfig(),
		logger: slog.Default(),
		listed: make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Source returns the wrapped source.
func (f *Fetcher) Source() Source {
	return f.source
}

// List lists the source and remembers each path's hash for Fetch.
func (f *Fetcher) List(ctx context.Context) ([]Listing, error) {
	listing, err := errors.RetryWithResult(ctx, f.retryConfig("list"), func() ([]Listing, error) {
		return f.source.List(ctx)
	})
	if err != nil {
		return nil, err
	}

	listed := make(map[string]string, len(listing))
	for _, l := range listing {
		listed[l.Path] = l.Hash
	}
	f.mu.Lock()
	f.listed = listed
	f.mu.Unlock()

	f.logger.Debug("fetch_listed",
		slog.String("source", f.source.Name()),
		slog.Int("documents", len(listing)))
	return listing, nil
}

// Fetch returns the document at path. A cached copy is returned without a
// network call when its hash equals the last listed hash. NotFound is
// returned at once and evicts the cached copy.
func (f *Fetcher) Fetch(ctx context.Context, path string) (SourceDocument, error) {
	f.mu.RLock()
	hash, listed := f.listed[path]
	f.mu.RUnlock()

	if listed && hash != "" {
		doc, ok, err := f.cache.Get(ctx, path)
		if err != nil {
			f.logger.Warn("fetch_cache_read_failed", slog.String("path", path), slog.String("error", err.Error()))
		} else if ok && doc.Hash == hash {
			return doc, nil
		}
	}

	type readResult struct {
		content  []byte
		modified time.Time
	}
	res, err := errors.RetryWithResult(ctx, f.retryConfig(path), func() (readResult, error) {
		content, modified, err := f.source.Read(ctx, Listing{Path: path, Hash: hash})
		return readResult{content: content, modified: modified}, err
	})
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeFetchNotFound {
			if delErr := f.cache.Delete(ctx, path); delErr != nil {
				f.logger.Warn("fetch_cache_delete_failed", slog.String("path", path), slog.String("error", delErr.Error()))
			}
		}
		return SourceDocument{}, err
	}

	if hash == "" {
		hash = hashBytes(res.content)
	}
	doc := SourceDocument{Path: path, Content: res.content, Hash: hash, LastModified: res.modified}
	if err := f.cache.Put(ctx, doc); err != nil {
		f.logger.Warn("fetch_cache_write_failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	return doc, nil
}

func (f *Fetcher) retryConfig(what string) errors.RetryConfig {
	cfg := f.retry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		f.logger.Info("fetch_retry",
			slog.String("target", what),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}
	return cfg
}
