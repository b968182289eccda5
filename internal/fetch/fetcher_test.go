package fetch

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// fakeSource serves documents from a map and counts reads.
type fakeSource struct {
	mu      sync.Mutex
	docs    map[string]string
	hashes  map[string]string
	reads   map[string]int
	readErr func(path string, attempt int) error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		docs:   make(map[string]string),
		hashes: make(map[string]string),
		reads:  make(map[string]int),
	}
}

func (s *fakeSource) set(path, content, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = content
	s.hashes[path] = hash
}

func (s *fakeSource) readCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[path]
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) List(_ context.Context) ([]Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Listing
	for p, c := range s.docs {
		out = append(out, Listing{Path: p, Hash: s.hashes[p], Size: int64(len(c))})
	}
	return out, nil
}

func (s *fakeSource) Read(_ context.Context, l Listing) ([]byte, time.Time, error) {
	s.mu.Lock()
	s.reads[l.Path]++
	attempt := s.reads[l.Path]
	content, ok := s.docs[l.Path]
	readErr := s.readErr
	s.mu.Unlock()

	if readErr != nil {
		if err := readErr(l.Path, attempt); err != nil {
			return nil, time.Time{}, err
		}
	}
	if !ok {
		return nil, time.Time{}, errors.NotFound(l.Path, nil)
	}
	return []byte(content), time.Time{}, nil
}

func newTestFetcher(src Source, opts ...Option) *Fetcher {
	opts = append([]Option{WithRetry(3, time.Millisecond)}, opts...)
	return NewFetcher(src, opts...)
}

func TestFetcher_CacheHitSkipsRead(t *testing.T) {
	// Given a listed document that was fetched once
	src := newFakeSource()
	src.set("docs/a.md", "# A", "h1")
	f := newTestFetcher(src)
	ctx := context.Background()

	_, err := f.List(ctx)
	require.NoError(t, err)
	first, err := f.Fetch(ctx, "docs/a.md")
	require.NoError(t, err)

	// When it is fetched again with an unchanged hash
	second, err := f.Fetch(ctx, "docs/a.md")
	require.NoError(t, err)

	// Then the source is read only once
	assert.Equal(t, 1, src.readCount("docs/a.md"))
	assert.Equal(t, first, second)
	assert.Equal(t, "h1", second.Hash)
	assert.Equal(t, "# A", string(second.Content))
}

func TestFetcher_ChangedHashRefetches(t *testing.T) {
	// Given a cached document
	src := newFakeSource()
	src.set("docs/a.md", "# A", "h1")
	f := newTestFetcher(src)
	ctx := context.Background()
	_, err := f.List(ctx)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, "docs/a.md")
	require.NoError(t, err)

	// When the source reports a new hash
	src.set("docs/a.md", "# A v2", "h2")
	_, err = f.List(ctx)
	require.NoError(t, err)
	doc, err := f.Fetch(ctx, "docs/a.md")

	// Then the new content is read
	require.NoError(t, err)
	assert.Equal(t, 2, src.readCount("docs/a.md"))
	assert.Equal(t, "# A v2", string(doc.Content))
	assert.Equal(t, "h2", doc.Hash)
}

func TestFetcher_UnlistedPathHashesContent(t *testing.T) {
	// Given a path that was never listed
	src := newFakeSource()
	src.set("docs/a.md", "hello", "h1")
	f := newTestFetcher(src)

	// When it is fetched
	doc, err := f.Fetch(context.Background(), "docs/a.md")

	// Then the hash is derived from the content
	require.NoError(t, err)
	assert.Equal(t, hashBytes([]byte("hello")), doc.Hash)
}

func TestFetcher_NotFoundIsNotRetried(t *testing.T) {
	// Given a cached document that then disappears
	src := newFakeSource()
	src.set("docs/a.md", "# A", "h1")
	cache := NewMemoryCache()
	f := newTestFetcher(src, WithCache(cache))
	ctx := context.Background()
	_, err := f.List(ctx)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, "docs/a.md")
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	src.mu.Lock()
	delete(src.docs, "docs/a.md")
	src.mu.Unlock()
	_, err = f.List(ctx)
	require.NoError(t, err)

	// When it is fetched
	_, err = f.Fetch(ctx, "docs/a.md")

	// Then NotFound is returned after a single read and the cache is evicted
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNotFound))
	assert.Equal(t, 2, src.readCount("docs/a.md"))
	_, ok, _ := cache.Get(ctx, "docs/a.md")
	assert.False(t, ok)
}

func TestFetcher_TransientErrorsAreRetried(t *testing.T) {
	// Given a source that fails twice with a network error
	src := newFakeSource()
	src.set("docs/a.md", "# A", "h1")
	src.readErr = func(path string, attempt int) error {
		if attempt <= 2 {
			return errors.Network("connection reset", nil)
		}
		return nil
	}
	f := newTestFetcher(src)

	// When fetched
	doc, err := f.Fetch(context.Background(), "docs/a.md")

	// Then the third attempt succeeds
	require.NoError(t, err)
	assert.Equal(t, "# A", string(doc.Content))
	assert.Equal(t, 3, src.readCount("docs/a.md"))
}

func TestFetcher_RateLimitSurfacesAfterRetries(t *testing.T) {
	// Given a source that is always rate limited
	src := newFakeSource()
	src.set("docs/a.md", "# A", "h1")
	src.readErr = func(string, int) error {
		return errors.RateLimited("slow down", nil)
	}
	f := newTestFetcher(src)

	// When fetched
	_, err := f.Fetch(context.Background(), "docs/a.md")

	// Then the rate-limit error surfaces after 1 + MaxRetries attempts
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFetchRateLimited, errors.GetCode(err))
	assert.Equal(t, 4, src.readCount("docs/a.md"))
}

func TestFetcher_UnauthorizedIsNotRetried(t *testing.T) {
	// Given a source that refuses access
	src := newFakeSource()
	src.set("docs/a.md", "# A", "h1")
	src.readErr = func(string, int) error {
		return errors.New(errors.ErrCodeFetchUnauthorized, "bad token", nil)
	}
	f := newTestFetcher(src)

	// When fetched
	_, err := f.Fetch(context.Background(), "docs/a.md")

	// Then it fails after one attempt
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnauthorized))
	assert.Equal(t, 1, src.readCount("docs/a.md"))
}

func TestFetcher_CanceledContext(t *testing.T) {
	src := newFakeSource()
	src.set("docs/a.md", "# A", "h1")
	f := newTestFetcher(src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, "docs/a.md")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPaths(t *testing.T) {
	listing := []Listing{{Path: "a.md"}, {Path: "b/c.md"}}
	assert.Equal(t, []string{"a.md", "b/c.md"}, Paths(listing))
}
