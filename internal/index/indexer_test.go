package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/fetch"
	"github.com/Aman-CERP/docsearch/internal/store"
)

type harness struct {
	t       *testing.T
	srcDir  string
	dataDir string
	store   *store.Store
	fetcher *fetch.Fetcher
	memo    *embed.Memo
}

func newHarness(t *testing.T, docs int) *harness {
	t.Helper()
	h := &harness{t: t, srcDir: t.TempDir(), dataDir: t.TempDir()}
	for i := 0; i < docs; i++ {
		h.write(fmt.Sprintf("page%02d.md", i), pageContent(i, "original"))
	}

	s, err := store.Open(context.Background(), filepath.Join(h.dataDir, store.DBFileName), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	h.store = s

	src, err := fetch.NewDirSource(h.srcDir, nil, nil)
	require.NoError(t, err)
	h.fetcher = fetch.NewFetcher(src, fetch.WithRetry(1, time.Millisecond))

	shared := embed.FromConfig(config.EmbeddingsConfig{Provider: "static", BatchSize: 16}, nil)
	t.Cleanup(func() { _ = shared.Close() })
	h.memo = embed.NewMemo(shared, s, 1000)
	return h
}

func pageContent(i int, variant string) string {
	return fmt.Sprintf("# Page %d\n\nThis page explains topic %d in the %s wording, with enough words to form a chunk.\n\n## Details\n\nMore detail about topic %d lives here.\n", i, i, variant, i)
}

func (h *harness) write(name, content string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(filepath.Join(h.srcDir, name), []byte(content), 0o644))
}

func (h *harness) indexer(opts ...func(*Dependencies)) *Indexer {
	h.t.Helper()
	deps := Dependencies{
		Fetcher:    h.fetcher,
		Chunker:    chunk.New(chunk.DefaultOptions()),
		Vectorizer: h.memo,
		Store:      h.store,
		DataDir:    h.dataDir,
		Workers:    4,
	}
	for _, o := range opts {
		o(&deps)
	}
	ix, err := New(deps)
	require.NoError(h.t, err)
	return ix
}

func (h *harness) run(ix *Indexer, opts Options) Summary {
	h.t.Helper()
	sum, err := ix.Run(context.Background(), opts)
	require.NoError(h.t, err)
	return sum
}

func TestIndexer_FirstRunIndexesEverything(t *testing.T) {
	h := newHarness(t, 10)

	sum := h.run(h.indexer(), Options{})

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 10, sum.New)
	assert.Zero(t, sum.Changed)
	assert.Zero(t, sum.Unchanged)
	assert.Zero(t, sum.Deleted)
	assert.Empty(t, sum.Failed)
	assert.GreaterOrEqual(t, sum.Chunks, 10)
	assert.Equal(t, 10, h.store.Stats().Documents)
	assert.Zero(t, h.store.Stats().Degraded)
}

func TestIndexer_ReindexIsIdempotent(t *testing.T) {
	// Given an indexed corpus
	h := newHarness(t, 5)
	ix := h.indexer()
	h.run(ix, Options{})
	before := make(map[string][]store.Entry)
	for i := 0; i < 5; i++ {
		p := fmt.Sprintf("page%02d.md", i)
		before[p] = h.store.DocumentEntries(p)
	}

	// When reindexing without changes
	second := h.run(ix, Options{})

	// Then nothing is reprocessed
	assert.Zero(t, second.Changed)
	assert.Zero(t, second.New)
	assert.Equal(t, 5, second.Unchanged)

	// When forcing a full reindex
	forced := h.run(ix, Options{Force: true})

	// Then the same entries come back
	assert.Equal(t, 5, forced.Changed)
	for p, entries := range before {
		assert.Equal(t, entries, h.store.DocumentEntries(p), p)
	}
}

func TestIndexer_OneChangedParagraph(t *testing.T) {
	// Given a 10 document corpus that has been indexed
	h := newHarness(t, 10)
	ix := h.indexer()
	h.run(ix, Options{})

	// When one paragraph of one document changes
	h.write("page03.md", pageContent(3, "revised"))
	sum := h.run(ix, Options{})

	// Then only that document is reprocessed
	assert.Equal(t, 1, sum.Changed)
	assert.Equal(t, 9, sum.Unchanged)
	assert.Zero(t, sum.New)
	assert.Zero(t, sum.Deleted)

	var texts []string
	for _, e := range h.store.DocumentEntries("page03.md") {
		texts = append(texts, e.Chunk.Text)
	}
	assert.Contains(t, fmt.Sprint(texts), "revised")
	assert.NotContains(t, fmt.Sprint(texts), "original")
}

func TestIndexer_RemovedDocumentIsDeleted(t *testing.T) {
	// Given an indexed corpus
	h := newHarness(t, 4)
	ix := h.indexer()
	h.run(ix, Options{})
	require.NotEmpty(t, h.store.DocumentEntries("page02.md"))

	// When a document disappears from the source
	require.NoError(t, os.Remove(filepath.Join(h.srcDir, "page02.md")))
	sum := h.run(ix, Options{})

	// Then its entries and hash are gone
	assert.Equal(t, 1, sum.Deleted)
	assert.Equal(t, 3, sum.Unchanged)
	assert.Empty(t, h.store.DocumentEntries("page02.md"))
	hashes, err := h.store.IndexedHashes(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, hashes, "page02.md")
	assert.Len(t, hashes, 3)
}

// flakyFetcher overrides Fetch results for chosen paths.
type flakyFetcher struct {
	Fetcher
	errs map[string]error
}

func (f *flakyFetcher) Fetch(ctx context.Context, path string) (fetch.SourceDocument, error) {
	if err, ok := f.errs[path]; ok {
		return fetch.SourceDocument{}, err
	}
	return f.Fetcher.Fetch(ctx, path)
}

func TestIndexer_FetchFailureIsIsolated(t *testing.T) {
	h := newHarness(t, 3)
	ff := &flakyFetcher{Fetcher: h.fetcher, errs: map[string]error{
		"page01.md": errors.Network("connection reset", nil),
	}}

	sum := h.run(h.indexer(func(d *Dependencies) { d.Fetcher = ff }), Options{})

	assert.Equal(t, 2, sum.New)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "page01.md", sum.Failed[0].DocPath)
	assert.Empty(t, h.store.DocumentEntries("page01.md"))
}

func TestIndexer_NotFoundDuringFetchDeletes(t *testing.T) {
	// Given an indexed document that changes, then vanishes before fetch
	h := newHarness(t, 2)
	h.run(h.indexer(), Options{})
	h.write("page00.md", pageContent(0, "revised"))
	ff := &flakyFetcher{Fetcher: h.fetcher, errs: map[string]error{
		"page00.md": errors.NotFound("page00.md", nil),
	}}

	// When reindexing
	sum := h.run(h.indexer(func(d *Dependencies) { d.Fetcher = ff }), Options{})

	// Then it is treated as deleted
	assert.Equal(t, 1, sum.Deleted)
	assert.Empty(t, sum.Failed)
	assert.Empty(t, h.store.DocumentEntries("page00.md"))
}

// downVectorizer reports the embedding backend as unavailable.
type downVectorizer struct{}

func (downVectorizer) Vectors(context.Context, []embed.Item) ([][]float32, error) {
	return nil, errors.EmbedUnavailable("ollama unreachable", nil)
}

func (downVectorizer) ModelID() string { return "nomic-embed-text" }

func TestIndexer_EmbedUnavailableStoresDegradedEntries(t *testing.T) {
	// Given an embedding backend that is down
	h := newHarness(t, 3)

	// When indexing
	sum := h.run(h.indexer(func(d *Dependencies) { d.Vectorizer = downVectorizer{} }), Options{})

	// Then documents are stored without vectors and reported degraded
	assert.Equal(t, 3, sum.New)
	assert.Len(t, sum.DegradedEvents, 3)
	for _, ev := range sum.DegradedEvents {
		assert.Equal(t, StageEmbedding, ev.Stage)
	}
	entries := h.store.DocumentEntries("page00.md")
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.True(t, e.Degraded())
	}

	// When the backend is back
	again := h.run(h.indexer(), Options{})

	// Then degraded documents are embedded on the next run
	assert.Equal(t, 3, again.Changed)
	assert.Zero(t, h.store.Stats().Degraded)
}

func TestIndexer_LockPreventsConcurrentRuns(t *testing.T) {
	h := newHarness(t, 1)
	held := NewRunLock(h.dataDir)
	require.NoError(t, held.TryLock())
	t.Cleanup(func() { _ = held.Unlock() })

	_, err := h.indexer().Run(context.Background(), Options{})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIndexLocked, errors.GetCode(err))
}

func TestIndexer_CancellationStopsBetweenDocuments(t *testing.T) {
	// Given a run that is canceled once the first document is done
	h := newHarness(t, 6)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ix := h.indexer(func(d *Dependencies) {
		d.Workers = 1
		d.Progress = func(p Progress) {
			if p.Current == 1 && p.DocPath != "" {
				cancel()
			}
		}
	})

	// When running
	sum, err := ix.Run(ctx, Options{})

	// Then the run stops and the store holds only whole documents
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, sum.Canceled)
	assert.Equal(t, 1, sum.New)
	hashes, herr := h.store.IndexedHashes(context.Background())
	require.NoError(t, herr)
	assert.Len(t, hashes, 1)
	for p := range hashes {
		assert.NotEmpty(t, h.store.DocumentEntries(p))
	}
}

func TestIndexer_ReportsProgress(t *testing.T) {
	h := newHarness(t, 3)
	var mu sync.Mutex
	var events []Progress
	ix := h.indexer(func(d *Dependencies) {
		d.Progress = func(p Progress) {
			mu.Lock()
			events = append(events, p)
			mu.Unlock()
		}
	})

	sum := h.run(ix, Options{})

	require.NotEmpty(t, events)
	assert.Equal(t, StageListing, events[0].Stage)
	last := events[len(events)-1]
	assert.Equal(t, StageComplete, last.Stage)
	assert.Equal(t, 3, last.Current)
	assert.Equal(t, 3, last.Total)
	for _, ev := range events {
		assert.Equal(t, sum.RunID, ev.RunID)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
}
