// Package index runs the indexing pipeline: list, diff against the stored
// hashes, then fetch, parse, chunk, embed and store every new or changed
// document while deleting the ones that disappeared.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/fetch"
	"github.com/Aman-CERP/docsearch/internal/parse"
	"github.com/Aman-CERP/docsearch/internal/store"
)

// Fetcher lists and retrieves source documents.
type Fetcher interface {
	List(ctx context.Context) ([]fetch.Listing, error)
	Fetch(ctx context.Context, path string) (fetch.SourceDocument, error)
}

// Vectorizer turns chunk texts into document vectors.
type Vectorizer interface {
	Vectors(ctx context.Context, items []embed.Item) ([][]float32, error)
	ModelID() string
}

// Store is the persistence the indexer writes to.
type Store interface {
	IndexedHashes(ctx context.Context) (map[string]string, error)
	ReplaceDocument(ctx context.Context, docPath, hash string, entries []store.Entry) error
	DeleteByDocPath(ctx context.Context, docPath string) error
}

// Dependencies are the collaborators of an Indexer.
type Dependencies struct {
	Fetcher    Fetcher
	Parser     *parse.Parser
	Chunker    *chunk.Chunker
	Vectorizer Vectorizer
	Store      Store

	// DataDir holds the run lock. Empty disables locking.
	DataDir string
	// Workers bounds concurrent documents. Zero uses NumCPU.
	Workers  int
	Logger   *slog.Logger
	Progress ProgressFunc
}

// Options configures one run.
type Options struct {
	// Force reprocesses documents whose hash did not change.
	Force bool
}

// DegradedEvent records a document indexed with reduced fidelity.
type DegradedEvent struct {
	DocPath string `json:"doc_path"`
	// Stage is "chunking" or "embedding".
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// DocFailure records a document that could not be indexed this run.
type DocFailure struct {
	DocPath string `json:"doc_path"`
	Error   string `json:"error"`
}

// Summary reports one run. Skipped documents had no usable chunking
// strategy; Failed documents hit a fetch or store error.
type Summary struct {
	RunID          string          `json:"run_id"`
	New            int             `json:"new"`
	Changed        int             `json:"changed"`
	Unchanged      int             `json:"unchanged"`
	Deleted        int             `json:"deleted"`
	Failed         []DocFailure    `json:"failed,omitempty"`
	Skipped        []DocFailure    `json:"skipped,omitempty"`
	DegradedEvents []DegradedEvent `json:"degraded_events,omitempty"`
	Chunks         int             `json:"chunks"`
	Duration       time.Duration   `json:"duration"`
	Canceled       bool            `json:"canceled"`
}

// Indexer executes index runs. Runs on one Indexer are serialized by the
// data directory lock.
type Indexer struct {
	fetcher    Fetcher
	parser     *parse.Parser
	chunker    *chunk.Chunker
	vectorizer Vectorizer
	store      Store
	dataDir    string
	workers    int
	logger     *slog.Logger
	progress   ProgressFunc
}

// New creates an Indexer.
func New(deps Dependencies) (*Indexer, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if deps.Vectorizer == nil {
		return nil, fmt.Errorf("vectorizer is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parser := deps.Parser
	if parser == nil {
		parser = parse.NewParser().WithLogger(logger)
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Indexer{
		fetcher:    deps.Fetcher,
		parser:     parser,
		chunker:    deps.Chunker,
		vectorizer: deps.Vectorizer,
		store:      deps.Store,
		dataDir:    deps.DataDir,
		workers:    workers,
		logger:     logger,
		progress:   deps.Progress,
	}, nil
}

// run is the mutable state of one Run.
type run struct {
	id     string
	logger *slog.Logger

	mu      sync.Mutex
	summary Summary
	done    int
	total   int
}

// Run indexes the current source listing. On cancellation it stops
// scheduling documents, lets in-flight store writes finish and returns the
// partial summary together with the context error.
func (ix *Indexer) Run(ctx context.Context, opts Options) (Summary, error) {
	start := time.Now()

	if ix.dataDir != "" {
		lock := NewRunLock(ix.dataDir)
		if err := lock.TryLock(); err != nil {
			return Summary{}, err
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				ix.logger.Warn("index_unlock_failed", slog.String("error", err.Error()))
			}
		}()
	}

	r := &run{id: uuid.NewString()}
	r.logger = ix.logger.With(slog.String("run_id", r.id))
	r.summary.RunID = r.id
	r.logger.Info("index_run_started", slog.Bool("force", opts.Force))

	ix.emit(r, Progress{Stage: StageListing})
	listing, err := ix.fetcher.List(ctx)
	if err != nil {
		return r.finish(start), fmt.Errorf("list documents: %w", err)
	}
	stored, err := ix.store.IndexedHashes(ctx)
	if err != nil {
		return r.finish(start), err
	}

	p := classify(listing, stored, opts.Force)
	r.summary.Unchanged = p.unchanged
	r.total = len(p.work) + len(p.deleted)
	r.logger.Info("index_plan",
		slog.Int("listed", len(listing)),
		slog.Int("work", len(p.work)),
		slog.Int("unchanged", p.unchanged),
		slog.Int("deleted", len(p.deleted)))

	for _, path := range p.deleted {
		if ctx.Err() != nil {
			break
		}
		ix.delete(ctx, r, path, true)
	}

	g := errgroup.Group{}
	g.SetLimit(ix.workers)
	for _, t := range p.work {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ix.process(ctx, r, t)
			return nil
		})
	}
	_ = g.Wait()

	summary := r.finish(start)
	if err := ctx.Err(); err != nil {
		summary.Canceled = true
		r.logger.Warn("index_run_canceled", slog.Duration("duration", summary.Duration))
		return summary, err
	}

	ix.emit(r, Progress{Stage: StageComplete, Current: r.total, Total: r.total})
	r.logger.Info("index_run_complete",
		slog.Int("new", summary.New),
		slog.Int("changed", summary.Changed),
		slog.Int("unchanged", summary.Unchanged),
		slog.Int("deleted", summary.Deleted),
		slog.Int("failed", len(summary.Failed)),
		slog.Int("skipped", len(summary.Skipped)),
		slog.Int("degraded", len(summary.DegradedEvents)),
		slog.Int("chunks", summary.Chunks),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

// process takes one NEW or CHANGED document through the pipeline.
func (ix *Indexer) process(ctx context.Context, r *run, t task) {
	path := t.listing.Path
	if ctx.Err() != nil {
		return
	}

	ix.emit(r, Progress{Stage: StageFetching, DocPath: path, State: t.state})
	doc, err := ix.fetcher.Fetch(ctx, path)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.GetCode(err) == errors.ErrCodeFetchNotFound:
			// Gone between listing and fetch.
			ix.delete(ctx, r, path, t.state == StateChanged)
		default:
			ix.fail(r, path, err)
		}
		return
	}

	ix.emit(r, Progress{Stage: StageChunking, DocPath: path, State: t.state})
	parsed := ix.parser.Parse(doc.Content)
	if parsed.Malformed > 0 {
		r.logger.Warn("document_malformed",
			slog.String("doc_path", path),
			slog.Int("spans", parsed.Malformed))
	}
	res, err := ix.chunker.Chunk(ctx, path, parsed.Nodes, chunk.ClassifyPath(path))
	for _, ev := range res.Degraded {
		r.degraded(DegradedEvent{
			DocPath: path,
			Stage:   StageChunking,
			Reason:  fmt.Sprintf("%s -> %s: %s", ev.From, ev.To, ev.Reason),
		})
	}
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case chunk.IsStrategyUnavailable(err):
			r.skip(path, err)
			r.logger.Warn("document_skipped", slog.String("doc_path", path), slog.String("error", err.Error()))
			ix.advance(r, path, t.state, err)
		default:
			ix.fail(r, path, err)
		}
		return
	}

	ix.emit(r, Progress{Stage: StageEmbedding, DocPath: path, State: t.state})
	items := make([]embed.Item, len(res.Chunks))
	for i, c := range res.Chunks {
		items[i] = embed.Item{ChunkID: c.ID, Text: chunk.EmbeddingText(c)}
	}
	hash := doc.Hash
	vectors, err := ix.vectorizer.Vectors(ctx, items)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.GetCode(err) != errors.ErrCodeEmbedUnavailable {
			ix.fail(r, path, err)
			return
		}
		// Store without vectors. An empty hash makes the next run retry.
		vectors = nil
		hash = ""
		r.degraded(DegradedEvent{DocPath: path, Stage: StageEmbedding, Reason: err.Error()})
		r.logger.Warn("embed_degraded", slog.String("doc_path", path), slog.String("error", err.Error()))
	}

	entries := make([]store.Entry, len(res.Chunks))
	for i, c := range res.Chunks {
		entries[i] = store.Entry{Chunk: c}
		if vectors != nil {
			entries[i].Vector = vectors[i]
			entries[i].ModelID = ix.vectorizer.ModelID()
		}
	}

	ix.emit(r, Progress{Stage: StageStoring, DocPath: path, State: t.state})
	// A started replace always commits, even if the run is canceled meanwhile.
	if err := ix.store.ReplaceDocument(context.WithoutCancel(ctx), path, hash, entries); err != nil {
		ix.fail(r, path, err)
		return
	}

	r.mu.Lock()
	if t.state == StateNew {
		r.summary.New++
	} else {
		r.summary.Changed++
	}
	r.summary.Chunks += len(entries)
	r.mu.Unlock()

	r.logger.Debug("document_indexed",
		slog.String("doc_path", path),
		slog.String("state", string(t.state)),
		slog.String("strategy", string(res.Strategy)),
		slog.Int("chunks", len(entries)))
	ix.advance(r, path, t.state, nil)
}

// delete removes a document's entries. counted is false for documents that
// were never stored.
func (ix *Indexer) delete(ctx context.Context, r *run, path string, counted bool) {
	if err := ix.store.DeleteByDocPath(context.WithoutCancel(ctx), path); err != nil {
		ix.fail(r, path, err)
		return
	}
	if counted {
		r.mu.Lock()
		r.summary.Deleted++
		r.mu.Unlock()
	}
	r.logger.Info("document_deleted", slog.String("doc_path", path))
	ix.advance(r, path, StateDeleted, nil)
}

func (ix *Indexer) fail(r *run, path string, err error) {
	r.mu.Lock()
	r.summary.Failed = append(r.summary.Failed, DocFailure{DocPath: path, Error: err.Error()})
	r.mu.Unlock()
	r.logger.Warn("document_failed", slog.String("doc_path", path), slog.String("error", err.Error()))
	ix.advance(r, path, "", err)
}

// advance marks one document done and reports it.
func (ix *Indexer) advance(r *run, path string, state DocState, err error) {
	r.mu.Lock()
	r.done++
	p := Progress{Stage: StageStoring, Current: r.done, Total: r.total, DocPath: path, State: state, Err: err}
	r.mu.Unlock()
	ix.emit(r, p)
}

// emit stamps the run id and current counts and calls the progress hook.
func (ix *Indexer) emit(r *run, p Progress) {
	if ix.progress == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p.RunID = r.id
	if p.Total == 0 {
		p.Current, p.Total = r.done, r.total
	}
	ix.progress(p)
}

func (r *run) degraded(ev DegradedEvent) {
	r.mu.Lock()
	r.summary.DegradedEvents = append(r.summary.DegradedEvents, ev)
	r.mu.Unlock()
}

func (r *run) skip(path string, err error) {
	r.mu.Lock()
	r.summary.Skipped = append(r.summary.Skipped, DocFailure{DocPath: path, Error: err.Error()})
	r.mu.Unlock()
}

func (r *run) finish(start time.Time) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Duration = time.Since(start)
	return r.summary
}
