package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/docsearch/internal/pathglob"
)

// Operation is a file system change.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a document. Path is slash-separated and
// relative to the watched root.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a DirWatcher.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	DebounceWindow time.Duration
	// PollInterval is used when fsnotify is unavailable.
	PollInterval time.Duration
	// EventBufferSize is the number of batches buffered for the consumer.
	EventBufferSize int
	// Include and Exclude select documents, as for fetch.DirSource.
	Include []string
	Exclude []string
	// ForcePolling skips fsnotify.
	ForcePolling bool
	Logger       *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 64,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DirWatcher watches a directory tree for document changes.
type DirWatcher struct {
	opts      Options
	filter    *pathglob.Set
	debouncer *Debouncer
	fsWatcher *fsnotify.Watcher
	poller    *PollingWatcher
	logger    *slog.Logger

	events  chan []FileEvent
	errors  chan error
	stopCh  chan struct{}
	root    string
	mu      sync.RWMutex
	stopped bool
	dropped atomic.Uint64
}

// New creates a watcher. It uses fsnotify when the platform supports it and
// polling otherwise.
func New(opts Options) (*DirWatcher, error) {
	opts = opts.WithDefaults()
	filter, err := pathglob.NewSet(opts.Include, opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid watch glob: %w", err)
	}

	w := &DirWatcher{
		opts:      opts,
		filter:    filter,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.Logger),
		logger:    opts.Logger,
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	if !opts.ForcePolling {
		if fsw, err := fsnotify.NewWatcher(); err == nil {
			w.fsWatcher = fsw
		} else {
			w.logger.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		}
	}
	if w.fsWatcher == nil {
		w.poller = NewPollingWatcher(opts.PollInterval, w.accept)
	}
	return w, nil
}

// Start watches root until ctx is canceled or Stop is called.
func (w *DirWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root is not a directory: %s", abs)
	}
	w.mu.Lock()
	w.root = abs
	w.mu.Unlock()

	go w.forward(ctx)

	w.logger.Info("watch_started",
		slog.String("root", abs),
		slog.String("mode", w.Mode()))
	if w.fsWatcher != nil {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

func (w *DirWatcher) runFsnotify(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *DirWatcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case ev, ok := <-w.poller.Events():
				if !ok {
					return
				}
				w.debouncer.Add(ev)
			case err, ok := <-w.poller.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()
	err := w.poller.Start(ctx, w.root)
	if ctx.Err() != nil {
		_ = w.Stop()
	}
	return err
}

// handle converts an fsnotify event. New directories are added to the
// watch list; events on unselected files are dropped.
func (w *DirWatcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if isDir {
		if ev.Op&fsnotify.Create != 0 && !hidden(rel) {
			if err := w.addRecursive(ev.Name); err != nil {
				w.emitError(err)
			}
		}
		return
	}
	if !w.accept(rel) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: rel, Operation: op, Timestamp: time.Now()})
}

// accept reports whether a relative file path is a selected document.
func (w *DirWatcher) accept(rel string) bool {
	if rel == "." || rel == "" || hidden(rel) {
		return false
	}
	return w.filter.Match(rel)
}

// hidden reports whether any segment of a slash path starts with a dot.
func hidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}

func (w *DirWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("watch_skip_dir", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		if rel != "." && hidden(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *DirWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) > 0 {
				w.emitEvents(batch)
			}
		}
	}
}

func (w *DirWatcher) emitEvents(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("watch_batch_dropped",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped", n))
	}
}

func (w *DirWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Stop releases resources and closes the channels. Safe to call more than
// once.
func (w *DirWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	if w.poller != nil {
		_ = w.poller.Stop()
	}
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns debounced batches. Closed by Stop.
func (w *DirWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watch errors. Closed by Stop.
func (w *DirWatcher) Errors() <-chan error {
	return w.errors
}

// Mode returns "fsnotify" or "polling".
func (w *DirWatcher) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// DroppedBatches counts batches lost to a full buffer.
func (w *DirWatcher) DroppedBatches() uint64 {
	return w.dropped.Load()
}
