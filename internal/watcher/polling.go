package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by rescanning the tree on an interval.
type PollingWatcher struct {
	interval time.Duration
	accept   func(rel string) bool
	state    map[string]fileSnapshot
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	mu       sync.Mutex
	stopped  bool
	root     string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a poller. accept selects relative file paths;
// nil accepts every file.
func NewPollingWatcher(interval time.Duration, accept func(rel string) bool) *PollingWatcher {
	if accept == nil {
		accept = func(string) bool { return true }
	}
	return &PollingWatcher{
		interval: interval,
		accept:   accept,
		state:    make(map[string]fileSnapshot),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start records a baseline of root and then polls until ctx is canceled or
// Stop is called.
func (p *PollingWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.root = abs

	baseline, err := p.snapshot()
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	p.mu.Lock()
	p.state = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.poll(); err != nil {
				p.reportError(err)
			}
		}
	}
}

// snapshot walks the tree and records the selected files.
func (p *PollingWatcher) snapshot() (map[string]fileSnapshot, error) {
	out := make(map[string]fileSnapshot)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if hidden(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.accept(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out[rel] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return out, err
}

// poll diffs a fresh snapshot against the previous one.
func (p *PollingWatcher) poll() error {
	current, err := p.snapshot()
	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for rel, snap := range current {
		prev, ok := p.state[rel]
		switch {
		case !ok:
			p.emit(FileEvent{Path: rel, Operation: OpCreate, Timestamp: now})
		case prev != snap:
			p.emit(FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel := range p.state {
		if _, ok := current[rel]; !ok {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, Timestamp: now})
		}
	}
	p.state = current
	return nil
}

// emit requires p.mu.
func (p *PollingWatcher) emit(ev FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- ev:
	default:
		slog.Warn("poll_event_dropped",
			slog.String("path", ev.Path),
			slog.String("op", ev.Operation.String()))
	}
}

func (p *PollingWatcher) reportError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	select {
	case p.errors <- err:
	default:
	}
}

// Stop closes the channels. Safe to call more than once.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns single file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns scan errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}
