package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, opts Options) (*DirWatcher, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs", "guide"), 0o755))

	opts.DebounceWindow = 50 * time.Millisecond
	w, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	go func() { _ = w.Start(ctx, root) }()
	// let the watch list settle
	time.Sleep(100 * time.Millisecond)
	return w, root
}

// collect gathers events until one for path arrives or the timeout passes.
func collect(t *testing.T, w *DirWatcher, path string, timeout time.Duration) []FileEvent {
	t.Helper()
	var got []FileEvent
	deadline := time.After(timeout)
	for {
		select {
		case batch, ok := <-w.Events():
			if !ok {
				return got
			}
			got = append(got, batch...)
			for _, ev := range batch {
				if ev.Path == path {
					return got
				}
			}
		case <-deadline:
			return got
		}
	}
}

func TestDirWatcher_DetectsSelectedDocuments(t *testing.T) {
	// Given a watcher selecting markdown files
	w, root := startWatcher(t, Options{Include: []string{"**/*.md"}})
	assert.Equal(t, "fsnotify", w.Mode())

	// When a markdown file and an unrelated file are written
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "guide", "app.md"), []byte("# App"), 0o644))

	// Then only the document is reported, with a slash path
	events := collect(t, w, "docs/guide/app.md", 3*time.Second)
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.NotEqual(t, "docs/notes.txt", ev.Path)
	}
	assert.Equal(t, "docs/guide/app.md", events[len(events)-1].Path)
}

func TestDirWatcher_WatchesNewDirectories(t *testing.T) {
	w, root := startWatcher(t, Options{})

	dir := filepath.Join(root, "docs", "widgets")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "button.md"), []byte("# Button"), 0o644))

	events := collect(t, w, "docs/widgets/button.md", 3*time.Second)
	require.NotEmpty(t, events)
	assert.Equal(t, "docs/widgets/button.md", events[len(events)-1].Path)
}

func TestDirWatcher_IgnoresHiddenDirectories(t *testing.T) {
	// Given a hidden directory in the root
	w, root := startWatcher(t, Options{})
	hiddenDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(hiddenDir, 0o755))

	// When files change inside it and in a normal directory
	require.NoError(t, os.WriteFile(filepath.Join(hiddenDir, "HEAD.md"), []byte("ref"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.md"), []byte("# A"), 0o644))

	// Then only the normal file is reported
	events := collect(t, w, "docs/a.md", 3*time.Second)
	for _, ev := range events {
		assert.NotContains(t, ev.Path, ".git")
	}
}

func TestDirWatcher_Polling(t *testing.T) {
	// Given a polling watcher
	w, root := startWatcher(t, Options{ForcePolling: true, PollInterval: 50 * time.Millisecond})
	assert.Equal(t, "polling", w.Mode())

	// When a document is created
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "b.md"), []byte("# B"), 0o644))

	// Then it is reported as created
	events := collect(t, w, "docs/b.md", 3*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "docs/b.md", last.Path)
	assert.Equal(t, OpCreate, last.Operation)
}

func TestDirWatcher_StartErrors(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNew_InvalidGlob(t *testing.T) {
	_, err := New(Options{Include: []string{" "}})
	assert.Error(t, err)
}

func TestDirWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
	_, ok = <-w.Errors()
	assert.False(t, ok)
}

func TestPollingWatcher_DetectsModifyAndDelete(t *testing.T) {
	// Given a poller over a directory with one document
	root := t.TempDir()
	path := filepath.Join(root, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))
	p := NewPollingWatcher(time.Hour, func(rel string) bool { return filepath.Ext(rel) == ".md" })
	p.root = root
	base, err := p.snapshot()
	require.NoError(t, err)
	p.state = base

	// When the document grows and a second one appears
	require.NoError(t, os.WriteFile(path, []byte("one two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, p.poll())

	// Then a modify is emitted and the unselected file is ignored
	ev := <-p.Events()
	assert.Equal(t, FileEvent{Path: "a.md", Operation: OpModify, Timestamp: ev.Timestamp}, ev)
	assert.Len(t, p.Events(), 0)

	// When it is removed
	require.NoError(t, os.Remove(path))
	require.NoError(t, p.poll())

	// Then a delete is emitted
	ev = <-p.Events()
	assert.Equal(t, OpDelete, ev.Operation)
	require.NoError(t, p.Stop())
}
