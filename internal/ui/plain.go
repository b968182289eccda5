package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for pipes and CI.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := ev.Message
	if msg == "" {
		msg = ev.DocPath
	}
	switch {
	case ev.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", ev.Stage.Icon(), ev.Current, ev.Total, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", ev.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(ev ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if ev.IsWarn {
		prefix = "WARN"
	}
	if ev.DocPath != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, ev.DocPath, ev.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, ev.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(s CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := "Complete"
	if s.Canceled {
		status = "Canceled"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %d new, %d changed, %d unchanged, %d deleted (%d chunks) in %s\n",
		status, s.New, s.Changed, s.Unchanged, s.Deleted, s.Chunks, s.Duration.Round(100*time.Millisecond))
	if s.Failed > 0 || s.Skipped > 0 || s.Degraded > 0 {
		_, _ = fmt.Fprintf(r.out, "  %d failed, %d skipped, %d degraded\n", s.Failed, s.Skipped, s.Degraded)
	}
	if s.Model != "" {
		_, _ = fmt.Fprintf(r.out, "  Model: %s\n", s.Model)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
