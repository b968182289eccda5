// Package ui renders index-run progress and index status in the terminal.
//
// Interactive terminals get a bubbletea view; pipes, CI and --plain get one
// line per event.
package ui

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a step of an index run.
type Stage int

const (
	StageListing Stage = iota
	StageFetching
	StageChunking
	StageEmbedding
	StageStoring
	StageComplete
)

// pipeline lists the stages shown in the stage bar, in order.
var pipeline = []Stage{StageListing, StageFetching, StageChunking, StageEmbedding, StageStoring}

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageListing:
		return "Listing"
	case StageFetching:
		return "Fetching"
	case StageChunking:
		return "Chunking"
	case StageEmbedding:
		return "Embedding"
	case StageStoring:
		return "Storing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short tag used in plain output.
func (s Stage) Icon() string {
	switch s {
	case StageListing:
		return "LIST"
	case StageFetching:
		return "FETCH"
	case StageChunking:
		return "CHUNK"
	case StageEmbedding:
		return "EMBED"
	case StageStoring:
		return "STORE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ParseStage maps a lower-case stage name ("listing", "fetching", ...) to a
// Stage. Unknown names map to StageListing.
func ParseStage(name string) Stage {
	for s := StageListing; s <= StageComplete; s++ {
		if strings.ToLower(s.String()) == name {
			return s
		}
	}
	return StageListing
}

// ProgressEvent is one progress update. Current and Total count documents.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	DocPath string
	Message string
}

// ErrorEvent is a per-document problem.
type ErrorEvent struct {
	DocPath string
	Err     error
	IsWarn  bool
}

// CompletionStats summarizes a finished run.
type CompletionStats struct {
	Source    string
	New       int
	Changed   int
	Unchanged int
	Deleted   int
	Failed    int
	Skipped   int
	Degraded  int
	Chunks    int
	Duration  time.Duration
	Canceled  bool
	Model     string
}

// Renderer displays progress for one run.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Source is shown in the TUI header, e.g. "github:Textualize/textual@main".
	Source string
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithSource sets the source name for the header.
func WithSource(source string) ConfigOption {
	return func(c *Config) {
		c.Source = source
	}
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the TUI renderer for interactive terminals and the
// plain renderer everywhere else.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// DetectCI reports whether a CI environment variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}
