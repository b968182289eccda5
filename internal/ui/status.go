package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// StatusInfo describes the index for `docsearch status`.
type StatusInfo struct {
	Source         string    `json:"source"`
	IndexPath      string    `json:"index_path"`
	IndexSize      int64     `json:"index_size"`
	Documents      int       `json:"documents"`
	Chunks         int       `json:"chunks"`
	Degraded       int       `json:"degraded"`
	Models         []string  `json:"models"`
	LexicalBackend string    `json:"lexical_backend"`
	ANN            bool      `json:"ann"`
	LastIndexed    time.Time `json:"last_indexed,omitzero"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model"`
	// EmbedderStatus is "ready", "offline" or "error".
	EmbedderStatus string `json:"embedder_status"`

	Queries *QueryInfo `json:"queries,omitempty"`
}

// QueryInfo summarizes recorded searches.
type QueryInfo struct {
	Total       int64    `json:"total"`
	Keyword     int64    `json:"keyword"`
	ZeroResults int64    `json:"zero_results"`
	TopTerms    []string `json:"top_terms,omitempty"`
}

// StatusRenderer prints StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render prints info as text.
func (r *StatusRenderer) Render(info StatusInfo) error {
	w := &errWriter{w: r.out}
	w.printf("%s\n\n", r.styles.Header.Render("Index: "+info.Source))
	w.printf("  Documents:    %d\n", info.Documents)
	w.printf("  Chunks:       %d\n", info.Chunks)
	if info.Degraded > 0 {
		w.printf("  Degraded:     %s\n", r.styles.Warning.Render(fmt.Sprintf("%d chunks without vectors", info.Degraded)))
	}
	if !info.LastIndexed.IsZero() {
		w.printf("  Last indexed: %s\n", formatAge(info.LastIndexed, time.Now()))
	}
	w.printf("\n  Storage:\n")
	w.printf("    Path:    %s\n", info.IndexPath)
	w.printf("    Size:    %s\n", FormatBytes(info.IndexSize))
	w.printf("    Lexical: %s\n", info.LexicalBackend)
	ann := "exact scan"
	if info.ANN {
		ann = "hnsw"
	}
	w.printf("    Vectors: %s\n", ann)
	if len(info.Models) > 0 {
		w.printf("    Models:  %s\n", strings.Join(info.Models, ", "))
	}
	w.printf("\n  Embedder:\n")
	w.printf("    Provider: %s\n", info.EmbedderProvider)
	w.printf("    Model:    %s\n", info.EmbedderModel)
	w.printf("    Status:   %s\n", r.renderStatus(info.EmbedderStatus))
	if q := info.Queries; q != nil && q.Total > 0 {
		w.printf("\n  Queries:\n")
		w.printf("    Total:     %d (%d keyword fallback, %d with no results)\n", q.Total, q.Keyword, q.ZeroResults)
		if len(q.TopTerms) > 0 {
			w.printf("    Top terms: %s\n", strings.Join(q.TopTerms, ", "))
		}
	}
	return w.err
}

// RenderJSON prints info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// formatAge renders t relative to now.
func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
