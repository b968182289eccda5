// Package output formats command results for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/search"
)

// Format selects how results are printed.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text or json)", s)
	}
}

// maxSnippetLines caps the text shown per result.
const maxSnippetLines = 12

// Writer provides formatted output for the CLI.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// JSON prints v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Results prints a search response in the given format.
func (w *Writer) Results(query string, resp search.Response, format Format) error {
	if format == FormatJSON {
		return w.JSON(resp)
	}

	if resp.Degraded {
		w.Warningf("Embedder unavailable, showing keyword matches (%s)", resp.DegradedReason)
		w.Newline()
	}
	if len(resp.Results) == 0 {
		w.Statusf("🔍", "No results for %q", query)
		return nil
	}
	for i, r := range resp.Results {
		w.result(i+1, r)
	}
	return nil
}

func (w *Writer) result(n int, r search.Result) {
	header := fmt.Sprintf("%d. %s", n, r.DocPath)
	if r.Breadcrumb != "" {
		header += " › " + r.Breadcrumb
	}
	tag := fmt.Sprintf("[%s %.2f]", r.ContentType, r.Score)
	if r.Degraded {
		tag = fmt.Sprintf("[%s keyword]", r.ContentType)
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", header, tag)
	w.code(snippet(r.Text, maxSnippetLines))
}

// code prints content indented, framed by blank lines.
func (w *Writer) code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// snippet keeps the first n lines of text, marking the cut.
func snippet(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n… (%d more lines)", len(lines)-n)
}
