// Package parse turns markdown documents into an ordered sequence of
// structural nodes, each carrying the heading path active at that point.
package parse

import "strings"

// Kind tags a structural node.
type Kind int

const (
	KindHeading Kind = iota + 1
	KindParagraph
	KindCodeBlock
	KindListItem
)

// String returns the kind name used in logs and payloads.
func (k Kind) String() string {
	switch k {
	case KindHeading:
		return "heading"
	case KindParagraph:
		return "paragraph"
	case KindCodeBlock:
		return "code"
	case KindListItem:
		return "list_item"
	default:
		return "unknown"
	}
}

// Node is one structural element of a document.
type Node struct {
	Kind Kind
	// Level is the heading level (1-6); zero for other kinds.
	Level int
	// Language is the fenced code info string; empty for prose and indented code.
	Language string
	Text     string
	// HierarchyPath lists enclosing heading texts, outermost first.
	// For a heading it ends with the heading itself.
	HierarchyPath []string
}

// IsProse reports whether the node contributes to prose chunks.
func (n Node) IsProse() bool {
	return n.Kind == KindParagraph || n.Kind == KindListItem
}

// Breadcrumb joins the hierarchy path with " > ".
func Breadcrumb(path []string) string {
	return strings.Join(path, " > ")
}

// hierarchy tracks the heading path while walking a document.
type hierarchy struct {
	path []string
}

// enter records a heading of the given level. The path never grows longer
// than level: deeper or equal entries are truncated before appending.
func (h *hierarchy) enter(level int, text string) []string {
	keep := level - 1
	if keep > len(h.path) {
		keep = len(h.path)
	}
	if keep < 0 {
		keep = 0
	}
	next := make([]string, keep, keep+1)
	copy(next, h.path[:keep])
	h.path = append(next, text)
	return h.current()
}

// current returns a copy that later headings cannot mutate.
func (h *hierarchy) current() []string {
	if len(h.path) == 0 {
		return nil
	}
	out := make([]string, len(h.path))
	copy(out, h.path)
	return out
}
