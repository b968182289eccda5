// Package chunk splits parsed documents into retrievable chunks.
//
// Each content type is bound to one strategy through a static table.
// When that strategy cannot run, the chunker falls back to the
// hierarchical strategy and then the windowed one, reporting every
// substitution as a DegradedEvent.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strconv"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/parse"
)

// ContentType classifies a document and selects its chunking strategy.
type ContentType string

const (
	ContentTypeCode      ContentType = "code"
	ContentTypeAPI       ContentType = "api"
	ContentTypeGuide     ContentType = "guide"
	ContentTypeReference ContentType = "reference"
	ContentTypeGeneric   ContentType = "generic"
)

// ContentTypes lists the closed set in display order.
var ContentTypes = []ContentType{
	ContentTypeCode, ContentTypeAPI, ContentTypeGuide, ContentTypeReference, ContentTypeGeneric,
}

// ParseContentType validates a content type name.
func ParseContentType(s string) (ContentType, bool) {
	for _, ct := range ContentTypes {
		if string(ct) == strings.ToLower(strings.TrimSpace(s)) {
			return ct, true
		}
	}
	return "", false
}

// ClassifyPath infers the content type from a documentation path.
func ClassifyPath(p string) ContentType {
	lower := "/" + strings.ToLower(strings.TrimPrefix(path.Clean(p), "/"))
	switch {
	case strings.Contains(lower, "/api/"), strings.Contains(lower, "/widgets/"):
		return ContentTypeAPI
	case strings.Contains(lower, "/guide/"):
		return ContentTypeGuide
	case strings.Contains(lower, "/examples/"), strings.Contains(path.Base(lower), "example"):
		return ContentTypeCode
	case strings.Contains(lower, "/css/"), strings.Contains(lower, "/styles/"), strings.Contains(lower, "/reference/"):
		return ContentTypeReference
	default:
		return ContentTypeGeneric
	}
}

// Strategy names a splitting strategy.
type Strategy string

const (
	StrategyAtomic       Strategy = "atomic"
	StrategyWindowed     Strategy = "windowed"
	StrategySemantic     Strategy = "semantic"
	StrategyHierarchical Strategy = "hierarchical"
)

// dispatch binds each content type to exactly one strategy.
var dispatch = map[ContentType]Strategy{
	ContentTypeCode:      StrategyAtomic,
	ContentTypeAPI:       StrategySemantic,
	ContentTypeGuide:     StrategyHierarchical,
	ContentTypeReference: StrategyHierarchical,
	ContentTypeGeneric:   StrategyWindowed,
}

// fallbackOrder is tried, in order, when the bound strategy fails.
var fallbackOrder = []Strategy{StrategyHierarchical, StrategyWindowed}

// StrategyFor returns the strategy bound to ct. Unknown types use windowed.
func StrategyFor(ct ContentType) Strategy {
	if s, ok := dispatch[ct]; ok {
		return s
	}
	return StrategyWindowed
}

// Chunk is a retrievable unit of text.
type Chunk struct {
	ID            string
	Text          string
	DocPath       string
	HierarchyPath []string
	Position      int
	ContentType   ContentType
	Language      string
	TokenCount    int
	// Atomic marks code-derived chunks, which are exempt from size merging.
	Atomic bool
}

// DegradedEvent records a strategy substitution.
type DegradedEvent struct {
	DocPath string   `json:"doc_path"`
	From    Strategy `json:"from"`
	To      Strategy `json:"to"`
	Reason  string   `json:"reason"`
}

// Result is the output of one Chunk call.
type Result struct {
	Chunks   []Chunk
	Strategy Strategy
	Degraded []DegradedEvent
}

// ID derives the chunk identity from (docPath, position, text).
func ID(docPath string, position int, text string) string {
	h := sha256.New()
	h.Write([]byte(docPath))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(position)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// CountTokens counts whitespace-delimited tokens, the unit for every size rule.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// EmbeddingText is the text sent to the embedder for a chunk: the heading
// breadcrumb, the source path and, for code, its language, ahead of the body.
func EmbeddingText(c Chunk) string {
	var sb strings.Builder
	if len(c.HierarchyPath) > 0 {
		sb.WriteString(parse.Breadcrumb(c.HierarchyPath))
		sb.WriteByte('\n')
	}
	sb.WriteString("File: ")
	sb.WriteString(c.DocPath)
	sb.WriteByte('\n')
	if c.Language != "" {
		sb.WriteString("Language: ")
		sb.WriteString(c.Language)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(c.Text)
	return sb.String()
}
