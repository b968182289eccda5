// Package store persists index entries and serves vector and lexical search
// over them.
//
// Entries live in SQLite (index.db, WAL mode). Reads never touch the
// database: every write builds a new immutable generation in memory and
// publishes it with a single atomic pointer swap, so a search sees either
// all of a document's old entries or all of its new ones.
package store

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/pathglob"
)

const (
	// DBFileName is the index database inside the data directory.
	DBFileName = "index.db"

	// DefaultANNThreshold is the vector count at which a generation gets an
	// HNSW graph instead of an exact scan.
	DefaultANNThreshold = 2048

	// CurrentSchemaVersion is the index.db schema version.
	CurrentSchemaVersion = 1
)

// Entry is one indexed chunk. A nil Vector marks a degraded entry that is
// only reachable through the lexical index.
type Entry struct {
	Chunk   chunk.Chunk
	ModelID string
	Vector  []float32
}

// ID returns the chunk id.
func (e Entry) ID() string {
	return e.Chunk.ID
}

// Degraded reports whether the entry has no vector.
func (e Entry) Degraded() bool {
	return e.Vector == nil
}

// Hit is one search result. Score is cosine similarity for vector hits and a
// normalized BM25 score in (0, 1] for lexical hits.
type Hit struct {
	Entry
	Score float32
}

// Filter restricts search results. Zero values match everything.
type Filter struct {
	ContentTypes []chunk.ContentType
	PathPrefix   string
	// PathPattern is a glob matched against DocPath, e.g. "docs/widgets/*.md".
	PathPattern string
	Language    string
	// ModelID, when set, excludes vectors produced by another model.
	ModelID string
}

// Validate checks the path pattern.
func (f Filter) Validate() error {
	if f.PathPattern == "" {
		return nil
	}
	if _, err := pathglob.Compile(f.PathPattern); err != nil {
		return fmt.Errorf("invalid path pattern: %w", err)
	}
	return nil
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return len(f.ContentTypes) == 0 && f.PathPrefix == "" && f.PathPattern == "" && f.Language == "" && f.ModelID == ""
}

// matcher is a Filter with its glob compiled once per search.
type matcher struct {
	f       Filter
	pattern *pathglob.Pattern
}

func (f Filter) compile() (matcher, error) {
	m := matcher{f: f}
	if f.PathPattern != "" {
		p, err := pathglob.Compile(f.PathPattern)
		if err != nil {
			return matcher{}, fmt.Errorf("invalid path pattern: %w", err)
		}
		m.pattern = p
	}
	return m, nil
}

// match applies every field except ModelID, which only concerns vectors.
func (m matcher) match(e *Entry) bool {
	c := &e.Chunk
	if len(m.f.ContentTypes) > 0 {
		found := false
		for _, ct := range m.f.ContentTypes {
			if c.ContentType == ct {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if m.f.PathPrefix != "" && !strings.HasPrefix(c.DocPath, m.f.PathPrefix) {
		return false
	}
	if m.pattern != nil && !m.pattern.Match(c.DocPath) {
		return false
	}
	if m.f.Language != "" && !strings.EqualFold(c.Language, m.f.Language) {
		return false
	}
	return true
}

func (m matcher) matchVector(e *Entry) bool {
	if e.Vector == nil {
		return false
	}
	if m.f.ModelID != "" && e.ModelID != m.f.ModelID {
		return false
	}
	return m.match(e)
}

// Stats describes the current generation.
type Stats struct {
	Path           string
	Generation     uint64
	Documents      int
	Chunks         int
	Degraded       int
	Models         []string
	ANN            bool
	LexicalBackend string
}
