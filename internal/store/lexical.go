package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/parse"
)

// LexicalBackend names a lexical index implementation.
type LexicalBackend string

const (
	// LexicalSQLite uses an FTS5 table inside index.db (default). Its
	// updates share the write transaction of the chunk rows.
	LexicalSQLite LexicalBackend = "sqlite"

	// LexicalBleve uses a bleve index next to index.db. Updates are not
	// part of the SQLite transaction; they are applied after the commit,
	// in the same step that publishes the new generation.
	LexicalBleve LexicalBackend = "bleve"
)

// LexicalDoc is one document for the lexical index.
type LexicalDoc struct {
	ID   string
	Text string
}

// LexicalHit is a BM25-scored match; higher is better.
type LexicalHit struct {
	ID    string
	Score float64
}

// LexicalIndex is keyword search over chunk text. tx is the store's write
// transaction, or nil outside one; backends outside SQLite ignore it.
type LexicalIndex interface {
	Backend() LexicalBackend
	Index(ctx context.Context, tx *sql.Tx, docs []LexicalDoc) error
	Delete(ctx context.Context, tx *sql.Tx, ids []string) error
	Search(ctx context.Context, query string, limit int) ([]LexicalHit, error)
	Count(ctx context.Context) (int, error)
	// Reset drops every document.
	Reset(ctx context.Context) error
	Close() error
}

// ParseLexicalBackend validates a backend name. Empty means sqlite.
func ParseLexicalBackend(s string) (LexicalBackend, error) {
	switch LexicalBackend(strings.ToLower(s)) {
	case LexicalSQLite, "":
		return LexicalSQLite, nil
	case LexicalBleve:
		return LexicalBleve, nil
	default:
		return "", fmt.Errorf("unknown lexical backend: %s (valid options: sqlite, bleve)", s)
	}
}

// newLexicalIndex opens the backend for a store whose database lives at
// dbPath. An empty dbPath keeps bleve in memory.
// FTS queries run on reader; its writes go through db or the caller's tx.
func newLexicalIndex(ctx context.Context, backend LexicalBackend, db, reader *sql.DB, dbPath string) (LexicalIndex, error) {
	switch backend {
	case LexicalSQLite, "":
		return newFTSIndex(ctx, db, reader)
	case LexicalBleve:
		var path string
		if dbPath != "" {
			path = filepath.Join(filepath.Dir(dbPath), "lexical.bleve")
		}
		return newBleveIndex(path)
	default:
		return nil, fmt.Errorf("unknown lexical backend: %s", backend)
	}
}

// lexicalText is what gets indexed for a chunk: the heading breadcrumb and
// the body, so section titles are searchable.
func lexicalText(c chunk.Chunk) string {
	if len(c.HierarchyPath) == 0 {
		return c.Text
	}
	return parse.Breadcrumb(c.HierarchyPath) + "\n" + c.Text
}

func lexicalDocs(entries []Entry) []LexicalDoc {
	docs := make([]LexicalDoc, len(entries))
	for i, e := range entries {
		docs[i] = LexicalDoc{ID: e.Chunk.ID, Text: lexicalText(e.Chunk)}
	}
	return docs
}
