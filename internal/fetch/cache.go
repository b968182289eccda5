package fetch

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sync"
	"time"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu   sync.RWMutex
	docs map[string]SourceDocument
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{docs: make(map[string]SourceDocument)}
}

// Get returns the cached document for path.
func (c *MemoryCache) Get(_ context.Context, path string) (SourceDocument, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[path]
	return doc, ok, nil
}

// Put stores doc, replacing any previous version.
func (c *MemoryCache) Put(_ context.Context, doc SourceDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[doc.Path] = doc
	return nil
}

// Delete drops path.
func (c *MemoryCache) Delete(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, path)
	return nil
}

// Len returns the number of cached documents.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

const fetchCacheSchema = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	path          TEXT PRIMARY KEY,
	hash          TEXT NOT NULL,
	content       BLOB NOT NULL,
	last_modified INTEGER NOT NULL DEFAULT 0,
	fetched_at    INTEGER NOT NULL
);`

// SQLiteCache persists fetched content in the index database so a restart
// does not refetch unchanged documents.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache creates the fetch_cache table if needed.
func NewSQLiteCache(ctx context.Context, db *sql.DB) (*SQLiteCache, error) {
	if _, err := db.ExecContext(ctx, fetchCacheSchema); err != nil {
		return nil, errors.StoreFailed("failed to create fetch cache", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Get returns the cached document for path.
func (c *SQLiteCache) Get(ctx context.Context, path string) (SourceDocument, bool, error) {
	var (
		doc      SourceDocument
		modified int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT path, hash, content, last_modified FROM fetch_cache WHERE path = ?`, path).
		Scan(&doc.Path, &doc.Hash, &doc.Content, &modified)
	if stderrors.Is(err, sql.ErrNoRows) {
		return SourceDocument{}, false, nil
	}
	if err != nil {
		return SourceDocument{}, false, errors.StoreFailed("failed to read fetch cache", err)
	}
	if modified > 0 {
		doc.LastModified = time.Unix(0, modified)
	}
	return doc, true, nil
}

// Put stores doc, replacing any previous version.
func (c *SQLiteCache) Put(ctx context.Context, doc SourceDocument) error {
	var modified int64
	if !doc.LastModified.IsZero() {
		modified = doc.LastModified.UnixNano()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO fetch_cache (path, hash, content, last_modified, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			content = excluded.content,
			last_modified = excluded.last_modified,
			fetched_at = excluded.fetched_at`,
		doc.Path, doc.Hash, nonNil(doc.Content), modified, time.Now().Unix())
	if err != nil {
		return errors.StoreFailed("failed to write fetch cache", err)
	}
	return nil
}

// Delete drops path.
func (c *SQLiteCache) Delete(ctx context.Context, path string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM fetch_cache WHERE path = ?`, path); err != nil {
		return errors.StoreFailed("failed to delete from fetch cache", err)
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
