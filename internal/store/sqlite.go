package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	doc_path     TEXT NOT NULL,
	position     INTEGER NOT NULL,
	text         TEXT NOT NULL,
	hierarchy    TEXT NOT NULL DEFAULT '[]',
	content_type TEXT NOT NULL,
	language     TEXT NOT NULL DEFAULT '',
	token_count  INTEGER NOT NULL DEFAULT 0,
	atomic       INTEGER NOT NULL DEFAULT 0,
	model_id     TEXT NOT NULL DEFAULT '',
	vector       BLOB
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_path, position);

CREATE TABLE IF NOT EXISTS doc_hashes (
	doc_path   TEXT PRIMARY KEY,
	hash       TEXT NOT NULL,
	indexed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS embedding_cache (
	chunk_id   TEXT NOT NULL,
	model_id   TEXT NOT NULL,
	vector     BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (chunk_id, model_id)
);
`

const sqlBatchSize = 500

// Options configures Open.
type Options struct {
	LexicalBackend LexicalBackend
	// ANNThreshold is the vector count from which searches use HNSW.
	// Zero or negative disables the graph.
	ANNThreshold int
	Logger       *slog.Logger
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		LexicalBackend: LexicalSQLite,
		ANNThreshold:   DefaultANNThreshold,
	}
}

// Store is the persistent index. Writes are serialized; vector reads are
// lock free against the current generation.
type Store struct {
	db      *sql.DB
	rdb     *sql.DB
	path    string
	lexical LexicalIndex
	opts    Options
	logger  *slog.Logger

	writeMu sync.Mutex
	// swapMu orders a write's commit and generation swap against keyword
	// reads, which hold it shared from loading the generation until the
	// lexical query returns.
	swapMu  sync.RWMutex
	current atomic.Pointer[generation]
	closed  atomic.Bool

	// replaceHook runs inside ReplaceDocument after the old rows are
	// deleted and before the new ones are written.
	replaceHook func()
}

// validateIntegrity runs PRAGMA integrity_check on an existing database.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open opens or creates the index database at path and loads the current
// generation. A corrupt database is removed and recreated empty.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.LexicalBackend == "" {
		opts.LexicalBackend = LexicalSQLite
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.StoreFailed("failed to create data directory", err)
	}
	if validErr := validateIntegrity(path); validErr != nil {
		logger.Warn("index_db_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "index corrupted at "+path+" and cannot be removed", rmErr)
		}
		_ = os.Remove(path + "-wal")
		_ = os.Remove(path + "-shm")
		logger.Info("index_db_cleared", slog.String("path", path), slog.String("reason", "corruption detected, reindex required"))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.StoreFailed("failed to open index database", err)
	}
	// One write connection: SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, errors.StoreFailed("failed to set pragma", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.StoreFailed("failed to create schema", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		_ = db.Close()
		return nil, errors.StoreFailed("failed to record schema version", err)
	}

	// Keyword queries read through their own pool. Under WAL they see the
	// last committed state and never wait on an open write transaction.
	rdb, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		_ = db.Close()
		return nil, errors.StoreFailed("failed to open index database for reading", err)
	}
	rdb.SetMaxOpenConns(max(runtime.NumCPU(), 2))

	lexical, err := newLexicalIndex(ctx, opts.LexicalBackend, db, rdb, path)
	if err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return nil, errors.StoreFailed("failed to open lexical index", err)
	}

	s := &Store{
		db:      db,
		rdb:     rdb,
		path:    path,
		lexical: lexical,
		opts:    opts,
		logger:  logger,
	}
	entries, err := s.loadEntries(ctx)
	if err != nil {
		_ = s.closeResources()
		return nil, err
	}
	s.current.Store(newGeneration(1, entries, opts.ANNThreshold))

	if err := s.syncLexical(ctx, entries); err != nil {
		_ = s.closeResources()
		return nil, err
	}

	logger.Info("store_opened",
		slog.String("path", path),
		slog.Int("chunks", len(entries)),
		slog.String("lexical_backend", string(lexical.Backend())))
	return s, nil
}

// syncLexical refills the lexical index when its size disagrees with the
// chunk table, as after switching backends.
func (s *Store) syncLexical(ctx context.Context, entries []Entry) error {
	n, err := s.lexical.Count(ctx)
	if err == nil && n == len(entries) {
		return nil
	}
	s.logger.Info("lexical_index_rebuild",
		slog.Int("indexed", n),
		slog.Int("chunks", len(entries)))
	if err := s.lexical.Reset(ctx); err != nil {
		return errors.StoreFailed("failed to reset lexical index", err)
	}
	if err := s.lexical.Index(ctx, nil, lexicalDocs(entries)); err != nil {
		return errors.StoreFailed("failed to rebuild lexical index", err)
	}
	return nil
}

func (s *Store) loadEntries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_path, position, text, hierarchy, content_type, language,
		       token_count, atomic, model_id, vector
		FROM chunks`)
	if err != nil {
		return nil, errors.StoreFailed("failed to load chunks", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			hierarchy   string
			contentType string
			atomicFlag  int
			vector      []byte
		)
		if err := rows.Scan(&e.Chunk.ID, &e.Chunk.DocPath, &e.Chunk.Position, &e.Chunk.Text, &hierarchy,
			&contentType, &e.Chunk.Language, &e.Chunk.TokenCount, &atomicFlag, &e.ModelID, &vector); err != nil {
			return nil, errors.StoreFailed("failed to scan chunk", err)
		}
		if err := json.Unmarshal([]byte(hierarchy), &e.Chunk.HierarchyPath); err != nil {
			return nil, errors.New(errors.ErrCodeCorruptIndex, "invalid hierarchy for chunk "+e.Chunk.ID, err)
		}
		e.Chunk.ContentType = chunk.ContentType(contentType)
		e.Chunk.Atomic = atomicFlag != 0
		if vector != nil {
			v, err := decodeVector(vector)
			if err != nil {
				return nil, errors.New(errors.ErrCodeCorruptIndex, "invalid vector for chunk "+e.Chunk.ID, err)
			}
			e.Vector = v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreFailed("failed to load chunks", err)
	}
	return entries, nil
}

// DB exposes the database for tables owned by other packages, such as the
// fetch cache.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Upsert inserts or replaces entries by id.
func (s *Store) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.write(ctx, "upsert", func(tx *sql.Tx) error {
		return insertEntries(ctx, tx, entries)
	}, lexicalChange{docs: lexicalDocs(entries)}, func(g *generation) []Entry {
		ids := make(map[string]bool, len(entries))
		for _, e := range entries {
			ids[e.Chunk.ID] = true
		}
		return append(g.without(nil, ids), entries...)
	})
}

// DeleteByDocPath removes every entry of a document and its stored hash.
func (s *Store) DeleteByDocPath(ctx context.Context, docPath string) error {
	return s.write(ctx, "delete", func(tx *sql.Tx) error {
		return s.deleteDoc(ctx, tx, docPath)
	}, lexicalChange{deleteDoc: docPath}, func(g *generation) []Entry {
		return g.without(map[string]bool{docPath: true}, nil)
	})
}

// ReplaceDocument swaps a document's entries and records its hash. The
// delete, insert and hash update commit in one transaction, followed by one
// generation swap.
func (s *Store) ReplaceDocument(ctx context.Context, docPath, hash string, entries []Entry) error {
	for _, e := range entries {
		if e.Chunk.DocPath != docPath {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("entry %s belongs to %s, not %s", e.Chunk.ID, e.Chunk.DocPath, docPath), nil)
		}
	}
	return s.write(ctx, "replace", func(tx *sql.Tx) error {
		if err := s.deleteDoc(ctx, tx, docPath); err != nil {
			return err
		}
		if s.replaceHook != nil {
			s.replaceHook()
		}
		if err := insertEntries(ctx, tx, entries); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO doc_hashes (doc_path, hash, indexed_at) VALUES (?, ?, ?)
			ON CONFLICT(doc_path) DO UPDATE SET hash = excluded.hash, indexed_at = excluded.indexed_at`,
			docPath, hash, time.Now().Unix())
		return err
	}, lexicalChange{deleteDoc: docPath, docs: lexicalDocs(entries)}, func(g *generation) []Entry {
		return append(g.without(map[string]bool{docPath: true}, nil), entries...)
	})
}

// lexicalChange is the keyword index update that goes with a write.
// deleteDoc drops the ids a document holds in the current generation.
type lexicalChange struct {
	deleteDoc string
	docs      []LexicalDoc
}

func (s *Store) applyLexical(ctx context.Context, tx *sql.Tx, ch lexicalChange, deletes []string) error {
	if err := s.lexical.Delete(ctx, tx, deletes); err != nil {
		return err
	}
	return s.lexical.Index(ctx, tx, ch.docs)
}

// write runs apply in a transaction and, on commit, publishes the
// generation built by next. FTS rows commit with the chunk rows; other
// lexical backends are updated after the commit, before the swap.
func (s *Store) write(ctx context.Context, op string, apply func(*sql.Tx) error, lex lexicalChange, next func(*generation) []Entry) error {
	if s.closed.Load() {
		return errors.StoreFailed("store is closed", nil)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreFailed("failed to begin "+op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := apply(tx); err != nil {
		return errors.StoreFailed(op+" failed", err)
	}
	var deletes []string
	if lex.deleteDoc != "" {
		deletes = s.docIDs(lex.deleteDoc)
	}
	inTx := s.lexical.Backend() == LexicalSQLite
	if inTx {
		if err := s.applyLexical(ctx, tx, lex, deletes); err != nil {
			return errors.StoreFailed(op+" failed", err)
		}
	}

	cur := s.current.Load()
	ng := newGeneration(cur.seq+1, next(cur), s.opts.ANNThreshold)

	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	if err := tx.Commit(); err != nil {
		return errors.StoreFailed("failed to commit "+op, err)
	}
	if !inTx {
		// The rows are committed; a lexical miss is repaired by the count
		// check on the next Open.
		if err := s.applyLexical(context.WithoutCancel(ctx), nil, lex, deletes); err != nil {
			s.logger.Warn("lexical_index_update_failed",
				slog.String("op", op),
				slog.String("error", err.Error()))
		}
	}
	s.current.Store(ng)
	return nil
}

// docIDs lists the ids a document holds in the current generation.
func (s *Store) docIDs(docPath string) []string {
	var ids []string
	for _, e := range s.current.Load().entries {
		if e.Chunk.DocPath == docPath {
			ids = append(ids, e.Chunk.ID)
		}
	}
	return ids
}

func (s *Store) deleteDoc(ctx context.Context, tx *sql.Tx, docPath string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_path = ?`, docPath); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM doc_hashes WHERE doc_path = ?`, docPath)
	return err
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, doc_path, position, text, hierarchy, content_type, language,
			 token_count, atomic, model_id, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		hierarchy := e.Chunk.HierarchyPath
		if hierarchy == nil {
			hierarchy = []string{}
		}
		hj, err := json.Marshal(hierarchy)
		if err != nil {
			return err
		}
		var vector any
		if e.Vector != nil {
			vector = encodeVector(e.Vector)
		}
		atomicFlag := 0
		if e.Chunk.Atomic {
			atomicFlag = 1
		}
		if _, err := stmt.ExecContext(ctx, e.Chunk.ID, e.Chunk.DocPath, e.Chunk.Position, e.Chunk.Text, string(hj),
			string(e.Chunk.ContentType), e.Chunk.Language, e.Chunk.TokenCount, atomicFlag, e.ModelID, vector); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", e.Chunk.ID, err)
		}
	}
	return nil
}

// Search returns the k entries most similar to vector among those matching
// filter, best first. Degraded entries are never returned.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if s.closed.Load() {
		return nil, errors.StoreFailed("store is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := filter.compile()
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, err.Error(), err)
	}
	return s.current.Load().search(vector, k, m), nil
}

// SearchLexical returns up to k keyword matches for query. With
// degradedOnly, only entries without a vector are returned. Scores are
// divided by the best raw score, so the top hit scores 1.
func (s *Store) SearchLexical(ctx context.Context, query string, k int, filter Filter, degradedOnly bool) ([]Hit, error) {
	if s.closed.Load() {
		return nil, errors.StoreFailed("store is closed", nil)
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	m, err := filter.compile()
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, err.Error(), err)
	}

	limit := k * 5
	if limit < 50 {
		limit = 50
	}
	s.swapMu.RLock()
	g := s.current.Load()
	raw, err := s.lexical.Search(ctx, query, limit)
	s.swapMu.RUnlock()
	if err != nil {
		return nil, errors.StoreFailed("lexical search failed", err)
	}

	hits := make([]Hit, 0, k)
	var best float64
	for _, r := range raw {
		pos, ok := g.byID[r.ID]
		if !ok {
			continue
		}
		e := &g.entries[pos]
		if degradedOnly && !e.Degraded() {
			continue
		}
		if !m.match(e) {
			continue
		}
		if best == 0 {
			best = r.Score
		}
		score := float32(1)
		if best > 0 {
			score = float32(r.Score / best)
		}
		hits = append(hits, Hit{Entry: *e, Score: score})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Get returns the entry with id from the current generation.
func (s *Store) Get(id string) (Entry, bool) {
	g := s.current.Load()
	pos, ok := g.byID[id]
	if !ok {
		return Entry{}, false
	}
	return g.entries[pos], true
}

// DocumentEntries returns a document's entries in position order.
func (s *Store) DocumentEntries(docPath string) []Entry {
	var out []Entry
	for _, e := range s.current.Load().entries {
		if e.Chunk.DocPath == docPath {
			out = append(out, e)
		}
	}
	return out
}

// IndexedHashes returns the stored hash of every indexed document.
func (s *Store) IndexedHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_path, hash FROM doc_hashes`)
	if err != nil {
		return nil, errors.StoreFailed("failed to read document hashes", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var p, h string
		if err := rows.Scan(&p, &h); err != nil {
			return nil, errors.StoreFailed("failed to scan document hash", err)
		}
		out[p] = h
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreFailed("failed to read document hashes", err)
	}
	return out, nil
}

// LastIndexed returns when a document was last written, or the zero time
// for an empty index.
func (s *Store) LastIndexed(ctx context.Context) (time.Time, error) {
	var ts sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(indexed_at) FROM doc_hashes`).Scan(&ts); err != nil {
		return time.Time{}, errors.StoreFailed("failed to read index time", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0), nil
}

// Stats describes the current generation.
func (s *Store) Stats() Stats {
	g := s.current.Load()
	degraded, models := g.stats()
	return Stats{
		Path:           s.path,
		Generation:     g.seq,
		Documents:      g.docs,
		Chunks:         len(g.entries),
		Degraded:       degraded,
		Models:         models,
		ANN:            g.useANN(),
		LexicalBackend: string(s.lexical.Backend()),
	}
}

// GetVectors returns cached vectors for the ids that have one.
func (s *Store) GetVectors(ctx context.Context, modelID string, chunkIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(chunkIDs))
	for _, batch := range batchStrings(chunkIDs, sqlBatchSize) {
		args := append([]any{modelID}, stringArgs(batch)...)
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT chunk_id, vector FROM embedding_cache WHERE model_id = ? AND chunk_id IN (%s)`,
			placeholders(len(batch))), args...)
		if err != nil {
			return nil, errors.StoreFailed("failed to read embedding cache", err)
		}
		for rows.Next() {
			var (
				id  string
				raw []byte
			)
			if err := rows.Scan(&id, &raw); err != nil {
				_ = rows.Close()
				return nil, errors.StoreFailed("failed to scan embedding cache", err)
			}
			v, err := decodeVector(raw)
			if err != nil {
				continue
			}
			out[id] = v
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, errors.StoreFailed("failed to read embedding cache", err)
		}
	}
	return out, nil
}

// PutVectors stores vectors for modelID.
func (s *Store) PutVectors(ctx context.Context, modelID string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreFailed("failed to begin embedding cache write", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO embedding_cache (chunk_id, model_id, vector, created_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.StoreFailed("failed to prepare embedding cache write", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().Unix()
	for id, v := range vectors {
		if _, err := stmt.ExecContext(ctx, id, modelID, encodeVector(v), now); err != nil {
			return errors.StoreFailed("failed to write embedding cache", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.StoreFailed("failed to commit embedding cache", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database. Safe to call twice.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.rdb.Close()
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	lexErr := s.lexical.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return lexErr
}

func (s *Store) closeResources() error {
	lexErr := s.lexical.Close()
	_ = s.rdb.Close()
	dbErr := s.db.Close()
	if dbErr != nil {
		return dbErr
	}
	return lexErr
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

func batchStrings(ss []string, size int) [][]string {
	var out [][]string
	for len(ss) > size {
		out = append(out, ss[:size])
		ss = ss[size:]
	}
	if len(ss) > 0 {
		out = append(out, ss)
	}
	return out
}
