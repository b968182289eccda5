package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	chunk_id UNINDEXED,
	content,
	tokenize='unicode61'
);`

// ftsIndex is a LexicalIndex over an FTS5 table in index.db. Content is
// stored pre-tokenized so identifiers are split the same way at index and
// query time.
type ftsIndex struct {
	db     *sql.DB
	reader *sql.DB
}

var _ LexicalIndex = (*ftsIndex)(nil)

func newFTSIndex(ctx context.Context, db, reader *sql.DB) (*ftsIndex, error) {
	if _, err := db.ExecContext(ctx, ftsSchema); err != nil {
		return nil, fmt.Errorf("failed to create fts table: %w", err)
	}
	if reader == nil {
		reader = db
	}
	return &ftsIndex{db: db, reader: reader}, nil
}

func (f *ftsIndex) Backend() LexicalBackend {
	return LexicalSQLite
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (f *ftsIndex) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return f.db
}

// Index replaces the rows for docs. FTS5 has no REPLACE, so old rows are
// deleted first.
func (f *ftsIndex) Index(ctx context.Context, tx *sql.Tx, docs []LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}
	ex := f.execer(tx)

	deleteStmt, err := ex.PrepareContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare fts delete: %w", err)
	}
	defer func() { _ = deleteStmt.Close() }()

	insertStmt, err := ex.PrepareContext(ctx, `INSERT INTO chunks_fts(chunk_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare fts insert: %w", err)
	}
	defer func() { _ = insertStmt.Close() }()

	for _, doc := range docs {
		if _, err := deleteStmt.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete fts row %s: %w", doc.ID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.ID, strings.Join(Tokenize(doc.Text), " ")); err != nil {
			return fmt.Errorf("failed to insert fts row %s: %w", doc.ID, err)
		}
	}
	return nil
}

func (f *ftsIndex) Delete(ctx context.Context, tx *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ex := f.execer(tx)
	for _, batch := range batchStrings(ids, sqlBatchSize) {
		query := fmt.Sprintf(`DELETE FROM chunks_fts WHERE chunk_id IN (%s)`, placeholders(len(batch)))
		if _, err := ex.ExecContext(ctx, query, stringArgs(batch)...); err != nil {
			return fmt.Errorf("failed to delete fts rows: %w", err)
		}
	}
	return nil
}

// Search matches any query term, best BM25 first.
func (f *ftsIndex) Search(ctx context.Context, query string, limit int) ([]LexicalHit, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 || limit <= 0 {
		return []LexicalHit{}, nil
	}
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = `"` + t + `"`
	}

	// bm25() is negative; lower is better.
	rows, err := f.reader.QueryContext(ctx, `
		SELECT chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?`, strings.Join(terms, " OR "), limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") {
			return []LexicalHit{}, nil
		}
		return nil, fmt.Errorf("fts search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan fts row: %w", err)
		}
		h.Score = -h.Score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (f *ftsIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks_fts`).Scan(&n)
	return n, err
}

func (f *ftsIndex) Reset(ctx context.Context) error {
	_, err := f.db.ExecContext(ctx, `DELETE FROM chunks_fts`)
	return err
}

// Close is a no-op; the database belongs to the Store.
func (f *ftsIndex) Close() error {
	return nil
}
