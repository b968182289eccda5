package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MaxZeroResultQueries caps the stored zero-result queries; older ones are
// dropped first.
const MaxZeroResultQueries = 100

const schema = `
CREATE TABLE IF NOT EXISTS query_mode_stats (
	date  TEXT NOT NULL,
	mode  TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, mode)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 1,
	last_seen INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS query_zero_stats (
	date  TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	query     TEXT NOT NULL,
	timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS query_latency_stats (
	date   TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);
`

// SQLiteMetricsStore persists query metrics next to the index. The
// database handle is shared and not closed here.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore creates the telemetry tables if needed.
func NewSQLiteMetricsStore(ctx context.Context, db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// Add merges one batch of aggregates in a single transaction.
func (s *SQLiteMetricsStore) Add(ctx context.Context, at time.Time,
	modes map[QueryMode]int64, latencies map[LatencyBucket]int64,
	terms map[string]int64, zero []QueryEvent) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	date := at.UTC().Format("2006-01-02")
	for mode, n := range modes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_mode_stats (date, mode, count) VALUES (?, ?, ?)
			ON CONFLICT(date, mode) DO UPDATE SET count = count + excluded.count`,
			date, string(mode), n); err != nil {
			return fmt.Errorf("upsert mode count: %w", err)
		}
	}
	for bucket, n := range latencies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
			date, string(bucket), n); err != nil {
			return fmt.Errorf("upsert latency count: %w", err)
		}
	}
	for term, n := range terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = excluded.last_seen`,
			term, n, at.Unix()); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}
	for _, ev := range zero {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`,
			ev.Query, ev.Timestamp.Unix()); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
	}
	if len(zero) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_zero_stats (date, count) VALUES (?, ?)
			ON CONFLICT(date) DO UPDATE SET count = count + excluded.count`,
			date, len(zero)); err != nil {
			return fmt.Errorf("upsert zero-result count: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries WHERE id NOT IN (
				SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
			MaxZeroResultQueries); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Summary reads the totals with the topTerms most frequent terms and the
// recentZero latest zero-result queries, newest first.
func (s *SQLiteMetricsStore) Summary(ctx context.Context, topTerms, recentZero int) (Summary, error) {
	sum := Summary{
		Modes:   make(map[QueryMode]int64),
		Latency: make(map[LatencyBucket]int64),
	}

	err := s.scanCounts(ctx, `SELECT mode, SUM(count) FROM query_mode_stats GROUP BY mode`,
		func(k string, n int64) {
			sum.Modes[QueryMode(k)] = n
			sum.TotalQueries += n
		})
	if err != nil {
		return Summary{}, fmt.Errorf("query mode counts: %w", err)
	}
	err = s.scanCounts(ctx, `SELECT bucket, SUM(count) FROM query_latency_stats GROUP BY bucket`,
		func(k string, n int64) { sum.Latency[LatencyBucket(k)] = n })
	if err != nil {
		return Summary{}, fmt.Errorf("query latency counts: %w", err)
	}
	err = s.scanCounts(ctx, `SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`,
		func(k string, n int64) { sum.TopTerms = append(sum.TopTerms, TermCount{Term: k, Count: n}) },
		topTerms)
	if err != nil {
		return Summary{}, fmt.Errorf("query top terms: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(count), 0) FROM query_zero_stats`).Scan(&sum.ZeroResultCount); err != nil {
		return Summary{}, fmt.Errorf("count zero-result queries: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, recentZero)
	if err != nil {
		return Summary{}, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return Summary{}, fmt.Errorf("scan row: %w", err)
		}
		sum.ZeroResultQueries = append(sum.ZeroResultQueries, q)
	}
	return sum, rows.Err()
}

func (s *SQLiteMetricsStore) scanCounts(ctx context.Context, query string, fn func(string, int64), args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		fn(k, n)
	}
	return rows.Err()
}
