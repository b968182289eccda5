package telemetry

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openStore(t *testing.T) *SQLiteMetricsStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLiteMetricsStore(context.Background(), db)
	require.NoError(t, err)
	return s
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{300 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"style", "button"}, ExtractTerms("  How to Style a BUTTON "))
	assert.Nil(t, ExtractTerms("a b"))
}

func TestQueryMetrics_Pending(t *testing.T) {
	// Given an in-memory collector
	m := NewQueryMetrics(nil, Config{}, nil)
	defer func() { _ = m.Close() }()

	// When recording queries
	m.Record(QueryEvent{Query: "button styles", Mode: ModeSemantic, ResultCount: 3, Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{Query: "button events", Mode: ModeSemantic, ResultCount: 2, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "grid", Mode: ModeKeyword, ResultCount: 0})

	// Then the aggregates reflect them
	s := m.Pending()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(2), s.Modes[ModeSemantic])
	assert.Equal(t, int64(1), s.Modes[ModeKeyword])
	assert.Equal(t, TermCount{Term: "button", Count: 2}, s.TopTerms[0])
	assert.Equal(t, []string{"grid"}, s.ZeroResultQueries)
	assert.InDelta(t, 33.33, s.ZeroResultPercentage(), 0.01)
	assert.Equal(t, int64(2), s.Latency[BucketP10])
}

func TestQueryMetrics_FlushAccumulates(t *testing.T) {
	// Given a collector over a store
	ctx := context.Background()
	store := openStore(t)
	m := NewQueryMetrics(store, Config{}, nil)

	// When two batches are flushed
	m.Record(QueryEvent{Query: "button", Mode: ModeSemantic, ResultCount: 1})
	require.NoError(t, m.Flush(ctx))
	assert.Zero(t, m.Pending().TotalQueries)

	m.Record(QueryEvent{Query: "button", Mode: ModeSemantic, ResultCount: 1})
	m.Record(QueryEvent{Query: "nothing here", Mode: ModeKeyword})
	require.NoError(t, m.Close())

	// Then the store holds the sum, not the last batch
	s, err := store.Summary(ctx, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(2), s.Modes[ModeSemantic])
	assert.Equal(t, TermCount{Term: "button", Count: 2}, s.TopTerms[0])
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{"nothing here"}, s.ZeroResultQueries)
}

func TestQueryMetrics_RecordAfterClose(t *testing.T) {
	m := NewQueryMetrics(nil, Config{}, nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	m.Record(QueryEvent{Query: "late", Mode: ModeSemantic})

	assert.Zero(t, m.Pending().TotalQueries)
}

func TestSQLiteMetricsStore_TrimsZeroResults(t *testing.T) {
	// Given more zero-result queries than are retained
	ctx := context.Background()
	store := openStore(t)
	zero := make([]QueryEvent, MaxZeroResultQueries+5)
	for i := range zero {
		zero[i] = QueryEvent{Query: "q", Timestamp: time.Now()}
	}
	zero[len(zero)-1].Query = "newest"

	// When storing them
	require.NoError(t, store.Add(ctx, time.Now(), map[QueryMode]int64{ModeKeyword: int64(len(zero))}, nil, nil, zero))

	// Then the total is kept but only the newest queries are listed
	s, err := store.Summary(ctx, 5, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(len(zero)), s.ZeroResultCount)
	assert.Len(t, s.ZeroResultQueries, MaxZeroResultQueries)
	assert.Equal(t, "newest", s.ZeroResultQueries[0])
}

func TestSQLiteMetricsStore_Empty(t *testing.T) {
	s, err := openStore(t).Summary(context.Background(), 5, 5)

	require.NoError(t, err)
	assert.Zero(t, s.TotalQueries)
	assert.Empty(t, s.TopTerms)
}

func TestNewSQLiteMetricsStore_NilDB(t *testing.T) {
	_, err := NewSQLiteMetricsStore(context.Background(), nil)
	assert.Error(t, err)
}
