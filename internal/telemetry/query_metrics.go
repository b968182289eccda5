// Package telemetry records local query statistics in the index database.
// Nothing is reported anywhere; `docsearch status` reads the totals back.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryMode is how a query was answered.
type QueryMode string

const (
	// ModeSemantic means the query was embedded and ranked by similarity.
	ModeSemantic QueryMode = "semantic"
	// ModeKeyword means the embedder was unavailable and only lexical
	// matches were returned.
	ModeKeyword QueryMode = "keyword"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one answered query.
type QueryEvent struct {
	Query       string
	Mode        QueryMode
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// ExtractTerms lowercases query and keeps words of at least three bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Summary is the persisted query history.
type Summary struct {
	TotalQueries      int64                   `json:"total_queries"`
	Modes             map[QueryMode]int64     `json:"modes"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	ZeroResultQueries []string                `json:"zero_result_queries,omitempty"`
	TopTerms          []TermCount             `json:"top_terms,omitempty"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
}

// ZeroResultPercentage returns the share of queries with no results.
func (s Summary) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config bounds the in-memory aggregates between flushes.
type Config struct {
	// TopTermsCapacity caps distinct terms held before a flush (default: 100).
	TopTermsCapacity int
	// FlushInterval of 0 disables the background flush; Close still flushes.
	FlushInterval time.Duration
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity: 100,
		FlushInterval:    time.Minute,
	}
}

// QueryMetrics aggregates query events in memory and adds them to the
// store on Flush. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	// pending deltas since the last flush
	modes       map[QueryMode]int64
	latencies   map[LatencyBucket]int64
	terms       *lru.Cache[string, int64]
	zeroResults []QueryEvent

	store  *SQLiteMetricsStore
	logger *slog.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

// NewQueryMetrics creates a collector. A nil store keeps metrics in memory
// only, which makes Flush a no-op.
func NewQueryMetrics(store *SQLiteMetricsStore, cfg Config, logger *slog.Logger) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	m := &QueryMetrics{
		modes:     make(map[QueryMode]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     terms,
		store:     store,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.ticker.C:
			if err := m.Flush(context.Background()); err != nil {
				m.logger.Warn("query_metrics_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record adds one query.
func (m *QueryMetrics) Record(ev QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	m.modes[ev.Mode]++
	m.latencies[LatencyToBucket(ev.Latency)]++
	for _, term := range ExtractTerms(ev.Query) {
		count, _ := m.terms.Get(term)
		m.terms.Add(term, count+1)
	}
	if ev.ResultCount == 0 {
		m.zeroResults = append(m.zeroResults, ev)
	}
}

// Pending returns the unflushed aggregates as a Summary.
func (m *QueryMetrics) Pending() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		Modes:   make(map[QueryMode]int64, len(m.modes)),
		Latency: make(map[LatencyBucket]int64, len(m.latencies)),
	}
	for k, v := range m.modes {
		s.Modes[k] = v
		s.TotalQueries += v
	}
	for k, v := range m.latencies {
		s.Latency[k] = v
	}
	for _, key := range m.terms.Keys() {
		if count, ok := m.terms.Peek(key); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: key, Count: count})
		}
	}
	sortTerms(s.TopTerms)
	for _, ev := range m.zeroResults {
		s.ZeroResultQueries = append(s.ZeroResultQueries, ev.Query)
	}
	s.ZeroResultCount = int64(len(m.zeroResults))
	return s
}

// Flush adds the pending aggregates to the store and resets them.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	modes, latencies := m.modes, m.latencies
	terms := make(map[string]int64, m.terms.Len())
	for _, key := range m.terms.Keys() {
		if count, ok := m.terms.Peek(key); ok {
			terms[key] = count
		}
	}
	zero := m.zeroResults
	m.modes = make(map[QueryMode]int64)
	m.latencies = make(map[LatencyBucket]int64)
	m.terms.Purge()
	m.zeroResults = nil
	m.mu.Unlock()

	if len(modes) == 0 {
		return nil
	}
	return m.store.Add(ctx, time.Now(), modes, latencies, terms, zero)
}

// Close stops the background flush and flushes once more.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
	}
	return m.Flush(context.Background())
}

func sortTerms(terms []TermCount) {
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
}
