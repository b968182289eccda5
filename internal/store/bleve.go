package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	docTokenizerName = "docsearch_tokenizer"
	docAnalyzerName  = "docsearch_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(docTokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return docTokenizer{}, nil
	})
}

// bleveIndex is a LexicalIndex backed by bleve. It uses the same Tokenize
// rules as the FTS backend so both rank the same terms.
type bleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ LexicalIndex = (*bleveIndex)(nil)

type bleveDoc struct {
	Content string `json:"content"`
}

// validateBleveIndex reports a missing or unreadable index_meta.json.
func validateBleveIndex(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// newBleveIndex opens or creates the index at path; an empty path keeps it
// in memory. A corrupt index is removed and recreated empty, and the store
// refills it on open.
func newBleveIndex(path string) (*bleveIndex, error) {
	m, err := newBleveMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if validErr := validateBleveIndex(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w", path, rmErr)
			}
		}
		idx, err = bleve.Open(path)
		if stderrors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}
	return &bleveIndex{index: idx, path: path}, nil
}

func newBleveMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(docAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": docTokenizerName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}
	m.DefaultAnalyzer = docAnalyzerName
	return m, nil
}

func (b *bleveIndex) Backend() LexicalBackend {
	return LexicalBleve
}

func (b *bleveIndex) Index(_ context.Context, _ *sql.Tx, docs []LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDoc{Content: doc.Text}); err != nil {
			return fmt.Errorf("failed to index %s: %w", doc.ID, err)
		}
	}
	return b.index.Batch(batch)
}

func (b *bleveIndex) Delete(_ context.Context, _ *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

func (b *bleveIndex) Search(ctx context.Context, query string, limit int) ([]LexicalHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []LexicalHit{}, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}
	hits := make([]LexicalHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, LexicalHit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func (b *bleveIndex) Count(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}
	n, err := b.index.DocCount()
	return int(n), err
}

// Reset replaces the index with an empty one.
func (b *bleveIndex) Reset(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	m, err := newBleveMapping()
	if err != nil {
		return err
	}
	if err := b.index.Close(); err != nil {
		return err
	}
	if b.path == "" {
		b.index, err = bleve.NewMemOnly(m)
		return err
	}
	if err := os.RemoveAll(b.path); err != nil {
		return err
	}
	b.index, err = bleve.New(b.path, m)
	return err
}

func (b *bleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// docTokenizer adapts Tokenize to bleve's analysis pipeline.
type docTokenizer struct{}

func (docTokenizer) Tokenize(input []byte) analysis.TokenStream {
	tokens := Tokenize(string(input))
	stream := make(analysis.TokenStream, 0, len(tokens))
	for i, t := range tokens {
		stream = append(stream, &analysis.Token{
			Term:     []byte(t),
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return stream
}
