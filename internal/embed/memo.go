package embed

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// VectorCache persists vectors keyed by (chunk id, model id).
type VectorCache interface {
	GetVectors(ctx context.Context, modelID string, chunkIDs []string) (map[string][]float32, error)
	PutVectors(ctx context.Context, modelID string, vectors map[string][]float32) error
}

// Item is one chunk to embed.
type Item struct {
	ChunkID string
	Text    string
}

type memoKey struct {
	chunkID string
	modelID string
}

// Memo returns stored vectors for chunks it has seen and embeds only the
// rest. Lookups go through an in-memory LRU, then the persistent cache.
type Memo struct {
	shared *Shared
	cache  VectorCache
	recent *lru.Cache[memoKey, []float32]
	logger *slog.Logger
}

// NewMemo creates a memo over shared. cache may be nil for memory-only use.
func NewMemo(shared *Shared, cache VectorCache, size int) *Memo {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	recent, _ := lru.New[memoKey, []float32](size)
	return &Memo{shared: shared, cache: cache, recent: recent, logger: slog.Default()}
}

// ModelID returns the model id of the memoized vectors.
func (m *Memo) ModelID() string {
	return m.shared.ModelID()
}

// Vectors returns one vector per item, in order. The backend is only touched
// when something is missing from both caches, so a fully cached document is
// served even while the backend is down. A persistent cache failure is
// logged and treated as a miss.
func (m *Memo) Vectors(ctx context.Context, items []Item) ([][]float32, error) {
	model := m.shared.ModelID()
	out := make([][]float32, len(items))

	var missIDs []string
	for i, it := range items {
		if v, ok := m.recent.Get(memoKey{it.ChunkID, model}); ok {
			out[i] = v
			continue
		}
		missIDs = append(missIDs, it.ChunkID)
	}

	if len(missIDs) > 0 && m.cache != nil {
		stored, err := m.cache.GetVectors(ctx, model, missIDs)
		if err != nil {
			m.logger.Warn("embedding_cache_read_failed", slog.String("error", err.Error()))
		}
		for i, it := range items {
			if out[i] != nil {
				continue
			}
			if v, ok := stored[it.ChunkID]; ok {
				out[i] = v
				m.recent.Add(memoKey{it.ChunkID, model}, v)
			}
		}
	}

	var pending []int
	var texts []string
	for i, it := range items {
		if out[i] == nil {
			pending = append(pending, i)
			texts = append(texts, it.Text)
		}
	}
	if len(pending) == 0 {
		return out, nil
	}

	vecs, err := m.shared.Embed(ctx, texts, ModeDocument)
	if err != nil {
		return nil, err
	}

	fresh := make(map[string][]float32, len(pending))
	for j, idx := range pending {
		out[idx] = vecs[j]
		fresh[items[idx].ChunkID] = vecs[j]
		m.recent.Add(memoKey{items[idx].ChunkID, model}, vecs[j])
	}
	if m.cache != nil {
		if err := m.cache.PutVectors(ctx, model, fresh); err != nil {
			m.logger.Warn("embedding_cache_write_failed", slog.String("error", err.Error()))
		}
	}
	return out, nil
}
