package store

import (
	"sort"
	"sync"
)

// generation is an immutable snapshot of the index. Writers build a new
// one and swap it in; readers load the pointer once per search.
type generation struct {
	seq       uint64
	entries   []Entry // sorted by DocPath, then Position
	byID      map[string]int
	docs      int
	vectors   int
	dims      int
	threshold int

	annOnce sync.Once
	ann     *annIndex
}

func newGeneration(seq uint64, entries []Entry, annThreshold int) *generation {
	sort.Slice(entries, func(i, j int) bool {
		a, b := &entries[i].Chunk, &entries[j].Chunk
		if a.DocPath != b.DocPath {
			return a.DocPath < b.DocPath
		}
		return a.Position < b.Position
	})

	g := &generation{
		seq:       seq,
		entries:   entries,
		byID:      make(map[string]int, len(entries)),
		threshold: annThreshold,
	}
	lastDoc := ""
	dimCounts := make(map[int]int)
	for i := range entries {
		e := &entries[i]
		g.byID[e.Chunk.ID] = i
		if i == 0 || e.Chunk.DocPath != lastDoc {
			g.docs++
			lastDoc = e.Chunk.DocPath
		}
		if e.Vector != nil {
			g.vectors++
			dimCounts[len(e.Vector)]++
		}
	}
	// The ANN graph covers the dominant dimension; stragglers from an older
	// model are still reachable through the exact scan.
	for d, n := range dimCounts {
		if n > dimCounts[g.dims] || (n == dimCounts[g.dims] && d > g.dims) {
			g.dims = d
		}
	}
	return g
}

// without returns the entries whose DocPath is not in docs and whose ID is
// not in ids.
func (g *generation) without(docs map[string]bool, ids map[string]bool) []Entry {
	out := make([]Entry, 0, len(g.entries))
	for _, e := range g.entries {
		if docs[e.Chunk.DocPath] || ids[e.Chunk.ID] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// useANN reports whether this generation is large enough for the graph.
func (g *generation) useANN() bool {
	return g.threshold > 0 && g.vectors >= g.threshold
}

// annGraph builds the graph on first use.
func (g *generation) annGraph() *annIndex {
	g.annOnce.Do(func() {
		if ann, err := buildANN(g.entries, g.dims); err == nil {
			g.ann = ann
		}
	})
	return g.ann
}

// search ranks entries matching m by cosine similarity to query.
func (g *generation) search(query []float32, k int, m matcher) []Hit {
	if k <= 0 || g.vectors == 0 {
		return []Hit{}
	}

	if g.useANN() && len(query) == g.dims {
		if ann := g.annGraph(); ann != nil {
			n := k * 4
			if n < annMinCandidates {
				n = annMinCandidates
			}
			var hits []Hit
			for _, pos := range ann.search(query, n) {
				e := &g.entries[pos]
				if m.matchVector(e) {
					hits = append(hits, Hit{Entry: *e, Score: cosine(query, e.Vector)})
				}
			}
			// A restrictive filter can leave the graph short; scan instead.
			if len(hits) >= k {
				return topHits(hits, k)
			}
		}
	}

	var hits []Hit
	for i := range g.entries {
		e := &g.entries[i]
		if len(e.Vector) != len(query) || !m.matchVector(e) {
			continue
		}
		hits = append(hits, Hit{Entry: *e, Score: cosine(query, e.Vector)})
	}
	return topHits(hits, k)
}

// topHits sorts by score desc, then DocPath and Position, and keeps k.
func topHits(hits []Hit, k int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Chunk.DocPath != hits[j].Chunk.DocPath {
			return hits[i].Chunk.DocPath < hits[j].Chunk.DocPath
		}
		return hits[i].Chunk.Position < hits[j].Chunk.Position
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	if hits == nil {
		return []Hit{}
	}
	return hits
}

func (g *generation) stats() (degraded int, models []string) {
	seen := make(map[string]bool)
	for i := range g.entries {
		e := &g.entries[i]
		if e.Vector == nil {
			degraded++
			continue
		}
		if e.ModelID != "" && !seen[e.ModelID] {
			seen[e.ModelID] = true
			models = append(models, e.ModelID)
		}
	}
	sort.Strings(models)
	return degraded, models
}
