package store

import (
	"fmt"
	"math"

	"github.com/coder/hnsw"
)

// annIndex is an HNSW graph over the vectors of one generation. Keys are
// positions in the generation's entry slice. The graph is built once and
// never mutated, so concurrent searches need no lock.
type annIndex struct {
	graph *hnsw.Graph[int]
	dims  int
}

const (
	annM        = 16
	annEfSearch = 64
	// annMinCandidates is the smallest number of graph neighbors requested,
	// leaving room for filtered-out entries.
	annMinCandidates = 64
)

// buildANN indexes every vector of dims dimensions in entries.
func buildANN(entries []Entry, dims int) (*annIndex, error) {
	if dims == 0 {
		return nil, fmt.Errorf("no vectors to index")
	}
	graph := hnsw.NewGraph[int]()
	graph.Distance = hnsw.CosineDistance
	graph.M = annM
	graph.EfSearch = annEfSearch
	graph.Ml = 0.25

	nodes := make([]hnsw.Node[int], 0, len(entries))
	for i := range entries {
		v := entries[i].Vector
		if len(v) != dims {
			continue
		}
		nodes = append(nodes, hnsw.MakeNode(i, v))
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no vectors of dimension %d", dims)
	}
	graph.Add(nodes...)
	return &annIndex{graph: graph, dims: dims}, nil
}

// search returns entry positions of the n approximate nearest neighbors.
func (a *annIndex) search(query []float32, n int) []int {
	if len(query) != a.dims || a.graph.Len() == 0 {
		return nil
	}
	nodes := a.graph.Search(query, n)
	out := make([]int, len(nodes))
	for i, node := range nodes {
		out[i] = node.Key
	}
	return out
}

// cosine returns the cosine similarity of a and b, 0 on length mismatch or
// zero norm.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
