package search

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Aman-CERP/docsearch/internal/parse"
	"github.com/Aman-CERP/docsearch/internal/store"
)

const (
	// minOverlapWords is the shortest shared run treated as chunk overlap.
	minOverlapWords = 3

	// maxOverlapWords bounds the overlap search.
	maxOverlapWords = 256
)

// scoredHit is a selected hit with its degraded flag.
type scoredHit struct {
	store.Hit
	degraded bool
}

// mergeAdjacent folds hits of the same document at consecutive positions
// into one result. A merged result keeps the best score of its run.
func mergeAdjacent(hits []scoredHit) []Result {
	byDoc := make(map[string][]scoredHit)
	var docs []string
	for _, h := range hits {
		p := h.Chunk.DocPath
		if _, ok := byDoc[p]; !ok {
			docs = append(docs, p)
		}
		byDoc[p] = append(byDoc[p], h)
	}

	results := make([]Result, 0, len(hits))
	for _, doc := range docs {
		group := byDoc[doc]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Chunk.Position < group[j].Chunk.Position
		})

		start := 0
		for i := 1; i <= len(group); i++ {
			if i < len(group) && group[i].Chunk.Position == group[i-1].Chunk.Position+1 {
				continue
			}
			results = append(results, mergeRun(group[start:i]))
			start = i
		}
	}
	sortResults(results)
	return results
}

func mergeRun(run []scoredHit) Result {
	first := run[0].Chunk
	r := Result{
		Text:        first.Text,
		DocPath:     first.DocPath,
		Hierarchy:   first.HierarchyPath,
		Breadcrumb:  parse.Breadcrumb(first.HierarchyPath),
		ContentType: first.ContentType,
		Language:    first.Language,
		Score:       run[0].Score,
		Position:    first.Position,
		EndPosition: first.Position,
		ChunkIDs:    []string{first.ID},
		Degraded:    run[0].degraded,
	}
	for _, h := range run[1:] {
		r.Text = joinOverlapping(r.Text, h.Chunk.Text)
		r.EndPosition = h.Chunk.Position
		r.ChunkIDs = append(r.ChunkIDs, h.Chunk.ID)
		if h.Score > r.Score {
			r.Score = h.Score
		}
		if r.Language == "" {
			r.Language = h.Chunk.Language
		}
		r.Degraded = r.Degraded || h.degraded
	}
	if r.Hierarchy == nil {
		r.Hierarchy = []string{}
	}
	return r
}

// joinOverlapping appends b to a, dropping the words at the start of b that
// repeat the end of a.
func joinOverlapping(a, b string) string {
	aw := strings.Fields(a)
	bw := strings.Fields(b)
	if len(bw) == 0 {
		return a
	}

	limit := min(len(aw), len(bw), maxOverlapWords)
	for n := limit; n > 0; n-- {
		if n < minOverlapWords && n != len(bw) {
			break
		}
		if !equalWords(aw[len(aw)-n:], bw[:n]) {
			continue
		}
		if n == len(bw) {
			return a
		}
		return a + b[wordEnd(b, n):]
	}
	return strings.TrimRight(a, "\n") + "\n\n" + strings.TrimLeft(b, "\n")
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// wordEnd returns the byte offset just past the n-th whitespace separated
// word of s.
func wordEnd(s string, n int) int {
	inWord := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if inWord && space {
			n--
			if n == 0 {
				return i
			}
		}
		inWord = !space
	}
	return len(s)
}

// sortResults orders by score desc, then Position asc, then DocPath asc.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.DocPath < b.DocPath
	})
}
