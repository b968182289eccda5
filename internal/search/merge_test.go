package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/store"
)

func hitAt(doc string, pos int, text string, score float32) scoredHit {
	return scoredHit{Hit: store.Hit{
		Entry: store.Entry{Chunk: chunk.Chunk{
			ID:            chunk.ID(doc, pos, text),
			Text:          text,
			DocPath:       doc,
			HierarchyPath: []string{"Guide", "Events"},
			Position:      pos,
			ContentType:   chunk.ContentTypeGuide,
		}},
		Score: score,
	}}
}

func TestJoinOverlapping(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{
			name: "shared run is dropped",
			a:    "one two three four five",
			b:    "three four five six seven",
			want: "one two three four five six seven",
		},
		{
			name: "no overlap joins paragraphs",
			a:    "alpha beta",
			b:    "gamma delta",
			want: "alpha beta\n\ngamma delta",
		},
		{
			name: "b contained in tail of a",
			a:    "x y z",
			b:    "y z",
			want: "x y z",
		},
		{
			name: "short coincidence is not overlap",
			a:    "call the handler",
			b:    "handler runs later",
			want: "call the handler\n\nhandler runs later",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, joinOverlapping(tt.a, tt.b))
		})
	}
}

func TestMergeAdjacent_FoldsConsecutivePositions(t *testing.T) {
	// Given two adjacent chunks and one distant chunk of the same document
	hits := []scoredHit{
		hitAt("docs/guide/events.md", 1, "second part", 0.6),
		hitAt("docs/guide/events.md", 0, "first part", 0.9),
		hitAt("docs/guide/events.md", 5, "far away", 0.7),
	}

	// When merging
	results := mergeAdjacent(hits)

	// Then the adjacent pair becomes one result carrying the best score
	require.Len(t, results, 2)
	merged := results[0]
	assert.Equal(t, "first part\n\nsecond part", merged.Text)
	assert.InDelta(t, 0.9, merged.Score, 1e-6)
	assert.Equal(t, 0, merged.Position)
	assert.Equal(t, 1, merged.EndPosition)
	assert.Len(t, merged.ChunkIDs, 2)
	assert.Equal(t, "Guide > Events", merged.Breadcrumb)

	assert.Equal(t, "far away", results[1].Text)
	assert.Equal(t, 5, results[1].Position)
}

func TestMergeAdjacent_DifferentDocumentsStaySeparate(t *testing.T) {
	hits := []scoredHit{
		hitAt("docs/a.md", 0, "a", 0.5),
		hitAt("docs/b.md", 1, "b", 0.5),
	}

	results := mergeAdjacent(hits)

	require.Len(t, results, 2)
	// Equal scores order by position first.
	assert.Equal(t, "docs/a.md", results[0].DocPath)
	assert.Equal(t, "docs/b.md", results[1].DocPath)
}

func TestMergeAdjacent_DegradedFlagPropagates(t *testing.T) {
	degraded := hitAt("docs/a.md", 1, "no vector", 0.2)
	degraded.degraded = true

	results := mergeAdjacent([]scoredHit{hitAt("docs/a.md", 0, "vector", 0.8), degraded})

	require.Len(t, results, 1)
	assert.True(t, results[0].Degraded)
}
