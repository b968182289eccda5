package index

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/docsearch/internal/fetch"
)

func TestClassify(t *testing.T) {
	listing := []fetch.Listing{
		{Path: "new.md", Hash: "n1"},
		{Path: "same.md", Hash: "s1"},
		{Path: "edited.md", Hash: "e2"},
		{Path: "retry.md", Hash: "r1"},
		{Path: "same.md", Hash: "s1"},
	}
	stored := map[string]string{
		"same.md":   "s1",
		"edited.md": "e1",
		"retry.md":  "",
		"gone.md":   "g1",
		"also.md":   "a1",
	}

	t.Run("by hash", func(t *testing.T) {
		p := classify(listing, stored, false)

		states := map[string]DocState{}
		for _, w := range p.work {
			states[w.listing.Path] = w.state
		}
		assert.Equal(t, map[string]DocState{
			"new.md":    StateNew,
			"edited.md": StateChanged,
			"retry.md":  StateChanged,
		}, states)
		assert.Equal(t, 1, p.unchanged)
		assert.Equal(t, []string{"also.md", "gone.md"}, p.deleted)
	})

	t.Run("force", func(t *testing.T) {
		p := classify(listing, stored, true)

		assert.Len(t, p.work, 4)
		assert.Zero(t, p.unchanged)
	})
}

func TestRunLock_UnlockIsIdempotent(t *testing.T) {
	l := NewRunLock(t.TempDir())

	assert.NoError(t, l.Unlock())
	assert.NoError(t, l.TryLock())
	assert.NoError(t, l.Unlock())
	assert.NoError(t, l.Unlock())
}
