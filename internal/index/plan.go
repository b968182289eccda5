package index

import (
	"sort"

	"github.com/Aman-CERP/docsearch/internal/fetch"
)

// DocState is the per-run state of one document.
type DocState string

const (
	StateNew       DocState = "new"
	StateChanged   DocState = "changed"
	StateUnchanged DocState = "unchanged"
	StateDeleted   DocState = "deleted"
)

// task is one document that needs work this run.
type task struct {
	listing fetch.Listing
	state   DocState
}

// plan is the outcome of comparing a listing with the stored hashes.
type plan struct {
	work      []task
	deleted   []string
	unchanged int
}

// classify compares listed hashes with the stored ones. force turns every
// UNCHANGED document into CHANGED.
func classify(listing []fetch.Listing, stored map[string]string, force bool) plan {
	var p plan
	listed := make(map[string]bool, len(listing))
	for _, l := range listing {
		if listed[l.Path] {
			continue
		}
		listed[l.Path] = true

		prev, ok := stored[l.Path]
		switch {
		case !ok:
			p.work = append(p.work, task{listing: l, state: StateNew})
		case force || prev == "" || prev != l.Hash:
			p.work = append(p.work, task{listing: l, state: StateChanged})
		default:
			p.unchanged++
		}
	}
	for path := range stored {
		if !listed[path] {
			p.deleted = append(p.deleted, path)
		}
	}
	sort.Strings(p.deleted)
	return p
}
