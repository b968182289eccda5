// Package fetch lists and retrieves source documents from a content store.
//
// A Source knows how to talk to one kind of store (a GitHub repository or a
// local directory). The Fetcher wraps a Source with a content cache keyed by
// (path, hash) and retries transient failures with backoff. NotFound is
// never retried: it tells the indexer the document is gone.
package fetch

import (
	"context"
	"time"
)

// SourceDocument is one fetched document.
type SourceDocument struct {
	Path         string
	Content      []byte
	Hash         string
	LastModified time.Time
}

// Listing is one entry of a source listing. Hash is the change-detection
// key: the blob SHA for GitHub, sha256 of the bytes for a directory.
type Listing struct {
	Path string
	Hash string
	Size int64
}

// Paths returns the paths of a listing, in order.
func Paths(listing []Listing) []string {
	out := make([]string, len(listing))
	for i, l := range listing {
		out[i] = l.Path
	}
	return out
}

// Source is a content store.
type Source interface {
	// Name identifies the source in logs, e.g. "github:Textualize/textual@main".
	Name() string

	// List returns every selected document with its current hash.
	List(ctx context.Context) ([]Listing, error)

	// Read returns the content of one document. l.Hash may be empty when the
	// document was not in a listing.
	Read(ctx context.Context, l Listing) (content []byte, modified time.Time, err error)
}

// Cache stores the last fetched content per path.
type Cache interface {
	Get(ctx context.Context, path string) (SourceDocument, bool, error)
	Put(ctx context.Context, doc SourceDocument) error
	Delete(ctx context.Context, path string) error
}
