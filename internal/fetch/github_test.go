package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int    `json:"size"`
}

// githubServer fakes the git data endpoints of one repository.
func githubServer(t *testing.T, entries []treeEntry, blobs map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var blobCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/docs/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("recursive") == "" {
			http.Error(w, "expected recursive", http.StatusBadRequest)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", "4999")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sha":       "root",
			"tree":      entries,
			"truncated": false,
		})
	})
	mux.HandleFunc("/repos/acme/docs/git/blobs/", func(w http.ResponseWriter, r *http.Request) {
		blobCalls.Add(1)
		sha := r.URL.Path[len("/repos/acme/docs/git/blobs/"):]
		content, ok := blobs[sha]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sha":      sha,
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
			"encoding": "base64",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &blobCalls
}

func newTestGitHubSource(t *testing.T, baseURL string, include, exclude []string) *GitHubSource {
	t.Helper()
	src, err := NewGitHubSource(context.Background(), GitHubConfig{
		Owner:   "acme",
		Repo:    "docs",
		Include: include,
		Exclude: exclude,
	}, WithBaseURL(baseURL), WithRateLimiter(NewRateLimiter(1000, 100)))
	require.NoError(t, err)
	return src
}

func TestGitHubSource_ListFiltersBlobs(t *testing.T) {
	// Given a tree with docs, a blog post, a directory and a non-markdown file
	srv, _ := githubServer(t, []treeEntry{
		{Path: "docs", Type: "tree", SHA: "t1"},
		{Path: "docs/guide/app.md", Type: "blob", SHA: "b1", Size: 12},
		{Path: "docs/blog/post.md", Type: "blob", SHA: "b2", Size: 5},
		{Path: "docs/img.png", Type: "blob", SHA: "b3", Size: 99},
		{Path: "README.md", Type: "blob", SHA: "b4", Size: 3},
	}, nil)
	src := newTestGitHubSource(t, srv.URL, []string{"docs/**/*.md"}, []string{"docs/blog/**"})

	// When listed
	listing, err := src.List(context.Background())

	// Then only the selected markdown blob remains, hashed by blob SHA
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.Equal(t, Listing{Path: "docs/guide/app.md", Hash: "b1", Size: 12}, listing[0])
	assert.Equal(t, 4999, src.limiter.Remaining())
}

func TestGitHubSource_ReadDecodesBlob(t *testing.T) {
	srv, _ := githubServer(t, nil, map[string]string{"b1": "# Guide\n\nHello."})
	src := newTestGitHubSource(t, srv.URL, nil, nil)

	content, _, err := src.Read(context.Background(), Listing{Path: "docs/guide.md", Hash: "b1"})

	require.NoError(t, err)
	assert.Equal(t, "# Guide\n\nHello.", string(content))
}

func TestGitHubSource_ReadMissingBlobIsNotFound(t *testing.T) {
	srv, _ := githubServer(t, nil, map[string]string{})
	src := newTestGitHubSource(t, srv.URL, nil, nil)

	_, _, err := src.Read(context.Background(), Listing{Path: "docs/gone.md", Hash: "dead"})

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNotFound))
}

func TestGitHubSource_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"unauthorized", http.StatusUnauthorized, errors.ErrCodeFetchUnauthorized},
		{"too many requests", http.StatusTooManyRequests, errors.ErrCodeFetchRateLimited},
		{"server error", http.StatusBadGateway, errors.ErrCodeFetchNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given an API that answers with the status
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()
			src := newTestGitHubSource(t, srv.URL, nil, nil)

			// When listing
			_, err := src.List(context.Background())

			// Then the error carries the mapped code
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.GetCode(err))
		})
	}
}

func TestGitHubSource_FetcherUsesBlobCache(t *testing.T) {
	// Given a fetcher over a GitHub source
	srv, blobCalls := githubServer(t, []treeEntry{
		{Path: "docs/a.md", Type: "blob", SHA: "b1", Size: 3},
	}, map[string]string{"b1": "# A"})
	f := newTestFetcher(newTestGitHubSource(t, srv.URL, nil, nil))
	ctx := context.Background()

	// When the same listing is fetched twice
	_, err := f.List(ctx)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, "docs/a.md")
	require.NoError(t, err)
	doc, err := f.Fetch(ctx, "docs/a.md")

	// Then only one blob request is made
	require.NoError(t, err)
	assert.Equal(t, "# A", string(doc.Content))
	assert.Equal(t, int32(1), blobCalls.Load())
}

func TestNewGitHubSource_Validation(t *testing.T) {
	_, err := NewGitHubSource(context.Background(), GitHubConfig{Owner: "acme"})
	assert.True(t, stderrors.Is(err, errors.ErrConfigInvalid))

	_, err = NewGitHubSource(context.Background(), GitHubConfig{Owner: "acme", Repo: "docs", Include: []string{" "}})
	assert.True(t, stderrors.Is(err, errors.ErrConfigInvalid))

	src, err := NewGitHubSource(context.Background(), GitHubConfig{Owner: "acme", Repo: "docs", Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "github:acme/docs@main", src.Name())
}
