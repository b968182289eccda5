package fetch

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/pathglob"
	"github.com/Aman-CERP/docsearch/pkg/version"
)

// DefaultHTTPTimeout bounds a single GitHub API request.
const DefaultHTTPTimeout = 30 * time.Second

// GitHubConfig selects the documents of one repository.
type GitHubConfig struct {
	Owner string
	Repo  string
	// Ref is a branch, tag or commit (default: main).
	Ref     string
	Include []string
	Exclude []string
	// Token is optional; unauthenticated calls get a much smaller budget.
	Token   string
	Timeout time.Duration
}

// GitHubSource reads markdown files from a GitHub repository through the
// git data API: one recursive tree call for the listing and one blob call
// per document.
type GitHubSource struct {
	client  *gh.Client
	cfg     GitHubConfig
	filter  *pathglob.Set
	limiter *RateLimiter
	logger  *slog.Logger
}

// GitHubOption configures a GitHubSource.
type GitHubOption func(*GitHubSource)

// WithBaseURL points the client at another API root, such as a GitHub
// Enterprise server or a test server.
func WithBaseURL(raw string) GitHubOption {
	return func(s *GitHubSource) {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		if u, err := url.Parse(raw); err == nil {
			s.client.BaseURL = u
		}
	}
}

// WithRateLimiter shares a limiter between sources.
func WithRateLimiter(l *RateLimiter) GitHubOption {
	return func(s *GitHubSource) {
		s.limiter = l
	}
}

// WithGitHubLogger sets the logger.
func WithGitHubLogger(l *slog.Logger) GitHubOption {
	return func(s *GitHubSource) {
		s.logger = l
	}
}

// NewGitHubSource creates a source. The include/exclude globs are validated
// here.
func NewGitHubSource(ctx context.Context, cfg GitHubConfig, opts ...GitHubOption) (*GitHubSource, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.ConfigError("github source needs owner and repo", nil)
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	filter, err := pathglob.NewSet(cfg.Include, cfg.Exclude)
	if err != nil {
		return nil, errors.ConfigError("invalid source glob", err)
	}

	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	} else {
		httpClient = &http.Client{}
	}
	httpClient.Timeout = cfg.Timeout

	s := &GitHubSource{
		client:  gh.NewClient(httpClient),
		cfg:     cfg,
		filter:  filter,
		limiter: NewRateLimiter(DefaultRate, 1),
		logger:  slog.Default(),
	}
	s.client.UserAgent = version.UserAgent()
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns "github:owner/repo@ref".
func (s *GitHubSource) Name() string {
	return fmt.Sprintf("github:%s/%s@%s", s.cfg.Owner, s.cfg.Repo, s.cfg.Ref)
}

// List returns the selected blobs of the ref's tree.
func (s *GitHubSource) List(ctx context.Context) ([]Listing, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	tree, resp, err := s.client.Git.GetTree(ctx, s.cfg.Owner, s.cfg.Repo, s.cfg.Ref, true)
	s.observe(resp)
	if err != nil {
		return nil, s.mapError(ctx, err, "list "+s.Name())
	}
	if tree.GetTruncated() {
		s.logger.Warn("github_tree_truncated", slog.String("source", s.Name()))
	}

	var out []Listing
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" || !s.filter.Match(entry.GetPath()) {
			continue
		}
		out = append(out, Listing{
			Path: entry.GetPath(),
			Hash: entry.GetSHA(),
			Size: int64(entry.GetSize()),
		})
	}
	return out, nil
}

// Read fetches a blob by SHA, or the file at the ref when the SHA is unknown.
func (s *GitHubSource) Read(ctx context.Context, l Listing) ([]byte, time.Time, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, time.Time{}, err
	}

	if l.Hash == "" {
		content, _, resp, err := s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, l.Path,
			&gh.RepositoryContentGetOptions{Ref: s.cfg.Ref})
		s.observe(resp)
		if err != nil {
			return nil, time.Time{}, s.mapError(ctx, err, l.Path)
		}
		if content == nil {
			return nil, time.Time{}, errors.NotFound(l.Path, fmt.Errorf("path is a directory"))
		}
		text, err := content.GetContent()
		if err != nil {
			return nil, time.Time{}, errors.New(errors.ErrCodeParseMalformed, "cannot decode "+l.Path, err)
		}
		return []byte(text), time.Time{}, nil
	}

	blob, resp, err := s.client.Git.GetBlob(ctx, s.cfg.Owner, s.cfg.Repo, l.Hash)
	s.observe(resp)
	if err != nil {
		return nil, time.Time{}, s.mapError(ctx, err, l.Path)
	}
	content, err := decodeBlob(blob)
	if err != nil {
		return nil, time.Time{}, errors.New(errors.ErrCodeParseMalformed, "cannot decode "+l.Path, err)
	}
	return content, time.Time{}, nil
}

func decodeBlob(blob *gh.Blob) ([]byte, error) {
	if blob.GetEncoding() == "base64" {
		return base64.StdEncoding.DecodeString(strings.ReplaceAll(blob.GetContent(), "\n", ""))
	}
	return []byte(blob.GetContent()), nil
}

func (s *GitHubSource) observe(resp *gh.Response) {
	if resp != nil && resp.Response != nil {
		s.limiter.UpdateFromResponse(resp.Response)
	}
}

// mapError converts go-github errors into fetch error kinds.
func (s *GitHubSource) mapError(ctx context.Context, err error, what string) error {
	var rateErr *gh.RateLimitError
	if stderrors.As(err, &rateErr) {
		return errors.RateLimited("github rate limit exceeded for "+what, err).
			WithDetail("reset", rateErr.Rate.Reset.Time.Format(time.RFC3339))
	}
	var abuseErr *gh.AbuseRateLimitError
	if stderrors.As(err, &abuseErr) {
		return errors.RateLimited("github secondary rate limit hit for "+what, err)
	}

	var respErr *gh.ErrorResponse
	if stderrors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusNotFound:
			return errors.NotFound(what, err)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return errors.New(errors.ErrCodeFetchUnauthorized, "github refused access to "+what, err).
				WithSuggestion("Check GITHUB_TOKEN and its repository access")
		case code == http.StatusTooManyRequests:
			return errors.RateLimited("github rate limit exceeded for "+what, err)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.Network("github request failed for "+what, err)
}
