package embed

import (
	"context"
	"sync"
	"time"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// InitFunc builds the Embedder behind a Shared handle.
type InitFunc func(ctx context.Context) (*Embedder, error)

// DefaultInitBackoff is how long a failed init is answered from memory
// before the next Get tries again.
const DefaultInitBackoff = 5 * time.Second

// Shared is a lazily initialized, process-wide Embedder. The first Get runs
// init while concurrent callers wait. A failed init is remembered only for
// the backoff window; the first Get after it tries again.
type Shared struct {
	modelID string
	init    InitFunc
	backoff time.Duration
	now     func() time.Time

	mu       sync.Mutex
	embedder *Embedder
	closed   bool
	failErr  error
	failedAt time.Time
}

// SharedOption configures a Shared handle.
type SharedOption func(*Shared)

// WithInitBackoff sets how long a failed init is reused. Zero retries on
// every Get.
func WithInitBackoff(d time.Duration) SharedOption {
	return func(s *Shared) {
		s.backoff = max(d, 0)
	}
}

// NewShared creates a handle. modelID must match the ModelID of the Embedder
// init returns; it is known before init so cached vectors can be served while
// the backend is down.
func NewShared(modelID string, init InitFunc, opts ...SharedOption) *Shared {
	s := &Shared{
		modelID: modelID,
		init:    init,
		backoff: DefaultInitBackoff,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelID returns the model id vectors are cached under.
func (s *Shared) ModelID() string {
	return s.modelID
}

// Get returns the Embedder, initializing it on first use.
func (s *Shared) Get(ctx context.Context) (*Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.EmbedUnavailable("embedder is closed", nil)
	}
	if s.embedder != nil {
		return s.embedder, nil
	}
	if s.failErr != nil && s.now().Sub(s.failedAt) < s.backoff {
		return nil, s.failErr
	}
	e, err := s.init(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if errors.GetCode(err) == "" {
			err = errors.EmbedUnavailable("embedder initialization failed", err)
		}
		s.failErr, s.failedAt = err, s.now()
		return nil, err
	}
	s.embedder = e
	s.failErr = nil
	return e, nil
}

// Embed is Get followed by Embed.
func (s *Shared) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	e, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, texts, mode)
}

// EmbedSentences lets a Shared handle drive semantic chunking.
func (s *Shared) EmbedSentences(ctx context.Context, sentences []string) ([][]float32, error) {
	return s.Embed(ctx, sentences, ModeDocument)
}

// Close tears down the Embedder if it was built. Later Gets fail.
func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.embedder == nil {
		return nil
	}
	err := s.embedder.Close()
	s.embedder = nil
	return err
}
