package chunk

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/parse"
)

// Options sizes chunks. All sizes are whitespace-delimited tokens.
type Options struct {
	MaxTokens       int
	MinTokens       int
	OverlapFraction float64
	// SemanticThreshold of 0 selects the adaptive threshold.
	SemanticThreshold     float64
	HeadingSplitLevel     int
	ReferenceHeadingLevel int
}

// DefaultOptions returns the defaults used by the config layer.
func DefaultOptions() Options {
	return Options{
		MaxTokens:             200,
		MinTokens:             40,
		OverlapFraction:       0.15,
		HeadingSplitLevel:     2,
		ReferenceHeadingLevel: 3,
	}
}

// SentenceEmbedder provides the sentence similarity the semantic strategy needs.
type SentenceEmbedder interface {
	EmbedSentences(ctx context.Context, sentences []string) ([][]float32, error)
}

// SentenceEmbedderFunc adapts a function to SentenceEmbedder.
type SentenceEmbedderFunc func(ctx context.Context, sentences []string) ([][]float32, error)

// EmbedSentences calls f.
func (f SentenceEmbedderFunc) EmbedSentences(ctx context.Context, sentences []string) ([][]float32, error) {
	return f(ctx, sentences)
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSentenceEmbedder enables the semantic strategy.
func WithSentenceEmbedder(se SentenceEmbedder) Option {
	return func(c *Chunker) {
		c.sentences = se
	}
}

// WithLogger sets the logger used for degraded-strategy warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chunker) {
		c.logger = l
	}
}

// WithRegistry overrides the code grammar registry.
func WithRegistry(r *LanguageRegistry) Option {
	return func(c *Chunker) {
		c.registry = r
	}
}

// draft is a chunk before positions are assigned.
type draft struct {
	node int
	text string
	path []string
	lang string
	code bool
}

type strategyFunc func(ctx context.Context, req request) ([]piece, error)

type request struct {
	docPath     string
	nodes       []parse.Node
	contentType ContentType
}

// Chunker dispatches documents to strategies. Safe for concurrent use.
type Chunker struct {
	opts       Options
	sentences  SentenceEmbedder
	logger     *slog.Logger
	registry   *LanguageRegistry
	strategies map[Strategy]strategyFunc
}

// New creates a Chunker.
func New(opts Options, options ...Option) *Chunker {
	c := &Chunker{
		opts:     opts,
		logger:   slog.Default(),
		registry: DefaultRegistry(),
	}
	for _, o := range options {
		o(c)
	}
	c.strategies = map[Strategy]strategyFunc{
		StrategyAtomic:       c.atomic,
		StrategyWindowed:     c.windowed,
		StrategySemantic:     c.semantic,
		StrategyHierarchical: c.hierarchical,
	}
	return c
}

func (c *Chunker) sizer() sizer {
	overlap := int(float64(c.opts.MaxTokens) * c.opts.OverlapFraction)
	return sizer{max: c.opts.MaxTokens, min: c.opts.MinTokens, overlap: overlap}
}

// Chunk splits one document. Code blocks always become atomic chunks; the
// surrounding prose is split by the strategy bound to contentType, or by the
// first fallback that succeeds. Positions increase from 0 in document order.
func (c *Chunker) Chunk(ctx context.Context, docPath string, nodes []parse.Node, contentType ContentType) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	req := request{docPath: docPath, nodes: nodes, contentType: contentType}
	primary := StrategyFor(contentType)
	chain := []Strategy{primary}
	for _, s := range fallbackOrder {
		if s != primary {
			chain = append(chain, s)
		}
	}

	res := Result{}
	var pieces []piece
	var lastErr error
	used := Strategy("")
	for i, s := range chain {
		p, err := c.strategies[s](ctx, req)
		if err == nil {
			pieces, used = p, s
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		lastErr = err
		if i+1 < len(chain) {
			ev := DegradedEvent{DocPath: docPath, From: s, To: chain[i+1], Reason: err.Error()}
			res.Degraded = append(res.Degraded, ev)
			c.logger.Warn("chunk_strategy_degraded",
				slog.String("doc_path", docPath),
				slog.String("from", string(ev.From)),
				slog.String("to", string(ev.To)),
				slog.String("reason", ev.Reason))
		}
	}
	if used == "" {
		return res, fmt.Errorf("%s: %w", docPath, errors.New(errors.ErrCodeStrategyUnavailable,
			"no chunking strategy could run", lastErr))
	}
	res.Strategy = used

	drafts := c.codeDrafts(ctx, nodes)
	for _, p := range pieces {
		node := p.anchorNode()
		drafts = append(drafts, draft{node: node, text: p.text(), path: nodes[node].HierarchyPath})
	}
	res.Chunks = assign(docPath, contentType, drafts)
	return res, nil
}

// codeDrafts turns every code block into one or more atomic drafts.
func (c *Chunker) codeDrafts(ctx context.Context, nodes []parse.Node) []draft {
	var out []draft
	for i, n := range nodes {
		if n.Kind != parse.KindCodeBlock {
			continue
		}
		code := trimBlock(n.Text)
		if code == "" {
			continue
		}
		lang := n.Language
		if canon, ok := c.registry.Canonical(lang); ok {
			lang = canon
		}
		for _, part := range c.splitCode(ctx, code, lang) {
			out = append(out, draft{node: i, text: part, path: n.HierarchyPath, lang: lang, code: true})
		}
	}
	return out
}

// assign orders drafts by source node and gives them positions and ids.
// Positions are computed here, within one call, so they are always contiguous.
func assign(docPath string, ct ContentType, drafts []draft) []Chunk {
	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].node < drafts[j].node
	})

	chunks := make([]Chunk, 0, len(drafts))
	for _, d := range drafts {
		if d.text == "" {
			continue
		}
		pos := len(chunks)
		c := Chunk{
			ID:            ID(docPath, pos, d.text),
			Text:          d.text,
			DocPath:       docPath,
			HierarchyPath: d.path,
			Position:      pos,
			ContentType:   ct,
			Language:      d.lang,
			TokenCount:    CountTokens(d.text),
			Atomic:        d.code,
		}
		if d.code {
			c.ContentType = ContentTypeCode
		}
		chunks = append(chunks, c)
	}
	return chunks
}

// IsStrategyUnavailable reports whether err means no strategy could run.
func IsStrategyUnavailable(err error) bool {
	return stderrors.Is(err, errors.ErrStrategyUnavailable)
}
