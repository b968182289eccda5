package chunk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/parse"
)

// allProse concatenates the prose of every node in order.
func allProse(nodes []parse.Node) []tok {
	var out []tok
	for i, n := range nodes {
		if n.IsProse() {
			out = append(out, proseTokens(n, i)...)
		}
	}
	return out
}

// atomic handles code documents. Code blocks are emitted by the caller, so
// only the surrounding prose is left, and it is windowed.
func (c *Chunker) atomic(ctx context.Context, req request) ([]piece, error) {
	return c.windowed(ctx, req)
}

// windowed splits the whole prose stream into overlapping fixed-size windows.
func (c *Chunker) windowed(_ context.Context, req request) ([]piece, error) {
	toks := allProse(req.nodes)
	if len(toks) == 0 {
		return nil, nil
	}
	return c.sizer().normalize([]piece{{toks: toks}}), nil
}

// hierarchical cuts the prose at headings up to the split level, windows any
// segment over budget, and merges undersized segments forward.
func (c *Chunker) hierarchical(_ context.Context, req request) ([]piece, error) {
	level := c.opts.HeadingSplitLevel
	if req.contentType == ContentTypeReference && c.opts.ReferenceHeadingLevel > 0 {
		level = c.opts.ReferenceHeadingLevel
	}
	if level <= 0 {
		level = 2
	}

	var segments []piece
	var cur []tok
	for i, n := range req.nodes {
		switch {
		case n.Kind == parse.KindHeading && n.Level <= level:
			if len(cur) > 0 {
				segments = append(segments, piece{toks: cur})
			}
			cur = nil
		case n.IsProse():
			cur = append(cur, proseTokens(n, i)...)
		}
	}
	if len(cur) > 0 {
		segments = append(segments, piece{toks: cur})
	}
	return c.sizer().normalize(segments), nil
}

type sentence struct {
	toks []tok
}

func (s sentence) text() string {
	var sb strings.Builder
	for _, t := range s.toks {
		sb.WriteString(t.text)
	}
	return strings.TrimSpace(sb.String())
}

// splitSentences cuts each prose node after tokens ending in . ! or ?.
// A sentence never spans two nodes.
func splitSentences(nodes []parse.Node) []sentence {
	var out []sentence
	for i, n := range nodes {
		if !n.IsProse() {
			continue
		}
		var cur []tok
		for _, t := range proseTokens(n, i) {
			cur = append(cur, t)
			word := strings.TrimRight(t.text, " \t\r\n")
			word = strings.TrimRight(word, `"')]*_`)
			if strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?") {
				out = append(out, sentence{toks: cur})
				cur = nil
			}
		}
		if len(cur) > 0 {
			out = append(out, sentence{toks: cur})
		}
	}
	return out
}

// semantic groups adjacent sentences while they stay similar to the running
// group. It needs a SentenceEmbedder; without one it reports
// ErrStrategyUnavailable so the fallback chain engages.
func (c *Chunker) semantic(ctx context.Context, req request) ([]piece, error) {
	sents := splitSentences(req.nodes)
	if len(sents) == 0 {
		return nil, nil
	}
	if c.sentences == nil {
		return nil, errors.New(errors.ErrCodeStrategyUnavailable, "sentence similarity unavailable", nil)
	}

	texts := make([]string, len(sents))
	for i, s := range sents {
		texts[i] = s.text()
	}
	vecs, err := c.sentences.EmbedSentences(ctx, texts)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStrategyUnavailable, "sentence embedding failed", err)
	}
	if len(vecs) != len(texts) {
		return nil, errors.New(errors.ErrCodeStrategyUnavailable,
			fmt.Sprintf("sentence embedder returned %d vectors for %d sentences", len(vecs), len(texts)), nil)
	}

	threshold := c.opts.SemanticThreshold
	if threshold <= 0 {
		threshold = adaptiveThreshold(vecs)
	}

	var groups []piece
	cur := piece{toks: sents[0].toks}
	centroid := addVec(nil, vecs[0])
	for i := 1; i < len(sents); i++ {
		fits := len(cur.toks)+len(sents[i].toks) <= c.opts.MaxTokens
		if fits && cosine(centroid, vecs[i]) >= threshold {
			cur.toks = concatToks(cur.toks, sents[i].toks)
			centroid = addVec(centroid, vecs[i])
			continue
		}
		groups = append(groups, cur)
		cur = piece{toks: sents[i].toks}
		centroid = addVec(nil, vecs[i])
	}
	groups = append(groups, cur)

	return c.sizer().normalize(groups), nil
}

// adaptiveThreshold is the 25th percentile of adjacent-sentence similarity,
// so roughly a quarter of sentence boundaries become group boundaries.
func adaptiveThreshold(vecs [][]float32) float64 {
	if len(vecs) < 2 {
		return 0
	}
	sims := make([]float64, 0, len(vecs)-1)
	for i := 1; i < len(vecs); i++ {
		sims = append(sims, cosine(vecs[i-1], vecs[i]))
	}
	sort.Float64s(sims)
	return sims[(len(sims)-1)/4]
}

func addVec(acc, v []float32) []float32 {
	if acc == nil {
		acc = make([]float32, len(v))
	}
	for i := range v {
		if i < len(acc) {
			acc[i] += v[i]
		}
	}
	return acc
}

// cosine tolerates unnormalized and zero vectors.
func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
