package chunk

import (
	"regexp"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/parse"
)

var tokenPattern = regexp.MustCompile(`\S+\s*`)

// tok is one whitespace-delimited token with its trailing whitespace, tagged
// with the index of the node it came from.
type tok struct {
	text string
	node int
}

// piece is a run of prose tokens that becomes one chunk.
type piece struct {
	toks []tok
	// anchor is the index of the first token not copied from the previous window.
	anchor int
}

// proseTokens tokenizes one prose node. The node's last token ends with a
// paragraph break so chunk text keeps block boundaries.
func proseTokens(n parse.Node, idx int) []tok {
	matches := tokenPattern.FindAllString(n.Text, -1)
	out := make([]tok, len(matches))
	for i, m := range matches {
		out[i] = tok{text: m, node: idx}
	}
	if k := len(out); k > 0 {
		sep := "\n\n"
		if n.Kind == parse.KindListItem {
			sep = "\n"
		}
		out[k-1].text = strings.TrimRight(out[k-1].text, " \t\r\n") + sep
	}
	return out
}

func concatToks(a, b []tok) []tok {
	out := make([]tok, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// window splits toks into windows of at most maxTokens, copying overlap
// trailing tokens into the next window. The final window is shifted back so
// it is always full length.
func window(toks []tok, maxTokens, overlap int) []piece {
	n := len(toks)
	if n <= maxTokens {
		return []piece{{toks: toks}}
	}
	if overlap >= maxTokens {
		overlap = maxTokens - 1
	}

	var out []piece
	prevEnd := 0
	for start := 0; ; {
		end := start + maxTokens
		if end >= n {
			start, end = n-maxTokens, n
		}
		out = append(out, piece{toks: toks[start:end], anchor: prevEnd - start})
		if end == n {
			return out
		}
		prevEnd = end
		start = end - overlap
	}
}

// sizer enforces the size rules shared by every prose strategy: no piece
// above max, and no piece below min unless it is the only one.
type sizer struct {
	max, min, overlap int
}

func (s sizer) normalize(pieces []piece) []piece {
	var out []piece
	push := func(p piece) {
		if len(p.toks) <= s.max {
			out = append(out, p)
			return
		}
		windows := window(p.toks, s.max, s.overlap)
		if p.anchor < len(windows[0].toks) {
			windows[0].anchor = p.anchor
		}
		out = append(out, windows...)
	}

	for _, p := range pieces {
		if len(p.toks) == 0 {
			continue
		}
		if k := len(out); k > 0 && len(out[k-1].toks) < s.min {
			last := out[k-1]
			out = out[:k-1]
			push(piece{toks: concatToks(last.toks, p.toks), anchor: last.anchor})
			continue
		}
		push(p)
	}

	// A short tail merges backward into its predecessor.
	if k := len(out); k > 1 && len(out[k-1].toks) < s.min {
		prev, last := out[k-2], out[k-1]
		out = out[:k-2]
		push(piece{toks: concatToks(prev.toks, last.toks), anchor: prev.anchor})
	}
	return out
}

func (p piece) text() string {
	var sb strings.Builder
	for _, t := range p.toks {
		sb.WriteString(t.text)
	}
	return strings.TrimSpace(sb.String())
}

// anchorNode is the node that owns the piece's first new token.
func (p piece) anchorNode() int {
	i := p.anchor
	if i >= len(p.toks) {
		i = len(p.toks) - 1
	}
	if i < 0 {
		i = 0
	}
	return p.toks[i].node
}
