package chunk

import (
	"context"
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// trimBlock drops surrounding blank lines and trailing whitespace but keeps
// the first line's indentation.
func trimBlock(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 || strings.TrimSpace(s[:i]) != "" {
			return s
		}
		s = s[i+1:]
	}
}

// splitCode returns the code block unchanged when it fits, otherwise
// contiguous line-aligned parts of at most maxTokens each. A single line
// longer than maxTokens becomes its own part. Top-level declaration starts
// are preferred as cut points when the language has a grammar.
func (c *Chunker) splitCode(ctx context.Context, code, lang string) []string {
	if CountTokens(code) <= c.opts.MaxTokens {
		return []string{code}
	}

	lines := strings.SplitAfter(code, "\n")
	var units [][]string
	for _, u := range c.declarationUnits(ctx, code, lang, lines) {
		if countLines(u) > c.opts.MaxTokens {
			for _, l := range u {
				units = append(units, []string{l})
			}
			continue
		}
		units = append(units, u)
	}

	var parts []string
	var cur []string
	curTokens := 0
	flush := func() {
		if text := trimBlock(strings.Join(cur, "")); text != "" {
			parts = append(parts, text)
		}
		cur, curTokens = nil, 0
	}
	for _, u := range units {
		n := countLines(u)
		if curTokens > 0 && curTokens+n > c.opts.MaxTokens {
			flush()
		}
		cur = append(cur, u...)
		curTokens += n
	}
	flush()
	return parts
}

func countLines(lines []string) int {
	n := 0
	for _, l := range lines {
		n += CountTokens(l)
	}
	return n
}

// declarationUnits groups lines by top-level syntax node. Without a grammar,
// or when parsing fails, every line is its own unit.
func (c *Chunker) declarationUnits(ctx context.Context, code, lang string, lines []string) [][]string {
	perLine := func() [][]string {
		out := make([][]string, len(lines))
		for i, l := range lines {
			out[i] = []string{l}
		}
		return out
	}

	grammar, ok := c.registry.Grammar(lang)
	if !ok {
		return perLine()
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, []byte(code))
	if err != nil || tree == nil {
		c.logger.Debug("code_parse_failed", slog.String("language", lang))
		return perLine()
	}
	root := tree.RootNode()

	starts := make([]int, 0, root.NamedChildCount())
	for i := 0; i < int(root.NamedChildCount()); i++ {
		row := int(root.NamedChild(i).StartPoint().Row)
		if row > 0 && (len(starts) == 0 || row > starts[len(starts)-1]) {
			starts = append(starts, row)
		}
	}

	var units [][]string
	prev := 0
	for _, row := range starts {
		if row >= len(lines) {
			break
		}
		units = append(units, lines[prev:row])
		prev = row
	}
	return append(units, lines[prev:])
}
