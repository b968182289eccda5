package parse

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Result is the outcome of parsing one document.
type Result struct {
	Nodes []Node
	// Malformed counts spans that were recovered as raw paragraphs.
	Malformed int
}

// Parser converts markdown to structural nodes. The zero value is not usable;
// create one with NewParser. Safe for concurrent use.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a markdown parser.
func NewParser() *Parser {
	return &Parser{logger: slog.Default()}
}

// WithLogger returns a copy of p logging to logger.
func (p *Parser) WithLogger(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse never fails: anything it cannot interpret is emitted as plain paragraphs.
func (p *Parser) Parse(content []byte) Result {
	var res Result

	if !utf8.Valid(content) {
		content = bytes.ToValidUTF8(content, []byte("�"))
		res.Malformed++
		p.logger.Warn("parse_invalid_utf8")
	}
	src := stripFrontMatter(content)

	doc, err := parseTree(src)
	if err != nil {
		p.logger.Warn("parse_malformed", slog.String("error", err.Error()))
		res.Malformed++
		res.Nodes = rawParagraphs(src, nil)
		return res
	}

	p.walkBlocks(doc, &walker{src: src}, &res)
	return res
}

// walkBlocks converts each top-level block. Everything from a block whose
// walk fails onward becomes raw text; nodes the failing block had already
// produced are discarded first.
func (p *Parser) walkBlocks(doc ast.Node, w *walker, res *Result) {
	for block := doc.FirstChild(); block != nil; block = block.NextSibling() {
		mark, h := len(w.nodes), w.h
		if err := w.visitSafely(block); err != nil {
			res.Malformed++
			p.logger.Warn("parse_malformed", slog.String("error", err.Error()))
			w.nodes, w.h = w.nodes[:mark], h
			if start, ok := blockStart(block); ok {
				w.nodes = append(w.nodes, rawParagraphs(w.src[start:], w.h.current())...)
			}
			break
		}
	}
	res.Nodes = w.nodes
}

func parseTree(src []byte) (doc ast.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("markdown parser panic: %v", r)
		}
	}()
	md := goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))
	return md.Parser().Parse(text.NewReader(src)), nil
}

type walker struct {
	src   []byte
	h     hierarchy
	nodes []Node
	// onEnter, when set, sees every node before it is converted.
	onEnter func(ast.Node)
}

func (w *walker) visitSafely(block ast.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("walk %s: %v", block.Kind(), r)
		}
	}()
	return ast.Walk(block, w.visit)
}

func (w *walker) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	if w.onEnter != nil {
		w.onEnter(n)
	}

	switch node := n.(type) {
	case *ast.Heading:
		txt := strings.TrimSpace(inlineText(node, w.src))
		if txt == "" {
			return ast.WalkSkipChildren, nil
		}
		w.nodes = append(w.nodes, Node{
			Kind:          KindHeading,
			Level:         node.Level,
			Text:          txt,
			HierarchyPath: w.h.enter(node.Level, txt),
		})
		return ast.WalkSkipChildren, nil

	case *ast.FencedCodeBlock:
		w.emitCode(string(node.Language(w.src)), linesText(node, w.src))
		return ast.WalkSkipChildren, nil

	case *ast.CodeBlock:
		w.emitCode("", linesText(node, w.src))
		return ast.WalkSkipChildren, nil

	case *ast.ListItem:
		var parts []string
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			if isTextBlock(c) {
				parts = append(parts, strings.TrimSpace(inlineText(c, w.src)))
			}
		}
		w.emitProse(KindListItem, strings.Join(parts, " "))
		return ast.WalkContinue, nil

	case *ast.Paragraph, *ast.TextBlock:
		if _, inItem := n.Parent().(*ast.ListItem); inItem {
			return ast.WalkSkipChildren, nil
		}
		w.emitProse(KindParagraph, inlineText(n, w.src))
		return ast.WalkSkipChildren, nil

	case *ast.HTMLBlock:
		w.emitProse(KindParagraph, linesText(node, w.src))
		return ast.WalkSkipChildren, nil

	case *east.Table:
		w.emitProse(KindParagraph, tableText(node, w.src))
		return ast.WalkSkipChildren, nil

	case *ast.ThematicBreak:
		return ast.WalkSkipChildren, nil

	case *ast.Document, *ast.Blockquote, *ast.List:
		return ast.WalkContinue, nil
	}

	if n.Type() == ast.TypeBlock && n.Lines() != nil && n.Lines().Len() > 0 {
		// Unknown block kind from an extension: keep its raw text.
		w.emitProse(KindParagraph, linesText(n, w.src))
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (w *walker) emitProse(kind Kind, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	w.nodes = append(w.nodes, Node{Kind: kind, Text: s, HierarchyPath: w.h.current()})
}

func (w *walker) emitCode(lang, body string) {
	body = strings.TrimRight(body, "\n ")
	if strings.TrimSpace(body) == "" {
		return
	}
	w.nodes = append(w.nodes, Node{
		Kind:          KindCodeBlock,
		Language:      strings.ToLower(strings.TrimSpace(lang)),
		Text:          body,
		HierarchyPath: w.h.current(),
	})
}

func isTextBlock(n ast.Node) bool {
	switch n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return true
	}
	return false
}

// inlineText flattens inline children to plain text, dropping markup and link targets.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.HardLineBreak() {
				sb.WriteByte('\n')
			} else if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.AutoLink:
			sb.Write(t.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

func linesText(n ast.Node, src []byte) string {
	lines := n.Lines()
	if lines == nil {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
	return sb.String()
}

func tableText(t *east.Table, src []byte) string {
	var rows []string
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, strings.TrimSpace(inlineText(cell, src)))
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return strings.Join(rows, "\n")
}

// blockStart finds the source offset of the first line in n or its descendants.
func blockStart(n ast.Node) (int, bool) {
	if n.Type() != ast.TypeBlock {
		return 0, false
	}
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		return lines.At(0).Start, true
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if start, ok := blockStart(c); ok {
			return start, true
		}
	}
	return 0, false
}

// rawParagraphs splits src on blank lines into paragraph nodes.
func rawParagraphs(src []byte, path []string) []Node {
	var nodes []Node
	for _, para := range strings.Split(strings.ReplaceAll(string(src), "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		nodes = append(nodes, Node{Kind: KindParagraph, Text: para, HierarchyPath: path})
	}
	return nodes
}

// stripFrontMatter removes a leading YAML front matter block.
func stripFrontMatter(src []byte) []byte {
	if !bytes.HasPrefix(src, []byte("---\n")) && !bytes.HasPrefix(src, []byte("---\r\n")) {
		return src
	}
	rest := src[bytes.IndexByte(src, '\n')+1:]
	for off := 0; off < len(rest); {
		end := bytes.IndexByte(rest[off:], '\n')
		line := rest[off:]
		if end >= 0 {
			line = rest[off : off+end]
		}
		if string(bytes.TrimRight(line, "\r ")) == "---" {
			if end < 0 {
				return nil
			}
			return rest[off+end+1:]
		}
		if end < 0 {
			break
		}
		off += end + 1
	}
	return src
}
