package chunk

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/smacker/go-tree-sitter/golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/parse"
)

func words(prefix string, n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(w, " ")
}

func parseDoc(t *testing.T, src string) []parse.Node {
	t.Helper()
	return parse.NewParser().Parse([]byte(src)).Nodes
}

func testOptions(max, min int) Options {
	opts := DefaultOptions()
	opts.MaxTokens = max
	opts.MinTokens = min
	return opts
}

// topicEmbedder maps sentences mentioning "cat" and "car" to orthogonal vectors.
var topicEmbedder = SentenceEmbedderFunc(func(_ context.Context, sentences []string) ([][]float32, error) {
	out := make([][]float32, len(sentences))
	for i, s := range sentences {
		switch {
		case strings.Contains(strings.ToLower(s), "cat"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(strings.ToLower(s), "car"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
})

func TestChunk_TitleIntroCodeYieldsProseAndCodeChunks(t *testing.T) {
	// Given: a titled document with a 50-token intro and a python block
	src := "# Title\n\n" + words("intro", 50) + "\n\n```python\nprint(1)\n```\n"
	c := New(testOptions(200, 40))

	// When: chunking with the generic strategy
	res, err := c.Chunk(context.Background(), "docs/index.md", parseDoc(t, src), ContentTypeGeneric)

	// Then: one prose chunk under Title and one atomic code chunk
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)

	prose, code := res.Chunks[0], res.Chunks[1]
	assert.Equal(t, []string{"Title"}, prose.HierarchyPath)
	assert.Equal(t, ContentTypeGeneric, prose.ContentType)
	assert.Equal(t, 50, prose.TokenCount)
	assert.False(t, prose.Atomic)

	assert.Equal(t, ContentTypeCode, code.ContentType)
	assert.Equal(t, "print(1)", code.Text)
	assert.Equal(t, "python", code.Language)
	assert.True(t, code.Atomic)
	assert.Equal(t, StrategyWindowed, res.Strategy)
	assert.Empty(t, res.Degraded)
}

func TestChunk_RegistryResolvesCodeLanguage(t *testing.T) {
	// Given: a registry that knows "gopher" as an alias for go
	reg := NewLanguageRegistry()
	reg.Register("go", golang.GetLanguage(), "golang", "gopher")
	src := "```gopher\nfunc main() {}\n```\n"

	// When: chunking with the default and the custom registry
	plain, err := New(testOptions(200, 40)).Chunk(context.Background(), "docs/examples/main.md", parseDoc(t, src), ContentTypeCode)
	require.NoError(t, err)
	custom, err := New(testOptions(200, 40), WithRegistry(reg)).Chunk(context.Background(), "docs/examples/main.md", parseDoc(t, src), ContentTypeCode)
	require.NoError(t, err)

	// Then: only the custom registry canonicalizes the info string
	require.Len(t, plain.Chunks, 1)
	require.Len(t, custom.Chunks, 1)
	assert.Equal(t, "gopher", plain.Chunks[0].Language)
	assert.Equal(t, "go", custom.Chunks[0].Language)
}

func TestChunk_IsDeterministic(t *testing.T) {
	src := "# A\n\n" + words("a", 120) + "\n\n## B\n\n" + words("b", 90) + "\n"
	nodes := parseDoc(t, src)
	c := New(testOptions(50, 10))

	first, err := c.Chunk(context.Background(), "docs/guide/x.md", nodes, ContentTypeGuide)
	require.NoError(t, err)
	second, err := New(testOptions(50, 10)).Chunk(context.Background(), "docs/guide/x.md", nodes, ContentTypeGuide)
	require.NoError(t, err)

	assert.Equal(t, first.Chunks, second.Chunks)
	for _, ch := range first.Chunks {
		assert.Equal(t, ID(ch.DocPath, ch.Position, ch.Text), ch.ID)
		assert.Len(t, ch.ID, 32)
	}
}

func TestID_DependsOnEveryInput(t *testing.T) {
	base := ID("docs/a.md", 0, "hello")
	assert.Equal(t, base, ID("docs/a.md", 0, "hello"))
	assert.NotEqual(t, base, ID("docs/b.md", 0, "hello"))
	assert.NotEqual(t, base, ID("docs/a.md", 1, "hello"))
	assert.NotEqual(t, base, ID("docs/a.md", 0, "hello!"))
	// The separator keeps ("a", 10) and ("a1", 0) apart.
	assert.NotEqual(t, ID("a", 10, "x"), ID("a1", 0, "x"))
}

func TestChunk_CodeBlockBelowMaxIsNeverSplit(t *testing.T) {
	// Given: a code document whose block is just under the limit
	var lines []string
	for i := 0; i < 19; i++ {
		lines = append(lines, fmt.Sprintf("x%d = compute(%d)", i, i))
	}
	src := "Intro.\n\n```python\n" + strings.Join(lines, "\n") + "\n```\n"
	c := New(testOptions(60, 10))

	// When: chunking as code
	res, err := c.Chunk(context.Background(), "docs/examples/app.md", parseDoc(t, src), ContentTypeCode)

	// Then: the block is exactly one chunk
	require.NoError(t, err)
	var code []Chunk
	for _, ch := range res.Chunks {
		if ch.Atomic {
			code = append(code, ch)
		}
	}
	require.Len(t, code, 1)
	assert.Equal(t, 57, code[0].TokenCount)
	assert.Equal(t, StrategyAtomic, res.Strategy)
}

func TestChunk_OversizedCodeSplitsAtDeclarations(t *testing.T) {
	// Given: two python functions that together exceed the limit
	fn := func(name string) string {
		var body []string
		for i := 0; i < 12; i++ {
			body = append(body, fmt.Sprintf("    v%d = step(%d)", i, i))
		}
		return "def " + name + "():\n" + strings.Join(body, "\n") + "\n"
	}
	src := "```python\n" + fn("first") + "\n" + fn("second") + "```\n"
	c := New(testOptions(50, 5))

	// When: chunking
	res, err := c.Chunk(context.Background(), "docs/examples/fns.md", parseDoc(t, src), ContentTypeCode)

	// Then: each function is its own chunk, cut at line boundaries
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.True(t, strings.HasPrefix(res.Chunks[0].Text, "def first():"))
	assert.True(t, strings.HasPrefix(res.Chunks[1].Text, "def second():"))
	for _, ch := range res.Chunks {
		assert.LessOrEqual(t, ch.TokenCount, 50)
		assert.True(t, strings.HasSuffix(ch.Text, ")"), "cut must fall on a line boundary")
	}
}

func TestSplitCode_UnknownLanguageSplitsByLines(t *testing.T) {
	c := New(testOptions(10, 2))
	code := "a b c d\ne f g h\ni j k l\nm n o p"

	parts := c.splitCode(context.Background(), code, "brainfuck")

	assert.Equal(t, []string{"a b c d\ne f g h", "i j k l\nm n o p"}, parts)
}

func TestSplitCode_LongSingleLineStandsAlone(t *testing.T) {
	c := New(testOptions(4, 1))
	code := "short\n" + words("w", 9) + "\nend"

	parts := c.splitCode(context.Background(), code, "")

	require.Len(t, parts, 3)
	assert.Equal(t, words("w", 9), parts[1])
}

func TestChunk_WindowedOverlapCarriesTrailingTokens(t *testing.T) {
	// Given: 500 prose tokens, max 100, 10% overlap
	opts := testOptions(100, 20)
	opts.OverlapFraction = 0.1
	c := New(opts)
	nodes := []parse.Node{{Kind: parse.KindParagraph, Text: words("t", 500)}}

	// When: chunking generically
	res, err := c.Chunk(context.Background(), "docs/faq.md", nodes, ContentTypeGeneric)

	// Then: each window starts with the previous window's last 10 tokens
	require.NoError(t, err)
	require.Greater(t, len(res.Chunks), 2)
	for i := 1; i < len(res.Chunks)-1; i++ {
		prev := strings.Fields(res.Chunks[i-1].Text)
		cur := strings.Fields(res.Chunks[i].Text)
		assert.Equal(t, prev[len(prev)-10:], cur[:10])
	}
	last := res.Chunks[len(res.Chunks)-1]
	assert.Equal(t, 100, last.TokenCount)
	assert.True(t, strings.HasSuffix(last.Text, "t499"))
}

func TestChunk_HierarchicalSplitsAtHeadings(t *testing.T) {
	src := "# Guide\n\n## Setup\n\n" + words("setup", 30) + "\n\n## Usage\n\n" + words("usage", 30) + "\n\n### Details\n\n" + words("detail", 5) + "\n"
	c := New(testOptions(100, 10))

	res, err := c.Chunk(context.Background(), "docs/guide/app.md", parseDoc(t, src), ContentTypeGuide)

	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, []string{"Guide", "Setup"}, res.Chunks[0].HierarchyPath)
	assert.Equal(t, []string{"Guide", "Usage"}, res.Chunks[1].HierarchyPath)
	// level-3 heading does not split, so its text stays with Usage
	assert.Contains(t, res.Chunks[1].Text, "detail4")
	assert.Equal(t, StrategyHierarchical, res.Strategy)
}

func TestChunk_ReferenceSplitsAtLevelThree(t *testing.T) {
	src := "## Color\n\n### Syntax\n\n" + words("syn", 20) + "\n\n### Values\n\n" + words("val", 20) + "\n"
	c := New(testOptions(100, 10))

	res, err := c.Chunk(context.Background(), "docs/styles/color.md", parseDoc(t, src), ContentTypeReference)

	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, []string{"Color", "Values"}, res.Chunks[1].HierarchyPath)
}

func TestChunk_SmallSegmentsMergeForward(t *testing.T) {
	src := "## A\n\n" + words("a", 3) + "\n\n## B\n\n" + words("b", 3) + "\n\n## C\n\n" + words("c", 30) + "\n"
	c := New(testOptions(100, 10))

	res, err := c.Chunk(context.Background(), "docs/guide/x.md", parseDoc(t, src), ContentTypeGuide)

	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, 36, res.Chunks[0].TokenCount)
	assert.Equal(t, []string{"A"}, res.Chunks[0].HierarchyPath)
}

func TestChunk_SemanticGroupsBySimilarity(t *testing.T) {
	// Given: three cat sentences then three car sentences
	text := "The cat sleeps all day. A cat likes warm places. The cat chases mice at night. " +
		"The car needs fuel to run. A car has four wheels. The car drives on roads."
	opts := testOptions(100, 5)
	opts.SemanticThreshold = 0.5
	c := New(opts, WithSentenceEmbedder(topicEmbedder))

	// When: chunking as API reference
	res, err := c.Chunk(context.Background(), "docs/api/app.md",
		[]parse.Node{{Kind: parse.KindParagraph, Text: text}}, ContentTypeAPI)

	// Then: one chunk per topic
	require.NoError(t, err)
	assert.Equal(t, StrategySemantic, res.Strategy)
	require.Len(t, res.Chunks, 2)
	assert.NotContains(t, res.Chunks[0].Text, "car")
	assert.NotContains(t, res.Chunks[1].Text, "cat")
}

func TestChunk_SemanticWithoutEmbedderDegrades(t *testing.T) {
	// Given: no sentence embedder
	c := New(testOptions(100, 5))

	// When: chunking an API document
	res, err := c.Chunk(context.Background(), "docs/api/app.md",
		[]parse.Node{{Kind: parse.KindParagraph, Text: "The App class. It runs things."}}, ContentTypeAPI)

	// Then: hierarchical runs and the substitution is reported
	require.NoError(t, err)
	assert.Equal(t, StrategyHierarchical, res.Strategy)
	require.Len(t, res.Degraded, 1)
	assert.Equal(t, StrategySemantic, res.Degraded[0].From)
	assert.Equal(t, StrategyHierarchical, res.Degraded[0].To)
	assert.NotEmpty(t, res.Chunks)
}

func TestChunk_SemanticEmbedderErrorDegrades(t *testing.T) {
	failing := SentenceEmbedderFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, errors.EmbedUnavailable("ollama down", nil)
	})
	c := New(testOptions(100, 5), WithSentenceEmbedder(failing))

	res, err := c.Chunk(context.Background(), "docs/api/app.md",
		[]parse.Node{{Kind: parse.KindParagraph, Text: "One. Two."}}, ContentTypeAPI)

	require.NoError(t, err)
	require.Len(t, res.Degraded, 1)
	assert.Contains(t, res.Degraded[0].Reason, "sentence embedding failed")
}

func TestChunk_FallbackOrderIsHierarchicalThenWindowed(t *testing.T) {
	// Given: semantic and hierarchical both broken
	c := New(testOptions(100, 5))
	broken := func(context.Context, request) ([]piece, error) {
		return nil, errors.New(errors.ErrCodeStrategyUnavailable, "broken", nil)
	}
	c.strategies[StrategySemantic] = broken
	c.strategies[StrategyHierarchical] = broken

	// When: chunking an API document
	res, err := c.Chunk(context.Background(), "docs/api/x.md",
		[]parse.Node{{Kind: parse.KindParagraph, Text: "Some text here."}}, ContentTypeAPI)

	// Then: windowed ran after two recorded substitutions
	require.NoError(t, err)
	assert.Equal(t, StrategyWindowed, res.Strategy)
	require.Len(t, res.Degraded, 2)
	assert.Equal(t, StrategyHierarchical, res.Degraded[1].From)
	assert.Equal(t, StrategyWindowed, res.Degraded[1].To)
}

func TestChunk_AllStrategiesFailing(t *testing.T) {
	c := New(testOptions(100, 5))
	broken := func(context.Context, request) ([]piece, error) {
		return nil, errors.New(errors.ErrCodeStrategyUnavailable, "broken", nil)
	}
	for s := range c.strategies {
		c.strategies[s] = broken
	}

	res, err := c.Chunk(context.Background(), "docs/x.md",
		[]parse.Node{{Kind: parse.KindParagraph, Text: "text"}}, ContentTypeGeneric)

	require.Error(t, err)
	assert.True(t, IsStrategyUnavailable(err))
	assert.Len(t, res.Degraded, 1)
}

func TestChunk_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultOptions()).Chunk(ctx, "docs/x.md", nil, ContentTypeGeneric)
	assert.ErrorIs(t, err, context.Canceled)
}

// randomDoc builds a document of headings, paragraphs, list items, and code.
func randomDoc(r *rand.Rand) []parse.Node {
	var nodes []parse.Node
	var path []string
	for i := 0; i < 5+r.Intn(25); i++ {
		switch r.Intn(6) {
		case 0:
			level := 1 + r.Intn(3)
			keep := level - 1
			if keep > len(path) {
				keep = len(path)
			}
			path = append(append([]string{}, path[:keep]...), fmt.Sprintf("H%d", i))
			nodes = append(nodes, parse.Node{Kind: parse.KindHeading, Level: level, Text: path[len(path)-1], HierarchyPath: path})
		case 1:
			var lines []string
			for j := 0; j < 1+r.Intn(30); j++ {
				lines = append(lines, fmt.Sprintf("call(%d, %d)", i, j))
			}
			nodes = append(nodes, parse.Node{Kind: parse.KindCodeBlock, Language: "python", Text: strings.Join(lines, "\n"), HierarchyPath: path})
		case 2:
			nodes = append(nodes, parse.Node{Kind: parse.KindListItem, Text: words("li", 1+r.Intn(20)), HierarchyPath: path})
		default:
			var sents []string
			for j := 0; j < 1+r.Intn(8); j++ {
				topic := []string{"cat", "car", "sky"}[r.Intn(3)]
				sents = append(sents, topic+" "+words("w", 1+r.Intn(25))+".")
			}
			nodes = append(nodes, parse.Node{Kind: parse.KindParagraph, Text: strings.Join(sents, " "), HierarchyPath: path})
		}
	}
	return nodes
}

func TestChunk_SizeBoundsHoldForEveryContentType(t *testing.T) {
	const maxTokens, minTokens = 60, 15
	opts := testOptions(maxTokens, minTokens)
	opts.OverlapFraction = 0.2
	c := New(opts, WithSentenceEmbedder(topicEmbedder))
	r := rand.New(rand.NewSource(7))

	for doc := 0; doc < 60; doc++ {
		nodes := randomDoc(r)
		for _, ct := range ContentTypes {
			res, err := c.Chunk(context.Background(), fmt.Sprintf("docs/d%d.md", doc), nodes, ct)
			require.NoError(t, err)

			var prose []Chunk
			for i, ch := range res.Chunks {
				assert.Equal(t, i, ch.Position)
				assert.NotEmpty(t, ch.Text)
				assert.Equal(t, strings.TrimSpace(ch.Text), ch.Text)
				if !ch.Atomic {
					prose = append(prose, ch)
				}
			}
			for i, ch := range prose {
				assert.LessOrEqual(t, ch.TokenCount, maxTokens, "doc %d %s chunk %d", doc, ct, ch.Position)
				if i < len(prose)-1 {
					assert.GreaterOrEqual(t, ch.TokenCount, minTokens, "doc %d %s chunk %d", doc, ct, ch.Position)
				}
			}
		}
	}
}

func TestClassifyPath(t *testing.T) {
	tests := []struct {
		path string
		want ContentType
	}{
		{"docs/api/app.md", ContentTypeAPI},
		{"docs/widgets/button.md", ContentTypeAPI},
		{"docs/guide/events.md", ContentTypeGuide},
		{"docs/examples/calculator.md", ContentTypeCode},
		{"docs/how-to/example_layout.md", ContentTypeCode},
		{"docs/styles/color.md", ContentTypeReference},
		{"docs/css_types/css/integer.md", ContentTypeReference},
		{"docs/reference/index.md", ContentTypeReference},
		{"docs/index.md", ContentTypeGeneric},
		{"README.md", ContentTypeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPath(tt.path))
		})
	}
}

func TestStrategyFor_DispatchTable(t *testing.T) {
	assert.Equal(t, StrategyAtomic, StrategyFor(ContentTypeCode))
	assert.Equal(t, StrategySemantic, StrategyFor(ContentTypeAPI))
	assert.Equal(t, StrategyHierarchical, StrategyFor(ContentTypeGuide))
	assert.Equal(t, StrategyHierarchical, StrategyFor(ContentTypeReference))
	assert.Equal(t, StrategyWindowed, StrategyFor(ContentTypeGeneric))
	assert.Equal(t, StrategyWindowed, StrategyFor("unknown"))
}

func TestParseContentType(t *testing.T) {
	ct, ok := ParseContentType(" API ")
	assert.True(t, ok)
	assert.Equal(t, ContentTypeAPI, ct)
	_, ok = ParseContentType("blog")
	assert.False(t, ok)
}

func TestEmbeddingText_PrefixesContext(t *testing.T) {
	text := EmbeddingText(Chunk{
		DocPath:       "docs/guide/app.md",
		HierarchyPath: []string{"App Basics", "Events"},
		Language:      "python",
		Text:          "app.run()",
	})

	assert.Equal(t, "App Basics > Events\nFile: docs/guide/app.md\nLanguage: python\n\napp.run()", text)
}

func TestAdaptiveThreshold_IsLowerQuartile(t *testing.T) {
	vecs := [][]float32{{1, 0}, {1, 0}, {0, 1}, {0, 1}, {0, 1}}
	// adjacent sims: 1, 0, 1, 1
	assert.Equal(t, 0.0, adaptiveThreshold(vecs))
	assert.Equal(t, 0.0, adaptiveThreshold([][]float32{{1}}))
}

func TestTrimBlock_KeepsIndentation(t *testing.T) {
	assert.Equal(t, "    indented()\nnext()", trimBlock("\n\n    indented()\nnext()  \n\n"))
}
