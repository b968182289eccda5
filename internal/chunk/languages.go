package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry maps fenced-code info strings to tree-sitter grammars.
type LanguageRegistry struct {
	mu       sync.RWMutex
	aliases  map[string]string
	grammars map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with the grammars docs commonly embed.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		aliases:  make(map[string]string),
		grammars: make(map[string]*sitter.Language),
	}
	r.Register("go", golang.GetLanguage(), "golang")
	r.Register("python", python.GetLanguage(), "py", "python3", "py3")
	r.Register("javascript", javascript.GetLanguage(), "js", "jsx", "mjs")
	r.Register("typescript", typescript.GetLanguage(), "ts")
	r.Register("tsx", tsx.GetLanguage())
	return r
}

// Register adds a grammar under name and any aliases.
func (r *LanguageRegistry) Register(name string, lang *sitter.Language, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.grammars[name] = lang
	r.aliases[name] = name
	for _, a := range aliases {
		r.aliases[a] = name
	}
}

// Canonical resolves an info string such as "py" to its registered name.
func (r *LanguageRegistry) Canonical(info string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.aliases[strings.ToLower(strings.TrimSpace(info))]
	return name, ok
}

// Grammar returns the tree-sitter language for an info string.
func (r *LanguageRegistry) Grammar(info string) (*sitter.Language, bool) {
	name, ok := r.Canonical(info)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.grammars[name]
	return lang, ok
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
