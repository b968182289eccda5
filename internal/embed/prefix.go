package embed

import "strings"

// Prefixes are the instruction strings a model expects ahead of its input.
type Prefixes struct {
	Document string
	Query    string
}

// For returns the prefix for mode.
func (p Prefixes) For(m Mode) string {
	if m == ModeQuery {
		return p.Query
	}
	return p.Document
}

// modelPrefixes is matched by substring against the lower-cased model name.
// Order matters: the first family that matches wins.
var modelPrefixes = []struct {
	family   string
	prefixes Prefixes
}{
	{"nomic", Prefixes{Document: "search_document: ", Query: "search_query: "}},
	{"e5", Prefixes{Document: "passage: ", Query: "query: "}},
	{"bge", Prefixes{Query: "Represent this sentence for searching relevant passages: "}},
}

// PrefixesFor returns the task prefixes for a model. Unknown models get none.
func PrefixesFor(model string) Prefixes {
	lower := strings.ToLower(model)
	for _, mp := range modelPrefixes {
		if strings.Contains(lower, mp.family) {
			return mp.prefixes
		}
	}
	return Prefixes{}
}
