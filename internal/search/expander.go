package search

import (
	"strings"
	"unicode"
)

// QueryExpander widens lexical queries with documentation synonyms, so a
// keyword fallback for "component style" also finds "widget css".
type QueryExpander struct {
	synonyms      map[string][]string
	maxExpansions int
}

// QueryExpanderOption configures the expander.
type QueryExpanderOption func(*QueryExpander)

// WithMaxExpansions sets the maximum synonyms added per term.
func WithMaxExpansions(n int) QueryExpanderOption {
	return func(e *QueryExpander) {
		e.maxExpansions = n
	}
}

// WithSynonyms adds synonym mappings.
func WithSynonyms(synonyms map[string][]string) QueryExpanderOption {
	return func(e *QueryExpander) {
		for k, v := range synonyms {
			k = strings.ToLower(k)
			e.synonyms[k] = append(e.synonyms[k], v...)
		}
	}
}

// DocSynonyms maps user vocabulary to the terms documentation tends to use.
var DocSynonyms = map[string][]string{
	"component": {"widget", "control"},
	"widget":    {"component", "control"},
	"control":   {"widget", "component"},
	"style":     {"css", "styles", "styling"},
	"css":       {"style", "styles", "tcss"},
	"color":     {"colour", "colors"},
	"colour":    {"color"},
	"layout":    {"grid", "dock", "align"},
	"event":     {"message", "handler", "on"},
	"message":   {"event", "handler"},
	"handler":   {"event", "callback"},
	"callback":  {"handler", "event"},
	"key":       {"binding", "keyboard"},
	"shortcut":  {"binding", "key"},
	"binding":   {"key", "shortcut"},
	"timer":     {"interval", "schedule"},
	"interval":  {"timer"},
	"async":     {"await", "worker"},
	"thread":    {"worker", "async"},
	"test":      {"pilot", "testing"},
	"install":   {"pip", "setup"},
	"screen":    {"view", "page"},
	"page":      {"screen", "view"},
	"error":     {"exception", "raise"},
	"config":    {"configuration", "settings"},
	"settings":  {"configuration", "config"},
}

// NewQueryExpander creates an expander with DocSynonyms.
func NewQueryExpander(opts ...QueryExpanderOption) *QueryExpander {
	e := &QueryExpander{
		synonyms:      make(map[string][]string, len(DocSynonyms)),
		maxExpansions: 2,
	}
	for k, v := range DocSynonyms {
		e.synonyms[k] = append([]string(nil), v...)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns the original terms followed by their synonyms, each term
// once.
func (e *QueryExpander) Expand(query string) string {
	terms := splitTerms(query)
	if len(terms) == 0 {
		return query
	}

	seen := make(map[string]bool)
	var expanded []string
	for _, t := range terms {
		if !seen[t] {
			expanded = append(expanded, t)
			seen[t] = true
		}
	}
	for _, t := range terms {
		added := 0
		for _, syn := range e.synonyms[t] {
			if added == e.maxExpansions {
				break
			}
			if syn = strings.ToLower(syn); !seen[syn] {
				expanded = append(expanded, syn)
				seen[syn] = true
				added++
			}
		}
	}
	return strings.Join(expanded, " ")
}

// splitTerms lower-cases query and splits it on anything that is not a
// letter, digit or underscore.
func splitTerms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
