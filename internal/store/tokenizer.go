package store

import (
	"regexp"
	"strings"
	"unicode"
)

var wordRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// lexicalStopWords are dropped before lexical indexing and querying.
var lexicalStopWords = buildStopWordMap([]string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "how",
	"in", "is", "it", "of", "on", "or", "that", "the", "this", "to", "was",
	"what", "when", "with", "you", "your",
})

// Tokenize lower-cases text and splits it into words, breaking identifiers
// such as set_interval and callLater into their parts as well as keeping
// the whole identifier. Single characters and stop words are dropped.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		parts := splitIdentifier(word)
		if len(parts) > 1 {
			if whole := strings.ToLower(strings.ReplaceAll(word, "_", "")); keepToken(whole) {
				tokens = append(tokens, whole)
			}
		}
		for _, p := range parts {
			if lower := strings.ToLower(p); keepToken(lower) {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func keepToken(t string) bool {
	if len([]rune(t)) < 2 {
		return false
	}
	_, stop := lexicalStopWords[t]
	return !stop
}

func splitIdentifier(token string) []string {
	if !strings.Contains(token, "_") {
		return splitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, splitCamelCase(part)...)
		}
	}
	return result
}

// splitCamelCase keeps acronyms together: "parseHTTPRequest" becomes
// parse, HTTP, Request.
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func buildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
