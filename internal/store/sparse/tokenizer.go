// Package sparse implements HERMES's BM25 sparse index: tokenization,
// scoring, and self-contained JSON persistence.
package sparse

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches runs of alphanumeric characters, splitting on every
// other character (spaces, punctuation, operators).
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// Tokenize splits on any non-alphanumeric character, then sub-splits
// camelCase/snake_case boundaries, lowercases, and discards empty tokens.
// It keeps single-character tokens and applies no stop word filter: the
// BM25 persistence format must round-trip exactly what was indexed.
func Tokenize(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		for _, sub := range splitIdentifier(word) {
			lower := strings.ToLower(sub)
			if lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitIdentifier sub-splits a snake_case identifier into parts, each of
// which is further split on camelCase/PascalCase boundaries.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

// splitCamelCase splits camelCase/PascalCase identifiers at case
// transitions, keeping runs of uppercase letters (acronyms) together:
// "getUserByID" -> ["get", "User", "By", "ID"].
func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}
