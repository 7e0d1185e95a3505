package ingest

import "strings"

// Normalize turns scraped lines into a flat token sequence.
// Each line is split on runs of whitespace, the pieces are flattened in
// line order, then lowercased and trimmed. A nil input yields an empty,
// non-nil slice.
func Normalize(lines []string) []string {
	tokens := make([]string, 0, len(lines)*8)
	for _, line := range lines {
		for _, field := range strings.Fields(line) {
			word := strings.TrimSpace(strings.ToLower(field))
			if word == "" {
				continue
			}
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// PageWords normalizes headers and body separately and concatenates them,
// headers first.
func PageWords(headers, body []string) []string {
	words := Normalize(headers)
	return append(words, Normalize(body)...)
}
