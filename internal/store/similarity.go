package store

import (
	"strings"
	"unicode"

	"crisiswatch/pkg/models"
)

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// single-character fragments. The token set, not sequence, feeds the
// similarity comparison.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})

	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}

func eventTokens(e models.MonitoringEvent) map[string]struct{} {
	return tokenize(e.Title + " " + e.Body + " " + e.Author.Name)
}

// jaccard computes |a ∩ b| / |a ∪ b|. Two empty sets are not similar: an
// event with no usable text should never suppress another.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}

	intersection := 0
	for token := range smaller {
		if _, ok := larger[token]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// EventSimilarity scores two events on their combined title, body, and
// author name text.
func EventSimilarity(a, b models.MonitoringEvent) float64 {
	return jaccard(eventTokens(a), eventTokens(b))
}
