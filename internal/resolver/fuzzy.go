// File: internal/resolver/fuzzy.go
package resolver

import "strings"

// FuzzyThreshold is the minimum normalized similarity the fuzzy-text
// strategy accepts. Recorded "Export Transactions" still matches a live
// "Export Transaction"; it never matches "Login".
const FuzzyThreshold = 0.75

// Similarity returns the normalized Levenshtein similarity of two strings in
// [0, 1]: 1 for identical, 0 for nothing in common. Comparison is
// case-insensitive over whitespace-normalized text.
func Similarity(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	// Distance counts runes, so the normalizing length must too.
	longest := max(len([]rune(a)), len([]rune(b)))
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// levenshtein computes edit distance with a two-row rolling buffer.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
