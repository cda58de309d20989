// File: internal/resolver/fuzzy_test.go
package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wrenfin/wren/internal/resolver"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "Export Transactions", "Export Transactions", 1.0, 1.0},
		{"case and whitespace insensitive", "  export   TRANSACTIONS ", "Export Transactions", 1.0, 1.0},
		{"single character drift", "Export Transactions", "Export Transaction", 0.9, 1.0},
		{"renamed button", "Login", "Log in", 0.8, 1.0},
		{"unrelated", "Sign In", "Logout", 0.0, 0.5},
		{"both empty", "", "", 1.0, 1.0},
		{"one empty", "Export", "", 0.0, 0.0},
		// Multibyte labels: two accented runes share nothing with two
		// ASCII ones, so similarity must hit zero exactly.
		{"multibyte disjoint", "éé", "ab", 0.0, 0.0},
		{"multibyte drift", "Señal", "Senal", 0.75, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.Similarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
			assert.Equal(t, got, resolver.Similarity(tt.b, tt.a), "similarity must be symmetric")
		})
	}
}

func TestSimilarityThresholdSeparatesDriftFromRewrites(t *testing.T) {
	// Label drift a bank update would cause stays above the threshold.
	assert.Greater(t, resolver.Similarity("Export Transactions", "Export Transaction"), resolver.FuzzyThreshold)
	// A genuinely different control stays below it.
	assert.Less(t, resolver.Similarity("Login", "Sign In"), resolver.FuzzyThreshold)
}
