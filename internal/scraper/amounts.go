// File: internal/scraper/amounts.go
package scraper

import (
	"regexp"
	"strings"
)

// Patterns for classifying free-form cell text. Bank tables disagree on
// everything, so classification is by content shape, not column position.
var (
	// datePattern accepts the common numeric and month-name layouts:
	// 01/02/2026, 2026-01-02, 2 Jan 2026, Jan 2, 2026.
	datePattern = regexp.MustCompile(`(?i)^\s*(` +
		`\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}` +
		`|\d{4}-\d{2}-\d{2}` +
		`|\d{1,2}\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s*\d{0,4}` +
		`|(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s*\d{0,4}` +
		`)\s*$`)

	// amountPattern accepts signed currency amounts with optional symbol,
	// thousands separators, and accounting-style parentheses.
	amountPattern = regexp.MustCompile(`^\s*\(?[-+]?\s*[$€£¥]?\s*\d{1,3}(?:[,.\s]\d{3})*(?:[.,]\d{2})?\s*\)?\s*(CR|DR)?\s*$`)

	amountStrip  = regexp.MustCompile(`[$€£¥\s]`)
	plainDecimal = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// looksLikeDate reports whether the cell text is shaped like a date.
func looksLikeDate(s string) bool {
	return datePattern.MatchString(s)
}

// looksLikeAmount reports whether the cell text is shaped like a monetary
// amount. Bare small integers (row numbers, check numbers) are excluded
// unless they carry a decimal part or a currency marker.
func looksLikeAmount(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || !amountPattern.MatchString(s) {
		return false
	}
	if strings.ContainsAny(s, "$€£¥().,-+") {
		return true
	}
	return false
}

// CleanAmount normalizes an amount string to a plain signed decimal:
// "$1,234.56" -> "1234.56", "-$45.99" -> "-45.99", "(12.00)" -> "-12.00".
// The sign is preserved; formatting the extraction cannot make sense of is
// returned unchanged so nothing silently drops.
func CleanAmount(s string) string {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(strings.ToUpper(s), "DR") {
		negative = true
		s = strings.TrimSpace(s[:len(s)-2])
	}
	s = strings.TrimSuffix(strings.ToUpper(s), "CR")
	s = amountStrip.ReplaceAllString(s, "")

	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "+")

	// European layout: 1.234,56 -> decimal comma with dot separators.
	if lastComma := strings.LastIndex(s, ","); lastComma > strings.LastIndex(s, ".") &&
		len(s)-lastComma-1 == 2 {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	s = strings.ReplaceAll(s, ",", "")

	if !plainDecimal.MatchString(s) {
		return strings.TrimSpace(orig)
	}
	if negative {
		return "-" + s
	}
	return s
}
