// File: internal/scraper/repair.go
package scraper

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/wrenfin/wren/api/schemas"
)

// parseModelJSON turns a multimodal model's response into transactions.
// Model output is never trusted as-is: the raw text is tried first, then a
// mechanical repair, then a truncation recovery for responses cut off
// mid-array by an output-token limit.
func parseModelJSON(raw string) ([]schemas.ScrapedTransaction, error) {
	cleaned := stripFences(raw)

	var txs []schemas.ScrapedTransaction
	if err := json.Unmarshal([]byte(cleaned), &txs); err == nil {
		return txs, nil
	}

	// Truncated array: drop the partial trailing object and close the array.
	// This runs before the generic repair, which would otherwise keep the
	// mangled partial record.
	if idx := strings.LastIndex(cleaned, "}"); idx >= 0 {
		candidate := cleaned[:idx+1] + "]"
		if start := strings.Index(candidate, "["); start >= 0 {
			if err := json.Unmarshal([]byte(candidate[start:]), &txs); err == nil {
				return txs, nil
			}
		}
	}

	if repaired, err := jsonrepair.JSONRepair(cleaned); err == nil {
		if err := json.Unmarshal([]byte(repaired), &txs); err == nil {
			return txs, nil
		}
	}

	return nil, ErrExtractionParse
}

// stripFences removes a markdown code fence wrapper and any prose before the
// first JSON bracket.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	s = strings.TrimSpace(s)
	if start := strings.IndexAny(s, "[{"); start > 0 {
		s = s[start:]
	}
	return s
}
