// File: api/schemas/transaction.go
package schemas

// ScrapedTransaction is one extracted transaction row. Amount is a signed
// numeric string (negative = expense), already normalized: no currency
// symbols, no thousands separators.
type ScrapedTransaction struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Balance     string `json:"balance,omitempty"`
	Category    string `json:"category,omitempty"`
	// Index is 1..N in document/visual order and is stable for a given
	// extraction.
	Index int `json:"index"`
	// Confidence is 0-100. DOM and vision extraction populate it on
	// different scales, but higher is always more trustworthy.
	Confidence int `json:"confidence"`
}

// HasContent reports whether the record carries enough signal to keep.
// Records missing both description and amount are dropped.
func (t ScrapedTransaction) HasContent() bool {
	return t.Description != "" || t.Amount != ""
}
