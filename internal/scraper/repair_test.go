// File: internal/scraper/repair_test.go
package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelJSONCleanResponse(t *testing.T) {
	raw := `[{"date":"01/02/2026","description":"Coffee","amount":"-4.50","confidence":90}]`
	txs, err := parseModelJSON(raw)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "Coffee", txs[0].Description)
	assert.Equal(t, 90, txs[0].Confidence)
}

func TestParseModelJSONStripsFencesAndProse(t *testing.T) {
	raw := "Here are the transactions you asked for:\n```json\n" +
		`[{"date":"01/02/2026","description":"Coffee","amount":"-4.50"}]` +
		"\n```\nLet me know if you need anything else."
	txs, err := parseModelJSON(raw)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "-4.50", txs[0].Amount)
}

func TestParseModelJSONRepairsTrailingComma(t *testing.T) {
	raw := `[{"date":"01/02/2026","description":"Coffee","amount":"-4.50",},]`
	txs, err := parseModelJSON(raw)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

// A response cut off mid-object by a token limit loses the partial trailing
// record but keeps everything before it.
func TestParseModelJSONRecoversTruncatedArray(t *testing.T) {
	raw := `[` +
		`{"date":"01/02/2026","description":"Coffee","amount":"-4.50"},` +
		`{"date":"01/03/2026","description":"Groceries","amount":"-82.10"},` +
		`{"date":"01/04/2026","description":"Sal`
	txs, err := parseModelJSON(raw)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "Groceries", txs[1].Description)
}

func TestParseModelJSONGivesUpOnGarbage(t *testing.T) {
	_, err := parseModelJSON("I could not read the screenshots, sorry.")
	assert.ErrorIs(t, err, ErrExtractionParse)
}
