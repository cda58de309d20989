// File: internal/scraper/scraper_test.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/config"
	"github.com/wrenfin/wren/internal/playback"
)

// fakePage serves a fixed row set and canned screenshots.
type fakePage struct {
	rows         [][]string
	tiles        int
	scrolledHome bool
}

func (f *fakePage) Evaluate(_ context.Context, expression string, out any) error {
	switch v := out.(type) {
	case *[][]string:
		*v = f.rows
		return nil
	case *bool:
		*v = false // cannot scroll further
		return nil
	case nil:
		if strings.Contains(expression, "scrollTo(0, 0)") {
			f.scrolledHome = true
			return nil
		}
	}
	return fmt.Errorf("unexpected evaluate: %.40s", expression)
}

func (f *fakePage) CaptureTiles(_ context.Context, overlap float64, max int) ([][]byte, error) {
	n := f.tiles
	if n > max {
		n = max
	}
	tiles := make([][]byte, n)
	for i := range tiles {
		tiles[i] = []byte{0x89, 'P', 'N', 'G', byte(i)}
	}
	return tiles, nil
}

type fakeVision struct {
	response string
	err      error
	images   int
}

func (f *fakeVision) Analyze(_ context.Context, images [][]byte, _ string) (string, error) {
	f.images = len(images)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func testScraperConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.ScraperCfg.ArtifactsDir = "" // no disk writes from tests
	cfg.ScraperCfg.MaxScreenshots = 4
	return cfg
}

func bankRows() [][]string {
	return [][]string{
		{"Date", "Description", "Amount", "Balance"}, // header sneaks through sometimes
		{"01/15/2026", "GROCERY MART #442", "-$82.10", "$1,420.33"},
		{"01/16/2026", "COFFEE SHOP", "-$4.50", "$1,415.83"},
	}
}

func TestExtractDOMOnlyWithoutProvider(t *testing.T) {
	sc := New(testScraperConfig(), nil, playback.RealClock{}, zap.NewNop())
	page := &fakePage{rows: bankRows()}

	res, err := sc.Extract(context.Background(), page, "chase-checking")
	require.NoError(t, err)
	assert.Equal(t, schemas.ScrapeMethodDOM, res.Method)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "GROCERY MART #442", res.Transactions[0].Description)
	assert.Equal(t, "-82.10", res.Transactions[0].Amount)
	assert.Equal(t, 1, res.Transactions[0].Index)
	assert.True(t, page.scrolledHome, "viewport returns to the top after the harvest")
	assert.Equal(t, 2, res.Transactions[1].Index)
}

func TestExtractPrefersVisionWhenConfigured(t *testing.T) {
	vision := &fakeVision{response: `[
		{"date":"01/15/2026","description":"GROCERY MART #442","amount":"-$82.10","confidence":95},
		{"date":"01/16/2026","description":"COFFEE SHOP","amount":"-4.50","confidence":88}
	]`}
	sc := New(testScraperConfig(), vision, playback.RealClock{}, zap.NewNop())
	page := &fakePage{rows: bankRows(), tiles: 2}

	res, err := sc.Extract(context.Background(), page, "chase-checking")
	require.NoError(t, err)
	assert.Equal(t, schemas.ScrapeMethodVision, res.Method)
	assert.Equal(t, 2, vision.images)
	require.Len(t, res.Transactions, 2)
	// Model amounts are normalized like DOM ones.
	assert.Equal(t, "-82.10", res.Transactions[0].Amount)
	assert.Equal(t, 95, res.Transactions[0].Confidence)
}

func TestExtractFallsBackToDOMOnVisionFailure(t *testing.T) {
	vision := &fakeVision{err: errors.New("model overloaded")}
	sc := New(testScraperConfig(), vision, playback.RealClock{}, zap.NewNop())
	page := &fakePage{rows: bankRows(), tiles: 2}

	res, err := sc.Extract(context.Background(), page, "chase-checking")
	require.NoError(t, err)
	assert.Equal(t, schemas.ScrapeMethodDOM, res.Method)
	assert.Len(t, res.Transactions, 2)
}

func TestExtractVisionLargeStatement(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 20; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"date":"01/%02d/2026","description":"TX %d","amount":"-%d.00","confidence":80}`, i+1, i, i+1)
	}
	sb.WriteString("]")

	vision := &fakeVision{response: sb.String()}
	sc := New(testScraperConfig(), vision, playback.RealClock{}, zap.NewNop())
	page := &fakePage{rows: nil, tiles: 4}

	res, err := sc.Extract(context.Background(), page, "any")
	require.NoError(t, err)
	require.Len(t, res.Transactions, 20)
	for i, tx := range res.Transactions {
		assert.Equal(t, i+1, tx.Index)
	}
}

func TestNormalizeVisionRows(t *testing.T) {
	in := []schemas.ScrapedTransaction{
		{Date: " 01/15/2026 ", Description: " Coffee ", Amount: "$4.50"},
		{Description: "", Amount: ""}, // empty: dropped
		{Description: "No confidence", Amount: "-1.00", Confidence: 0},
		{Description: "Overconfident", Amount: "-2.00", Confidence: 400},
		{Description: "STARBUCKS, SEATTLE WA", Amount: "-6.20", Confidence: 90},
	}
	out := normalizeVisionRows(in)
	require.Len(t, out, 4)
	assert.Equal(t, "01/15/2026", out[0].Date)
	assert.Equal(t, "4.50", out[0].Amount)
	assert.Equal(t, 50, out[1].Confidence)
	assert.Equal(t, 50, out[2].Confidence)
	assert.Equal(t, "STARBUCKS", out[3].Description,
		"description keeps only the merchant ahead of the first comma")
	for i, tx := range out {
		assert.Equal(t, i+1, tx.Index)
	}
}

func TestHintsForMatchesRecipeName(t *testing.T) {
	cfg := testScraperConfig()
	cfg.ScraperCfg.Columns = map[string]config.ColumnHints{
		"chase": {Date: 0, Description: 1, Amount: 2, Balance: 3},
	}
	sc := New(cfg, nil, playback.RealClock{}, zap.NewNop())

	assert.Equal(t, 0, sc.hintsFor("Chase Checking").Date)
	assert.Equal(t, -1, sc.hintsFor("credit-union").Date)
}
