// File: internal/scraper/dom.go
package scraper

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/config"
)

// rowsScript harvests candidate transaction rows: table rows and ARIA grid
// rows, as trimmed cell-text arrays. Header rows (th-only or role=columnheader)
// are skipped in page context so the classifier sees data rows only.
const rowsScript = `
(() => {
  const rows = [];
  const pushRow = (cells) => {
    const texts = cells.map(c => (c.innerText || '').trim());
    if (texts.some(t => t.length > 0)) rows.push(texts);
  };
  for (const tr of document.querySelectorAll('table tr')) {
    const tds = Array.from(tr.querySelectorAll('td'));
    if (tds.length >= 2) pushRow(tds);
  }
  for (const row of document.querySelectorAll('[role="row"]')) {
    if (row.closest('table')) continue;
    if (row.querySelector('[role="columnheader"]')) continue;
    const cells = Array.from(row.querySelectorAll('[role="cell"], [role="gridcell"]'));
    if (cells.length >= 2) pushRow(cells);
  }
  return rows;
})()
`

// scrollScript advances the viewport by its height minus the overlap
// fraction and reports whether the page can still scroll further.
const scrollScript = `
(() => {
  const step = window.innerHeight * (1 - %f);
  const before = window.scrollY;
  window.scrollBy(0, step);
  return (window.scrollY > before);
})()
`

// collectDOMRows scrolls through the page harvesting rows until the bottom
// is reached, growth stops, or the row cap is hit. The overlap between
// scroll increments keeps rows that straddle a boundary from being missed.
func (s *Scraper) collectDOMRows(ctx context.Context, sess Session) ([][]string, error) {
	var rows [][]string
	if err := sess.Evaluate(ctx, rowsScript, &rows); err != nil {
		return nil, err
	}

	for {
		if len(rows) >= s.cfg.MaxRows {
			s.log.Warn("Row cap reached, stopping scroll harvest",
				zap.Int("rows", len(rows)), zap.Int("cap", s.cfg.MaxRows))
			break
		}
		script := strings.Replace(scrollScript, "%f", formatFloat(s.cfg.ScrollOverlap), 1)
		var moved bool
		if err := sess.Evaluate(ctx, script, &moved); err != nil {
			return nil, err
		}
		if !moved {
			break
		}
		if err := s.clockSleep(ctx, s.cfg.ScrollPause); err != nil {
			return rows, err
		}
		var next [][]string
		if err := sess.Evaluate(ctx, rowsScript, &next); err != nil {
			return nil, err
		}
		if len(next) <= len(rows) {
			rows = dedupeLonger(rows, next)
			break
		}
		rows = next
	}
	// Return the viewport to the top so later captures and the next replay
	// step see the page as the recipe left it.
	if err := sess.Evaluate(ctx, "window.scrollTo(0, 0)", nil); err != nil {
		s.log.Debug("Scroll home failed", zap.Error(err))
	}
	if len(rows) > s.cfg.MaxRows {
		rows = rows[:s.cfg.MaxRows]
	}
	return rows, nil
}

// dedupeLonger keeps whichever harvest saw more rows; virtualized tables
// sometimes recycle rows out of the DOM as the page scrolls.
func dedupeLonger(a, b [][]string) [][]string {
	if len(b) > len(a) {
		return b
	}
	return a
}

// classifyRow maps a cell array onto transaction fields. Hints pin columns
// when configured; otherwise content shape decides: the date cell is the
// first date-shaped cell, amount-shaped cells supply amount then balance,
// and the description is the longest remaining cell.
func classifyRow(cells []string, hints config.ColumnHints) (schemas.ScrapedTransaction, bool) {
	var tx schemas.ScrapedTransaction
	used := make([]bool, len(cells))

	cellAt := func(i int) (string, bool) {
		if i >= 0 && i < len(cells) {
			used[i] = true
			return strings.TrimSpace(cells[i]), true
		}
		return "", false
	}

	if v, ok := cellAt(hints.Date); ok {
		tx.Date = v
	}
	if v, ok := cellAt(hints.Description); ok {
		tx.Description = v
	}
	if v, ok := cellAt(hints.Amount); ok {
		tx.Amount = CleanAmount(v)
	}
	if v, ok := cellAt(hints.Balance); ok {
		tx.Balance = CleanAmount(v)
	}

	var amounts []int
	for i, c := range cells {
		if used[i] {
			continue
		}
		c = strings.TrimSpace(c)
		if c == "" {
			used[i] = true
			continue
		}
		if tx.Date == "" && looksLikeDate(c) {
			tx.Date = c
			used[i] = true
			continue
		}
		if looksLikeAmount(c) {
			amounts = append(amounts, i)
		}
	}
	if tx.Amount == "" && len(amounts) > 0 {
		tx.Amount = CleanAmount(cells[amounts[0]])
		used[amounts[0]] = true
		if tx.Balance == "" && len(amounts) > 1 {
			// The rightmost amount column is conventionally the running balance.
			tx.Balance = CleanAmount(cells[amounts[len(amounts)-1]])
			used[amounts[len(amounts)-1]] = true
		}
	}
	if tx.Description == "" {
		best := -1
		for i, c := range cells {
			if used[i] || looksLikeAmount(c) {
				continue
			}
			if best < 0 || len(strings.TrimSpace(c)) > len(strings.TrimSpace(cells[best])) {
				best = i
			}
		}
		if best >= 0 {
			tx.Description = strings.TrimSpace(cells[best])
		}
	}

	// A row with neither a date nor an amount is navigation chrome, not a
	// transaction.
	if tx.Date == "" && tx.Amount == "" {
		return tx, false
	}
	tx.Confidence = domConfidence(tx)
	return tx, tx.HasContent()
}

// domConfidence scores 40 for a classifiable row plus 20 per populated core
// field, on the 0-100 schema scale.
func domConfidence(tx schemas.ScrapedTransaction) int {
	score := 40
	if tx.Date != "" {
		score += 20
	}
	if tx.Amount != "" {
		score += 20
	}
	if tx.Description != "" {
		score += 20
	}
	return score
}

// extractDOM is the structured extraction path: harvest rows, classify,
// index.
func (s *Scraper) extractDOM(ctx context.Context, sess Session, hints config.ColumnHints) ([]schemas.ScrapedTransaction, error) {
	rows, err := s.collectDOMRows(ctx, sess)
	if err != nil {
		return nil, err
	}
	s.log.Debug("DOM harvest complete", zap.Int("raw_rows", len(rows)))

	txs := make([]schemas.ScrapedTransaction, 0, len(rows))
	for _, cells := range rows {
		if tx, ok := classifyRow(cells, hints); ok {
			tx.Index = len(txs) + 1
			txs = append(txs, tx)
		}
	}
	return txs, nil
}
