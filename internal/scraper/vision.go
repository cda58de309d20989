// File: internal/scraper/vision.go
package scraper

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
)

// visionPrompt instructs the model to emit bare JSON. Models decorate
// anyway, which is what the repair chain is for.
const visionPrompt = `These are screenshots of a bank's transaction history page, captured top to bottom with overlapping regions. Extract every visible transaction exactly once.

Respond with ONLY a JSON array, no prose and no markdown fences. Each element:
{"date": "...", "description": "...", "amount": "...", "balance": "...", "category": "...", "confidence": 0}

Rules:
- amount: plain signed decimal, negative for debits (e.g. "-45.99").
- balance, category: empty string when not shown.
- confidence: integer 0-100, your certainty in the row.
- Deduplicate rows that appear in more than one screenshot.`

// extractVision captures a tiled screenshot sweep of the page, sends it to
// the configured multimodal model, and normalizes the response.
func (s *Scraper) extractVision(ctx context.Context, sess Session) ([]schemas.ScrapedTransaction, error) {
	images, err := sess.CaptureTiles(ctx, s.cfg.ScrollOverlap, s.cfg.MaxScreenshots)
	if err != nil {
		return nil, fmt.Errorf("capturing screenshots: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no screenshots captured")
	}
	s.log.Info("Sending page captures to vision model", zap.Int("images", len(images)))

	raw, err := s.vision.Analyze(ctx, images, visionPrompt)
	if err != nil {
		return nil, err
	}
	s.saveArtifact("vision_response.txt", []byte(raw))

	txs, err := parseModelJSON(raw)
	if err != nil {
		s.log.Error("Vision response unparseable after repair",
			zap.Int("response_len", len(raw)))
		s.saveArtifact("vision_page.png", images[0])
		return nil, err
	}
	rows := normalizeVisionRows(txs)
	if len(rows) == 0 {
		// Zero rows is a valid outcome, but keep the evidence so the user
		// can tell an empty statement from a model miss.
		s.saveArtifact("vision_page.png", images[0])
	}
	return rows, nil
}

// normalizeVisionRows cleans model output: amounts are normalized, rows with
// neither description nor amount are dropped, missing confidence defaults
// to a middling value, and indices are reassigned densely.
func normalizeVisionRows(in []schemas.ScrapedTransaction) []schemas.ScrapedTransaction {
	out := make([]schemas.ScrapedTransaction, 0, len(in))
	for _, tx := range in {
		tx.Date = strings.TrimSpace(tx.Date)
		// Bank descriptions front-load the merchant; everything after the
		// first comma is location noise the ledger does not want.
		if i := strings.IndexByte(tx.Description, ','); i >= 0 {
			tx.Description = tx.Description[:i]
		}
		tx.Description = strings.TrimSpace(tx.Description)
		tx.Category = strings.TrimSpace(tx.Category)
		tx.Amount = CleanAmount(tx.Amount)
		tx.Balance = CleanAmount(tx.Balance)
		if !tx.HasContent() {
			continue
		}
		if tx.Confidence <= 0 || tx.Confidence > 100 {
			tx.Confidence = 50
		}
		tx.Index = len(out) + 1
		out = append(out, tx)
	}
	return out
}
