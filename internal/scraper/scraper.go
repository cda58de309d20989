// File: internal/scraper/scraper.go
//
// The scraper pulls transaction data off the page a replayed recipe landed
// on. Two paths exist: structured DOM extraction (free, preferred for
// predictable tables) and AI-vision extraction from screenshots (resilient
// to hostile markup, costs an API call). Method selection prefers vision
// when a provider is configured and falls back to DOM on its failure; with
// no provider, DOM runs alone.
package scraper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/config"
	"github.com/wrenfin/wren/internal/playback"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrExtractionParse means no variant of the repair chain produced valid
// JSON from the model response.
var ErrExtractionParse = errors.New("scraper: unparseable extraction response")

// Session is the browser surface extraction needs.
type Session interface {
	Evaluate(ctx context.Context, expression string, out any) error
	// CaptureTiles screenshots the page top to bottom with the given overlap
	// fraction between consecutive tiles, capped at max images.
	CaptureTiles(ctx context.Context, overlap float64, max int) ([][]byte, error)
}

// VisionClient is the multimodal model surface. Nil means no provider is
// configured.
type VisionClient interface {
	Analyze(ctx context.Context, images [][]byte, prompt string) (string, error)
}

// Result carries the extracted transactions and the method that produced
// them, recorded on the recipe for trend visibility.
type Result struct {
	Transactions []schemas.ScrapedTransaction
	Method       schemas.ScrapeMethod
}

// Scraper extracts transactions from the current page of a session.
type Scraper struct {
	cfg    config.ScraperConfig
	vision VisionClient
	clock  playback.Clock
	log    *zap.Logger
}

// New creates a scraper. vision may be nil; clock nil selects the real one.
func New(cfg config.Interface, vision VisionClient, clock playback.Clock, logger *zap.Logger) *Scraper {
	if clock == nil {
		clock = playback.RealClock{}
	}
	return &Scraper{
		cfg:    cfg.Scraper(),
		vision: vision,
		clock:  clock,
		log:    logger.Named("scraper"),
	}
}

// Extract runs the configured extraction against the session's current
// page. The recipe name selects per-bank column hints for the DOM path.
func (s *Scraper) Extract(ctx context.Context, sess Session, recipeName string) (*Result, error) {
	if s.vision != nil {
		txs, err := s.extractVision(ctx, sess)
		if err == nil {
			s.log.Info("Vision extraction succeeded", zap.Int("transactions", len(txs)))
			return &Result{Transactions: txs, Method: schemas.ScrapeMethodVision}, nil
		}
		s.log.Warn("Vision extraction failed, falling back to DOM heuristics",
			zap.Error(err))
	}

	txs, err := s.extractDOM(ctx, sess, s.hintsFor(recipeName))
	if err != nil {
		return nil, err
	}
	s.log.Info("DOM extraction finished", zap.Int("transactions", len(txs)))
	return &Result{Transactions: txs, Method: schemas.ScrapeMethodDOM}, nil
}

// hintsFor finds column hints whose bank key appears in the recipe name,
// case-insensitively. No match means shape-based classification only.
func (s *Scraper) hintsFor(recipeName string) config.ColumnHints {
	name := strings.ToLower(recipeName)
	for key, hints := range s.cfg.Columns {
		if key != "" && strings.Contains(name, strings.ToLower(key)) {
			return hints
		}
	}
	return config.ColumnHints{Date: -1, Description: -1, Amount: -1, Balance: -1}
}

// saveArtifact writes a diagnostic file under the artifacts directory.
// Failures are logged, never fatal.
func (s *Scraper) saveArtifact(name string, data []byte) {
	if s.cfg.ArtifactsDir == "" {
		return
	}
	if err := os.MkdirAll(s.cfg.ArtifactsDir, 0o750); err != nil {
		s.log.Warn("Cannot create artifacts directory", zap.Error(err))
		return
	}
	path := filepath.Join(s.cfg.ArtifactsDir,
		time.Now().Format("20060102_150405")+"_"+name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.log.Warn("Cannot write artifact", zap.String("path", path), zap.Error(err))
	}
}

func (s *Scraper) clockSleep(ctx context.Context, d time.Duration) error {
	return s.clock.Sleep(ctx, d)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
