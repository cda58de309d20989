// File: internal/vision/client.go
//
// Multimodal model clients for screenshot-based extraction. The factory
// mirrors the store factory: one switch on the configured provider, every
// client behind the same narrow interface.
package vision

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wrenfin/wren/internal/config"
)

// ErrProviderUnavailable means the configured provider cannot be reached or
// refused the request. Callers treat it as a signal to fall back to DOM
// extraction, not a run failure.
var ErrProviderUnavailable = errors.New("vision: provider unavailable")

// Client sends page captures to a multimodal model and returns its raw text
// response. Parsing and repair belong to the caller.
type Client interface {
	Analyze(ctx context.Context, images [][]byte, prompt string) (string, error)
}

// NewClient builds the configured provider's client. ProviderNone yields a
// nil Client, meaning extraction runs DOM-only.
func NewClient(ctx context.Context, cfg config.Interface, logger *zap.Logger) (Client, error) {
	vc := cfg.Vision()
	switch vc.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderGemini:
		if vc.APIKey == "" {
			return nil, fmt.Errorf("vision provider %q requires an api key (WREN_VISION_API_KEY)", vc.Provider)
		}
		return newGeminiClient(ctx, vc, logger)
	case config.ProviderOllama:
		return newOllamaClient(vc, logger), nil
	default:
		return nil, fmt.Errorf("unsupported vision provider: %q", vc.Provider)
	}
}
