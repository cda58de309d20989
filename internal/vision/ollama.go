// File: internal/vision/ollama.go
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ollamaClient talks to a local Ollama daemon's /api/generate endpoint with
// a multimodal model (llava, gemma3, ...). No SDK, just the JSON API.
type ollamaClient struct {
	endpoint string
	model    string
	http     *http.Client
	log      *zap.Logger
}

func newOllamaClient(vc config.VisionConfig, logger *zap.Logger) *ollamaClient {
	return &ollamaClient{
		endpoint: strings.TrimRight(vc.Endpoint, "/"),
		model:    vc.Model,
		http:     &http.Client{Timeout: vc.APITimeout},
		log:      logger.Named("vision.ollama"),
	}
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (o *ollamaClient) Analyze(ctx context.Context, images [][]byte, prompt string) (string, error) {
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}
	body, err := json.Marshal(ollamaRequest{
		Model:  o.model,
		Prompt: prompt,
		Images: encoded,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encoding ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	o.log.Debug("Calling Ollama", zap.String("model", o.model), zap.Int("images", len(images)))
	resp, err := o.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("reading ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrProviderUnavailable, parsed.Error)
	}
	if parsed.Response == "" {
		return "", fmt.Errorf("%w: empty response", ErrProviderUnavailable)
	}
	return parsed.Response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
