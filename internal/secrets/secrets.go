// File: internal/secrets/secrets.go
//
// Sensitive input values are never stored in a recipe; the recording keeps
// a redaction marker and the real value is solicited when playback reaches
// the step. Values pass through memory only.
package secrets

import (
	"context"
	"fmt"

	"github.com/manifoldco/promptui"
	"go.uber.org/zap"
)

// PromptSource asks the operator on the terminal, masked.
type PromptSource struct {
	log *zap.Logger
}

// NewPromptSource creates an interactive source.
func NewPromptSource(logger *zap.Logger) *PromptSource {
	return &PromptSource{log: logger.Named("secrets")}
}

// Secret prompts for one sensitive value. The value itself is never logged.
func (p *PromptSource) Secret(ctx context.Context, recipeName, fieldLabel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.log.Info("Waiting for sensitive input",
		zap.String("recipe", recipeName),
		zap.String("field", fieldLabel))

	prompt := promptui.Prompt{
		Label: fmt.Sprintf("%s / %s", recipeName, fieldLabel),
		Mask:  '*',
	}
	value, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("reading sensitive value: %w", err)
	}
	return value, nil
}

// StaticSource serves values from a map keyed by field label. Useful for
// unattended runs fed from an external secret manager.
type StaticSource map[string]string

// Secret returns the stored value for the field label.
func (s StaticSource) Secret(_ context.Context, recipeName, fieldLabel string) (string, error) {
	if v, ok := s[fieldLabel]; ok {
		return v, nil
	}
	return "", fmt.Errorf("no stored value for %q (recipe %q)", fieldLabel, recipeName)
}
