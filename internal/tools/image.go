package tools

import (
	"context"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// ImageGeneration is registered so plans can request it; no backend is wired
// and every call is skipped.
type ImageGeneration struct{}

func (ImageGeneration) Name() string { return models.ToolImageGeneration }

func (ImageGeneration) Invoke(context.Context, map[string]interface{}) (string, error) {
	return "", fmt.Errorf("%w: image generation backend not configured", ErrSkipped)
}
